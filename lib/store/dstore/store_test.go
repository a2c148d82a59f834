package dstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/store"
	"github.com/ValentinKolb/dPersist/lib/store/dstore/internal"
	"github.com/lni/dragonboat/v4"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// fakeReplica answers reads from a local state machine. With lagging set,
// linearizable reads never catch up and only end when their context does.
type fakeReplica struct {
	fsm     sm.IConcurrentStateMachine
	lagging bool

	mu         sync.Mutex
	syncReads  int
	staleReads int
}

func (f *fakeReplica) SyncRead(ctx context.Context, _ uint64, query interface{}) (interface{}, error) {
	f.mu.Lock()
	f.syncReads++
	f.mu.Unlock()
	if f.lagging {
		<-ctx.Done()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, dragonboat.ErrTimeout
		}
		return nil, ctx.Err()
	}
	return f.fsm.Lookup(query)
}

func (f *fakeReplica) StaleRead(_ uint64, query interface{}) (interface{}, error) {
	f.mu.Lock()
	f.staleReads++
	f.mu.Unlock()
	return f.fsm.Lookup(query)
}

func (f *fakeReplica) counts() (syncReads, staleReads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncReads, f.staleReads
}

// newReadStore returns a store reading from a state machine holding two timer documents
func newReadStore(t *testing.T, lagging bool) (*storeImpl, *fakeReplica) {
	fsm := newTestMachine(t)
	_, err := fsm.Update([]sm.Entry{
		entry(t, 1, internal.Command{Type: internal.CommandTPut, Cond: db.Always(), Key: "Timers/svc/a-tick",
			Doc: db.Document{Collection: "Timers", Attrs: map[string]string{"service": "svc"}, Rank: 10}}),
		entry(t, 2, internal.Command{Type: internal.CommandTPut, Cond: db.Always(), Key: "Timers/svc/b-tick",
			Doc: db.Document{Collection: "Timers", Attrs: map[string]string{"service": "svc"}, Rank: 20}}),
	})
	if err != nil {
		t.Fatal(err)
	}
	replica := &fakeReplica{fsm: fsm, lagging: lagging}
	return &storeImpl{reads: replica, shardID: 1, timeout: time.Second}, replica
}

var timersOfSvc = store.Query{Collection: "Timers", Equals: map[string]string{"service": "svc"}}

func TestFindFallsBackToStaleReadAfterWait(t *testing.T) {
	s, replica := newReadStore(t, true)

	begin := time.Now()
	res, err := s.Find(context.Background(), timersOfSvc, store.QueryOptions{WaitForNonStale: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("find should fall back instead of failing: %v", err)
	}
	if !res.Stale {
		t.Error("fallback result is not marked stale")
	}
	if len(res.Records) != 2 {
		t.Errorf("expected 2 records, got %d", len(res.Records))
	}
	if waited := time.Since(begin); waited < 20*time.Millisecond {
		t.Errorf("find returned after %v without waiting", waited)
	}
	if syncReads, staleReads := replica.counts(); syncReads != 1 || staleReads != 1 {
		t.Errorf("sync reads = %d, stale reads = %d, want 1 and 1", syncReads, staleReads)
	}
}

func TestFindWithUpToDateView(t *testing.T) {
	s, replica := newReadStore(t, false)

	res, err := s.Find(context.Background(), timersOfSvc, store.QueryOptions{WaitForNonStale: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stale {
		t.Error("linearizable result is marked stale")
	}
	if len(res.Records) != 2 || res.Records[0].Version != 1 || res.Records[1].Version != 2 {
		t.Errorf("unexpected records %+v", res.Records)
	}
	if _, staleReads := replica.counts(); staleReads != 0 {
		t.Errorf("unexpected stale reads: %d", staleReads)
	}
}

func TestFindWithoutWaitIsStale(t *testing.T) {
	s, replica := newReadStore(t, true)

	res, err := s.Find(context.Background(), timersOfSvc, store.QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Stale || len(res.Records) != 2 {
		t.Errorf("unexpected result stale=%v records=%d", res.Stale, len(res.Records))
	}
	if syncReads, _ := replica.counts(); syncReads != 0 {
		t.Errorf("find without wait issued %d sync reads", syncReads)
	}
}

func TestFindCallerDeadlineIsNotMasked(t *testing.T) {
	s, replica := newReadStore(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.Find(ctx, timersOfSvc, store.QueryOptions{WaitForNonStale: time.Second})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the caller's deadline, got %v", err)
	}
	if _, staleReads := replica.counts(); staleReads != 0 {
		t.Errorf("find fell back after the caller gave up")
	}
}
