package serve

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/db/engines/maple"
	"github.com/ValentinKolb/dPersist/lib/retry"
	"github.com/ValentinKolb/dPersist/lib/store/lstore"
	"github.com/ValentinKolb/dPersist/lib/timers"
)

func TestDueBetween(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	periodic := timers.NewEntry("o", "p", start, time.Minute)
	oneShot := timers.NewEntry("o", "s", start, 0)

	tests := []struct {
		name     string
		e        timers.Entry
		from, to time.Time
		want     bool
	}{
		{"start inside", oneShot, start.Add(-time.Second), start, true},
		{"start before window", oneShot, start, start.Add(time.Minute), false},
		{"start after window", oneShot, start.Add(-time.Minute), start.Add(-time.Second), false},
		{"period boundary inside", periodic, start.Add(30 * time.Second), start.Add(70 * time.Second), true},
		{"between boundaries", periodic, start.Add(61 * time.Second), start.Add(119 * time.Second), false},
		{"boundary at from", periodic, start.Add(time.Minute), start.Add(90 * time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dueBetween(tt.e, tt.from, tt.to); got != tt.want {
				t.Errorf("dueBetween = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestScanOnlyReturnsOwnedSegment checks that the worker ignores timers of other segments
func TestScanOnlyReturnsOwnedSegment(t *testing.T) {
	sessions, err := lstore.NewLocalStore(func() (db.KVDB, error) { return maple.NewMapleDB(nil), nil })
	if err != nil {
		t.Fatal(err)
	}
	defer sessions.Close()

	ctx := context.Background()
	registry := timers.NewRegistry(sessions, timers.Options{ServiceID: "svc"})
	segments := timers.SplitRing(2)
	now := time.Now()

	for i, h := range []uint32{segments[0].End, segments[1].End} {
		e := timers.NewEntry("owner", "t"+string(rune('a'+i)), now, 0)
		e.OwnerHash = h
		if _, err := registry.Upsert(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	w := &worker{registry: registry, segment: segments[0], interval: time.Second, policy: retry.DefaultPolicy()}
	due, err := w.scan(ctx, now.Add(-time.Second), now.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].OwnerHash != segments[0].End {
		t.Errorf("unexpected due timers %+v", due)
	}
}

func TestParseMembers(t *testing.T) {
	members, err := parseMembers("node-1=localhost:63001, node-2=localhost:63002")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Errorf("expected 2 members, got %d", len(members))
	}
	for _, raw := range []string{"", "node-1", "node-1=", "=addr"} {
		if _, err := parseMembers(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}
