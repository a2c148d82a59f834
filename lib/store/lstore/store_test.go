package lstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/db/engines/maple"
	"github.com/ValentinKolb/dPersist/lib/db/engines/sqlite"
	"github.com/ValentinKolb/dPersist/lib/store"
)

// forEachEngine runs fn against a fresh local store for every engine
func forEachEngine(t *testing.T, fn func(t *testing.T, s store.IStore)) {
	factories := map[string]store.DBFactory{
		"maple": func() (db.KVDB, error) { return maple.NewMapleDB(nil), nil },
		"sqlite": func() (db.KVDB, error) {
			return sqlite.NewSQLiteDB(&sqlite.DBOptions{Path: filepath.Join(t.TempDir(), "store.db")})
		},
	}
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			s, err := NewLocalStore(factory)
			if err != nil {
				t.Fatal(err)
			}
			defer s.Close()
			fn(t, s)
		})
	}
}

func doc(value string) store.Document {
	return store.Document{Collection: "test", Value: []byte(value)}
}

func TestStoreAndLoad(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore) {
		ctx := context.Background()

		if _, loaded, err := s.Load(ctx, "k"); err != nil || loaded {
			t.Fatalf("expected missing key, loaded=%v err=%v", loaded, err)
		}

		v1, err := s.Store(ctx, "k", doc("a"), store.IfAbsent())
		if err != nil {
			t.Fatal(err)
		}
		if v1 == store.NoVersion {
			t.Fatalf("store returned NoVersion")
		}

		rec, loaded, err := s.Load(ctx, "k")
		if err != nil || !loaded {
			t.Fatalf("expected key to exist, err=%v", err)
		}
		if rec.Version != v1 || string(rec.Doc.Value) != "a" || rec.Key != "k" {
			t.Errorf("unexpected record %+v", rec)
		}

		v2, err := s.Store(ctx, "k", doc("b"), store.IfVersion(v1))
		if err != nil {
			t.Fatal(err)
		}
		if v2 == v1 {
			t.Errorf("version did not change")
		}
	})
}

func TestConflicts(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore) {
		ctx := context.Background()
		v1, _ := s.Store(ctx, "k", doc("a"), store.Always())

		_, err := s.Store(ctx, "k", doc("b"), store.IfAbsent())
		var storeErr *store.Error
		if !errors.As(err, &storeErr) || storeErr.Code != store.RetCConflict {
			t.Fatalf("expected conflict, got %v", err)
		}
		if storeErr.Expected != store.NoVersion || storeErr.Actual != v1 {
			t.Errorf("unexpected versions in conflict: %+v", storeErr)
		}
		if !errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrUnavailable) {
			t.Errorf("conflict is not classified correctly")
		}

		_, err = s.Store(ctx, "k", doc("b"), store.IfVersion(v1+1000))
		if !errors.As(err, &storeErr) || storeErr.Expected != v1+1000 || storeErr.Actual != v1 {
			t.Errorf("unexpected conflict %v", err)
		}

		_, err = s.Store(ctx, "missing", doc("b"), store.IfVersion(v1))
		if !errors.As(err, &storeErr) || storeErr.Actual != store.NoVersion {
			t.Errorf("conflict on missing key should report NoVersion, got %v", err)
		}
	})
}

func TestDelete(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore) {
		ctx := context.Background()

		// unconditional delete of a missing key is a no-op
		if err := s.Delete(ctx, "missing", store.Always()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		// conditional delete of a missing key is a conflict
		if err := s.Delete(ctx, "missing", store.IfVersion(1)); !errors.Is(err, store.ErrConflict) {
			t.Errorf("expected conflict, got %v", err)
		}

		v1, _ := s.Store(ctx, "k", doc("a"), store.Always())
		if err := s.Delete(ctx, "k", store.IfVersion(v1+1)); !errors.Is(err, store.ErrConflict) {
			t.Errorf("expected conflict for wrong version, got %v", err)
		}
		if err := s.Delete(ctx, "k", store.IfVersion(v1)); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if _, loaded, _ := s.Load(ctx, "k"); loaded {
			t.Errorf("key still exists after delete")
		}
	})
}

func TestFindAndDeleteCollection(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore) {
		ctx := context.Background()
		for i := 0; i < 10; i++ {
			d := store.Document{Collection: "c", Rank: uint64(i), Attrs: map[string]string{"even": fmt.Sprint(i%2 == 0)}}
			if _, err := s.Store(ctx, fmt.Sprintf("k%d", i), d, store.Always()); err != nil {
				t.Fatal(err)
			}
		}

		res, err := s.Find(ctx, store.Query{
			Collection: "c",
			Equals:     map[string]string{"even": "true"},
			Ranks:      []store.RankRange{{Min: 2, Max: 6}},
		}, store.QueryOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if res.Stale {
			t.Errorf("local results are never stale")
		}
		if len(res.Records) != 3 || res.Records[0].Key != "k2" || res.Records[2].Key != "k6" {
			t.Errorf("unexpected records %+v", res.Records)
		}

		deleted, err := s.DeleteCollection(ctx, "c")
		if err != nil || deleted != 10 {
			t.Errorf("expected 10 deleted records, got %d (err=%v)", deleted, err)
		}
	})
}

// TestAtMostOneWriter races writers on the same version
func TestAtMostOneWriter(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore) {
		ctx := context.Background()
		v1, _ := s.Store(ctx, "k", doc("base"), store.Always())

		const writers = 20
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		wg.Add(writers)
		for i := 0; i < writers; i++ {
			go func(i int) {
				defer wg.Done()
				_, err := s.Store(ctx, "k", doc(fmt.Sprint(i)), store.IfVersion(v1))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, store.ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		if successes != 1 || conflicts != writers-1 {
			t.Errorf("expected 1 success and %d conflicts, got %d and %d", writers-1, successes, conflicts)
		}
	})
}

func TestCancelledContext(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := s.Store(ctx, "k", doc("a"), store.Always()); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if _, loaded, _ := s.Load(context.Background(), "k"); loaded {
			t.Errorf("cancelled write must not be applied")
		}
	})
}

func TestVersionsContinueAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	factory := func() (db.KVDB, error) { return sqlite.NewSQLiteDB(&sqlite.DBOptions{Path: path}) }
	ctx := context.Background()

	s, err := NewLocalStore(factory)
	if err != nil {
		t.Fatal(err)
	}
	v1, _ := s.Store(ctx, "k", doc("a"), store.Always())
	s.Close()

	s, err = NewLocalStore(factory)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	v2, err := s.Store(ctx, "other", doc("b"), store.Always())
	if err != nil {
		t.Fatal(err)
	}
	if v2 <= v1 {
		t.Errorf("version %s after reopen is not newer than %s", v2, v1)
	}
}

// racingDB lets another writer with a higher index land first on every Put
type racingDB struct {
	db.KVDB
}

func (r racingDB) Put(key string, d db.Document, cond db.Condition, writeIndex uint64) (db.WriteResult, error) {
	if _, err := r.KVDB.Put(key, db.Document{Collection: "test", Value: []byte("winner")}, db.Always(), writeIndex+100); err != nil {
		return db.WriteResult{}, err
	}
	return r.KVDB.Put(key, d, cond, writeIndex)
}

func TestUnconditionalStoreSuperseded(t *testing.T) {
	s, err := NewLocalStore(func() (db.KVDB, error) { return racingDB{maple.NewMapleDB(nil)}, nil })
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	v, err := s.Store(ctx, "k", doc("loser"), store.Always())
	if err != nil {
		t.Fatalf("superseded unconditional write must not fail: %v", err)
	}
	rec, loaded, err := s.Load(ctx, "k")
	if err != nil || !loaded {
		t.Fatalf("expected key to exist, err=%v", err)
	}
	if string(rec.Doc.Value) != "winner" {
		t.Fatalf("expected the higher index to win, got %q", rec.Doc.Value)
	}
	if v != rec.Version {
		t.Fatalf("returned version %s is not durable, stored version is %s", v, rec.Version)
	}

	// conditional writes losing the same race are still conflicts
	_, err = s.Store(ctx, "k", doc("loser"), store.IfVersion(rec.Version))
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}
