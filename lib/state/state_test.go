package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/db/engines/maple"
	"github.com/ValentinKolb/dPersist/lib/db/engines/sqlite"
	"github.com/ValentinKolb/dPersist/lib/keys"
	"github.com/ValentinKolb/dPersist/lib/store"
	"github.com/ValentinKolb/dPersist/lib/store/lstore"
)

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// forEachEngine runs fn against a state store backed by a local store for every engine
func forEachEngine(t *testing.T, opts Options, fn func(t *testing.T, s *Store)) {
	factories := map[string]store.DBFactory{
		"maple": func() (db.KVDB, error) { return maple.NewMapleDB(nil), nil },
		"sqlite": func() (db.KVDB, error) {
			return sqlite.NewSQLiteDB(&sqlite.DBOptions{Path: filepath.Join(t.TempDir(), "state.db")})
		},
	}
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			sessions, err := lstore.NewLocalStore(factory)
			if err != nil {
				t.Fatal(err)
			}
			defer sessions.Close()
			fn(t, NewStore(sessions, opts))
		})
	}
}

// failingStore fails every call with a backend error
type failingStore struct{ store.IStore }

func (failingStore) Load(context.Context, string) (store.Record, bool, error) {
	return store.Record{}, false, store.NewUnavailableError("load", errors.New("connection refused"))
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func TestReadMissing(t *testing.T) {
	forEachEngine(t, Options{ServiceID: "svc"}, func(t *testing.T, s *Store) {
		rec, err := s.Read(context.Background(), "Counter", "e1", []byte("default"))
		if err != nil {
			t.Fatal(err)
		}
		if rec.Exists || rec.Version != store.NoVersion || string(rec.Payload) != "default" {
			t.Errorf("unexpected record for missing entity: %+v", rec)
		}
		if rec.Key != "State/svc.e1.Counter" {
			t.Errorf("unexpected key %q", rec.Key)
		}
	})
}

// TestRoundTrip writes and reads back, every write yields a fresh version
func TestRoundTrip(t *testing.T) {
	forEachEngine(t, Options{ServiceID: "svc"}, func(t *testing.T, s *Store) {
		ctx := context.Background()
		seen := map[store.Version]bool{}

		version := store.NoVersion
		for i := 0; i < 5; i++ {
			payload := []byte(fmt.Sprintf("payload-%d", i))
			next, err := s.Write(ctx, "Counter", "e1", payload, version)
			if err != nil {
				t.Fatalf("write %d: %v", i, err)
			}
			if next == version || seen[next] {
				t.Fatalf("write %d returned a used version %s", i, next)
			}
			seen[next] = true
			version = next

			rec, err := s.Read(ctx, "Counter", "e1", nil)
			if err != nil {
				t.Fatal(err)
			}
			if !rec.Exists || rec.Version != version || !bytes.Equal(rec.Payload, payload) {
				t.Errorf("read after write %d returned %+v", i, rec)
			}
		}
	})
}

// TestClearResets clears a record and creates it again
func TestClearResets(t *testing.T) {
	forEachEngine(t, Options{ServiceID: "svc"}, func(t *testing.T, s *Store) {
		ctx := context.Background()
		v1, err := s.Write(ctx, "Counter", "e1", []byte("a"), store.NoVersion)
		if err != nil {
			t.Fatal(err)
		}

		rec, _ := s.Read(ctx, "Counter", "e1", nil)
		if err := s.Clear(ctx, "Counter", "e1", v1); err != nil {
			t.Fatal(err)
		}
		rec.Reset([]byte("default"))
		if rec.Exists || rec.Version != store.NoVersion {
			t.Errorf("Reset did not reset the record: %+v", rec)
		}

		rec, _ = s.Read(ctx, "Counter", "e1", []byte("default"))
		if rec.Exists || rec.Version != store.NoVersion || string(rec.Payload) != "default" {
			t.Errorf("record still exists after clear: %+v", rec)
		}

		// the key can be reused with NoVersion
		v2, err := s.Write(ctx, "Counter", "e1", []byte("b"), store.NoVersion)
		if err != nil {
			t.Fatal(err)
		}
		if v2 == v1 {
			t.Errorf("recreated record reuses version %s", v1)
		}

		// clearing a missing entity is a no-op
		if err := s.Clear(ctx, "Counter", "other", 12345); err != nil {
			t.Errorf("clear of missing entity: %v", err)
		}
	})
}

func TestClearConflict(t *testing.T) {
	forEachEngine(t, Options{ServiceID: "svc"}, func(t *testing.T, s *Store) {
		ctx := context.Background()
		v1, _ := s.Write(ctx, "Counter", "e1", []byte("a"), store.NoVersion)
		v2, _ := s.Write(ctx, "Counter", "e1", []byte("b"), v1)

		err := s.Clear(ctx, "Counter", "e1", v1)
		var conflict *InconsistentStateError
		if !errors.As(err, &conflict) {
			t.Fatalf("expected InconsistentStateError, got %v", err)
		}
		if conflict.Op != "Clear" || conflict.Expected != v1 || conflict.Actual != v2 {
			t.Errorf("unexpected conflict %+v", conflict)
		}
		want := fmt.Sprintf("version conflict (Clear): service=svc type=Counter entity=e1 key=State/svc.e1.Counter: expected %s, actual %s", v1, v2)
		if err.Error() != want {
			t.Errorf("got %q, want %q", err.Error(), want)
		}

		rec, _ := s.Read(ctx, "Counter", "e1", nil)
		if !rec.Exists || string(rec.Payload) != "b" {
			t.Errorf("failed clear changed the record: %+v", rec)
		}
	})
}

// TestFirstWriteWins writes with NoVersion twice without reading in between
func TestFirstWriteWins(t *testing.T) {
	forEachEngine(t, Options{ServiceID: "svc"}, func(t *testing.T, s *Store) {
		ctx := context.Background()
		v1, err := s.Write(ctx, "Counter", "e1", []byte("first"), store.NoVersion)
		if err != nil {
			t.Fatal(err)
		}

		_, err = s.Write(ctx, "Counter", "e1", []byte("second"), store.NoVersion)
		if !errors.Is(err, ErrInconsistentState) {
			t.Fatalf("expected ErrInconsistentState, got %v", err)
		}
		if !errors.Is(err, store.ErrConflict) {
			t.Errorf("conflict should also match store.ErrConflict")
		}
		var conflict *InconsistentStateError
		errors.As(err, &conflict)
		if conflict.Expected != store.NoVersion || conflict.Actual != v1 {
			t.Errorf("unexpected versions %+v", conflict)
		}
		if !strings.Contains(err.Error(), "expected absent") {
			t.Errorf("message should name the absent expectation: %q", err.Error())
		}

		rec, _ := s.Read(ctx, "Counter", "e1", nil)
		if string(rec.Payload) != "first" {
			t.Errorf("second write overwrote the record")
		}
	})
}

func TestWriteWithStaleVersion(t *testing.T) {
	forEachEngine(t, Options{ServiceID: "svc"}, func(t *testing.T, s *Store) {
		ctx := context.Background()
		v1, _ := s.Write(ctx, "Counter", "e1", []byte("a"), store.NoVersion)
		v2, _ := s.Write(ctx, "Counter", "e1", []byte("b"), v1)

		_, err := s.Write(ctx, "Counter", "e1", []byte("c"), v1)
		var conflict *InconsistentStateError
		if !errors.As(err, &conflict) || conflict.Op != "Write" || conflict.Expected != v1 || conflict.Actual != v2 {
			t.Errorf("expected conflict with actual %s, got %v", v2, err)
		}
	})
}

// TestAtMostOneWriter races writers that all start from the same version
func TestAtMostOneWriter(t *testing.T) {
	for _, start := range []string{"absent", "existing"} {
		t.Run(start, func(t *testing.T) {
			forEachEngine(t, Options{ServiceID: "svc"}, func(t *testing.T, s *Store) {
				ctx := context.Background()
				expected := store.NoVersion
				if start == "existing" {
					expected, _ = s.Write(ctx, "Counter", "e1", []byte("base"), store.NoVersion)
				}

				const writers = 16
				var (
					wg        sync.WaitGroup
					mu        sync.Mutex
					successes int
				)
				wg.Add(writers)
				for i := 0; i < writers; i++ {
					go func(i int) {
						defer wg.Done()
						_, err := s.Write(ctx, "Counter", "e1", []byte(fmt.Sprint(i)), expected)
						if err != nil && !errors.Is(err, ErrInconsistentState) {
							t.Errorf("unexpected error: %v", err)
							return
						}
						if err == nil {
							mu.Lock()
							successes++
							mu.Unlock()
						}
					}(i)
				}
				wg.Wait()

				if successes != 1 {
					t.Errorf("expected exactly one successful writer, got %d", successes)
				}
			})
		})
	}
}

func TestKeyTooLong(t *testing.T) {
	forEachEngine(t, Options{ServiceID: "svc"}, func(t *testing.T, s *Store) {
		ctx := context.Background()
		longID := strings.Repeat("x", keys.MaxKeyLength)

		if _, err := s.Read(ctx, "Counter", longID, nil); !errors.Is(err, keys.ErrKeyTooLong) {
			t.Errorf("Read: expected ErrKeyTooLong, got %v", err)
		}
		if _, err := s.Write(ctx, "Counter", longID, nil, store.NoVersion); !errors.Is(err, keys.ErrKeyTooLong) {
			t.Errorf("Write: expected ErrKeyTooLong, got %v", err)
		}
		if err := s.Clear(ctx, "Counter", longID, 1); !errors.Is(err, keys.ErrKeyTooLong) {
			t.Errorf("Clear: expected ErrKeyTooLong, got %v", err)
		}
	})
}

func TestHooks(t *testing.T) {
	var calls []string
	record := func(name string) func(context.Context, Record) error {
		return func(_ context.Context, rec Record) error {
			calls = append(calls, fmt.Sprintf("%s:%s", name, rec.EntityID))
			return nil
		}
	}
	opts := Options{ServiceID: "svc", Hooks: Hooks{
		OnSaving:   record("saving"),
		OnSaved:    record("saved"),
		OnDeleting: record("deleting"),
		OnDeleted:  record("deleted"),
	}}

	forEachEngine(t, opts, func(t *testing.T, s *Store) {
		calls = nil
		ctx := context.Background()
		v, err := s.Write(ctx, "Counter", "e1", []byte("a"), store.NoVersion)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Clear(ctx, "Counter", "e1", v); err != nil {
			t.Fatal(err)
		}

		want := "saving:e1 saved:e1 deleting:e1 deleted:e1"
		if got := strings.Join(calls, " "); got != want {
			t.Errorf("hook calls = %q, want %q", got, want)
		}
	})
}

func TestSavingHookSkippedOnFirstWriteConflict(t *testing.T) {
	saving := 0
	opts := Options{ServiceID: "svc", Hooks: Hooks{
		OnSaving: func(context.Context, Record) error { saving++; return nil },
	}}

	forEachEngine(t, opts, func(t *testing.T, s *Store) {
		saving = 0
		ctx := context.Background()
		if _, err := s.Write(ctx, "Counter", "e1", []byte("a"), store.NoVersion); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Write(ctx, "Counter", "e1", []byte("b"), store.NoVersion); !errors.Is(err, store.ErrConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
		if saving != 1 {
			t.Errorf("OnSaving called %d times, want 1", saving)
		}
	})
}

func TestHookErrors(t *testing.T) {
	errHook := errors.New("hook failed")
	fail := func(context.Context, Record) error { return errHook }

	t.Run("OnSaving aborts", func(t *testing.T) {
		forEachEngine(t, Options{ServiceID: "svc", Hooks: Hooks{OnSaving: fail}}, func(t *testing.T, s *Store) {
			ctx := context.Background()
			if _, err := s.Write(ctx, "Counter", "e1", []byte("a"), store.NoVersion); !errors.Is(err, errHook) {
				t.Errorf("expected hook error, got %v", err)
			}
			if rec, _ := s.Read(ctx, "Counter", "e1", nil); rec.Exists {
				t.Errorf("aborted write was persisted")
			}
		})
	})

	t.Run("OnSaved is logged", func(t *testing.T) {
		forEachEngine(t, Options{ServiceID: "svc", Hooks: Hooks{OnSaved: fail}}, func(t *testing.T, s *Store) {
			if _, err := s.Write(context.Background(), "Counter", "e1", []byte("a"), store.NoVersion); err != nil {
				t.Errorf("OnSaved error must not fail the write: %v", err)
			}
		})
	})

	t.Run("OnDeleting aborts", func(t *testing.T) {
		forEachEngine(t, Options{ServiceID: "svc", Hooks: Hooks{OnDeleting: fail}}, func(t *testing.T, s *Store) {
			ctx := context.Background()
			v, _ := s.Write(ctx, "Counter", "e1", []byte("a"), store.NoVersion)
			if err := s.Clear(ctx, "Counter", "e1", v); !errors.Is(err, errHook) {
				t.Errorf("expected hook error, got %v", err)
			}
			if rec, _ := s.Read(ctx, "Counter", "e1", nil); !rec.Exists {
				t.Errorf("aborted clear deleted the record")
			}
		})
	})
}

func TestCustomPrefix(t *testing.T) {
	forEachEngine(t, Options{ServiceID: "svc", Prefix: "Actors"}, func(t *testing.T, s *Store) {
		key, err := s.Key("Counter", "e1")
		if err != nil || key != "Actors/svc.e1.Counter" {
			t.Errorf("unexpected key %q (err=%v)", key, err)
		}
	})
}

func TestStorageUnavailable(t *testing.T) {
	s := NewStore(failingStore{}, Options{ServiceID: "svc"})
	ctx := context.Background()

	if _, err := s.Read(ctx, "Counter", "e1", nil); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("Read: expected ErrUnavailable, got %v", err)
	}
	if _, err := s.Write(ctx, "Counter", "e1", nil, store.NoVersion); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("Write: expected ErrUnavailable, got %v", err)
	}
	if err := s.Clear(ctx, "Counter", "e1", 1); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("Clear: expected ErrUnavailable, got %v", err)
	}
}
