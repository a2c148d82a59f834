package maple

import (
	"fmt"
	"testing"

	"github.com/ValentinKolb/dPersist/lib/db"
	dbtesting "github.com/ValentinKolb/dPersist/lib/db/testing"
)

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "MapleDB", func() (db.KVDB, error) {
		return NewMapleDB(nil), nil
	})
}

func Benchmark(t *testing.B) {
	dbtesting.RunKVDBBenchmarks(t, "MapleDB", func() (db.KVDB, error) {
		return NewMapleDB(nil), nil
	})
}

// TestIndexFollowsRankChanges moves entries between ranks and collections and
// checks that the secondary index never reports an entry at an old position.
func TestIndexFollowsRankChanges(t *testing.T) {
	database := NewMapleDB(&DBOptions{NumShards: 4})
	defer database.Close()

	idx := uint64(0)
	next := func() uint64 { idx++; return idx }

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key-%d", i)
		if _, err := database.Put(key, db.Document{Collection: "a", Rank: uint64(i)}, db.Always(), next()); err != nil {
			t.Fatal(err)
		}
	}

	// move every even key to rank 1000 and every key divisible by 5 into collection b
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key-%d", i)
		doc := db.Document{Collection: "a", Rank: uint64(i)}
		if i%2 == 0 {
			doc.Rank = 1000
		}
		if i%5 == 0 {
			doc.Collection = "b"
		}
		if _, err := database.Put(key, doc, db.Always(), next()); err != nil {
			t.Fatal(err)
		}
	}

	low, _ := database.Find(db.Query{Collection: "a", Ranks: []db.RankRange{{Min: 0, Max: 999}}})
	for _, e := range low {
		if e.Doc.Rank%2 == 0 {
			t.Errorf("entry %s still found at old rank %d", e.Key, e.Doc.Rank)
		}
	}
	// odd keys not divisible by 5: 25 odd numbers minus 5 (5, 15, 25, 35, 45)
	if len(low) != 20 {
		t.Errorf("expected 20 entries below rank 1000, got %d", len(low))
	}

	inB, _ := database.Find(db.Query{Collection: "b"})
	if len(inB) != 10 {
		t.Errorf("expected 10 entries in collection b, got %d", len(inB))
	}

	info := database.GetInfo()
	if info.EntryCount != 50 {
		t.Errorf("expected 50 entries, got %d", info.EntryCount)
	}
	if info.DbType != db.ImplMaple {
		t.Errorf("unexpected db type %s", info.DbType)
	}
}
