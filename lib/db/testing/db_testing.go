package testing

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dPersist/lib/db"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() (db.KVDB, error)

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, mustCreate(t, factory))
		})

		t.Run("ConditionalPut", func(t *testing.T) {
			testConditionalPut(t, mustCreate(t, factory))
		})

		t.Run("ConditionalDelete", func(t *testing.T) {
			testConditionalDelete(t, mustCreate(t, factory))
		})

		t.Run("StaleWrite", func(t *testing.T) {
			testStaleWrite(t, mustCreate(t, factory))
		})

		t.Run("Find", func(t *testing.T) {
			testFind(t, mustCreate(t, factory))
		})

		t.Run("RangeFind", func(t *testing.T) {
			testRangeFind(t, mustCreate(t, factory))
		})

		t.Run("DeleteCollection", func(t *testing.T) {
			testDeleteCollection(t, mustCreate(t, factory))
		})

		t.Run("WriteIdx", func(t *testing.T) {
			testWriteIdx(t, mustCreate(t, factory))
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("ConcurrentConditionalPut", func(t *testing.T) {
			testConcurrentConditionalPut(t, mustCreate(t, factory))
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, mustCreate(t, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

func mustCreate(t testing.TB, factory DBFactory) db.KVDB {
	database, err := factory()
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	return database
}

// indexer hands out increasing write indexes
type indexer struct{ idx atomic.Uint64 }

func (i *indexer) next() uint64 { return i.idx.Add(1) }

func doc(collection string, rank uint64, value string, attrs ...string) db.Document {
	d := db.Document{Collection: collection, Rank: rank, Value: []byte(value)}
	if len(attrs) > 0 {
		d.Attrs = make(map[string]string)
		for i := 0; i+1 < len(attrs); i += 2 {
			d.Attrs[attrs[i]] = attrs[i+1]
		}
	}
	return d
}

func mustPut(t testing.TB, database db.KVDB, key string, d db.Document, cond db.Condition, idx uint64) db.WriteResult {
	res, err := database.Put(key, d, cond, idx)
	if err != nil {
		t.Fatalf("Put(%s) failed: %v", key, err)
	}
	return res
}

func keysOf(entries []db.Entry) []string {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureGet)

	var idx indexer
	testKey := "test-key"

	res := mustPut(t, database, testKey, doc("c", 7, "value-1", "a", "1"), db.Always(), idx.next())
	if !res.Applied || res.Version != 1 || res.Current != 0 {
		t.Errorf("unexpected result for first put: %+v", res)
	}

	entry, exists, err := database.Get(testKey)
	if err != nil || !exists {
		t.Fatalf("Expected key %s to exist after Put (err=%v)", testKey, err)
	}
	if !bytes.Equal(entry.Doc.Value, []byte("value-1")) || entry.Version != 1 || entry.Doc.Rank != 7 || entry.Doc.Attrs["a"] != "1" {
		t.Errorf("unexpected entry %+v", entry)
	}

	res = mustPut(t, database, testKey, doc("c", 8, "value-2"), db.Always(), idx.next())
	if !res.Applied || res.Version != 2 || res.Current != 1 {
		t.Errorf("unexpected result for overwrite: %+v", res)
	}

	entry, _, _ = database.Get(testKey)
	if !bytes.Equal(entry.Doc.Value, []byte("value-2")) || entry.Version != 2 {
		t.Errorf("Expected overwritten entry, got %+v", entry)
	}
	if len(entry.Doc.Attrs) != 0 {
		t.Errorf("attributes of the old document survived the overwrite: %v", entry.Doc.Attrs)
	}

	if _, exists, _ := database.Get("nonexistent-key"); exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	// Get must return a copy
	entry.Doc.Value[0] = 'X'
	original, _, _ := database.Get(testKey)
	if original.Doc.Value[0] == 'X' {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}

	// Put must copy its input
	input := doc("c", 1, "input")
	mustPut(t, database, "copy-key", input, db.Always(), idx.next())
	input.Value[0] = 'X'
	stored, _, _ := database.Get("copy-key")
	if string(stored.Doc.Value) != "input" {
		t.Errorf("Put should copy the value, got %s", stored.Doc.Value)
	}
}

func testConditionalPut(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureConditionalPut|db.FeatureGet)

	var idx indexer
	key := "cond-key"

	// IfAbsent on a missing key succeeds
	first := mustPut(t, database, key, doc("c", 0, "v1"), db.IfAbsent(), idx.next())
	if !first.Applied {
		t.Fatalf("IfAbsent on missing key should apply: %+v", first)
	}

	// IfAbsent on an existing key fails and reports the current version
	res := mustPut(t, database, key, doc("c", 0, "v2"), db.IfAbsent(), idx.next())
	if res.Applied || res.Current != first.Version {
		t.Errorf("IfAbsent on existing key should fail with current=%d: %+v", first.Version, res)
	}

	// IfVersion with the wrong version fails
	res = mustPut(t, database, key, doc("c", 0, "v3"), db.IfVersion(first.Version+100), idx.next())
	if res.Applied || res.Current != first.Version {
		t.Errorf("IfVersion with wrong version should fail: %+v", res)
	}

	// IfVersion with the current version succeeds and yields a new version
	second := mustPut(t, database, key, doc("c", 0, "v4"), db.IfVersion(first.Version), idx.next())
	if !second.Applied || second.Version == first.Version {
		t.Errorf("IfVersion with current version should apply with a new version: %+v", second)
	}

	// the old version is now stale
	res = mustPut(t, database, key, doc("c", 0, "v5"), db.IfVersion(first.Version), idx.next())
	if res.Applied || res.Current != second.Version {
		t.Errorf("IfVersion with stale version should fail: %+v", res)
	}

	// IfVersion on a missing key fails with current=0
	res = mustPut(t, database, "missing", doc("c", 0, "v"), db.IfVersion(1), idx.next())
	if res.Applied || res.Current != 0 {
		t.Errorf("IfVersion on missing key should fail with current=0: %+v", res)
	}
	if _, exists, _ := database.Get("missing"); exists {
		t.Errorf("failed conditional put must not create the key")
	}

	entry, _, _ := database.Get(key)
	if string(entry.Doc.Value) != "v4" {
		t.Errorf("expected v4, got %s", entry.Doc.Value)
	}
}

func testConditionalDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureDelete|db.FeatureGet)

	var idx indexer
	key := "del-key"
	put := mustPut(t, database, key, doc("c", 0, "v"), db.Always(), idx.next())

	res, err := database.Delete(key, db.IfVersion(put.Version+1), idx.next())
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied || res.Current != put.Version {
		t.Errorf("delete with wrong version should fail: %+v", res)
	}

	res, _ = database.Delete(key, db.IfVersion(put.Version), idx.next())
	if !res.Applied {
		t.Errorf("delete with current version should apply: %+v", res)
	}

	if _, exists, _ := database.Get(key); exists {
		t.Errorf("key should not exist after delete")
	}

	// deleting again is never applied
	res, _ = database.Delete(key, db.Always(), idx.next())
	if res.Applied || res.Current != 0 {
		t.Errorf("delete of missing key should not apply: %+v", res)
	}

	// the key can be recreated with IfAbsent and gets a fresh version
	again := mustPut(t, database, key, doc("c", 0, "v"), db.IfAbsent(), idx.next())
	if !again.Applied || again.Version == put.Version {
		t.Errorf("recreate after delete should apply with a new version: %+v", again)
	}
}

func testStaleWrite(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureGet)

	mustPut(t, database, "stale", doc("c", 0, "new"), db.Always(), 10)

	res := mustPut(t, database, "stale", doc("c", 0, "old"), db.Always(), 5)
	if res.Applied {
		t.Errorf("write with lower index should be ignored: %+v", res)
	}

	entry, _, _ := database.Get("stale")
	if string(entry.Doc.Value) != "new" || entry.Version != 10 {
		t.Errorf("stale write changed the entry: %+v", entry)
	}

	// replaying the same index is harmless
	res = mustPut(t, database, "stale", doc("c", 0, "new"), db.Always(), 10)
	if !res.Applied || res.Version != 10 {
		t.Errorf("replay with the same index should apply: %+v", res)
	}
}

func testFind(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureFind)

	var idx indexer
	mustPut(t, database, "t/1", doc("timers", 3, "1", "service", "s1", "owner", "a"), db.Always(), idx.next())
	mustPut(t, database, "t/2", doc("timers", 1, "2", "service", "s1", "owner", "b"), db.Always(), idx.next())
	mustPut(t, database, "t/3", doc("timers", 2, "3", "service", "s2", "owner", "a"), db.Always(), idx.next())
	mustPut(t, database, "t/4", doc("timers", 2, "4", "service", "s1", "owner", "a"), db.Always(), idx.next())
	mustPut(t, database, "s/1", doc("state", 0, "5", "service", "s1", "owner", "a"), db.Always(), idx.next())

	entries, err := database.Find(db.Query{Collection: "timers", Equals: map[string]string{"service": "s1"}})
	if err != nil {
		t.Fatal(err)
	}
	// ordered by rank, then key
	if got := fmt.Sprint(keysOf(entries)); got != "[t/2 t/4 t/1]" {
		t.Errorf("unexpected result for service filter: %s", got)
	}

	entries, _ = database.Find(db.Query{Collection: "timers", Equals: map[string]string{"service": "s1", "owner": "a"}})
	if got := fmt.Sprint(keysOf(entries)); got != "[t/4 t/1]" {
		t.Errorf("unexpected result for service+owner filter: %s", got)
	}

	entries, _ = database.Find(db.Query{Collection: "state"})
	if got := fmt.Sprint(keysOf(entries)); got != "[s/1]" {
		t.Errorf("collections must not leak into each other: %s", got)
	}

	entries, _ = database.Find(db.Query{Collection: "nothing"})
	if len(entries) != 0 {
		t.Errorf("expected no entries for unknown collection, got %d", len(entries))
	}

	// returned entries carry their version and are copies
	entries, _ = database.Find(db.Query{Collection: "state"})
	if entries[0].Version != 5 {
		t.Errorf("expected version 5, got %d", entries[0].Version)
	}
	entries[0].Doc.Value[0] = 'X'
	again, _, _ := database.Get("s/1")
	if string(again.Doc.Value) != "5" {
		t.Errorf("Find should return copies")
	}
}

func testRangeFind(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureRangeFind)

	var idx indexer
	for i := 0; i < 100; i++ {
		mustPut(t, database, fmt.Sprintf("k-%03d", i), doc("c", uint64(i*10), "v", "scope", "x"), db.Always(), idx.next())
	}
	// same ranks in another collection must not show up
	for i := 0; i < 10; i++ {
		mustPut(t, database, fmt.Sprintf("o-%03d", i), doc("other", uint64(i*10), "v"), db.Always(), idx.next())
	}

	tests := []struct {
		name   string
		ranges []db.RankRange
		count  int
	}{
		{"single point", []db.RankRange{{Min: 50, Max: 50}}, 1},
		{"between points", []db.RankRange{{Min: 51, Max: 59}}, 0},
		{"inclusive bounds", []db.RankRange{{Min: 100, Max: 200}}, 11},
		{"union", []db.RankRange{{Min: 0, Max: 0}, {Min: 980, Max: 990}}, 3},
		{"overlapping union", []db.RankRange{{Min: 0, Max: 100}, {Min: 50, Max: 150}}, 16},
		{"everything", []db.RankRange{{Min: 0, Max: ^uint64(0) >> 1}}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := database.Find(db.Query{Collection: "c", Equals: map[string]string{"scope": "x"}, Ranks: tt.ranges})
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != tt.count {
				t.Errorf("expected %d entries, got %d", tt.count, len(entries))
			}
			for i := 1; i < len(entries); i++ {
				if entries[i-1].Doc.Rank > entries[i].Doc.Rank {
					t.Errorf("entries not ordered by rank")
				}
			}
		})
	}
}

func testDeleteCollection(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureDeleteCollection|db.FeatureGet)

	var idx indexer
	for i := 0; i < 20; i++ {
		mustPut(t, database, fmt.Sprintf("a-%d", i), doc("a", uint64(i), "v"), db.Always(), idx.next())
		mustPut(t, database, fmt.Sprintf("b-%d", i), doc("b", uint64(i), "v"), db.Always(), idx.next())
	}

	deleted, err := database.DeleteCollection("a", idx.next())
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 20 {
		t.Errorf("expected 20 deleted entries, got %d", deleted)
	}

	if _, exists, _ := database.Get("a-3"); exists {
		t.Errorf("entry of deleted collection still exists")
	}
	if _, exists, _ := database.Get("b-3"); !exists {
		t.Errorf("entry of other collection was deleted")
	}

	deleted, _ = database.DeleteCollection("a", idx.next())
	if deleted != 0 {
		t.Errorf("second delete should remove nothing, removed %d", deleted)
	}
}

func testWriteIdx(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut)

	mustPut(t, database, "a", doc("c", 0, "v"), db.Always(), 5)
	if database.WriteIdx() != 5 {
		t.Errorf("expected write index 5, got %d", database.WriteIdx())
	}

	// failed conditions still advance the clock
	mustPut(t, database, "a", doc("c", 0, "v"), db.IfAbsent(), 7)
	if database.WriteIdx() != 7 {
		t.Errorf("expected write index 7, got %d", database.WriteIdx())
	}

	database.SetWriteIdx(3)
	if database.WriteIdx() != 7 {
		t.Errorf("write index must never decrease, got %d", database.WriteIdx())
	}

	database.SetWriteIdx(42)
	if database.WriteIdx() != 42 {
		t.Errorf("expected write index 42, got %d", database.WriteIdx())
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := mustCreate(t, factory)
	database2 := mustCreate(t, factory)

	// close the databases after the test
	defer database.Close()
	defer database2.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureGet|db.FeatureSave|db.FeatureLoad)

	var idx indexer
	numEntries := 1000
	for i := 0; i < numEntries; i++ {
		key := fmt.Sprintf("save-load-test-key-%d", i)
		mustPut(t, database, key, doc("c", uint64(i), fmt.Sprintf("value-%d", i), "n", fmt.Sprint(i%7)), db.Always(), idx.next())
	}

	// leftovers in the target must be replaced
	mustPut(t, database2, "leftover", doc("c", 0, "x"), db.Always(), 1)

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}
	if err := database2.Load(&buf); err != nil {
		t.Fatalf("Unexpected error during Load: %v", err)
	}

	if _, exists, _ := database2.Get("leftover"); exists {
		t.Errorf("Load should replace the database content")
	}

	for i := 0; i < numEntries; i++ {
		key := fmt.Sprintf("save-load-test-key-%d", i)
		original, _, _ := database.Get(key)
		loaded, exists, _ := database2.Get(key)
		if !exists {
			t.Errorf("Key %s not found after Load", key)
			continue
		}
		if !bytes.Equal(original.Doc.Value, loaded.Doc.Value) || original.Version != loaded.Version ||
			original.Doc.Rank != loaded.Doc.Rank || original.Doc.Attrs["n"] != loaded.Doc.Attrs["n"] {
			t.Errorf("entry mismatch for key %s: %+v vs %+v", key, original, loaded)
		}
	}

	if database2.WriteIdx() < uint64(numEntries) {
		t.Errorf("write index not restored: %d", database2.WriteIdx())
	}

	// the secondary index is restored too
	if database2.SupportsFeature(db.FeatureRangeFind) {
		entries, _ := database2.Find(db.Query{Collection: "c", Equals: map[string]string{"n": "0"}, Ranks: []db.RankRange{{Min: 0, Max: 99}}})
		if len(entries) != 15 {
			t.Errorf("expected 15 entries after load, got %d", len(entries))
		}
	}
}

func testConcurrentConditionalPut(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureConditionalPut)

	var idx indexer
	base := mustPut(t, database, "race", doc("c", 0, "base"), db.Always(), idx.next())

	const writers = 16
	var (
		wg      sync.WaitGroup
		applied atomic.Int32
	)
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			res, err := database.Put("race", doc("c", 0, fmt.Sprintf("w-%d", i)), db.IfVersion(base.Version), idx.next())
			if err != nil {
				t.Errorf("Put failed: %v", err)
				return
			}
			if res.Applied {
				applied.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if applied.Load() != 1 {
		t.Errorf("expected exactly one successful writer, got %d", applied.Load())
	}
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureGet)

	var idx indexer

	// empty key and empty value
	mustPut(t, database, "", db.Document{Collection: "c"}, db.Always(), idx.next())
	entry, exists, _ := database.Get("")
	if !exists {
		t.Errorf("empty key should be storable")
	}
	if len(entry.Doc.Value) != 0 {
		t.Errorf("expected empty value, got %q", entry.Doc.Value)
	}

	// keys with reserved characters
	for _, key := range []string{"a/b", `a\b`, "a|b", "äöü", "key with spaces"} {
		mustPut(t, database, key, doc("c", 0, key), db.Always(), idx.next())
		entry, exists, _ := database.Get(key)
		if !exists || string(entry.Doc.Value) != key {
			t.Errorf("key %q not stored correctly", key)
		}
	}

	// large value
	large := make([]byte, 1024*1024)
	large[len(large)-1] = 1
	mustPut(t, database, "large", db.Document{Collection: "c", Value: large}, db.Always(), idx.next())
	entry, _, _ = database.Get("large")
	if !bytes.Equal(entry.Doc.Value, large) {
		t.Errorf("large value not stored correctly")
	}
}
