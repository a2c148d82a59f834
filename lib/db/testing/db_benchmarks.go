package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dPersist/lib/db"
)

// RunKVDBBenchmarks runs all benchmarks for a versioned document database implementation
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {
	b.Run(name, func(b *testing.B) {

		b.Run("Put", func(b *testing.B) {
			benchmarkPut(b, mustCreate(b, factory))
		})

		b.Run("PutExisting", func(b *testing.B) {
			benchmarkPutExisting(b, mustCreate(b, factory))
		})

		b.Run("PutLargeValue", func(b *testing.B) {
			benchmarkPutLargeValue(b, mustCreate(b, factory))
		})

		b.Run("ConditionalPut", func(b *testing.B) {
			benchmarkConditionalPut(b, mustCreate(b, factory))
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, mustCreate(b, factory))
		})

		b.Run("Delete", func(b *testing.B) {
			benchmarkDelete(b, mustCreate(b, factory))
		})

		b.Run("Find", func(b *testing.B) {
			benchmarkFind(b, mustCreate(b, factory))
		})

		b.Run("RangeFind", func(b *testing.B) {
			benchmarkRangeFind(b, mustCreate(b, factory))
		})

		b.Run("SaveLoad", func(b *testing.B) {
			benchmarkSaveLoad(b, factory)
		})

		b.Run("MixedUsage", func(b *testing.B) {
			benchmarkMixedUsage(b, mustCreate(b, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for Put operation
func benchmarkPut(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut)

	var idx indexer
	var worker atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		w := worker.Add(1)
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d-%d", w, counter)
			database.Put(key, doc("bench", uint64(counter), key), db.Always(), idx.next())
			counter++
		}
	})
}

// Benchmark for Put operation with existing keys
func benchmarkPutExisting(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut)

	var idx indexer

	// Prepare data
	numKeys := b.N
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		database.Put(key, doc("bench", uint64(i), key), db.Always(), idx.next())
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter%numKeys)
			database.Put(key, doc("bench", uint64(counter), key), db.Always(), idx.next())
			counter++
		}
	})
}

// Benchmark for Put operation with large values
func benchmarkPutLargeValue(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut)

	largeValue := bytes.Repeat([]byte("x"), 64*1024) // 64KB value
	var idx indexer

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("large-key-%d", counter%1000)
			database.Put(key, db.Document{Collection: "bench", Value: largeValue}, db.Always(), idx.next())
			counter++
		}
	})
}

// Benchmark for compare-and-set style updates, the typical optimistic concurrency pattern
func benchmarkConditionalPut(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureConditionalPut|db.FeatureGet)

	var idx indexer
	numKeys := 1000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("cas-key-%d", i)
		database.Put(key, doc("bench", 0, "0"), db.Always(), idx.next())
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("cas-key-%d", counter%numKeys)
			entry, _, _ := database.Get(key)
			database.Put(key, doc("bench", 0, "1"), db.IfVersion(entry.Version), idx.next())
			counter++
		}
	})
}

// Benchmark for Get operation
func benchmarkGet(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut|db.FeatureGet)

	var idx indexer

	// Prepare data
	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		database.Put(key, doc("bench", uint64(i), key), db.Always(), idx.next())
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter%numKeys)
			database.Get(key)
			counter++
		}
	})
}

// Benchmark for Delete operation
func benchmarkDelete(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut|db.FeatureDelete)

	var idx indexer

	// Prepare data
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		database.Put(key, doc("bench", uint64(i), key), db.Always(), idx.next())
	}

	var next atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", next.Add(1)-1)
			database.Delete(key, db.Always(), idx.next())
		}
	})
}

// Benchmark for Find with attribute filters over a collection
func benchmarkFind(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut|db.FeatureFind)

	var idx indexer
	numOwners := 100
	for i := 0; i < 10000; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		owner := fmt.Sprintf("owner-%d", i%numOwners)
		database.Put(key, doc("bench", uint64(i), key, "owner", owner), db.Always(), idx.next())
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			owner := fmt.Sprintf("owner-%d", counter%numOwners)
			database.Find(db.Query{Collection: "bench", Equals: map[string]string{"owner": owner}})
			counter++
		}
	})
}

// Benchmark for Find over a narrow rank range
func benchmarkRangeFind(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut|db.FeatureRangeFind)

	var idx indexer
	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		database.Put(key, doc("bench", uint64(i)*1000, key), db.Always(), idx.next())
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			lower := uint64(r.Intn(numKeys)) * 1000
			database.Find(db.Query{Collection: "bench", Ranks: []db.RankRange{{Min: lower, Max: lower + 100_000}}})
		}
	})
}

// Benchmark for Save and Load operations
func benchmarkSaveLoad(b *testing.B, factory DBFactory) {
	database := mustCreate(b, factory)

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut|db.FeatureSave|db.FeatureLoad)

	var idx indexer
	for i := 0; i < 10000; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		database.Put(key, doc("bench", uint64(i), key, "n", fmt.Sprint(i%10)), db.Always(), idx.next())
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var buf bytes.Buffer
		if err := database.Save(&buf); err != nil {
			b.Fatalf("Save failed: %v", err)
		}

		target := mustCreate(b, factory)
		if err := target.Load(&buf); err != nil {
			b.Fatalf("Load failed: %v", err)
		}
		target.Close()
	}
}

// Benchmark for mixed operations (80% reads, 15% conditional writes, 5% deletes)
func benchmarkMixedUsage(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut|db.FeatureConditionalPut|db.FeatureGet|db.FeatureDelete)

	var idx indexer
	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		database.Put(key, doc("bench", uint64(i), key), db.Always(), idx.next())
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", r.Intn(numKeys))
			op := r.Intn(100)

			switch {
			case op < 80:
				database.Get(key)
			case op < 95:
				entry, exists, _ := database.Get(key)
				if exists {
					database.Put(key, entry.Doc, db.IfVersion(entry.Version), idx.next())
				} else {
					database.Put(key, doc("bench", 0, key), db.IfAbsent(), idx.next())
				}
			default:
				database.Delete(key, db.Always(), idx.next())
			}
		}
	})
}
