package maple

import (
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/dPersist/lib/db/util"
	"github.com/zhangyunhao116/skipmap"
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements an in-memory document database with sharded data and
// an ordered secondary index
type mapleImpl struct {
	numShards int                                         // Number of shards
	seed      uint64                                      // Seed for hash function
	shards    []*internal.Shard                           // Array of shards
	index     *skipmap.FuncMap[internal.IndexKey, uint64] // (collection, rank, key) -> version
	currIndex atomic.Uint64                               // Highest write index seen
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards int // Number of shards (0 = auto)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards: runtime.NumCPU(), // Auto-determine based on CPU count
	}
}

// writeOp tells compute what to do with an entry
type writeOp int

const (
	opKeep writeOp = iota
	opWrite
	opDelete
)

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
//
// Thread-safety: This function is not thread-safe and should only be called once
// during initialization.
func NewMapleDB(opts *DBOptions) db.KVDB {

	// Generate default options if not provided
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}

	newDB := &mapleImpl{
		numShards: opts.NumShards,
		seed:      util.GenerateSeed(),
	}
	newDB.reset()

	return newDB
}

// reset replaces all shards and the index with empty ones
func (maple *mapleImpl) reset() {
	shards := make([]*internal.Shard, maple.numShards)
	for i := 0; i < maple.numShards; i++ {
		shards[i] = internal.NewShard()
	}
	maple.shards = shards
	maple.index = skipmap.NewFunc[internal.IndexKey, uint64](func(a, b internal.IndexKey) bool {
		return a.Less(b)
	})
	maple.currIndex.Store(0)
}

// shardFor returns the shard responsible for key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) shardFor(key string) *internal.Shard {
	return internal.GetShard(util.HashString(key, maple.seed), maple.shards)
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Put stores doc under key if cond holds for the current entry.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Put(key string, doc db.Document, cond db.Condition, writeIndex uint64) (db.WriteResult, error) {
	// Copy document to prevent memory corruption
	docCopy := doc.Clone()

	res := maple.compute(key, writeIndex, func(old internal.Entry, loaded bool) (internal.Entry, writeOp) {
		if !cond.Holds(old.Index, loaded) {
			return old, opKeep
		}
		return internal.Entry{Doc: docCopy, Index: writeIndex}, opWrite
	})
	return res, nil
}

// Delete removes the entry under key if it exists and cond holds.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Delete(key string, cond db.Condition, writeIndex uint64) (db.WriteResult, error) {
	res := maple.compute(key, writeIndex, func(old internal.Entry, loaded bool) (internal.Entry, writeOp) {
		if !loaded || !cond.Holds(old.Index, loaded) {
			return old, opKeep
		}
		return old, opDelete
	})
	return res, nil
}

// DeleteCollection removes every entry of collection.
// Entries written concurrently into the collection may survive.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) DeleteCollection(collection string, writeIndex uint64) (int, error) {
	var keys []string
	maple.index.Range(func(ik internal.IndexKey, _ uint64) bool {
		if ik.Collection < collection {
			return true
		}
		if ik.Collection > collection {
			return false
		}
		keys = append(keys, ik.Key)
		return true
	})

	deleted := 0
	for _, key := range keys {
		res := maple.compute(key, writeIndex, func(old internal.Entry, loaded bool) (internal.Entry, writeOp) {
			if !loaded || old.Doc.Collection != collection {
				return old, opKeep
			}
			return old, opDelete
		})
		if res.Applied {
			deleted++
		}
	}

	// a collection without entries still advances the clock
	maple.SetWriteIdx(writeIndex)

	return deleted, nil
}

// compute is the shared implementation of all write operations.
// It runs fn atomically for the key, applies the returned operation, keeps the
// secondary index in sync and ignores stale writes.
//
// fn receives the current entry (and whether it exists) and returns the new entry and
// the operation to perform: opKeep leaves the entry untouched, opWrite stores the returned
// entry and opDelete removes the current entry.
//
// Thread-safety: The index update happens inside the per-key critical section of
// xsync.MapOf.Compute, so index changes for one key are serialized.
func (maple *mapleImpl) compute(key string, writeIndex uint64, fn func(old internal.Entry, loaded bool) (internal.Entry, writeOp)) db.WriteResult {

	// update the current index
	maple.SetWriteIdx(writeIndex)

	shard := maple.shardFor(key)
	var res db.WriteResult

	shard.Data.Compute(key, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
		if loaded {
			res.Current = old.Index
		}

		// stale writes are ignored
		if loaded && writeIndex < old.Index {
			return old, false
		}

		next, op := fn(old, loaded)

		switch op {
		case opWrite:
			newKey := internal.NewIndexKey(key, next.Doc)
			if loaded {
				if oldKey := internal.NewIndexKey(key, old.Doc); oldKey != newKey {
					maple.index.Delete(oldKey)
				}
			}
			maple.index.Store(newKey, next.Index)

			res.Applied = true
			res.Version = next.Index
			return next, false

		case opDelete:
			if loaded {
				maple.index.Delete(internal.NewIndexKey(key, old.Doc))
				res.Applied = true
			}
			return old, true

		default:
			// set delete to true for missing keys because else the value will be created
			return old, !loaded
		}
	})

	return res
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get retrieves the entry for a key.
// The returned entry is a copy of the stored data and therefore safe to use and modify.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(key string) (db.Entry, bool, error) {
	e, ok := maple.shardFor(key).Data.Load(key)
	if !ok {
		return db.Entry{}, false, nil
	}
	return db.Entry{Key: key, Doc: e.Doc.Clone(), Version: e.Index}, true, nil
}

// Find walks the secondary index of q.Collection in rank order and returns the
// matching entries. Rank ranges bound the walk, so range queries only visit the
// part of the index up to the highest requested rank.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
// The result is not a consistent cut when writes happen during the walk.
func (maple *mapleImpl) Find(q db.Query) ([]db.Entry, error) {
	var (
		entries []db.Entry
		maxRank = q.MaxRank()
	)

	maple.index.Range(func(ik internal.IndexKey, _ uint64) bool {
		if ik.Collection < q.Collection {
			return true
		}
		if ik.Collection > q.Collection || ik.Rank > maxRank {
			return false
		}
		if !q.MatchesRank(ik.Rank) {
			return true
		}

		e, ok := maple.shardFor(ik.Key).Data.Load(ik.Key)
		if !ok || internal.NewIndexKey(ik.Key, e.Doc) != ik {
			// the entry was deleted or moved after the index was read
			return true
		}

		entry := db.Entry{Key: ik.Key, Doc: e.Doc, Version: e.Index}
		if q.Matches(entry) {
			entry.Doc = e.Doc.Clone()
			entries = append(entries, entry)
		}
		return true
	})

	return entries, nil
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists the database to the writer
// Concurrent reading and writing is allowed during Save operation
//
// Thread-safety: This function allows concurrent operations with all other functions
// except Load. It takes a fuzzy snapshot of the data without blocking modifications.
func (maple *mapleImpl) Save(w io.Writer) error {
	var entries []db.Entry

	for _, shard := range maple.shards {
		shard.Data.Range(func(key string, e internal.Entry) bool {
			entries = append(entries, db.Entry{Key: key, Doc: e.Doc.Clone(), Version: e.Index})
			return true
		})
	}

	return db.WriteSnapshot(w, maple.currIndex.Load(), entries)
}

// Load replaces the database content with a snapshot read from r
//
// Thread-safety: This function is not thread-safe and should not be called concurrently
func (maple *mapleImpl) Load(r io.Reader) error {
	maple.reset()

	writeIdx, err := db.ReadSnapshot(r, func(e db.Entry) error {
		maple.shardFor(e.Key).Data.Store(e.Key, internal.Entry{Doc: e.Doc, Index: e.Version})
		maple.index.Store(internal.NewIndexKey(e.Key, e.Doc), e.Version)
		return nil
	})
	if err != nil {
		return err
	}

	// Update current index to the highest seen during load
	maple.SetWriteIdx(writeIdx)

	return nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {

	sizes := util.NewSizeSampler()
	samplesPerShard := 100
	shardSizes := make([]int, len(maple.shards))

	// concurrently collect samples from all shards
	wg := sync.WaitGroup{}
	wg.Add(len(maple.shards))
	for shardIndex, shard := range maple.shards {
		go func(i int, s *internal.Shard) {
			defer wg.Done()
			count := 0
			s.Data.Range(func(key string, e internal.Entry) bool {
				sizes.AddSample(len(key) + len(e.Doc.Value) + len(e.Doc.Collection))
				count++
				return count < samplesPerShard
			})
			shardSizes[i] = s.Data.Size()
		}(shardIndex, shard)
	}
	wg.Wait()

	entryCount := 0
	for _, n := range shardSizes {
		entryCount += n
	}

	entryOverhead := 40 // 8 bytes each for index and rank, plus index node
	sizeBytes := sizes.EstimateSize(entryOverhead) * entryCount

	// Metadata for this specific database implementation
	meta := &struct {
		CurrentWriteIndex uint64     `json:"current_write_index"`
		ShardCount        int        `json:"shard_count"`
		ShardDistribution util.Stats `json:"shard_distribution"`
		IndexEntries      int        `json:"index_entries"`
		Info              string     `json:"info"`
	}{
		CurrentWriteIndex: maple.currIndex.Load(),
		ShardCount:        len(maple.shards),
		ShardDistribution: util.NewDistributionStats(shardSizes),
		IndexEntries:      maple.index.Len(),
		Info:              "SizeBytes is an estimate based on sampled entries.",
	}

	return db.DatabaseInfo{
		SizeBytes:  sizeBytes,
		EntryCount: entryCount,
		DbType:     db.ImplMaple,
		SupportedFeatures: []db.Feature{
			db.FeaturePut, db.FeatureConditionalPut,
			db.FeatureDelete, db.FeatureDeleteCollection,
			db.FeatureGet, db.FeatureFind, db.FeatureRangeFind,
			db.FeatureSave, db.FeatureLoad,
		},
		Metadata: meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeaturePut |
		db.FeatureConditionalPut |
		db.FeatureDelete |
		db.FeatureDeleteCollection |
		db.FeatureGet |
		db.FeatureFind |
		db.FeatureRangeFind |
		db.FeatureSave |
		db.FeatureLoad
	return supportedFeatures&feature == feature
}

// Close is a no-op, the database holds no resources besides memory
func (maple *mapleImpl) Close() error {
	return nil
}

// --------------------------------------------------------------------------
// Index and Timestamp Management
// --------------------------------------------------------------------------

// SetWriteIdx safely updates the current index
// It only updates if the new index is greater than the current one
//
// Thread-safety: This method is thread-safe and can be called concurrently.
// It uses atomic operations to ensure that the index only increases.
func (maple *mapleImpl) SetWriteIdx(newIdx uint64) {
	for {
		currIdx := maple.currIndex.Load()
		if newIdx <= currIdx {
			return
		}
		if maple.currIndex.CompareAndSwap(currIdx, newIdx) {
			return
		}
	}
}

// WriteIdx returns the current index of the database
func (maple *mapleImpl) WriteIdx() uint64 {
	return maple.currIndex.Load()
}
