package internal

import (
	"fmt"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Entry Type (document with metadata)
// --------------------------------------------------------------------------

// Entry stores a document with metadata
type Entry struct {
	Doc   db.Document // Stored document (owned by the shard, never handed out without Clone)
	Index uint64      // Write index of the mutation that produced this entry (= version)
}

// --------------------------------------------------------------------------
// Index Key Type (ordered secondary index)
// --------------------------------------------------------------------------

// IndexKey orders entries by collection, then rank, then key
type IndexKey struct {
	Collection string
	Rank       uint64
	Key        string
}

// NewIndexKey creates the index key of a stored document
func NewIndexKey(key string, doc db.Document) IndexKey {
	return IndexKey{Collection: doc.Collection, Rank: doc.Rank, Key: key}
}

// Less is the ordering used by the secondary index
func (a IndexKey) Less(b IndexKey) bool {
	if a.Collection != b.Collection {
		return a.Collection < b.Collection
	}
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return a.Key < b.Key
}

func (a IndexKey) String() string {
	return fmt.Sprintf("IndexKey{Collection: %s, Rank: %d, Key: %s}", a.Collection, a.Rank, a.Key)
}

// --------------------------------------------------------------------------
// Shard Type (partition of the database)
// --------------------------------------------------------------------------

// Shard represents a partition of the database
type Shard struct {
	Data *xsync.MapOf[string, Entry] // Map of active entries
}

// NewShard creates a new, empty shard
func NewShard() *Shard {
	return &Shard{
		Data: xsync.NewMapOf[string, Entry](),
	}
}

// GetShard returns the appropriate shard for a given hashed key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](key util.UintKey, shards []*T) *T {
	// Shift right by 7 bits to use higher-quality bits for distribution
	shiftedKey := uint64(key) >> 7
	shardPos := shiftedKey % uint64(len(shards))
	return shards[shardPos]
}
