package db

import "io"

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple  Implementation = "maple"
	ImplSQLite Implementation = "sqlite"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeaturePut              Feature = 1 << iota // Support for unconditional Put operations
	FeatureConditionalPut                       // Support for Put with an IfAbsent or IfVersion condition
	FeatureDelete                               // Support for Delete operations (conditional or not)
	FeatureDeleteCollection                     // Support for DeleteCollection operations
	FeatureGet                                  // Support for Get operations
	FeatureFind                                 // Support for Find with collection and attribute filters
	FeatureRangeFind                            // Support for Find with rank ranges
	FeatureSave                                 // Support for Save operations
	FeatureLoad                                 // Support for Load operations
)

func (f Feature) String() string {
	switch f {
	case FeaturePut:
		return "Put"
	case FeatureConditionalPut:
		return "ConditionalPut"
	case FeatureDelete:
		return "Delete"
	case FeatureDeleteCollection:
		return "DeleteCollection"
	case FeatureGet:
		return "Get"
	case FeatureFind:
		return "Find"
	case FeatureRangeFind:
		return "RangeFind"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	EntryCount        int            `json:"entry_count"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for versioned document database implementations.
// Every stored Entry carries the write index of the mutation that produced it;
// this index is the entry's version. All conditional checks happen atomically
// with the mutation they guard.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Put inserts or replaces the document under key if cond holds for the currently stored entry.
	// The writeIndex becomes the version of the entry. Writes with a writeIndex lower than the
	// index of the stored entry are ignored (Applied=false).
	Put(key string, doc Document, cond Condition, writeIndex uint64) (res WriteResult, err error)

	// Delete removes the entry under key if cond holds.
	// Deleting a missing key is never Applied; callers decide whether that is an error.
	Delete(key string, cond Condition, writeIndex uint64) (res WriteResult, err error)

	// DeleteCollection removes every entry of a collection and returns how many were removed.
	DeleteCollection(collection string, writeIndex uint64) (deleted int, err error)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves the entry for an exact key.
	// The boolean return value indicates whether an entry for the key was found.
	// The returned entry is a copy and safe to modify.
	Get(key string) (entry Entry, loaded bool, err error)

	// Find returns all entries matching q, ordered by (Rank, Key).
	Find(q Query) (entries []Entry, err error)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the database to the provided io.Writer (see WriteSnapshot).
	Save(w io.Writer) (err error)

	// Load replaces the database state with a snapshot read from r (see ReadSnapshot).
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// --------------------------------------------------------------------------
	// Write Index Operations
	// --------------------------------------------------------------------------

	// SetWriteIdx sets the current index of the database only if the provided index is greater than the current index.
	SetWriteIdx(index uint64)

	// WriteIdx returns the highest write index the database has seen.
	WriteIdx() (index uint64)

	// Close closes the database.
	Close() (err error)
}
