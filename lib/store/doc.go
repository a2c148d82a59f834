// Package store defines the session provider that the state store and the timer
// registry are built on: a versioned document store with conditional writes and
// filtered queries, plus unified error reporting.
//
// Key Components:
//
//   - IStore Interface: Load, Store and Delete by key, Find by collection, attribute
//     equality and rank ranges, DeleteCollection. Every call is its own session, there
//     is no shared mutable state between calls except the records themselves.
//
//   - Version: An opaque token that changes on every successful write. Implementations
//     use the write index of the mutation (an atomic counter locally, the RAFT log index
//     when replicated), so versions are unique across all keys. NoVersion marks records
//     that do not exist.
//
//   - Conditions: Always, IfAbsent and IfVersion. Conditions are evaluated atomically
//     with the write they guard, so of several writers racing on the same version
//     exactly one succeeds.
//
//   - Error System: A structured error type with typed return codes. Conflicts carry the
//     expected and actual version. errors.Is(err, ErrConflict) and
//     errors.Is(err, ErrUnavailable) classify errors without inspecting codes.
//
//   - DBFactory: A function type that abstracts the creation of the underlying db.KVDB.
//
// Implementations:
//
//	- Local Store (lstore): Uses a db.KVDB directly and generates write indexes with
//	  an atomic counter. Results are never stale.
//	  Available in the "github.com/ValentinKolb/dPersist/lib/store/lstore" package.
//
//	- Distributed Store (dstore): Replicates all writes with the Dragonboat RAFT library.
//	  Queries are served from the local replica unless the caller asks to wait for a
//	  non-stale view.
//	  Available in the "github.com/ValentinKolb/dPersist/lib/store/dstore" package.
package store
