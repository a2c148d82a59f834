// Package maple implements an in-memory, sharded document database with
// optimistic concurrency control. It provides a complete implementation of the
// db.KVDB interface with a focus on thread safety and performance.
//
// The package focuses on:
//   - Optimized concurrent access through sharding and lock-minimizing data structures
//   - Atomic conditional writes (IfAbsent, IfVersion) evaluated inside the per-key critical section
//   - An ordered secondary index for collection scans and numeric rank range queries
//   - Persistent storage with fuzzy snapshots in the shared db snapshot format
//
// Key Components:
//
//   - mapleImpl: The central database structure implementing db.KVDB. It manages shards,
//     the secondary index and the write index. The mapleImpl does not generate write indexes
//     itself but delegates this responsibility to the caller (an atomic counter in lstore or
//     the RAFT log index in dstore).
//
//   - Shard: A partition of the database that manages a subset of the key space.
//     Keys are distributed across shards using a seeded hash function.
//
//   - Entry: A stored document plus the write index of the mutation that produced it.
//     The write index is the entry's version.
//
//   - Index: A skipmap ordered by (collection, rank, key). Find walks it in order,
//     skipping other collections and stopping after the highest requested rank.
//
// Internal Mechanisms:
//
//   - Sharding Strategy: Keys are distributed across shards in a two-step process:
//     1. String keys are converted to 64-bit integers using the HashString function
//     with a database-specific seed
//     2. The integer key is right-shifted by 7 bits to use higher-quality bits for
//     distribution
//
//   - Conditional Writes: Every write runs inside xsync.MapOf.Compute. The condition is
//     evaluated against the current entry and the mutation is applied in the same callback,
//     so two writers racing on the same version can never both succeed.
//
//   - Index Maintenance: The secondary index is updated inside the same Compute callback as
//     the data. Updates for one key are therefore serialized and the index can never keep a
//     stale position for a key. Readers verify every index hit against the shard, so a
//     reader racing with a writer sees either the old or the new state of an entry.
//
//   - Stale Write Prevention: A write is only applied if its write index is greater than or
//     equal to the index of the stored entry. Replaying an already applied log is thereby
//     harmless.
//
//   - Persistence: Save writes a fuzzy snapshot (see db.WriteSnapshot) without locking;
//     it does not represent a consistent cut of the database. Load replaces all content
//     and must not run concurrently with other operations.
//
// The maple package is designed to serve as a backend for the local store and as
// the state machine database of the replicated store.
package maple
