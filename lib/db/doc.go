// Package db provides a standardized interface for versioned document database implementations.
// It defines the KVDB interface that allows for consistent interaction
// with various database backends while abstracting implementation details.
//
// The package focuses on:
//   - A unified interface for conditional writes, point reads and filtered queries
//   - Feature discovery through capability flags
//   - A snapshot format shared by all engines
//
// Key Components:
//
//   - KVDB Interface: The core interface that all database implementations must satisfy.
//     It provides conditional writes (Put, Delete), bulk removal (DeleteCollection),
//     reads (Get, Find), metadata retrieval (GetInfo) and persistence (Save, Load).
//
//   - Documents: A Document is an opaque value plus the attributes the database indexes:
//     its collection, a set of string attributes for equality filters and a numeric rank
//     for range filters. The database never interprets the value.
//
//   - Conditions: Every write is guarded by a Condition (Always, IfAbsent, IfVersion).
//     The check and the mutation happen atomically per key. A WriteResult reports
//     whether the write was applied and which version was found.
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method.
//
//   - Snapshots: WriteSnapshot and ReadSnapshot define the binary format used by Save and
//     Load of every engine, so a snapshot taken from one engine can be loaded into another.
//
// Note on Versions and Write Indexes:
//   - All write operations require a write index that serves as a logical timestamp. The
//     write index of the mutation becomes the version of the entry it produced.
//   - The caller guarantees that write indexes are unique and increasing (an atomic counter
//     or the RAFT log index). Versions are therefore never reused, not even across keys
//     or after a delete.
//   - Writes carrying an index lower than the index of the stored entry are ignored. This
//     keeps replays of an already applied log idempotent.
//   - Monotonicity Guarantee: SetWriteIdx ignores attempts to lower the write index.
//
// Related Packages:
//
// The engines/maple package provides an in-memory, sharded implementation with an
// ordered secondary index. The engines/sqlite package provides a durable implementation
// on top of an embedded SQLite database.
//
// The testing package (github.com/ValentinKolb/dPersist/lib/db/testing) provides
// standardized tests and benchmarks for database implementations that satisfy the db.KVDB interface.
//   - RunKVDBTests: Runs a standardized test suite to validate implementations
//   - RunKVDBBenchmarks: Provides performance benchmarks for comparing implementations
package db
