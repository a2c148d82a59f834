// Package dstore implements a replicated session provider using the Dragonboat RAFT
// consensus library. It implements store.IStore across multiple nodes: every write is
// committed through the RAFT log and applied to a db.KVDB on each node.
//
// Architecture:
//
// The dstore implementation consists of three main components:
//
//   - Store Client: Implements the store.IStore interface. It serializes write operations
//     into commands, proposes them to the RAFT shard and converts the results back into
//     versions and typed store errors.
//
//   - State Machine: A Dragonboat IConcurrentStateMachine (DocStateMachine) that applies
//     commands to its db.KVDB and answers queries. The RAFT log index of a command is used
//     as its write index, and therefore as the version of the document it writes.
//
//   - Communication Protocol: Defined in the internal package, this consists of Command
//     and Query structures with serialization logic for the RAFT log.
//
// Write Operations:
//
//	Store, Delete and DeleteCollection follow this flow:
//
//	1. The operation is serialized into a Command (including its condition)
//	2. The Command is proposed to the RAFT shard via SyncPropose
//	3. Once committed, the state machine evaluates the condition and applies the write
//	   on each node (Update in statemachine.go)
//	4. The result code and the new version (or on conflict the current version) are
//	   returned to the client
//
//	Since log indexes are strictly increasing, every successful write yields a version
//	that was never used before, on every node.
//
// Read Operations:
//
//   - Load uses SyncRead and always sees the latest committed state.
//
//   - Find uses StaleRead on the local replica and marks its result as stale. If the
//     caller sets QueryOptions.WaitForNonStale, Find first tries a SyncRead bounded by
//     that timeout and only falls back to the local replica when the timeout elapses.
//
//   - GetDBInfo uses StaleRead.
//
// Error Handling and Retries:
//
//	- System Busy: When Dragonboat returns ErrSystemBusy, the operation is retried
//	  after a short delay, up to 5 attempts.
//
//	- Timeouts: All operations are bounded by the configured timeout and by the caller's
//	  context. Dragonboat failures are reported as store.ErrUnavailable, errors of the
//	  caller's context are returned unchanged.
//
//	- Conflicts: Failed conditions are reported as store.ErrConflict with the expected
//	  and the current version.
//
// Snapshotting and Recovery:
//
//   - Fuzzy Snapshots: The state machine creates snapshots without pausing operations,
//     using the db.KVDB's Save method and the shared snapshot format.
//
//   - Recovery: On startup or when joining a cluster, nodes first restore their state
//     from the most recent snapshot using Load. Then they apply all RAFT log entries that
//     were committed after the snapshot. Writes older than the stored documents are
//     ignored, so replaying entries is harmless.
//
// Usage:
//
//	nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	if err != nil { ... }
//
//	dbFactory := func() (db.KVDB, error) { return maple.NewMapleDB(nil), nil }
//
//	err = nh.StartConcurrentReplica(
//	    clusterMembers,
//	    false,
//	    dstore.CreateStateMachineFactory(dbFactory),
//	    shardConfig)
//	if err != nil { ... }
//
//	s := dstore.NewDistributedStore(nh, shardID, 5*time.Second)
//
// Deployment Recommendations:
//
//   - Node Count: Deploy with an odd number of nodes (typically 3 or 5) to ensure
//     majority consensus is always possible.
//
//   - Majority Requirement: Writes cannot proceed if a majority of nodes is unavailable.
//     Stale queries keep working on any node that still has its replica.
package dstore
