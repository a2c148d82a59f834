// Package cmd implements the dpersist command-line interface. It provides
// commands for running a replica and for working with state and timers on a
// local store.
//
// The package is organized into several subpackages:
//
//   - state: read, write and clear versioned entity state (get, put, clear)
//   - timers: manage timers and inspect the hash ring (upsert, get, owner, range, rm, clear, split)
//   - serve: start a RAFT replica with its timer worker and /metrics endpoint
//   - bench: timed load against a local store
//   - info: engine information
//   - util: shared flag, configuration and store helpers (internal use)
//
// All flags can also be set as environment variables DPERSIST_<FLAG>, or in
// a .env / .env.local file. See dpersist -help for a list of all commands.
package cmd
