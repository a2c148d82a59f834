package dstore

import (
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/store"
	"github.com/ValentinKolb/dPersist/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// DocStateMachine is a state machine implementation for Dragonboat RAFT
type DocStateMachine struct {
	replicaID uint64
	shardID   uint64
	database  db.KVDB // the actual dataStorage
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create a new state machine for a node host
// The factory pattern is used to enable the caller to pass an interchangeable dbFactory.
// Dragonboat offers no way to report a factory error, a failing dbFactory therefore panics.
func CreateStateMachineFactory(dbFactory store.DBFactory) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		database, err := dbFactory()
		if err != nil {
			log.Panicf("shard %d replica %d: create database: %v", shardID, replicaID, err)
		}
		return &DocStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			database:  database,
		}
	}
}

// Lookup handles read-only queries by mapping each Query operation to the corresponding KVDB method.
func (fsm *DocStateMachine) Lookup(itf interface{}) (interface{}, error) {

	// try to parse Query into Query struct
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	// Handle different Query types
	switch q.Type {
	case internal.QueryTGet:
		if !fsm.database.SupportsFeature(db.FeatureGet) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "Get operation is not supported")
		}
		entry, ok, err := fsm.database.Get(q.Key)
		if err != nil {
			return nil, store.NewUnavailableError("get "+q.Key, err)
		}
		return internal.GetResult{Ok: ok, Entry: entry}, nil
	case internal.QueryTFind:
		feature := db.FeatureFind
		if len(q.Match.Ranks) > 0 {
			feature |= db.FeatureRangeFind
		}
		if !fsm.database.SupportsFeature(feature) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "Find operation is not supported")
		}
		entries, err := fsm.database.Find(q.Match)
		if err != nil {
			return nil, store.NewUnavailableError("find in "+q.Match.Collection, err)
		}
		return entries, nil
	case internal.QueryTGetDBInfo:
		return fsm.database.GetInfo(), nil
	default:
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

// errorResult builds the result of a command that could not be executed
func errorResult(code store.RetCode, format string, args ...any) sm.Result {
	return sm.Result{Value: uint64(code), Data: []byte(fmt.Sprintf(format, args...))}
}

// apply executes one command with the log index as write index
func (fsm *DocStateMachine) apply(cmd internal.Command, index uint64) sm.Result {
	switch cmd.Type {
	case internal.CommandTPut:
		res, err := fsm.database.Put(cmd.Key, cmd.Doc, cmd.Cond, index)
		if err != nil {
			return errorResult(store.RetCUnavailable, "put %s: %v", cmd.Key, err)
		}
		if !res.Applied {
			return sm.Result{Value: uint64(store.RetCConflict), Data: internal.EncodeNumber(res.Current)}
		}
		return sm.Result{Value: uint64(store.RetCSuccess), Data: internal.EncodeNumber(res.Version)}

	case internal.CommandTDelete:
		res, err := fsm.database.Delete(cmd.Key, cmd.Cond, index)
		if err != nil {
			return errorResult(store.RetCUnavailable, "delete %s: %v", cmd.Key, err)
		}
		// an unconditional delete of a missing key is a no-op
		if !res.Applied && !(cmd.Cond.Kind == db.CondAlways && res.Current == 0) {
			return sm.Result{Value: uint64(store.RetCConflict), Data: internal.EncodeNumber(res.Current)}
		}
		return sm.Result{Value: uint64(store.RetCSuccess), Data: internal.EncodeNumber(index)}

	case internal.CommandTDeleteCollection:
		deleted, err := fsm.database.DeleteCollection(cmd.Key, index)
		if err != nil {
			return errorResult(store.RetCUnavailable, "delete collection %s: %v", cmd.Key, err)
		}
		return sm.Result{Value: uint64(store.RetCSuccess), Data: internal.EncodeNumber(uint64(deleted))}

	default:
		return errorResult(store.RetCInvalidOperation, "unknown Command operation: %s", cmd.Type)
	}
}

// Update handles write commands on the KVDB instance
// All write operations are serialized into []byte and are accessible via the entries struct
func (fsm *DocStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {

	// Nothing to do
	if len(entries) == 0 {
		return entries, nil
	}

	// Stats
	start := time.Now()

	for idx, e := range entries {
		// Handle each entry
		if len(e.Cmd) == 0 {
			entries[idx].Result = errorResult(store.RetCInvalidOperation, "empty command ignored")
			fsm.database.SetWriteIdx(e.Index)
			continue
		}

		// Deserialize the command
		cmd := internal.Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = errorResult(store.RetCInternalError, "failed to deserialize command: %v", err)
			fsm.database.SetWriteIdx(e.Index)
			continue
		}

		// Check if the db supports the operation
		feat, err := cmd.Type.ToDBFeature(cmd.Cond)
		if err != nil {
			entries[idx].Result = errorResult(store.RetCInvalidOperation, "unknown Command operation: %s", cmd.Type)
			fsm.database.SetWriteIdx(e.Index)
			continue
		}
		if !fsm.database.SupportsFeature(feat) {
			entries[idx].Result = errorResult(store.RetCUnsupportedOperation, "%s operation is not supported", cmd.Type)
			fsm.database.SetWriteIdx(e.Index)
			continue
		}

		entries[idx].Result = fsm.apply(cmd, e.Index)
	}

	// Log if the update took long
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// PrepareSnapshot is not used. We don't need to prepare anything since we use fuzzy snapshotting
func (fsm *DocStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot saves a fuzzy db snapshot to the writer
func (fsm *DocStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(db.FeatureSave) {
		return fmt.Errorf("the used KVDB implementation does not support Save() operations")
	}
	return fsm.database.Save(writer)
}

// RecoverFromSnapshot replaces the database content with the snapshot
func (fsm *DocStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(db.FeatureLoad) {
		return fmt.Errorf("the used KVDB implementation does not support Load() operations")
	}
	return fsm.database.Load(r)
}

// Close performs any necessary cleanup.
func (fsm *DocStateMachine) Close() error {
	return fsm.database.Close()
}
