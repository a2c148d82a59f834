package dstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/store"
	"github.com/ValentinKolb/dPersist/lib/store/dstore/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// replica is the read side of a dragonboat.NodeHost
type replica interface {
	SyncRead(ctx context.Context, shardID uint64, query interface{}) (interface{}, error)
	StaleRead(shardID uint64, query interface{}) (interface{}, error)
}

// storeImpl is the concrete implementation of store.IStore on top of a dragonboat shard.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type storeImpl struct {
	nh      *dragonboat.NodeHost
	reads   replica // nh outside of tests
	shardID uint64
	cs      *client.Session
	timeout time.Duration
}

// NewDistributedStore creates a new distributed store instance which uses raft consensus
// to replicate all writes across multiple nodes. Point loads and writes are linearizable,
// queries are answered according to their store.QueryOptions.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) store.IStore {
	cs := nh.GetNoOPSession(shardID)
	return &storeImpl{
		nh:      nh,
		reads:   nh,
		shardID: shardID,
		cs:      cs,
		timeout: timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// wait sleeps before the next retry or returns early if ctx is done
func (s *storeImpl) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.timeout / 10):
		return nil
	}
}

// backendError converts a dragonboat error into a store error.
// Errors of the caller's context are returned unchanged.
func backendError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		return storeErr
	}
	return store.NewUnavailableError(op, err)
}

// write serializes a Command and sends it via SyncPropose.
// It returns the number carried by the result (see internal.EncodeNumber).
// A conflict is returned as *store.Error with the current version as Actual.
func (s *storeImpl) write(ctx context.Context, cmd internal.Command) (uint64, error) {
	data, err := cmd.Serialize()
	if err != nil {
		return 0, store.NewError(store.RetCInvalidOperation, err.Error())
	}

	for i := 0; i < retries; i++ {
		proposeCtx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := s.nh.SyncPropose(proposeCtx, s.cs, data)
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			if err := s.wait(ctx); err != nil {
				return 0, err
			}
			continue
		}
		if err != nil {
			return 0, backendError(ctx, cmd.Type.String()+" "+cmd.Key, err)
		}

		switch store.RetCode(res.Value) {
		case store.RetCSuccess:
			return internal.DecodeNumber(res.Data)
		case store.RetCConflict:
			current, err := internal.DecodeNumber(res.Data)
			if err != nil {
				return 0, store.NewError(store.RetCInternalError, err.Error())
			}
			return 0, store.NewConflictError(
				cmd.Type.String()+" "+cmd.Key, store.ExpectedVersion(cmd.Cond), store.Version(current),
			)
		default:
			return 0, store.NewError(store.RetCode(res.Value), string(res.Data))
		}
	}
	return 0, store.NewUnavailableError(cmd.Type.String()+" "+cmd.Key, dragonboat.ErrSystemBusy)
}

// read is a generic helper function that queries the state machine
// and attempts to convert the response into the expected type R.
//
// This function uses the SyncRead function (dragonboat) by default to query the state machine.
// If linearizability is not required, the stale parameter can be set to true to use the faster StaleRead function.
//
// If the read operation fails due to a system busy error, the function retries up to 5 times.
func read[R any](ctx context.Context, r *storeImpl, q internal.Query, stale bool, timeout time.Duration) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {

		var res interface{}
		var err error

		// Query the state machine, use StaleRead if stale is set otherwise use SyncRead (default)
		if stale {
			res, err = r.reads.StaleRead(r.shardID, q)
		} else {
			readCtx, cancel := context.WithTimeout(ctx, timeout)
			res, err = r.reads.SyncRead(readCtx, r.shardID, q)
			cancel()
		}

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			if err := r.wait(ctx); err != nil {
				return zero, err
			}
			continue
		}
		if err != nil {
			return zero, err
		}

		// The state machine is expected to return the response in the expected type R.
		casted, ok := res.(R)
		if !ok {
			return zero, store.NewError(store.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, dragonboat.ErrSystemBusy
}

func toRecords(entries []db.Entry) []store.Record {
	records := make([]store.Record, len(entries))
	for i, e := range entries {
		records[i] = store.Record{Key: e.Key, Doc: e.Doc, Version: store.Version(e.Version)}
	}
	return records
}

// isTimeout reports whether err means that a linearizable read did not finish in time
func isTimeout(err error) bool {
	return errors.Is(err, dragonboat.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Load(ctx context.Context, key string) (store.Record, bool, error) {
	res, err := read[internal.GetResult](ctx, s, internal.Query{
		Type: internal.QueryTGet,
		Key:  key,
	}, false, s.timeout)
	if err != nil {
		return store.Record{}, false, backendError(ctx, "load "+key, err)
	}
	if !res.Ok {
		return store.Record{}, false, nil
	}
	return store.Record{Key: key, Doc: res.Entry.Doc, Version: store.Version(res.Entry.Version)}, true, nil
}

func (s *storeImpl) Store(ctx context.Context, key string, doc store.Document, cond store.Condition) (store.Version, error) {
	version, err := s.write(ctx, internal.Command{
		Type: internal.CommandTPut,
		Cond: cond,
		Key:  key,
		Doc:  doc,
	})
	if err != nil {
		return store.NoVersion, err
	}
	return store.Version(version), nil
}

func (s *storeImpl) Delete(ctx context.Context, key string, cond store.Condition) error {
	_, err := s.write(ctx, internal.Command{
		Type: internal.CommandTDelete,
		Cond: cond,
		Key:  key,
	})
	return err
}

// Find answers from the local replica unless opts.WaitForNonStale is set. In that case
// it waits up to WaitForNonStale for a linearizable read and falls back to the local
// replica if the wait times out.
func (s *storeImpl) Find(ctx context.Context, q store.Query, opts store.QueryOptions) (store.QueryResult, error) {
	query := internal.Query{Type: internal.QueryTFind, Match: q}

	if opts.WaitForNonStale > 0 {
		entries, err := read[[]db.Entry](ctx, s, query, false, opts.WaitForNonStale)
		if err == nil {
			return store.QueryResult{Records: toRecords(entries)}, nil
		}
		if !isTimeout(err) || ctx.Err() != nil {
			return store.QueryResult{}, backendError(ctx, "find in "+q.Collection, err)
		}
		log.Debugf("find in %s: no up-to-date view after %v, using local replica", q.Collection, opts.WaitForNonStale)
	}

	entries, err := read[[]db.Entry](ctx, s, query, true, s.timeout)
	if err != nil {
		return store.QueryResult{}, backendError(ctx, "find in "+q.Collection, err)
	}
	return store.QueryResult{Records: toRecords(entries), Stale: true}, nil
}

func (s *storeImpl) DeleteCollection(ctx context.Context, collection string) (int, error) {
	deleted, err := s.write(ctx, internal.Command{
		Type: internal.CommandTDeleteCollection,
		Key:  collection,
	})
	return int(deleted), err
}

func (s *storeImpl) GetDBInfo(ctx context.Context) (db.DatabaseInfo, error) {
	info, err := read[db.DatabaseInfo](
		ctx,
		s,
		internal.Query{
			Type: internal.QueryTGetDBInfo,
		},
		true, // Note: allow for stale reads
		s.timeout,
	)
	if err != nil {
		return db.DatabaseInfo{}, backendError(ctx, "get db info", err)
	}
	return info, nil
}

// Close is a no-op, the NodeHost is owned by the caller
func (s *storeImpl) Close() error {
	return nil
}
