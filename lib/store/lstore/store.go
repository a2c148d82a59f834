package lstore

import (
	"context"
	"sync/atomic"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/store"
)

type storeImpl struct {
	db    db.KVDB
	index atomic.Uint64
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works on a single node.
// The write index continues from the highest index the database has seen,
// so versions never repeat for persistent engines.
func NewLocalStore(factory store.DBFactory) (store.IStore, error) {
	database, err := factory()
	if err != nil {
		return nil, store.NewUnavailableError("create database", err)
	}
	s := &storeImpl{db: database}
	s.index.Store(database.WriteIdx())
	return s, nil
}

// incAndGetIndex increments the index and returns the new value.
// It is used to ensure that each write operation has a unique index.
//
// Thread-safety: This method is thread-safe since it uses atomic operations.
func (s *storeImpl) incAndGetIndex() uint64 {
	return s.index.Add(1)
}

// requireFeature returns an error if the database lacks feature
func (s *storeImpl) requireFeature(feature db.Feature) error {
	if !s.db.SupportsFeature(feature) {
		return store.NewError(store.RetCUnsupportedOperation, feature.String()+" operation is not supported")
	}
	return nil
}

func toRecord(e db.Entry) store.Record {
	return store.Record{Key: e.Key, Doc: e.Doc, Version: store.Version(e.Version)}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Load(ctx context.Context, key string) (store.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, false, err
	}
	if err := s.requireFeature(db.FeatureGet); err != nil {
		return store.Record{}, false, err
	}
	e, ok, err := s.db.Get(key)
	if err != nil {
		return store.Record{}, false, store.NewUnavailableError("load "+key, err)
	}
	if !ok {
		return store.Record{}, false, nil
	}
	return toRecord(e), true, nil
}

func (s *storeImpl) Store(ctx context.Context, key string, doc store.Document, cond store.Condition) (store.Version, error) {
	if err := ctx.Err(); err != nil {
		return store.NoVersion, err
	}
	feature := db.FeaturePut
	if cond.Kind != db.CondAlways {
		feature = db.FeatureConditionalPut
	}
	if err := s.requireFeature(feature); err != nil {
		return store.NoVersion, err
	}

	idx := s.incAndGetIndex()
	res, err := s.db.Put(key, doc, cond, idx)
	if err != nil {
		return store.NoVersion, store.NewUnavailableError("store "+key, err)
	}
	if res.Applied {
		return store.Version(res.Version), nil
	}

	// a concurrent writer with a higher index got there first. For unconditional
	// writes this is the same as being overwritten right away, the durable
	// version is the one of the superseding write.
	if cond.Kind == db.CondAlways && res.Current > idx {
		return store.Version(res.Current), nil
	}
	return store.NoVersion, store.NewConflictError("store "+key, store.ExpectedVersion(cond), store.Version(res.Current))
}

func (s *storeImpl) Delete(ctx context.Context, key string, cond store.Condition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.requireFeature(db.FeatureDelete); err != nil {
		return err
	}

	idx := s.incAndGetIndex()
	res, err := s.db.Delete(key, cond, idx)
	if err != nil {
		return store.NewUnavailableError("delete "+key, err)
	}
	if res.Applied {
		return nil
	}
	if cond.Kind == db.CondAlways && (res.Current == 0 || res.Current > idx) {
		return nil
	}
	return store.NewConflictError("delete "+key, store.ExpectedVersion(cond), store.Version(res.Current))
}

func (s *storeImpl) Find(ctx context.Context, q store.Query, _ store.QueryOptions) (store.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return store.QueryResult{}, err
	}
	feature := db.FeatureFind
	if len(q.Ranks) > 0 {
		feature |= db.FeatureRangeFind
	}
	if err := s.requireFeature(feature); err != nil {
		return store.QueryResult{}, err
	}

	entries, err := s.db.Find(q)
	if err != nil {
		return store.QueryResult{}, store.NewUnavailableError("find in "+q.Collection, err)
	}
	records := make([]store.Record, len(entries))
	for i, e := range entries {
		records[i] = toRecord(e)
	}
	// the local database is always up-to-date
	return store.QueryResult{Records: records}, nil
}

func (s *storeImpl) DeleteCollection(ctx context.Context, collection string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.requireFeature(db.FeatureDeleteCollection); err != nil {
		return 0, err
	}
	deleted, err := s.db.DeleteCollection(collection, s.incAndGetIndex())
	if err != nil {
		return 0, store.NewUnavailableError("delete collection "+collection, err)
	}
	return deleted, nil
}

func (s *storeImpl) GetDBInfo(ctx context.Context) (db.DatabaseInfo, error) {
	if err := ctx.Err(); err != nil {
		return db.DatabaseInfo{}, err
	}
	return s.db.GetInfo(), nil
}

func (s *storeImpl) Close() error {
	return s.db.Close()
}
