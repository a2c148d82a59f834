package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dPersist/lib/keys"
	"github.com/ValentinKolb/dPersist/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("state")

// DefaultPrefix is the key prefix (and collection) of state records
const DefaultPrefix = "State"

// Attribute names stored with every state record
const (
	AttrService = "service"
	AttrType    = "type"
)

// Record is the state of one entity as seen by the caller.
// Version is store.NoVersion and Exists is false until the first successful write.
type Record struct {
	Key        string
	EntityType string
	EntityID   string
	Payload    []byte
	Version    store.Version
	Exists     bool
}

// Reset turns r back into a record that was never written
func (r *Record) Reset(defaultPayload []byte) {
	r.Payload = defaultPayload
	r.Version = store.NoVersion
	r.Exists = false
}

// Hooks are called around persistence operations. Errors from OnSaving and
// OnDeleting abort the operation before anything is written. Errors from
// OnSaved and OnDeleted are logged, the change is already durable at that point.
type Hooks struct {
	OnSaving   func(ctx context.Context, rec Record) error
	OnSaved    func(ctx context.Context, rec Record) error
	OnDeleting func(ctx context.Context, rec Record) error
	OnDeleted  func(ctx context.Context, rec Record) error
}

// Options configure a Store
type Options struct {
	ServiceID string // leading key segment and scope of all records
	Prefix    string // key prefix, DefaultPrefix if empty
	Hooks     Hooks
}

// Store persists the state of single entities with optimistic concurrency.
// Every write names the version it expects and fails with an
// *InconsistentStateError if the durable record has another version.
//
// Thread-safety: All methods can be called concurrently. There is no locking
// inside Store, concurrent writers are arbitrated by the conditional writes
// of the underlying store.IStore.
type Store struct {
	sessions  store.IStore
	serviceID string
	prefix    string
	hooks     Hooks
}

// NewStore creates a state store on top of a session provider
func NewStore(sessions store.IStore, opts Options) *Store {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		sessions:  sessions,
		serviceID: opts.ServiceID,
		prefix:    prefix,
		hooks:     opts.Hooks,
	}
}

// Key returns the storage key of an entity
func (s *Store) Key(entityType, entityID string) (string, error) {
	return keys.StateKey(s.prefix, s.serviceID, entityID, entityType)
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// Read loads the state of an entity. If no record exists it returns a record
// with defaultPayload, store.NoVersion and Exists=false.
func (s *Store) Read(ctx context.Context, entityType, entityID string, defaultPayload []byte) (rec Record, err error) {
	defer func(start time.Time) { observe("read", start, err) }(time.Now())

	key, err := s.Key(entityType, entityID)
	if err != nil {
		return Record{}, err
	}

	rec = Record{Key: key, EntityType: entityType, EntityID: entityID}
	stored, loaded, err := s.sessions.Load(ctx, key)
	if err != nil {
		return Record{}, fmt.Errorf("read state %s: %w", key, err)
	}
	if !loaded {
		rec.Reset(defaultPayload)
		return rec, nil
	}

	rec.Payload = stored.Doc.Value
	rec.Version = stored.Version
	rec.Exists = true
	return rec, nil
}

// Write stores payload if the durable record has the expected version and returns
// the new version. With expected == store.NoVersion the record must not exist yet.
func (s *Store) Write(ctx context.Context, entityType, entityID string, payload []byte, expected store.Version) (version store.Version, err error) {
	defer func(start time.Time) { observe("write", start, err) }(time.Now())

	key, err := s.Key(entityType, entityID)
	if err != nil {
		return store.NoVersion, err
	}
	rec := Record{Key: key, EntityType: entityType, EntityID: entityID, Payload: payload, Version: expected, Exists: expected != store.NoVersion}

	cond := store.IfVersion(expected)
	if expected == store.NoVersion {
		// first write wins, an unknown prior state is never overwritten
		current, loaded, err := s.sessions.Load(ctx, key)
		if err != nil {
			return store.NoVersion, fmt.Errorf("write state %s: %w", key, err)
		}
		if loaded {
			return store.NoVersion, s.conflict("Write", rec, current.Version, nil)
		}
		cond = store.IfAbsent()
	}

	if s.hooks.OnSaving != nil {
		if err := s.hooks.OnSaving(ctx, rec); err != nil {
			return store.NoVersion, fmt.Errorf("OnSaving hook for %s: %w", key, err)
		}
	}

	doc := store.Document{
		Collection: s.prefix,
		Attrs:      map[string]string{AttrService: s.serviceID, AttrType: entityType},
		Value:      payload,
	}
	version, err = s.sessions.Store(ctx, key, doc, cond)
	if err != nil {
		return store.NoVersion, s.translate("Write", rec, err)
	}

	rec.Version = version
	rec.Exists = true
	if s.hooks.OnSaved != nil {
		if err := s.hooks.OnSaved(ctx, rec); err != nil {
			log.Warningf("OnSaved hook for %s failed: %v", key, err)
		}
	}
	return version, nil
}

// Clear deletes the record of an entity if it has the expected version. Clearing an
// entity without a record is a no-op. After a successful Clear the caller should
// Reset its in-memory record.
func (s *Store) Clear(ctx context.Context, entityType, entityID string, expected store.Version) (err error) {
	defer func(start time.Time) { observe("clear", start, err) }(time.Now())

	key, err := s.Key(entityType, entityID)
	if err != nil {
		return err
	}
	rec := Record{Key: key, EntityType: entityType, EntityID: entityID, Version: expected, Exists: true}

	current, loaded, err := s.sessions.Load(ctx, key)
	if err != nil {
		return fmt.Errorf("clear state %s: %w", key, err)
	}
	if !loaded {
		return nil
	}
	if current.Version != expected {
		return s.conflict("Clear", rec, current.Version, nil)
	}
	rec.Payload = current.Doc.Value

	if s.hooks.OnDeleting != nil {
		if err := s.hooks.OnDeleting(ctx, rec); err != nil {
			return fmt.Errorf("OnDeleting hook for %s: %w", key, err)
		}
	}

	if err := s.sessions.Delete(ctx, key, store.IfVersion(expected)); err != nil {
		return s.translate("Clear", rec, err)
	}

	if s.hooks.OnDeleted != nil {
		if err := s.hooks.OnDeleted(ctx, rec); err != nil {
			log.Warningf("OnDeleted hook for %s failed: %v", key, err)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func (s *Store) conflict(op string, rec Record, actual store.Version, cause error) *InconsistentStateError {
	return &InconsistentStateError{
		Op:         op,
		ServiceID:  s.serviceID,
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Key:        rec.Key,
		Expected:   rec.Version,
		Actual:     actual,
		Err:        cause,
	}
}

// translate turns store conflicts into *InconsistentStateError and wraps everything else
func (s *Store) translate(op string, rec Record, err error) error {
	var storeErr *store.Error
	if errors.As(err, &storeErr) && storeErr.Code == store.RetCConflict {
		return s.conflict(op, rec, storeErr.Actual, storeErr)
	}
	return fmt.Errorf("%s state %s: %w", strings.ToLower(op), rec.Key, err)
}

func isConflict(err error) bool {
	return errors.Is(err, ErrInconsistentState)
}
