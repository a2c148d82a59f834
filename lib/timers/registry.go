package timers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dPersist/lib/keys"
	"github.com/ValentinKolb/dPersist/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("timers")

// DefaultPrefix is the key prefix (and collection) of timer entries
const DefaultPrefix = "Timers"

// Attribute names stored with every timer document
const (
	AttrService = "service"
	AttrOwner   = "owner"
)

// Options configure a Registry
type Options struct {
	ServiceID string // scope of all entries, queries never cross it
	ClusterID string // recorded on every entry
	Prefix    string // key prefix, DefaultPrefix if empty
	// WaitForNonStale bounds how long queries wait for an up-to-date view before
	// they are answered from a possibly stale one. Zero never waits.
	WaitForNonStale time.Duration
}

// Registry keeps the timers of one service/cluster pair.
//
// Thread-safety: All methods can be called concurrently. Upsert is last writer
// wins, RemoveConditionally is the only conditional operation.
type Registry struct {
	sessions  store.IStore
	serviceID string
	clusterID string
	prefix    string
	wait      time.Duration
}

// NewRegistry creates a timer registry on top of a session provider
func NewRegistry(sessions store.IStore, opts Options) *Registry {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Registry{
		sessions:  sessions,
		serviceID: opts.ServiceID,
		clusterID: opts.ClusterID,
		prefix:    prefix,
		wait:      opts.WaitForNonStale,
	}
}

// ID returns the storage key of a timer: "{prefix}/{service}/{owner-name}".
// Registries of different services never share a key.
func (r *Registry) ID(ownerKey, timerName string) (string, error) {
	service, err := keys.Sanitize(r.serviceID)
	if err != nil {
		return "", err
	}
	return keys.TimerKey(r.prefix+"/"+service, ownerKey, timerName)
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// Upsert stores e unconditionally (last writer wins) and returns the new version.
// The registry sets ID, ServiceID and ClusterID of the stored entry.
func (r *Registry) Upsert(ctx context.Context, e Entry) (store.Version, error) {
	defer count("upsert")

	if e.Period < 0 {
		return store.NoVersion, fmt.Errorf("timer %s/%s: negative period %v", e.OwnerKey, e.TimerName, e.Period)
	}
	id, err := r.ID(e.OwnerKey, e.TimerName)
	if err != nil {
		return store.NoVersion, err
	}
	e.ID = id
	e.ServiceID = r.serviceID
	e.ClusterID = r.clusterID

	value, err := encodeRow(e)
	if err != nil {
		return store.NoVersion, fmt.Errorf("encode timer %s: %w", id, err)
	}
	doc := store.Document{
		Collection: r.prefix,
		Attrs:      map[string]string{AttrService: r.serviceID, AttrOwner: e.OwnerKey},
		Rank:       uint64(e.OwnerHash),
		Value:      value,
	}

	version, err := r.sessions.Store(ctx, id, doc, store.Always())
	if err != nil {
		return store.NoVersion, fmt.Errorf("upsert timer %s: %w", id, err)
	}
	return version, nil
}

// RemoveConditionally deletes the timer id only if its version is expected.
// It returns false, not an error, if the timer does not exist or has another version.
func (r *Registry) RemoveConditionally(ctx context.Context, id string, expected store.Version) (bool, error) {
	defer count("remove")

	err := r.sessions.Delete(ctx, id, store.IfVersion(expected))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrConflict):
		return false, nil
	default:
		return false, fmt.Errorf("remove timer %s: %w", id, err)
	}
}

// ClearAll deletes every entry of the registry's collection and returns how many were removed.
// It is meant for tests and reset tooling.
func (r *Registry) ClearAll(ctx context.Context) (int, error) {
	defer count("clear")

	deleted, err := r.sessions.DeleteCollection(ctx, r.prefix)
	if err != nil {
		return 0, fmt.Errorf("clear timers in %s: %w", r.prefix, err)
	}
	log.Infof("cleared %d timer entries in %s", deleted, r.prefix)
	return deleted, nil
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// Selector narrows a Query
type Selector struct {
	OwnerKey string     // only entries of this owner, empty for all owners
	Range    *HashRange // only entries in this ring segment, nil for the whole ring
	// WaitForNonStale overrides Options.WaitForNonStale for this query.
	// Zero keeps the registry default, a negative value never waits.
	WaitForNonStale time.Duration
}

// waitFor returns the non-stale wait of a query
func (r *Registry) waitFor(sel Selector) time.Duration {
	switch {
	case sel.WaitForNonStale < 0:
		return 0
	case sel.WaitForNonStale > 0:
		return sel.WaitForNonStale
	default:
		return r.wait
	}
}

// Result of a Query. Skipped lists the stored rows that could not be decoded
// or belong to another service.
type Result struct {
	Entries []Entry
	Skipped []*CorruptRecordError
	Stale   bool // the entries may not reflect the latest writes
}

// Query returns the entries of the registry's service matching sel ordered by
// owner hash. Corrupt rows are logged and skipped, they never fail the query.
func (r *Registry) Query(ctx context.Context, sel Selector) (Result, error) {
	q := store.Query{
		Collection: r.prefix,
		Equals:     map[string]string{AttrService: r.serviceID},
	}
	if sel.OwnerKey != "" {
		q.Equals[AttrOwner] = sel.OwnerKey
	}
	if sel.Range != nil {
		q.Ranks = sel.Range.RankRanges()
	}

	res, err := r.sessions.Find(ctx, q, store.QueryOptions{WaitForNonStale: r.waitFor(sel)})
	if err != nil {
		return Result{}, fmt.Errorf("query timers in %s: %w", r.prefix, err)
	}
	if res.Stale {
		staleQueries.Inc()
		log.Debugf("timer query in %s (owner=%q range=%v) was answered from a possibly stale view", r.prefix, sel.OwnerKey, sel.Range)
	}

	result := Result{Entries: make([]Entry, 0, len(res.Records)), Stale: res.Stale}
	for _, rec := range res.Records {
		e, corrupt := decodeRecord(rec, r.serviceID)
		if corrupt == nil && uint64(e.OwnerHash) != rec.Doc.Rank {
			corrupt = &CorruptRecordError{Key: rec.Key, Reason: fmt.Sprintf("owner hash %d does not match ring position %d", e.OwnerHash, rec.Doc.Rank)}
		}
		if corrupt != nil {
			skippedRecords.Inc()
			log.Warningf("skipping timer: %v", corrupt)
			result.Skipped = append(result.Skipped, corrupt)
			continue
		}
		result.Entries = append(result.Entries, e)
	}
	return result, nil
}

// FindByOwner returns all timers of one owner
func (r *Registry) FindByOwner(ctx context.Context, ownerKey string) ([]Entry, error) {
	defer count("find_owner")

	res, err := r.Query(ctx, Selector{OwnerKey: ownerKey})
	return res.Entries, err
}

// FindByRange returns all timers whose owner hash lies in (begin, end], see HashRange
func (r *Registry) FindByRange(ctx context.Context, begin, end uint32) ([]Entry, error) {
	defer count("find_range")

	res, err := r.Query(ctx, Selector{Range: &HashRange{Begin: begin, End: end}})
	return res.Entries, err
}

// FindByID returns the timer of an owner with the given name.
// A missing or corrupt timer is reported as absent.
func (r *Registry) FindByID(ctx context.Context, ownerKey, timerName string) (Entry, bool, error) {
	defer count("find_id")

	id, err := r.ID(ownerKey, timerName)
	if err != nil {
		return Entry{}, false, err
	}
	rec, loaded, err := r.sessions.Load(ctx, id)
	if err != nil {
		return Entry{}, false, fmt.Errorf("find timer %s: %w", id, err)
	}
	if !loaded {
		return Entry{}, false, nil
	}

	e, corrupt := decodeRecord(rec, r.serviceID)
	if corrupt != nil {
		skippedRecords.Inc()
		log.Warningf("ignoring timer: %v", corrupt)
		return Entry{}, false, nil
	}
	return e, true, nil
}
