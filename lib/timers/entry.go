package timers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ValentinKolb/dPersist/lib/store"
)

// Entry is one registered timer
type Entry struct {
	ID        string // storage key, derived from owner key and timer name
	ServiceID string
	ClusterID string
	OwnerKey  string
	OwnerHash uint32 // ring position, only used for range partitioning
	TimerName string
	StartAt   time.Time
	Period    time.Duration // 0 for one-shot timers
	Version   store.Version
}

// NewEntry creates an entry positioned on the ring with OwnerHash.
// Scope and id are filled in by the registry.
func NewEntry(ownerKey, timerName string, startAt time.Time, period time.Duration) Entry {
	return Entry{
		OwnerKey:  ownerKey,
		OwnerHash: OwnerHash(ownerKey),
		TimerName: timerName,
		StartAt:   startAt,
		Period:    period,
	}
}

// NextDue returns the first firing time that is not before now:
// StartAt if it lies in the future, else the next StartAt + k*Period.
// One-shot timers whose StartAt has passed return StartAt.
func (e Entry) NextDue(now time.Time) time.Time {
	if !now.After(e.StartAt) || e.Period <= 0 {
		return e.StartAt
	}
	elapsed := now.Sub(e.StartAt)
	periods := elapsed / e.Period
	if elapsed%e.Period != 0 {
		periods++
	}
	return e.StartAt.Add(periods * e.Period)
}

// --------------------------------------------------------------------------
// Stored representation
// --------------------------------------------------------------------------

// row is the JSON payload of a timer document
type row struct {
	ServiceID string `json:"service_id"`
	ClusterID string `json:"cluster_id"`
	OwnerKey  string `json:"owner_key"`
	OwnerHash uint32 `json:"owner_hash"`
	TimerName string `json:"timer_name"`
	StartAt   string `json:"start_at"`
	Period    string `json:"period"`
}

func encodeRow(e Entry) ([]byte, error) {
	return json.Marshal(row{
		ServiceID: e.ServiceID,
		ClusterID: e.ClusterID,
		OwnerKey:  e.OwnerKey,
		OwnerHash: e.OwnerHash,
		TimerName: e.TimerName,
		StartAt:   e.StartAt.UTC().Format(time.RFC3339Nano),
		Period:    e.Period.String(),
	})
}

// CorruptRecordError describes a stored timer that could not be turned into an
// Entry. Such rows are skipped by queries, never returned.
type CorruptRecordError struct {
	Key    string
	Reason string
	Err    error
}

func (e *CorruptRecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt timer record %s: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt timer record %s: %s", e.Key, e.Reason)
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Err
}

// decodeRecord converts a stored record into an Entry of serviceID
func decodeRecord(rec store.Record, serviceID string) (Entry, *CorruptRecordError) {
	var r row
	if err := json.Unmarshal(rec.Doc.Value, &r); err != nil {
		return Entry{}, &CorruptRecordError{Key: rec.Key, Reason: "unparsable payload", Err: err}
	}
	if r.ServiceID != serviceID {
		return Entry{}, &CorruptRecordError{Key: rec.Key, Reason: fmt.Sprintf("belongs to service %q, not %q", r.ServiceID, serviceID)}
	}
	startAt, err := time.Parse(time.RFC3339Nano, r.StartAt)
	if err != nil {
		return Entry{}, &CorruptRecordError{Key: rec.Key, Reason: "invalid start time", Err: err}
	}
	period, err := time.ParseDuration(r.Period)
	if err != nil {
		return Entry{}, &CorruptRecordError{Key: rec.Key, Reason: "invalid period", Err: err}
	}
	if period < 0 {
		return Entry{}, &CorruptRecordError{Key: rec.Key, Reason: "negative period"}
	}

	return Entry{
		ID:        rec.Key,
		ServiceID: r.ServiceID,
		ClusterID: r.ClusterID,
		OwnerKey:  r.OwnerKey,
		OwnerHash: r.OwnerHash,
		TimerName: r.TimerName,
		StartAt:   startAt,
		Period:    period,
		Version:   rec.Version,
	}, nil
}
