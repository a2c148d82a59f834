package state

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dPersist/lib/store"
)

// ErrInconsistentState matches every *InconsistentStateError
var ErrInconsistentState = errors.New("inconsistent state")

// InconsistentStateError reports an optimistic concurrency violation: the version
// the caller expected is not the version of the durable record. It is never
// retried automatically, the caller has to re-read the record.
type InconsistentStateError struct {
	Op         string // "Write" or "Clear"
	ServiceID  string
	EntityType string
	EntityID   string
	Key        string
	Expected   store.Version
	Actual     store.Version
	Err        error // the store conflict, if the store detected it
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("version conflict (%s): service=%s type=%s entity=%s key=%s: expected %s, actual %s",
		e.Op, e.ServiceID, e.EntityType, e.EntityID, e.Key, e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrInconsistentState) and errors.Is(err, store.ErrConflict) work
func (e *InconsistentStateError) Is(target error) bool {
	return target == ErrInconsistentState || target == store.ErrConflict
}

func (e *InconsistentStateError) Unwrap() error {
	return e.Err
}
