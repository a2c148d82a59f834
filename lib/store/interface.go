package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dPersist/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() (db.KVDB, error)

// Version is an opaque token identifying one durable revision of a record.
// It changes on every successful write and is only ever compared for equality.
type Version uint64

// NoVersion is the version of a record that does not exist
const NoVersion Version = 0

func (v Version) String() string {
	if v == NoVersion {
		return "absent"
	}
	return fmt.Sprintf("v%d", uint64(v))
}

// Condition guards a write, see db.Always, db.IfAbsent and IfVersion
type Condition = db.Condition

// Always returns a condition that always holds
func Always() Condition { return db.Always() }

// IfAbsent returns a condition that only holds if no record exists
func IfAbsent() Condition { return db.IfAbsent() }

// IfVersion returns a condition that only holds if the record exists with version v
func IfVersion(v Version) Condition { return db.IfVersion(uint64(v)) }

// Document is the unit stored under a key
type Document = db.Document

// Query selects records of one collection
type Query = db.Query

// RankRange is an inclusive range over Document.Rank
type RankRange = db.RankRange

// Record is a stored document together with its key and version
type Record struct {
	Key     string
	Doc     Document
	Version Version
}

// QueryOptions control the visibility of Find results
type QueryOptions struct {
	// WaitForNonStale > 0 asks the store for an up-to-date view and bounds how long
	// it may wait for it. After the timeout the store answers from whatever view
	// it has and marks the result as stale. Zero allows a stale view right away.
	WaitForNonStale time.Duration
}

// QueryResult is returned by Find
type QueryResult struct {
	Records []Record
	Stale   bool // the records may not reflect the latest writes
}

// IStore is the session provider used by the state store and the timer registry.
// Every call is its own short-lived session. All coordination between callers
// happens through versions and conditional writes.
//
// Write operations fail with a *Error with code RetCConflict if their condition
// does not hold. Backend failures are reported with code RetCUnavailable.
type IStore interface {
	// Load returns the record for key. The boolean return value indicates whether a record was found.
	Load(ctx context.Context, key string) (rec Record, loaded bool, err error)
	// Store writes doc under key if cond holds and returns the new version.
	Store(ctx context.Context, key string, doc Document, cond Condition) (version Version, err error)
	// Delete removes the record under key if cond holds.
	// An unconditional delete of a missing key is a no-op.
	Delete(ctx context.Context, key string, cond Condition) (err error)
	// Find returns all records matching q ordered by (Rank, Key).
	Find(ctx context.Context, q Query, opts QueryOptions) (res QueryResult, err error)
	// DeleteCollection removes every record of a collection and returns how many were removed.
	DeleteCollection(ctx context.Context, collection string) (deleted int, err error)
	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo(ctx context.Context) (info db.DatabaseInfo, err error)
	// Close releases the resources of the store.
	Close() (err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

var (
	// ErrConflict matches every error with code RetCConflict
	ErrConflict = errors.New("version conflict")
	// ErrUnavailable matches every error with code RetCUnavailable
	ErrUnavailable = errors.New("storage unavailable")
)

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message. Conflicts also carry the expected and the actual version.
type Error struct {
	Code     RetCode // The return code
	Msg      string  // The error message.
	Expected Version // expected version (conflicts only)
	Actual   Version // version found in the store (conflicts only)
	Err      error   // underlying cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
	if e.Code == RetCConflict {
		msg += fmt.Sprintf(" (expected %s, actual %s)", e.Expected, e.Actual)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrConflict) and errors.Is(err, ErrUnavailable) work
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConflict:
		return e.Code == RetCConflict
	case ErrUnavailable:
		return e.Code == RetCUnavailable
	}
	return false
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// NewConflictError reports a failed write condition
func NewConflictError(msg string, expected, actual Version) *Error {
	return &Error{
		Code:     RetCConflict,
		Msg:      msg,
		Expected: expected,
		Actual:   actual,
	}
}

// NewUnavailableError wraps a backend failure
func NewUnavailableError(msg string, err error) *Error {
	return &Error{
		Code: RetCUnavailable,
		Msg:  msg,
		Err:  err,
	}
}

// ExpectedVersion returns the version a condition expects (NoVersion for IfAbsent and Always)
func ExpectedVersion(cond Condition) Version {
	if cond.Kind == db.CondIfVersion {
		return Version(cond.Version)
	}
	return NoVersion
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCConflict                            // 4: Condition of a write did not hold.
	RetCUnavailable                         // 5: Backend could not be reached or failed.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCConflict:
		return "Conflict"
	case RetCUnavailable:
		return "Unavailable"
	default:
		return "Unknown"
	}
}
