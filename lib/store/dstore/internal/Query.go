package internal

import "github.com/ValentinKolb/dPersist/lib/db"

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTGet       QueryType = iota // Retrieve an entry by key.
	QueryTFind                       // Retrieve all entries matching a db.Query.
	QueryTGetDBInfo                  // Retrieve metadata about the database underlying the machine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTGet:
		return "Get"
	case QueryTFind:
		return "Find"
	case QueryTGetDBInfo:
		return "GetDBInfo"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or StaleRead
type Query struct {
	Type  QueryType // The type of Query to perform.
	Key   string    // The key for QueryTGet.
	Match db.Query  // The filter for QueryTFind.
}

// GetResult is the result of a QueryTGet operation.
// QueryTFind returns []db.Entry and QueryTGetDBInfo returns db.DatabaseInfo.
type GetResult struct {
	Ok    bool
	Entry db.Entry
}
