// Package sqlite provides a persistent implementation of the db.KVDB interface
// backed by a single sqlite file (pure Go driver modernc.org/sqlite).
//
// Documents are stored in one table keyed by their key, with the collection and
// rank as indexed columns. Attributes live in a second table so that attribute
// filters of db.Query translate into indexed EXISTS clauses. The highest write
// index is kept in a meta table and survives restarts.
//
// Ranks are stored with their sign bit flipped, so the signed sqlite integer
// order matches the unsigned rank order.
//
// Every write runs in its own transaction on a single connection, which makes
// conditional writes atomic without further locking in the database.
//
// Usage:
//
//	database, err := sqlite.NewSQLiteDB(&sqlite.DBOptions{Path: "/var/lib/dpersist/data.db"})
//	if err != nil {
//		return err
//	}
//	defer database.Close()
package sqlite
