package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/db/engines/sqlite/migrations"
	"github.com/lni/dragonboat/v4/logger"
	_ "modernc.org/sqlite"
)

var log = logger.GetLogger("sqlite")

// --------------------------------------------------------------------------
// Core SQLite database structure
// --------------------------------------------------------------------------

// sqliteImpl implements a persistent document database on top of a single
// sqlite connection. Every write runs in its own transaction, so conditions
// are evaluated atomically with the mutation they guard.
type sqliteImpl struct {
	path      string
	sqlDB     *sql.DB
	mu        sync.Mutex    // serializes write transactions
	currIndex atomic.Uint64 // mirror of meta.write_idx
}

// DBOptions configures the sqliteImpl behavior during initialization
type DBOptions struct {
	Path string // database file, created if missing
}

// NewSQLiteDB opens (or creates) the database file and applies the schema.
//
// Thread-safety: This function is not thread-safe and should only be called once
// per database file.
func NewSQLiteDB(opts *DBOptions) (db.KVDB, error) {
	if opts == nil || strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("sqlite: database path is required")
	}

	cleanPath := filepath.Clean(opts.Path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one connection keeps every transaction serialized
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	impl := &sqliteImpl{path: cleanPath, sqlDB: sqlDB}

	var idx int64
	if err := sqlDB.QueryRow(`SELECT value FROM meta WHERE name = 'write_idx'`).Scan(&idx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("read write index: %w", err)
	}
	impl.currIndex.Store(uint64(idx))

	return impl, nil
}

// --------------------------------------------------------------------------
// Encoding helpers
// --------------------------------------------------------------------------

// sqlite integers are signed, flipping the sign bit keeps the order of uint64 ranks
func encodeRank(rank uint64) int64 { return int64(rank ^ (1 << 63)) }

func decodeRank(v int64) uint64 { return uint64(v) ^ (1 << 63) }

// versions are only compared for equality, a plain bit cast is enough
func encodeVersion(v uint64) int64 { return int64(v) }

func decodeVersion(v int64) uint64 { return uint64(v) }

// execer is implemented by *sql.DB and *sql.Tx
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertDocument(tx execer, key string, doc db.Document, version uint64) error {
	blob, err := doc.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO documents (key, collection, rank, version, doc) VALUES (?, ?, ?, ?, ?)`,
		key, doc.Collection, encodeRank(doc.Rank), encodeVersion(version), blob,
	); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM document_attrs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("clear attributes: %w", err)
	}
	for name, value := range doc.Attrs {
		if _, err := tx.Exec(`INSERT INTO document_attrs (key, name, value) VALUES (?, ?, ?)`, key, name, value); err != nil {
			return fmt.Errorf("insert attribute: %w", err)
		}
	}
	return nil
}

func deleteDocument(tx execer, key string) error {
	if _, err := tx.Exec(`DELETE FROM document_attrs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete attributes: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM documents WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// write runs fn in a transaction after loading the current version of key.
// Stale writes are rejected before fn is called. fn returns whether it changed the key.
func (s *sqliteImpl) write(key string, writeIndex uint64, fn func(tx *sql.Tx, current uint64, exists bool) (bool, error)) (db.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res db.WriteResult

	tx, err := s.sqlDB.Begin()
	if err != nil {
		return res, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw int64
	exists := true
	if err := tx.QueryRow(`SELECT version FROM documents WHERE key = ?`, key).Scan(&raw); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return res, fmt.Errorf("load version: %w", err)
		}
		exists = false
	}
	if exists {
		res.Current = decodeVersion(raw)
	}

	// stale writes are ignored
	if !(exists && writeIndex < res.Current) {
		applied, err := fn(tx, res.Current, exists)
		if err != nil {
			return db.WriteResult{}, err
		}
		res.Applied = applied
	}

	if err := s.advance(tx, writeIndex); err != nil {
		return db.WriteResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return db.WriteResult{}, fmt.Errorf("commit: %w", err)
	}
	s.raise(writeIndex)

	return res, nil
}

// advance raises meta.write_idx to writeIndex inside tx
func (s *sqliteImpl) advance(tx execer, writeIndex uint64) error {
	if _, err := tx.Exec(
		`UPDATE meta SET value = MAX(value, ?) WHERE name = 'write_idx'`, encodeVersion(writeIndex),
	); err != nil {
		return fmt.Errorf("update write index: %w", err)
	}
	return nil
}

// Put stores doc under key if cond holds for the current entry.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *sqliteImpl) Put(key string, doc db.Document, cond db.Condition, writeIndex uint64) (db.WriteResult, error) {
	res, err := s.write(key, writeIndex, func(tx *sql.Tx, current uint64, exists bool) (bool, error) {
		if !cond.Holds(current, exists) {
			return false, nil
		}
		return true, insertDocument(tx, key, doc, writeIndex)
	})
	if res.Applied {
		res.Version = writeIndex
	}
	return res, err
}

// Delete removes the entry under key if it exists and cond holds.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *sqliteImpl) Delete(key string, cond db.Condition, writeIndex uint64) (db.WriteResult, error) {
	return s.write(key, writeIndex, func(tx *sql.Tx, current uint64, exists bool) (bool, error) {
		if !exists || !cond.Holds(current, exists) {
			return false, nil
		}
		return true, deleteDocument(tx, key)
	})
}

// DeleteCollection removes every entry of collection that is not newer than writeIndex.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *sqliteImpl) DeleteCollection(collection string, writeIndex uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sqlDB.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	selector := `SELECT key FROM documents WHERE collection = ? AND version <= ?`
	if _, err := tx.Exec(
		`DELETE FROM document_attrs WHERE key IN (`+selector+`)`, collection, encodeVersion(writeIndex),
	); err != nil {
		return 0, fmt.Errorf("delete attributes: %w", err)
	}
	result, err := tx.Exec(
		`DELETE FROM documents WHERE collection = ? AND version <= ?`, collection, encodeVersion(writeIndex),
	)
	if err != nil {
		return 0, fmt.Errorf("delete documents: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := s.advance(tx, writeIndex); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	s.raise(writeIndex)

	return int(deleted), nil
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get retrieves the entry for a key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *sqliteImpl) Get(key string) (db.Entry, bool, error) {
	var (
		raw  int64
		blob []byte
	)
	err := s.sqlDB.QueryRow(`SELECT version, doc FROM documents WHERE key = ?`, key).Scan(&raw, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return db.Entry{}, false, nil
	}
	if err != nil {
		return db.Entry{}, false, fmt.Errorf("get %q: %w", key, err)
	}

	entry := db.Entry{Key: key, Version: decodeVersion(raw)}
	if err := entry.Doc.UnmarshalBinary(blob); err != nil {
		return db.Entry{}, false, fmt.Errorf("get %q: %w", key, err)
	}
	return entry, true, nil
}

// Find translates q into one SELECT over documents. Attribute filters become
// EXISTS clauses against document_attrs and rank ranges become BETWEEN clauses.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *sqliteImpl) Find(q db.Query) ([]db.Entry, error) {
	var (
		sb   strings.Builder
		args = []any{q.Collection}
	)
	sb.WriteString(`SELECT d.key, d.version, d.doc FROM documents d WHERE d.collection = ?`)

	for name, value := range q.Equals {
		sb.WriteString(` AND EXISTS (SELECT 1 FROM document_attrs a WHERE a.key = d.key AND a.name = ? AND a.value = ?)`)
		args = append(args, name, value)
	}

	if len(q.Ranks) > 0 {
		sb.WriteString(` AND (`)
		for i, r := range q.Ranks {
			if i > 0 {
				sb.WriteString(` OR `)
			}
			sb.WriteString(`d.rank BETWEEN ? AND ?`)
			args = append(args, encodeRank(r.Min), encodeRank(r.Max))
		}
		sb.WriteString(`)`)
	}

	sb.WriteString(` ORDER BY d.rank, d.key`)

	rows, err := s.sqlDB.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	defer rows.Close()

	var entries []db.Entry
	for rows.Next() {
		var (
			entry db.Entry
			raw   int64
			blob  []byte
		)
		if err := rows.Scan(&entry.Key, &raw, &blob); err != nil {
			return nil, fmt.Errorf("find: %w", err)
		}
		entry.Version = decodeVersion(raw)
		if err := entry.Doc.UnmarshalBinary(blob); err != nil {
			return nil, fmt.Errorf("find %q: %w", entry.Key, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	return entries, nil
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes all documents in the shared snapshot format
//
// Thread-safety: Save reads inside one transaction and sees a consistent state.
func (s *sqliteImpl) Save(w io.Writer) error {
	tx, err := s.sqlDB.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var idx int64
	if err := tx.QueryRow(`SELECT value FROM meta WHERE name = 'write_idx'`).Scan(&idx); err != nil {
		return fmt.Errorf("read write index: %w", err)
	}

	rows, err := tx.Query(`SELECT key, version, doc FROM documents ORDER BY key`)
	if err != nil {
		return fmt.Errorf("read documents: %w", err)
	}
	defer rows.Close()

	var entries []db.Entry
	for rows.Next() {
		var (
			entry db.Entry
			raw   int64
			blob  []byte
		)
		if err := rows.Scan(&entry.Key, &raw, &blob); err != nil {
			return err
		}
		entry.Version = decodeVersion(raw)
		if err := entry.Doc.UnmarshalBinary(blob); err != nil {
			return fmt.Errorf("decode %q: %w", entry.Key, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	return db.WriteSnapshot(w, decodeVersion(idx), entries)
}

// Load replaces all documents with the content of a snapshot in one transaction
//
// Thread-safety: This method is thread-safe, concurrent readers see either the old or the new state.
func (s *sqliteImpl) Load(r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sqlDB.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM document_attrs`,
		`DELETE FROM documents`,
		`UPDATE meta SET value = 0 WHERE name = 'write_idx'`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("clear database: %w", err)
		}
	}

	writeIdx, err := db.ReadSnapshot(r, func(e db.Entry) error {
		return insertDocument(tx, e.Key, e.Doc, e.Version)
	})
	if err != nil {
		return err
	}

	if err := s.advance(tx, writeIdx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.currIndex.Store(writeIdx)
	return nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (s *sqliteImpl) GetInfo() db.DatabaseInfo {
	var (
		entryCount int
		pageCount  int
		pageSize   int
		attrCount  int
	)
	if err := s.sqlDB.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&entryCount); err != nil {
		log.Warningf("count documents: %v", err)
	}
	if err := s.sqlDB.QueryRow(`SELECT COUNT(*) FROM document_attrs`).Scan(&attrCount); err != nil {
		log.Warningf("count attributes: %v", err)
	}
	if err := s.sqlDB.QueryRow(`PRAGMA page_count`).Scan(&pageCount); err != nil {
		log.Warningf("read page count: %v", err)
	}
	if err := s.sqlDB.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err != nil {
		log.Warningf("read page size: %v", err)
	}

	meta := &struct {
		CurrentWriteIndex uint64 `json:"current_write_index"`
		Path              string `json:"path"`
		AttributeRows     int    `json:"attribute_rows"`
		PageCount         int    `json:"page_count"`
		PageSize          int    `json:"page_size"`
	}{
		CurrentWriteIndex: s.currIndex.Load(),
		Path:              s.path,
		AttributeRows:     attrCount,
		PageCount:         pageCount,
		PageSize:          pageSize,
	}

	return db.DatabaseInfo{
		SizeBytes:  pageCount * pageSize,
		EntryCount: entryCount,
		DbType:     db.ImplSQLite,
		SupportedFeatures: []db.Feature{
			db.FeaturePut, db.FeatureConditionalPut,
			db.FeatureDelete, db.FeatureDeleteCollection,
			db.FeatureGet, db.FeatureFind, db.FeatureRangeFind,
			db.FeatureSave, db.FeatureLoad,
		},
		Metadata: meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (s *sqliteImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeaturePut |
		db.FeatureConditionalPut |
		db.FeatureDelete |
		db.FeatureDeleteCollection |
		db.FeatureGet |
		db.FeatureFind |
		db.FeatureRangeFind |
		db.FeatureSave |
		db.FeatureLoad
	return supportedFeatures&feature == feature
}

// Close releases the sqlite connection
func (s *sqliteImpl) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// --------------------------------------------------------------------------
// Index Management
// --------------------------------------------------------------------------

// raise moves the in-memory write index forward and reports whether it moved
func (s *sqliteImpl) raise(newIdx uint64) bool {
	for {
		currIdx := s.currIndex.Load()
		if newIdx <= currIdx {
			return false
		}
		if s.currIndex.CompareAndSwap(currIdx, newIdx) {
			return true
		}
	}
}

// SetWriteIdx raises the write index and persists it if it moved.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *sqliteImpl) SetWriteIdx(newIdx uint64) {
	if !s.raise(newIdx) {
		return
	}
	if err := s.advance(s.sqlDB, newIdx); err != nil {
		log.Warningf("persist write index %d: %v", newIdx, err)
	}
}

// WriteIdx returns the current index of the database
func (s *sqliteImpl) WriteIdx() uint64 {
	return s.currIndex.Load()
}
