package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on changes(db, tbl, seq) for subscriber scans
const currentSchemaVersion = 1

// Database names.
const (
	DBAppl        = "APPL"
	DBConfig      = "CONFIG"
	DBState       = "STATE"
	DBCounters    = "COUNTERS"
	DBFlexCounter = "FLEX_COUNTER"
)

// ValidDB reports whether name is one of the database names.
func ValidDB(name string) bool {
	switch name {
	case DBAppl, DBConfig, DBState, DBCounters, DBFlexCounter:
		return true
	}
	return false
}

// Store provides durable table storage with a change log.
// Uses SQLite with WAL mode so producers in other processes can read and
// write concurrently.
type Store struct {
	db *sql.DB

	mu       sync.Mutex
	watchers map[tableID][]func()
}

type tableID struct{ db, table string }

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, watchers: make(map[tableID][]func())}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Table returns a handle on table in database db. Handles are cheap and
// carry no state.
func (s *Store) Table(db, table string) *Table {
	return &Table{s: s, db: db, name: table}
}

// LastSeq returns the seq of the most recent change, or 0.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM changes`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// TrimChanges deletes change log records with seq <= upTo.
func (s *Store) TrimChanges(ctx context.Context, upTo int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM changes WHERE seq <= ?`, upTo)
	if err != nil {
		return 0, fmt.Errorf("trim changes: %w", err)
	}
	return res.RowsAffected()
}

// watch registers fn to run after in-process writes to (db, table).
func (s *Store) watch(db, table string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := tableID{db, table}
	s.watchers[id] = append(s.watchers[id], fn)
}

// notify runs the watchers of (db, table) outside the lock.
func (s *Store) notify(db, table string) {
	s.mu.Lock()
	fns := append([]func(){}, s.watchers[tableID{db, table}]...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the subscriber scan index.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_changes_table
		ON changes(db, tbl, seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
