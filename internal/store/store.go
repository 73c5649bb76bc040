package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/roach88/btdebug/internal/apperr"
	"github.com/roach88/btdebug/internal/event"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - file created by a build that predates user_version
// 1 - events, backtest_runs, event_entities
const currentSchemaVersion = event.SchemaVersion

// Store provides durable storage for one backtest event log.
type Store struct {
	db     *sql.DB
	path   string
	driver string
}

// Option configures Open.
type Option func(*options)

type options struct {
	driver      string
	busyTimeout int
}

// WithDriver selects the SQLite driver ("sqlite3" or "sqlite").
func WithDriver(name string) Option {
	return func(o *options) {
		if name != "" {
			o.driver = name
		}
	}
}

// WithBusyTimeout overrides the lock wait in milliseconds.
func WithBusyTimeout(ms int) Option {
	return func(o *options) {
		if ms > 0 {
			o.busyTimeout = ms
		}
	}
}

// Open creates or opens the SQLite database at path and applies the schema.
// The parent directory must exist.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - busy timeout for lock contention (default 5s)
//   - a single pooled connection
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{driver: DefaultDriver, busyTimeout: 5000}
	for _, opt := range opts {
		opt(&o)
	}
	if !ValidDriver(o.driver) {
		return nil, apperr.InvalidArgument("unknown sqlite driver %q", o.driver)
	}

	db, err := sql.Open(o.driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite allows a single writer, and closing the pool
	// must release the file handle so the producer can replace the file.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := applyPragmas(db, o.busyTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, path: path, driver: o.driver}, nil
}

// OpenExisting opens path only if the file already exists.
// Returns a NotFound error otherwise, without creating anything. Used by
// the server on reconnect so it never races the producer's recreate.
func OpenExisting(path string, opts ...Option) (*Store, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.Wrap(apperr.CodeNotFound, "database file does not exist", err)
	}
	if err != nil {
		return nil, fmt.Errorf("stat database: %w", err)
	}
	if info.IsDir() {
		return nil, apperr.InvalidArgument("database path %s is a directory", path)
	}
	return Open(path, opts...)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Driver returns the driver name the store was opened with.
func (s *Store) Driver() string {
	return s.driver
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Query executes a query and returns the resulting rows.
// Callers are responsible for closing the returned rows, and must not
// issue another query before doing so (the pool holds one connection).
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// QueryRow executes a query expected to return at most one row.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB, busyTimeout int) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout),
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

	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
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

// migrateToV1 backfills the entity index for logs written before
// event_entities existed. New databases have nothing to backfill.
func migrateToV1(db *sql.DB) error {
	rows, err := db.Query(`
		SELECT e.event_id, e.run_id, e.timestamp, e.seq, e.event_type, e.properties
		FROM events e
		WHERE NOT EXISTS (SELECT 1 FROM event_entities x WHERE x.event_id = e.event_id)
		ORDER BY e.seq ASC
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: scan events: %w", err)
	}

	type pending struct {
		id, runID, typ, props string
		ts, seq               int64
	}
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.runID, &p.ts, &p.seq, &p.typ, &p.props); err != nil {
			rows.Close()
			return fmt.Errorf("migrate to v1: scan: %w", err)
		}
		todo = append(todo, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("migrate to v1: iterate: %w", err)
	}
	rows.Close()

	for _, p := range todo {
		for _, ent := range event.ExtractEntities(event.Type(p.typ), []byte(p.props)) {
			if _, err := db.Exec(insertEntitySQL, p.runID, string(ent.Type), ent.Value, p.ts, p.seq, p.id); err != nil {
				return fmt.Errorf("migrate to v1: insert entity: %w", err)
			}
		}
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
