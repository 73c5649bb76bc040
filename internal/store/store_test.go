package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/roach88/btdebug/internal/apperr"
	"github.com/roach88/btdebug/internal/event"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
	if s.Driver() != DefaultDriver {
		t.Errorf("Driver() = %q, want %q", s.Driver(), DefaultDriver)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"backtest_runs", "events", "event_entities"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	_, err := Open(path, WithDriver("postgres"))
	if !apperr.Is(err, apperr.CodeInvalidArgument) {
		t.Errorf("Open(postgres) error = %v, want InvalidArgument", err)
	}
}

func TestOpen_BothDrivers(t *testing.T) {
	for _, driver := range []string{DriverMattn, DriverModernc} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "test.db")
			s, err := Open(path, WithDriver(driver))
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			defer s.Close()

			if err := s.verifyPragma("journal_mode", "wal"); err != nil {
				t.Error(err)
			}

			createTestRun(t, s, "run-1")
			e := createTestEvent("ev-1", "run-1", 0, event.TypeTradeExecution, map[string]any{"order_id": "o-1"})
			if err := s.AppendEvent(ctx, e); err != nil {
				t.Fatalf("AppendEvent() failed: %v", err)
			}
			err = s.AppendEvent(ctx, e)
			if !apperr.Is(err, apperr.CodeDuplicateKey) {
				t.Errorf("second AppendEvent() error = %v, want DuplicateKey", err)
			}

			got, err := s.ReadEvent(ctx, "ev-1")
			if err != nil {
				t.Fatalf("ReadEvent() failed: %v", err)
			}
			if !got.Timestamp.Equal(e.Timestamp) {
				t.Errorf("timestamp = %v, want %v", got.Timestamp, e.Timestamp)
			}
		})
	}
}

func TestOpenExisting_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")

	_, err := OpenExisting(path)
	if !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("OpenExisting() error = %v, want NotFound", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("OpenExisting() must not create the file")
	}
}

func TestOpenExisting_Directory(t *testing.T) {
	_, err := OpenExisting(t.TempDir())
	if !apperr.Is(err, apperr.CodeInvalidArgument) {
		t.Errorf("OpenExisting(dir) error = %v, want InvalidArgument", err)
	}
}

func TestOpenExisting_ExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	createTestRun(t, s1, "run-1")
	s1.Close()

	s2, err := OpenExisting(path)
	if err != nil {
		t.Fatalf("OpenExisting() failed: %v", err)
	}
	defer s2.Close()

	if _, err := s2.GetRun(context.Background(), "run-1"); err != nil {
		t.Errorf("GetRun() after reopen failed: %v", err)
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestClose_ReleasesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	createTestRun(t, s, "run-1")
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			t.Errorf("remove %s after Close(): %v", p, err)
		}
	}
}

// Pragma tests

func TestPragma_Defaults(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name, want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		if err := s.verifyPragma(tt.name, tt.want); err != nil {
			t.Error(err)
		}
	}
}

func TestPragma_BusyTimeoutOption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithBusyTimeout(250))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if err := s.verifyPragma("busy_timeout", "250"); err != nil {
		t.Error(err)
	}
}

// Schema tests

func TestSchema_EventsTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "events")
	expected := []string{
		"seq", "event_id", "run_id", "timestamp", "event_type", "severity",
		"category", "properties", "parent_event_id", "validation_errors",
	}
	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("events table missing column %q", col)
		}
	}
}

func TestSchema_Indexes(t *testing.T) {
	s := createTestStore(t)

	for _, idx := range []string{
		"idx_events_run_ts",
		"idx_events_run_type_ts",
		"idx_events_parent",
		"idx_events_validation",
	} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx,
		).Scan(&name)
		if err != nil {
			t.Errorf("index %q not found: %v", idx, err)
		}
	}
}

func TestSchema_NewerVersionRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	s.Close()

	if _, err := Open(path); err == nil {
		t.Error("expected error opening a newer schema version")
	}
}

func TestMigration_BackfillsEntities(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO events (event_id, run_id, timestamp, event_type, severity, category, properties)
		VALUES ('ev-old', 'run-1', 1, 'OrderPlacement', 'Info', 'Execution', '{"order_id":"o-9","security":"AAPL"}')
	`)
	if err != nil {
		t.Fatalf("raw insert: %v", err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("reset user_version: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	n, err := s.Count(context.Background(),
		`SELECT COUNT(*) FROM event_entities WHERE event_id = 'ev-old'`)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("backfilled entity rows = %d, want 2", n)
	}
}

// Helper functions

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info: %v", err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func contains(slice []string, s string) bool {
	for _, item := range slice {
		if item == s {
			return true
		}
	}
	return false
}
