package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/btdebug/internal/event"
)

var baseTime = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun inserts a run starting at baseTime.
func createTestRun(t *testing.T, s *Store, id string) event.Run {
	t.Helper()
	run := event.Run{ID: id, StartTime: baseTime, StrategyConfigHash: "hash-" + id}
	if err := s.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun() failed: %v", err)
	}
	return run
}

// createTestEvent builds an event offset seconds after baseTime.
func createTestEvent(id, runID string, offset int, typ event.Type, props map[string]any) event.Event {
	e := event.Event{
		ID:        id,
		RunID:     runID,
		Timestamp: baseTime.Add(time.Duration(offset) * time.Second),
		Type:      typ,
		Severity:  event.SeverityInfo,
		Category:  event.CategoryExecution,
	}
	if props != nil {
		e.Properties = event.Props(props)
	}
	return e
}
