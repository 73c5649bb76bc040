package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/btdebug/internal/apperr"
	"github.com/roach88/btdebug/internal/event"
)

// EventColumns is the column list every event SELECT must project, in the
// order scanEvent expects. Compiled queries alias the events table as e.
const EventColumns = `e.event_id, e.run_id, e.timestamp, e.event_type, e.severity, e.category, e.properties, e.parent_event_id, e.validation_errors`

// EventOrder is the canonical result order: timestamp, then insertion.
const EventOrder = `e.timestamp ASC, e.seq ASC`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEvent scans one row projected with EventColumns.
func scanEvent(row rowScanner) (event.Event, error) {
	var (
		e      event.Event
		ts     int64
		typ    string
		sev    string
		cat    string
		props  string
		parent sql.NullString
		verrs  sql.NullString
	)
	if err := row.Scan(&e.ID, &e.RunID, &ts, &typ, &sev, &cat, &props, &parent, &verrs); err != nil {
		return event.Event{}, err
	}
	e.Timestamp = fromNanos(ts)
	e.Type = event.Type(typ)
	e.Severity = event.Severity(sev)
	e.Category = event.Category(cat)
	e.Properties = []byte(props)
	e.ParentID = parent.String

	ve, err := unmarshalValidationErrors(verrs)
	if err != nil {
		return event.Event{}, fmt.Errorf("event %s: %w", e.ID, err)
	}
	e.ValidationErrors = ve
	return e, nil
}

// ReadEvent returns one event by id, or NotFound.
func (s *Store) ReadEvent(ctx context.Context, eventID string) (event.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+EventColumns+` FROM events e WHERE e.event_id = ?`, eventID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Event{}, apperr.NotFound("event %s not found", eventID)
	}
	if err != nil {
		return event.Event{}, fmt.Errorf("read event: %w", err)
	}
	return e, nil
}

// SelectEvents runs a query projecting EventColumns and returns all rows.
// Returns an empty slice (not nil) when nothing matches.
//
// The rows are fully drained and closed before returning, so callers may
// issue follow-up queries on the single connection.
func (s *Store) SelectEvents(ctx context.Context, query string, args ...any) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	defer rows.Close()

	events := []event.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("select events: scan: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select events: iterate: %w", err)
	}
	return events, nil
}

// EachEvent streams events from query to fn in result order.
//
// fn must not call back into the store: the only connection is busy until
// the rows are closed. Returning a non-nil error from fn stops iteration
// and is returned as-is.
func (s *Store) EachEvent(ctx context.Context, fn func(event.Event) error, query string, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("each event: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return fmt.Errorf("each event: scan: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("each event: iterate: %w", err)
	}
	return nil
}

// Count runs a query returning a single integer (typically COUNT(*)).
func (s *Store) Count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// CountEvents returns the number of events in a run.
func (s *Store) CountEvents(ctx context.Context, runID string) (int, error) {
	return s.Count(ctx, `SELECT COUNT(*) FROM events WHERE run_id = ?`, runID)
}

func scanRun(row rowScanner) (event.Run, error) {
	var (
		r         event.Run
		start     int64
		end       sql.NullInt64
		createdAt int64
	)
	if err := row.Scan(&r.ID, &start, &end, &r.StrategyConfigHash, &createdAt); err != nil {
		return event.Run{}, err
	}
	r.StartTime = fromNanos(start)
	if end.Valid {
		t := fromNanos(end.Int64)
		r.EndTime = &t
	}
	r.CreatedAt = fromNanos(createdAt)
	return r, nil
}

// GetRun returns one run by id, or NotFound.
func (s *Store) GetRun(ctx context.Context, runID string) (event.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, start_time, end_time, strategy_config_hash, created_at
		FROM backtest_runs
		WHERE id = ?
	`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Run{}, apperr.NotFound("run %s not found", runID)
	}
	if err != nil {
		return event.Run{}, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// RunSummary is a run with its event count, as listed by ListRuns.
type RunSummary struct {
	event.Run
	EventCount int `json:"event_count"`
}

// ListRuns returns every run ordered by start time (then id).
// Returns an empty slice (not nil) for an empty store.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.start_time, r.end_time, r.strategy_config_hash, r.created_at,
		       (SELECT COUNT(*) FROM events e WHERE e.run_id = r.id)
		FROM backtest_runs r
		ORDER BY r.start_time ASC, r.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var (
			rs        RunSummary
			start     int64
			end       sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&rs.ID, &start, &end, &rs.StrategyConfigHash, &createdAt, &rs.EventCount); err != nil {
			return nil, fmt.Errorf("list runs: scan: %w", err)
		}
		rs.StartTime = fromNanos(start)
		if end.Valid {
			t := fromNanos(end.Int64)
			rs.EndTime = &t
		}
		rs.CreatedAt = fromNanos(createdAt)
		runs = append(runs, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: iterate: %w", err)
	}
	return runs, nil
}

// RunExists reports whether a run record exists.
func (s *Store) RunExists(ctx context.Context, runID string) (bool, error) {
	n, err := s.Count(ctx, `SELECT COUNT(*) FROM backtest_runs WHERE id = ?`, runID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
