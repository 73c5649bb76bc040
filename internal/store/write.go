package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/btdebug/internal/apperr"
	"github.com/roach88/btdebug/internal/event"
)

const insertEventSQL = `
	INSERT INTO events
	(event_id, run_id, timestamp, event_type, severity, category, properties, parent_event_id, validation_errors)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(event_id) DO NOTHING
`

const insertEntitySQL = `
	INSERT INTO event_entities
	(run_id, entity_type, entity_value, timestamp, seq, event_id)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT DO NOTHING
`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateRun inserts a run record.
// Returns a DuplicateKey error if a run with the same id already exists.
func (s *Store) CreateRun(ctx context.Context, run event.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = run.StartTime
	}

	// ON CONFLICT DO NOTHING plus RowsAffected detects duplicates the same
	// way under both drivers, without parsing driver-specific errors.
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs
		(id, start_time, end_time, strategy_config_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		toNanos(run.StartTime),
		nullNanos(run.EndTime),
		run.StrategyConfigHash,
		toNanos(createdAt),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create run: rows affected: %w", err)
	}
	if n == 0 {
		return apperr.New(apperr.CodeDuplicateKey, "run %s already exists", run.ID)
	}
	return nil
}

// AppendEvent inserts one event and its entity index rows in a single
// transaction. Returns a DuplicateKey error if event_id already exists.
//
// Each call commits independently. Producers with high event rates should
// use AppendEvents (or the recorder package) to amortize commits.
func (s *Store) AppendEvent(ctx context.Context, e event.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append event: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	inserted, err := appendEvent(ctx, tx, e)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if !inserted {
		return apperr.New(apperr.CodeDuplicateKey, "event %s already exists", e.ID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append event: commit: %w", err)
	}
	return nil
}

// AppendResult reports the outcome of a batch append.
type AppendResult struct {
	Inserted   int
	Duplicates []string
}

// AppendEvents inserts a batch in one transaction.
//
// All events are validated before anything is written; one invalid event
// fails the whole batch. Events whose id already exists (in the store or
// earlier in the same batch) are skipped and listed in Duplicates rather
// than failing the batch.
func (s *Store) AppendEvents(ctx context.Context, events []event.Event) (AppendResult, error) {
	res := AppendResult{Duplicates: []string{}}
	if len(events) == 0 {
		return res, nil
	}
	for i := range events {
		if err := events[i].Validate(); err != nil {
			return res, fmt.Errorf("append events: index %d: %w", i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("append events: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, e := range events {
		inserted, err := appendEvent(ctx, tx, e)
		if err != nil {
			return AppendResult{Duplicates: []string{}}, fmt.Errorf("append events: %w", err)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Duplicates = append(res.Duplicates, e.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return AppendResult{Duplicates: []string{}}, fmt.Errorf("append events: commit: %w", err)
	}
	return res, nil
}

// appendEvent writes the event row and, when it was new, its entity rows.
func appendEvent(ctx context.Context, tx *sql.Tx, e event.Event) (bool, error) {
	props, err := marshalProperties(e.Properties)
	if err != nil {
		return false, err
	}
	verrs, err := marshalValidationErrors(e.ValidationErrors)
	if err != nil {
		return false, err
	}
	ts := toNanos(e.Timestamp)

	result, err := tx.ExecContext(ctx, insertEventSQL,
		e.ID,
		e.RunID,
		ts,
		string(e.Type),
		string(e.Severity),
		string(e.Category),
		props,
		nullString(e.ParentID),
		verrs,
	)
	if err != nil {
		return false, fmt.Errorf("insert event %s: %w", e.ID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("last insert id: %w", err)
	}

	if err := insertEntities(ctx, tx, e, ts, seq, []byte(props)); err != nil {
		return false, err
	}
	return true, nil
}

func insertEntities(ctx context.Context, ex execer, e event.Event, ts, seq int64, props []byte) error {
	for _, ent := range event.ExtractEntities(e.Type, props) {
		if _, err := ex.ExecContext(ctx, insertEntitySQL,
			e.RunID, string(ent.Type), ent.Value, ts, seq, e.ID,
		); err != nil {
			return fmt.Errorf("insert entity %s=%s: %w", ent.Type, ent.Value, err)
		}
	}
	return nil
}

// DeleteRun removes a run and all of its events. This is the only delete
// the store supports. Returns NotFound if the run does not exist and has
// no events.
func (s *Store) DeleteRun(ctx context.Context, runID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("delete run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_entities WHERE run_id = ?`, runID); err != nil {
		return 0, fmt.Errorf("delete run: entities: %w", err)
	}
	evRes, err := tx.ExecContext(ctx, `DELETE FROM events WHERE run_id = ?`, runID)
	if err != nil {
		return 0, fmt.Errorf("delete run: events: %w", err)
	}
	runRes, err := tx.ExecContext(ctx, `DELETE FROM backtest_runs WHERE id = ?`, runID)
	if err != nil {
		return 0, fmt.Errorf("delete run: run: %w", err)
	}

	deleted, err := evRes.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete run: rows affected: %w", err)
	}
	runs, err := runRes.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete run: rows affected: %w", err)
	}
	if runs == 0 && deleted == 0 {
		return 0, apperr.NotFound("run %s not found", runID)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete run: commit: %w", err)
	}
	return deleted, nil
}
