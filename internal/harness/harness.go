package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/btdebug/internal/dispatch"
	"github.com/roach88/btdebug/internal/event"
	"github.com/roach88/btdebug/internal/query"
	"github.com/roach88/btdebug/internal/store"
	"github.com/roach88/btdebug/internal/testutil"
)

// Run executes a scenario and returns its result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. Create the runs and append their events
//  2. Dispatch each request in order, recording the exchange
//  3. Check each response against its expect clause
//
// The returned error covers setup failures only; expectation failures are
// reported through Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	if err := seed(ctx, st, scenario.Runs); err != nil {
		return nil, fmt.Errorf("failed to seed runs: %w", err)
	}

	clock := testutil.NewFrozenClock(testutil.BaseTime)
	d := dispatch.New(dispatch.NewStaticBackend(st, query.WithClock(clock)))

	result := NewResult()
	for i, step := range scenario.Requests {
		req := dispatch.Request{ID: json.RawMessage(strconv.Itoa(i + 1)), Method: step.Call}
		if step.Params != nil {
			params, err := json.Marshal(step.Params)
			if err != nil {
				return nil, fmt.Errorf("requests[%d]: encode params: %w", i, err)
			}
			req.Params = params
		}
		line, err := marshalLine(req)
		if err != nil {
			return nil, fmt.Errorf("requests[%d]: encode request: %w", i, err)
		}

		resp := d.Handle(ctx, line)
		out, err := marshalLine(resp)
		if err != nil {
			return nil, fmt.Errorf("requests[%d]: encode response: %w", i, err)
		}
		result.Exchanges = append(result.Exchanges, Exchange{Request: line, Response: out})

		if step.Expect != nil {
			for _, msg := range checkExpect(step.Expect, resp, out) {
				result.AddError(fmt.Sprintf("requests[%d] %s: %s", i, step.Call, msg))
			}
		}
	}
	return result, nil
}

func seed(ctx context.Context, st *store.Store, runs []RunFixture) error {
	for _, fx := range runs {
		start, err := time.Parse(time.RFC3339Nano, fx.StartTime)
		if err != nil {
			return fmt.Errorf("run %s: %w", fx.ID, err)
		}
		hash := fx.StrategyConfigHash
		if hash == "" {
			hash = "scenario"
		}
		if err := st.CreateRun(ctx, event.Run{ID: fx.ID, StartTime: start, StrategyConfigHash: hash}); err != nil {
			return err
		}

		events := make([]event.Event, 0, len(fx.Events))
		for _, ef := range fx.Events {
			e, err := ef.build(fx.ID, start)
			if err != nil {
				return fmt.Errorf("run %s: event %s: %w", fx.ID, ef.ID, err)
			}
			events = append(events, e)
		}
		res, err := st.AppendEvents(ctx, events)
		if err != nil {
			return fmt.Errorf("run %s: %w", fx.ID, err)
		}
		if len(res.Duplicates) > 0 {
			return fmt.Errorf("run %s: duplicate event ids %v", fx.ID, res.Duplicates)
		}
	}
	return nil
}

func (ef EventFixture) build(runID string, start time.Time) (event.Event, error) {
	typ, err := event.ParseType(ef.Type)
	if err != nil {
		return event.Event{}, err
	}
	offset, err := time.ParseDuration(ef.At)
	if err != nil {
		return event.Event{}, err
	}
	sev := event.SeverityInfo
	if ef.Severity != "" {
		if sev, err = event.ParseSeverity(ef.Severity); err != nil {
			return event.Event{}, err
		}
	}
	cat := event.CategoryExecution
	if ef.Category != "" {
		if cat, err = event.ParseCategory(ef.Category); err != nil {
			return event.Event{}, err
		}
	}

	e := event.Event{
		ID:        ef.ID,
		RunID:     runID,
		Timestamp: start.Add(offset),
		Type:      typ,
		Severity:  sev,
		Category:  cat,
		ParentID:  ef.Parent,
	}
	if ef.Properties != nil {
		props, err := json.Marshal(ef.Properties)
		if err != nil {
			return event.Event{}, err
		}
		e.Properties = props
	}
	for _, w := range ef.ValidationErrors {
		ws, err := event.ParseSeverity(w.Severity)
		if err != nil {
			return event.Event{}, err
		}
		e.ValidationErrors = append(e.ValidationErrors, event.ValidationError{Field: w.Field, Error: w.Error, Severity: ws})
	}
	return e, nil
}

// marshalLine encodes v the way the dispatcher writes to stdout, without
// the trailing newline.
func marshalLine(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
