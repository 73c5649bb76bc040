package dispatch

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/roach88/btdebug/internal/apperr"
	"github.com/roach88/btdebug/internal/event"
	"github.com/roach88/btdebug/internal/queryir"
	"github.com/roach88/btdebug/internal/state"
)

type callFunc func(ctx context.Context, d *Dispatcher, s Session, params json.RawMessage) (any, error)

type method struct {
	session bool
	call    callFunc
}

// RunParams selects a run.
type RunParams struct {
	RunID string `json:"run_id"`
}

// PingResult answers ping.
type PingResult struct {
	Pong    bool   `json:"pong"`
	Version string `json:"version"`
}

func methodTable() map[string]method {
	return map[string]method{
		"ping": {call: func(context.Context, *Dispatcher, Session, json.RawMessage) (any, error) {
			return PingResult{Pong: true, Version: event.ToolVersion}, nil
		}},
		"server_status": {call: func(_ context.Context, d *Dispatcher, _ Session, _ json.RawMessage) (any, error) {
			return d.backend.Status(), nil
		}},
		"list_runs": {session: true, call: func(ctx context.Context, _ *Dispatcher, s Session, _ json.RawMessage) (any, error) {
			return s.Store.ListRuns(ctx)
		}},
		"get_run": {session: true, call: func(ctx context.Context, _ *Dispatcher, s Session, raw json.RawMessage) (any, error) {
			p, err := decodeParams[RunParams](raw)
			if err != nil {
				return nil, err
			}
			if p.RunID == "" {
				return nil, apperr.InvalidArgument("run_id is required")
			}
			return s.Store.GetRun(ctx, p.RunID)
		}},
		"query_events": sessionMethod(func(ctx context.Context, s Session, req queryir.EventsRequest) (any, error) {
			return s.Query.QueryEvents(ctx, req)
		}),
		"query_by_entity": sessionMethod(func(ctx context.Context, s Session, req queryir.EntityRequest) (any, error) {
			return s.Query.QueryByEntity(ctx, req)
		}),
		"query_sequences": sessionMethod(func(ctx context.Context, s Session, req queryir.SequencesRequest) (any, error) {
			return s.Query.QuerySequences(ctx, req)
		}),
		"aggregate_metrics": sessionMethod(func(ctx context.Context, s Session, req queryir.AggregateRequest) (any, error) {
			return s.Query.AggregateMetrics(ctx, req)
		}),
		"query_validation_errors": sessionMethod(func(ctx context.Context, s Session, req queryir.ValidationErrorsRequest) (any, error) {
			return s.Query.QueryValidationErrors(ctx, req)
		}),
		"get_snapshot": sessionMethod(func(ctx context.Context, s Session, req state.SnapshotRequest) (any, error) {
			return s.State.GetSnapshot(ctx, req)
		}),
		"get_delta": sessionMethod(func(ctx context.Context, s Session, req state.DeltaRequest) (any, error) {
			return s.State.GetDelta(ctx, req)
		}),
	}
}

// sessionMethod decodes params into P before calling fn with a session.
func sessionMethod[P any](fn func(context.Context, Session, P) (any, error)) method {
	return method{session: true, call: func(ctx context.Context, _ *Dispatcher, s Session, raw json.RawMessage) (any, error) {
		p, err := decodeParams[P](raw)
		if err != nil {
			return nil, err
		}
		return fn(ctx, s, p)
	}}
}

// decodeParams strictly decodes raw into P. Missing or null params decode
// to the zero value; unknown fields and trailing data are rejected.
func decodeParams[P any](raw json.RawMessage) (P, error) {
	var p P
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, apperr.Wrap(apperr.CodeInvalidArgument, "invalid params", err)
	}
	if dec.More() {
		return p, apperr.InvalidArgument("invalid params: trailing data after object")
	}
	return p, nil
}
