// Package query implements the read side of the event log: filtered and
// paginated event reads, entity lookups, causal sequence queries,
// aggregation over a property, and validation error listings.
//
// Every operation returns its results together with a Metadata value
// computed fresh for the call.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/btdebug/internal/event"
	"github.com/roach88/btdebug/internal/queryir"
	"github.com/roach88/btdebug/internal/querysql"
	"github.com/roach88/btdebug/internal/store"
)

// Clock supplies wall-clock time for query_time_ms.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// Metadata describes one query result.
type Metadata struct {
	TotalCount    int   `json:"total_count"`
	ReturnedCount int   `json:"returned_count"`
	PageIndex     int   `json:"page_index"`
	PageSize      int   `json:"page_size"`
	HasMore       bool  `json:"has_more"`
	QueryTimeMs   int64 `json:"query_time_ms"`
	Truncated     bool  `json:"truncated"`
}

// EventsResult is a page of events.
type EventsResult struct {
	Events   []event.Event `json:"events"`
	Metadata Metadata      `json:"metadata"`
}

// Engine runs queries against one open store.
//
// Thread-safety: an Engine holds no mutable state; concurrent use is as
// safe as concurrent use of the underlying store.
type Engine struct {
	store    *store.Store
	compiler *querysql.SQLCompiler
	clock    Clock
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for query_time_ms.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// New creates an Engine over s.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		compiler: querysql.NewSQLCompiler(),
		clock:    SystemClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// elapsedMs returns whole milliseconds since start on the engine clock.
func (e *Engine) elapsedMs(start time.Time) int64 {
	return e.clock.Now().Sub(start).Milliseconds()
}

// QueryEvents returns a page of a run's events matching every supplied
// filter, ordered by timestamp.
func (e *Engine) QueryEvents(ctx context.Context, req queryir.EventsRequest) (EventsResult, error) {
	start := e.clock.Now()
	filter, err := req.Filter()
	if err != nil {
		return EventsResult{}, err
	}
	page, capped := req.Page()
	return e.pagedEvents(ctx, start, filter, page, capped)
}

// QueryByEntity returns a page of events whose properties carry the given
// entity value (case-sensitive exact match).
func (e *Engine) QueryByEntity(ctx context.Context, req queryir.EntityRequest) (EventsResult, error) {
	start := e.clock.Now()
	filter, err := req.Filter()
	if err != nil {
		return EventsResult{}, err
	}
	page, capped := req.Page()
	return e.pagedEvents(ctx, start, filter, page, capped)
}

// QueryValidationErrors returns a page of events that carry validation
// errors, optionally only those with an entry of the given severity.
func (e *Engine) QueryValidationErrors(ctx context.Context, req queryir.ValidationErrorsRequest) (EventsResult, error) {
	start := e.clock.Now()
	filter, err := req.Filter()
	if err != nil {
		return EventsResult{}, err
	}
	page, capped := req.Page()
	return e.pagedEvents(ctx, start, filter, page, capped)
}

// pagedEvents counts the filter's matches and selects one page.
func (e *Engine) pagedEvents(ctx context.Context, start time.Time, filter queryir.Predicate, page queryir.Page, capped bool) (EventsResult, error) {
	total, err := e.count(ctx, filter)
	if err != nil {
		return EventsResult{}, err
	}

	events := []event.Event{}
	if page.Size > 0 && page.Offset() < total {
		events, err = e.selectEvents(ctx, queryir.Select{Filter: filter, Limit: page.Limit()})
		if err != nil {
			return EventsResult{}, err
		}
	}

	return EventsResult{
		Events: events,
		Metadata: Metadata{
			TotalCount:    total,
			ReturnedCount: len(events),
			PageIndex:     page.Index,
			PageSize:      page.Size,
			HasMore:       page.HasMore(total),
			QueryTimeMs:   e.elapsedMs(start),
			Truncated:     capped,
		},
	}, nil
}

func (e *Engine) count(ctx context.Context, filter queryir.Predicate) (int, error) {
	sql, params, err := e.compiler.Compile(queryir.Count{Filter: filter})
	if err != nil {
		return 0, err
	}
	n, err := e.store.Count(ctx, sql, params...)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (e *Engine) selectEvents(ctx context.Context, q queryir.Select) ([]event.Event, error) {
	sql, params, err := e.compiler.Compile(q)
	if err != nil {
		return nil, err
	}
	events, err := e.store.SelectEvents(ctx, sql, params...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return events, nil
}
