package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/roach88/btdebug/internal/event"
	"github.com/roach88/btdebug/internal/store"
)

// BaseTime is the default run start used by builders.
var BaseTime = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

// SequenceIDGenerator generates event IDs "<prefix>-0001", "<prefix>-0002", ...
//
// This enables deterministic test execution and golden snapshot comparison.
// The same scenario with the same generator produces byte-identical logs.
//
// Thread-safety: safe for concurrent use.
type SequenceIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceIDGenerator creates a generator. An empty prefix means "ev".
func NewSequenceIDGenerator(prefix string) *SequenceIDGenerator {
	if prefix == "" {
		prefix = "ev"
	}
	return &SequenceIDGenerator{prefix: prefix}
}

// Generate implements event.IDGenerator.
func (g *SequenceIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// EventBuilder builds events fluently for tests.
type EventBuilder struct {
	e event.Event
}

// NewEvent starts an Info/Execution event of type t at BaseTime.
func NewEvent(runID, id string, t event.Type) *EventBuilder {
	return &EventBuilder{e: event.Event{
		ID:        id,
		RunID:     runID,
		Timestamp: BaseTime,
		Type:      t,
		Severity:  event.SeverityInfo,
		Category:  event.CategoryExecution,
	}}
}

// At sets the timestamp.
func (b *EventBuilder) At(ts time.Time) *EventBuilder {
	b.e.Timestamp = ts
	return b
}

// After sets the timestamp to BaseTime plus d.
func (b *EventBuilder) After(d time.Duration) *EventBuilder {
	b.e.Timestamp = BaseTime.Add(d)
	return b
}

// Severity sets the severity.
func (b *EventBuilder) Severity(s event.Severity) *EventBuilder {
	b.e.Severity = s
	return b
}

// Category sets the category.
func (b *EventBuilder) Category(c event.Category) *EventBuilder {
	b.e.Category = c
	return b
}

// Props sets the properties document.
func (b *EventBuilder) Props(m map[string]any) *EventBuilder {
	b.e.Properties = event.Props(m)
	return b
}

// Parent sets parent_event_id.
func (b *EventBuilder) Parent(id string) *EventBuilder {
	b.e.ParentID = id
	return b
}

// Warn appends a validation error.
func (b *EventBuilder) Warn(field, msg string, sev event.Severity) *EventBuilder {
	b.e.ValidationErrors = append(b.e.ValidationErrors, event.ValidationError{
		Field: field, Error: msg, Severity: sev,
	})
	return b
}

// Build returns the event.
func (b *EventBuilder) Build() event.Event {
	return b.e
}

// Position builds a PositionUpdate.
func Position(runID, id string, at time.Duration, security string, qty, avgPrice float64) event.Event {
	return NewEvent(runID, id, event.TypePositionUpdate).
		After(at).
		Category(event.CategoryPortfolio).
		Props(map[string]any{"security": security, "quantity": qty, "avg_price": avgPrice}).
		Build()
}

// Indicator builds an IndicatorCalculation.
func Indicator(runID, id string, at time.Duration, name, security string, value float64) event.Event {
	props := map[string]any{"indicator_name": name, "value": value}
	if security != "" {
		props["security"] = security
	}
	return NewEvent(runID, id, event.TypeIndicatorCalculation).
		After(at).
		Category(event.CategoryIndicators).
		Props(props).
		Build()
}

// Order builds an OrderPlacement.
func Order(runID, id string, at time.Duration, orderID, security, side string, qty, price float64) event.Event {
	return NewEvent(runID, id, event.TypeOrderPlacement).
		After(at).
		Props(map[string]any{
			"order_id": orderID, "security": security, "side": side,
			"quantity": qty, "price": price,
		}).
		Build()
}

// Trade builds a TradeExecution filling orderID.
func Trade(runID, id string, at time.Duration, orderID, security string, qty, price float64) event.Event {
	return NewEvent(runID, id, event.TypeTradeExecution).
		After(at).
		Props(map[string]any{
			"order_id": orderID, "trade_id": "t-" + id, "security": security,
			"quantity": qty, "price": price,
		}).
		Build()
}

// PnL builds a PnL StateChange.
func PnL(runID, id string, at time.Duration, before, after event.PnLValues) event.Event {
	return NewEvent(runID, id, event.TypeStateChange).
		After(at).
		Category(event.CategoryPerformance).
		Props(map[string]any{"state_type": event.StateTypePnL, "before": before, "after": after}).
		Build()
}

// OpenStore opens a fresh store in a temp dir, closed on cleanup.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Seed creates run runID starting at BaseTime and appends events.
func Seed(t testing.TB, s *store.Store, runID string, events ...event.Event) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateRun(ctx, event.Run{ID: runID, StartTime: BaseTime, StrategyConfigHash: "test"}); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if len(events) == 0 {
		return
	}
	res, err := s.AppendEvents(ctx, events)
	if err != nil {
		t.Fatalf("append events: %v", err)
	}
	if len(res.Duplicates) > 0 {
		t.Fatalf("append events: duplicates %v", res.Duplicates)
	}
}
