// Package state reconstructs portfolio state from the event log.
//
// A Snapshot folds every relevant event at or before a timestamp; a Delta
// compares the folded state at two timestamps. Neither is persisted: both
// are recomputed from the log on every call.
package state

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/roach88/btdebug/internal/apperr"
	"github.com/roach88/btdebug/internal/event"
	"github.com/roach88/btdebug/internal/queryir"
	"github.com/roach88/btdebug/internal/querysql"
	"github.com/roach88/btdebug/internal/store"
)

// Position is the last reported state of one security.
type Position struct {
	Security      string    `json:"security"`
	Quantity      float64   `json:"quantity"`
	AvgPrice      float64   `json:"avg_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Indicator is the last computed value of an indicator, keyed by name and
// (optionally) security.
type Indicator struct {
	Name      string    `json:"name"`
	Security  string    `json:"security,omitempty"`
	Value     float64   `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActiveOrder is a placed order with no execution yet.
type ActiveOrder struct {
	OrderID  string    `json:"order_id"`
	Security string    `json:"security"`
	Side     string    `json:"side"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	PlacedAt time.Time `json:"placed_at"`
}

// PnL is the run-level profit and loss.
type PnL struct {
	Realized   float64 `json:"realized"`
	Unrealized float64 `json:"unrealized"`
	Total      float64 `json:"total"`
}

// Snapshot is the reconstructed state at Timestamp.
type Snapshot struct {
	RunID        string        `json:"run_id"`
	Timestamp    time.Time     `json:"timestamp"`
	Positions    []Position    `json:"positions"`
	Indicators   []Indicator   `json:"indicators"`
	ActiveOrders []ActiveOrder `json:"active_orders"`
	PnL          PnL           `json:"pnl"`
}

// SnapshotRequest selects a snapshot.
type SnapshotRequest struct {
	RunID               string    `json:"run_id"`
	Timestamp           time.Time `json:"timestamp"`
	SecurityFilter      string    `json:"security_filter,omitempty"`
	IncludeIndicators   bool      `json:"include_indicators,omitempty"`
	IncludeActiveOrders bool      `json:"include_active_orders,omitempty"`
}

// Reconstructor folds events from one open store.
type Reconstructor struct {
	store    *store.Store
	compiler *querysql.SQLCompiler
}

// New creates a Reconstructor over s.
func New(s *store.Store) *Reconstructor {
	return &Reconstructor{store: s, compiler: querysql.NewSQLCompiler()}
}

// foldedTypes are the event types state reconstruction consumes.
var foldedTypes = []string{
	string(event.TypePositionUpdate),
	string(event.TypeIndicatorCalculation),
	string(event.TypeOrderPlacement),
	string(event.TypeTradeExecution),
	string(event.TypeStateChange),
}

// GetSnapshot reconstructs state as of req.Timestamp (inclusive).
//
// With no qualifying events every collection is empty and PnL is zero.
func (r *Reconstructor) GetSnapshot(ctx context.Context, req SnapshotRequest) (Snapshot, error) {
	if req.RunID == "" {
		return Snapshot{}, apperr.InvalidArgument("run_id is required")
	}
	if req.Timestamp.IsZero() {
		return Snapshot{}, apperr.InvalidArgument("timestamp is required")
	}

	f := newFolder(req.SecurityFilter)
	if err := r.each(ctx, req.RunID, req.Timestamp, f.apply); err != nil {
		return Snapshot{}, err
	}
	return f.snapshot(req.RunID, req.Timestamp, req.IncludeIndicators, req.IncludeActiveOrders), nil
}

// each streams the run's folded-type events up to and including until, in
// timestamp order.
func (r *Reconstructor) each(ctx context.Context, runID string, until time.Time, fn func(event.Event)) error {
	q := queryir.Select{Filter: queryir.AndOf(
		queryir.Equals{Column: queryir.ColRunID, Value: runID},
		queryir.In{Column: queryir.ColEventType, Values: foldedTypes},
		queryir.TimeRange{To: &until},
	)}
	sql, params, err := r.compiler.Compile(q)
	if err != nil {
		return err
	}
	return r.store.EachEvent(ctx, func(e event.Event) error {
		fn(e)
		return nil
	}, sql, params...)
}

func sortedPositions(m map[string]Position) []Position {
	out := make([]Position, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Position) int { return cmp.Compare(a.Security, b.Security) })
	return out
}

func sortedIndicators(m map[indicatorKey]Indicator) []Indicator {
	out := make([]Indicator, 0, len(m))
	for _, ind := range m {
		out = append(out, ind)
	}
	slices.SortFunc(out, func(a, b Indicator) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Security, b.Security))
	})
	return out
}

func sortOrders(orders []ActiveOrder) {
	slices.SortFunc(orders, func(a, b ActiveOrder) int {
		return cmp.Or(a.PlacedAt.Compare(b.PlacedAt), cmp.Compare(a.OrderID, b.OrderID))
	})
}
