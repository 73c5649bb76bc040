package state

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/btdebug/internal/apperr"
	"github.com/roach88/btdebug/internal/event"
)

// PositionChange describes how one security's position moved.
type PositionChange struct {
	Security       string  `json:"security"`
	QtyBefore      float64 `json:"qty_before"`
	QtyAfter       float64 `json:"qty_after"`
	QtyChange      float64 `json:"qty_change"`
	AvgPriceBefore float64 `json:"avg_price_before"`
	AvgPriceAfter  float64 `json:"avg_price_after"`
}

// IndicatorChange describes how one indicator moved. A nil side means the
// indicator had not been computed yet at that end of the window.
type IndicatorChange struct {
	Name        string   `json:"name"`
	Security    string   `json:"security,omitempty"`
	ValueBefore *float64 `json:"value_before"`
	ValueAfter  *float64 `json:"value_after"`
	Change      *float64 `json:"change"`
}

// PnLChange holds before/after/change for each PnL component.
type PnLChange struct {
	RealizedBefore   float64 `json:"realized_before"`
	RealizedAfter    float64 `json:"realized_after"`
	RealizedChange   float64 `json:"realized_change"`
	UnrealizedBefore float64 `json:"unrealized_before"`
	UnrealizedAfter  float64 `json:"unrealized_after"`
	UnrealizedChange float64 `json:"unrealized_change"`
	TotalBefore      float64 `json:"total_before"`
	TotalAfter       float64 `json:"total_after"`
	TotalChange      float64 `json:"total_change"`
}

// Delta is the difference between the state at StartTime and at EndTime.
// PnLChange is nil when PnL did not change in the window.
type Delta struct {
	RunID            string            `json:"run_id"`
	StartTime        time.Time         `json:"start_time"`
	EndTime          time.Time         `json:"end_time"`
	PositionChanges  []PositionChange  `json:"position_changes"`
	IndicatorChanges []IndicatorChange `json:"indicator_changes"`
	PnLChange        *PnLChange        `json:"pnl_change,omitempty"`
}

// DeltaRequest selects a delta window.
type DeltaRequest struct {
	RunID          string    `json:"run_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	SecurityFilter string    `json:"security_filter,omitempty"`
}

// GetDelta compares the state at req.StartTime with the state at
// req.EndTime. Only entries whose values differ are reported.
//
// The log is read once: the state is captured when folding first passes
// StartTime, then folding continues to EndTime.
func (r *Reconstructor) GetDelta(ctx context.Context, req DeltaRequest) (Delta, error) {
	if req.RunID == "" {
		return Delta{}, apperr.InvalidArgument("run_id is required")
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		return Delta{}, apperr.InvalidArgument("start_time and end_time are required")
	}
	if req.StartTime.After(req.EndTime) {
		return Delta{}, apperr.InvalidArgument("start_time %s is after end_time %s",
			req.StartTime.Format(time.RFC3339Nano), req.EndTime.Format(time.RFC3339Nano))
	}

	f := newFolder(req.SecurityFilter)
	var before *folder
	err := r.each(ctx, req.RunID, req.EndTime, func(e event.Event) {
		if before == nil && e.Timestamp.After(req.StartTime) {
			before = f.clone()
		}
		f.apply(e)
	})
	if err != nil {
		return Delta{}, err
	}
	if before == nil {
		before = f
	}

	return Delta{
		RunID:            req.RunID,
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		PositionChanges:  positionChanges(before.positions, f.positions),
		IndicatorChanges: indicatorChanges(before.indicators, f.indicators),
		PnLChange:        pnlChange(before.pnl, f.pnl),
	}, nil
}

func positionChanges(before, after map[string]Position) []PositionChange {
	out := []PositionChange{}
	for _, sec := range unionKeys(before, after) {
		b, a := before[sec], after[sec]
		if b.Quantity == a.Quantity && b.AvgPrice == a.AvgPrice {
			continue
		}
		out = append(out, PositionChange{
			Security:       sec,
			QtyBefore:      b.Quantity,
			QtyAfter:       a.Quantity,
			QtyChange:      diff(b.Quantity, a.Quantity),
			AvgPriceBefore: b.AvgPrice,
			AvgPriceAfter:  a.AvgPrice,
		})
	}
	return out
}

func indicatorChanges(before, after map[indicatorKey]Indicator) []IndicatorChange {
	out := []IndicatorChange{}
	for _, ind := range sortedIndicators(mergeIndicators(before, after)) {
		key := indicatorKey{ind.Name, ind.Security}
		b, hadBefore := before[key]
		a, hasAfter := after[key]
		if hadBefore == hasAfter && b.Value == a.Value {
			continue
		}
		c := IndicatorChange{Name: ind.Name, Security: ind.Security}
		if hadBefore {
			c.ValueBefore = &b.Value
		}
		if hasAfter {
			c.ValueAfter = &a.Value
		}
		if hadBefore && hasAfter {
			d := diff(b.Value, a.Value)
			c.Change = &d
		}
		out = append(out, c)
	}
	return out
}

func pnlChange(before, after *PnL) *PnLChange {
	var b, a PnL
	if before != nil {
		b = *before
	}
	if after != nil {
		a = *after
	}
	if b == a {
		return nil
	}
	return &PnLChange{
		RealizedBefore:   b.Realized,
		RealizedAfter:    a.Realized,
		RealizedChange:   diff(b.Realized, a.Realized),
		UnrealizedBefore: b.Unrealized,
		UnrealizedAfter:  a.Unrealized,
		UnrealizedChange: diff(b.Unrealized, a.Unrealized),
		TotalBefore:      b.Total,
		TotalAfter:       a.Total,
		TotalChange:      diff(b.Total, a.Total),
	}
}

// diff returns after-before in decimal arithmetic: diff(0.1, 0.3) == 0.2.
func diff(before, after float64) float64 {
	return decimal.NewFromFloat(after).Sub(decimal.NewFromFloat(before)).InexactFloat64()
}

func unionKeys(before, after map[string]Position) []string {
	merged := make(map[string]Position, len(before)+len(after))
	for k, v := range before {
		merged[k] = v
	}
	for k, v := range after {
		merged[k] = v
	}
	positions := sortedPositions(merged)
	keys := make([]string, len(positions))
	for i, p := range positions {
		keys[i] = p.Security
	}
	return keys
}

func mergeIndicators(before, after map[indicatorKey]Indicator) map[indicatorKey]Indicator {
	merged := make(map[indicatorKey]Indicator, len(before)+len(after))
	for k, v := range before {
		merged[k] = v
	}
	for k, v := range after {
		merged[k] = v
	}
	return merged
}
