package state

import (
	"log/slog"
	"time"

	"golang.org/x/text/cases"

	"github.com/roach88/btdebug/internal/event"
)

// securityMatcher compares security symbols under Unicode case folding.
// A zero matcher (empty filter) matches everything.
type securityMatcher struct {
	folded string
	caser  cases.Caser
}

func newSecurityMatcher(filter string) securityMatcher {
	m := securityMatcher{caser: cases.Fold()}
	if filter != "" {
		m.folded = m.caser.String(filter)
	}
	return m
}

func (m securityMatcher) active() bool { return m.folded != "" }

func (m securityMatcher) match(security string) bool {
	if m.folded == "" {
		return true
	}
	return m.caser.String(security) == m.folded
}

type indicatorKey struct {
	name     string
	security string
}

// folder accumulates state from events applied in (timestamp, seq) order.
// Because input is ordered, a plain overwrite is last-write-wins by
// timestamp.
type folder struct {
	securities securityMatcher

	positions  map[string]Position
	indicators map[indicatorKey]Indicator
	placed     map[string]ActiveOrder
	filled     map[string]bool
	pnl        *PnL
}

func newFolder(securityFilter string) *folder {
	return &folder{
		securities: newSecurityMatcher(securityFilter),
		positions:  map[string]Position{},
		indicators: map[indicatorKey]Indicator{},
		placed:     map[string]ActiveOrder{},
		filled:     map[string]bool{},
	}
}

func (f *folder) apply(e event.Event) {
	payload, err := event.DecodePayload(e)
	if err != nil {
		slog.Warn("skipping undecodable event", "event_id", e.ID, "error", err)
		return
	}

	switch p := payload.(type) {
	case event.PositionPayload:
		if p.Security == "" || !f.securities.match(p.Security) {
			return
		}
		f.positions[p.Security] = Position{
			Security:      p.Security,
			Quantity:      p.Quantity,
			AvgPrice:      p.AvgPrice,
			UnrealizedPnL: p.UnrealizedPnL,
			RealizedPnL:   p.RealizedPnL,
			UpdatedAt:     e.Timestamp,
		}
	case event.IndicatorPayload:
		if p.Name == "" {
			return
		}
		// Indicators without a security are global and survive the filter.
		if p.Security != "" && !f.securities.match(p.Security) {
			return
		}
		f.indicators[indicatorKey{p.Name, p.Security}] = Indicator{
			Name:      p.Name,
			Security:  p.Security,
			Value:     p.Value,
			UpdatedAt: e.Timestamp,
		}
	case event.OrderPayload:
		if p.OrderID == "" || !f.securities.match(p.Security) {
			return
		}
		if _, seen := f.placed[p.OrderID]; seen {
			return
		}
		f.placed[p.OrderID] = ActiveOrder{
			OrderID:  p.OrderID,
			Security: p.Security,
			Side:     p.Side,
			Quantity: p.Quantity,
			Price:    p.Price,
			PlacedAt: e.Timestamp,
		}
	case event.TradePayload:
		if p.OrderID != "" {
			f.filled[p.OrderID] = true
		}
	case event.StateChangePayload:
		if p.IsPnL() {
			pnl := PnL{Realized: p.After.Realized, Unrealized: p.After.Unrealized, Total: p.After.Total}
			f.pnl = &pnl
		}
	}
}

// clone copies the folded state so folding can continue independently.
func (f *folder) clone() *folder {
	c := &folder{
		securities: f.securities,
		positions:  make(map[string]Position, len(f.positions)),
		indicators: make(map[indicatorKey]Indicator, len(f.indicators)),
		placed:     make(map[string]ActiveOrder, len(f.placed)),
		filled:     make(map[string]bool, len(f.filled)),
	}
	for k, v := range f.positions {
		c.positions[k] = v
	}
	for k, v := range f.indicators {
		c.indicators[k] = v
	}
	for k, v := range f.placed {
		c.placed[k] = v
	}
	for k, v := range f.filled {
		c.filled[k] = v
	}
	if f.pnl != nil {
		pnl := *f.pnl
		c.pnl = &pnl
	}
	return c
}

func (f *folder) snapshot(runID string, at time.Time, indicators, orders bool) Snapshot {
	s := Snapshot{
		RunID:        runID,
		Timestamp:    at,
		Positions:    sortedPositions(f.positions),
		Indicators:   []Indicator{},
		ActiveOrders: []ActiveOrder{},
	}
	if indicators {
		s.Indicators = sortedIndicators(f.indicators)
	}
	if orders {
		s.ActiveOrders = f.activeOrders()
	}
	if f.pnl != nil {
		s.PnL = *f.pnl
	}
	return s
}

func (f *folder) activeOrders() []ActiveOrder {
	out := []ActiveOrder{}
	for id, o := range f.placed {
		if !f.filled[id] {
			out = append(out, o)
		}
	}
	sortOrders(out)
	return out
}
