package query

import (
	"context"
	"fmt"
	"math"

	"github.com/roach88/btdebug/internal/event"
	"github.com/roach88/btdebug/internal/queryir"
)

// AggregateResult holds the requested statistics over one property.
//
// Aggregates has one entry per requested aggregation. count is always a
// number (matching events); the others are nil when no event carried a
// numeric value at the path.
type AggregateResult struct {
	EventType     event.Type                       `json:"event_type"`
	PropertyPath  queryir.PropertyPath             `json:"property_path"`
	MatchedEvents int                              `json:"matched_events"`
	ValueCount    int                              `json:"value_count"`
	Aggregates    map[queryir.Aggregation]*float64 `json:"aggregates"`
	Metadata      Metadata                         `json:"metadata"`
}

// AggregateMetrics extracts the numeric value at the request's property
// path from every matching event and computes the requested statistics.
//
// Missing or non-numeric values are excluded rather than treated as zero.
// stddev is the population standard deviation.
func (e *Engine) AggregateMetrics(ctx context.Context, req queryir.AggregateRequest) (AggregateResult, error) {
	start := e.clock.Now()
	extract, aggs, err := req.Query()
	if err != nil {
		return AggregateResult{}, err
	}
	sql, params, err := e.compiler.Compile(extract)
	if err != nil {
		return AggregateResult{}, err
	}

	rows, err := e.store.Query(ctx, sql, params...)
	if err != nil {
		return AggregateResult{}, fmt.Errorf("aggregate: %w", err)
	}
	defer rows.Close()

	var (
		acc     stats
		matched int
	)
	for rows.Next() {
		var jsonType, raw any
		if err := rows.Scan(&jsonType, &raw); err != nil {
			return AggregateResult{}, fmt.Errorf("aggregate: scan: %w", err)
		}
		matched++
		if v, ok := numericValue(jsonType, raw); ok {
			acc.add(v)
		}
	}
	if err := rows.Err(); err != nil {
		return AggregateResult{}, fmt.Errorf("aggregate: iterate: %w", err)
	}

	typ, _ := event.ParseType(req.EventType)
	return AggregateResult{
		EventType:     typ,
		PropertyPath:  extract.Path,
		MatchedEvents: matched,
		ValueCount:    acc.n,
		Aggregates:    acc.results(aggs, matched),
		Metadata: Metadata{
			TotalCount:    matched,
			ReturnedCount: matched,
			QueryTimeMs:   e.elapsedMs(start),
		},
	}, nil
}

// numericValue accepts JSON numbers and numeric strings. Booleans, which
// json_extract reports as 1/0, and objects/arrays are rejected.
func numericValue(jsonType, raw any) (float64, bool) {
	switch asString(jsonType) {
	case "integer", "real", "text":
		return event.ParseNumeric(raw)
	default:
		return 0, false
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

// stats accumulates sum, extrema and variance in one pass (Welford).
type stats struct {
	n        int
	sum      float64
	min, max float64
	mean, m2 float64
}

func (s *stats) add(x float64) {
	s.n++
	s.sum += x
	if s.n == 1 {
		s.min, s.max = x, x
	} else {
		s.min = math.Min(s.min, x)
		s.max = math.Max(s.max, x)
	}
	delta := x - s.mean
	s.mean += delta / float64(s.n)
	s.m2 += delta * (x - s.mean)
}

func (s *stats) results(aggs []queryir.Aggregation, matched int) map[queryir.Aggregation]*float64 {
	out := make(map[queryir.Aggregation]*float64, len(aggs))
	for _, agg := range aggs {
		if agg == queryir.AggCount {
			c := float64(matched)
			out[agg] = &c
			continue
		}
		if s.n == 0 {
			out[agg] = nil
			continue
		}
		var v float64
		switch agg {
		case queryir.AggSum:
			v = s.sum
		case queryir.AggAvg:
			v = s.sum / float64(s.n)
		case queryir.AggMin:
			v = s.min
		case queryir.AggMax:
			v = s.max
		case queryir.AggStddev:
			v = math.Sqrt(s.m2 / float64(s.n))
		}
		out[agg] = &v
	}
	return out
}
