package queryir

import (
	"math"
	"strings"
	"time"

	"github.com/roach88/btdebug/internal/apperr"
	"github.com/roach88/btdebug/internal/event"
)

// Paging and depth bounds.
const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
	DefaultMaxDepth = 10
	MaxDepthLimit   = 100

	// MaxPageIndex keeps (index+1)*MaxPageSize within int.
	MaxPageIndex = math.MaxInt/MaxPageSize - 1
)

// Page is a normalized page request.
type Page struct {
	Size  int
	Index int
}

// NormalizePage clamps size to [0, MaxPageSize] and index to
// [0, MaxPageIndex].
// capped reports whether the requested size exceeded MaxPageSize.
func NormalizePage(size *int, index int) (p Page, capped bool) {
	p.Size = DefaultPageSize
	if size != nil {
		p.Size = *size
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
		capped = true
	}
	if p.Size < 0 {
		p.Size = 0
	}
	if index > 0 {
		p.Index = min(index, MaxPageIndex)
	}
	return p, capped
}

// Offset is the number of rows skipped before this page.
func (p Page) Offset() int {
	return p.Index * p.Size
}

// Limit returns the Select bound for this page.
func (p Page) Limit() *Limit {
	return &Limit{Count: p.Size, Offset: p.Offset()}
}

// HasMore reports whether rows remain after this page. A zero-size page
// never has more.
func (p Page) HasMore(total int) bool {
	if p.Size == 0 {
		return false
	}
	return (p.Index+1)*p.Size < total
}

// NormalizeDepth clamps a requested max depth to [1, MaxDepthLimit].
func NormalizeDepth(depth *int) int {
	if depth == nil {
		return DefaultMaxDepth
	}
	switch d := *depth; {
	case d < 1:
		return 1
	case d > MaxDepthLimit:
		return MaxDepthLimit
	default:
		return d
	}
}

// EventsRequest filters a run's events. Empty filters are ignored.
type EventsRequest struct {
	RunID     string     `json:"run_id"`
	EventType string     `json:"event_type,omitempty"`
	Severity  string     `json:"severity,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	PageSize  *int       `json:"page_size,omitempty"`
	PageIndex int        `json:"page_index,omitempty"`
}

// Filter lowers the request to a predicate.
func (r EventsRequest) Filter() (Predicate, error) {
	run, err := runFilter(r.RunID)
	if err != nil {
		return nil, err
	}
	typ, err := optionalType(r.EventType)
	if err != nil {
		return nil, err
	}
	sev, err := optionalSeverity(r.Severity)
	if err != nil {
		return nil, err
	}
	tr, err := timeRange(r.StartTime, r.EndTime)
	if err != nil {
		return nil, err
	}
	return AndOf(run, typ, sev, tr), nil
}

// Page returns the normalized page.
func (r EventsRequest) Page() (Page, bool) {
	return NormalizePage(r.PageSize, r.PageIndex)
}

// EntityRequest looks up events by an entity key in their properties.
type EntityRequest struct {
	RunID       string `json:"run_id"`
	EntityType  string `json:"entity_type"`
	EntityValue string `json:"entity_value"`
	EventType   string `json:"event_type,omitempty"`
	PageSize    *int   `json:"page_size,omitempty"`
	PageIndex   int    `json:"page_index,omitempty"`
}

// Filter lowers the request to a predicate.
func (r EntityRequest) Filter() (Predicate, error) {
	run, err := runFilter(r.RunID)
	if err != nil {
		return nil, err
	}
	et, err := event.ParseEntityType(r.EntityType)
	if err != nil {
		return nil, err
	}
	if r.EntityValue == "" {
		return nil, apperr.InvalidArgument("entity_value is required")
	}
	typ, err := optionalType(r.EventType)
	if err != nil {
		return nil, err
	}
	ent := HasEntity{
		RunID: r.RunID,
		Type:  et,
		Value: event.NormalizeEntityValue(r.EntityValue),
	}
	return AndOf(run, ent, typ), nil
}

// Page returns the normalized page.
func (r EntityRequest) Page() (Page, bool) {
	return NormalizePage(r.PageSize, r.PageIndex)
}

// SequencesRequest walks causal chains rooted at parentless events, or at
// RootEventID when given.
type SequencesRequest struct {
	RunID           string `json:"run_id"`
	RootEventID     string `json:"root_event_id,omitempty"`
	SequencePattern string `json:"sequence_pattern,omitempty"`
	FindIncomplete  bool   `json:"find_incomplete,omitempty"`
	MaxDepth        *int   `json:"max_depth,omitempty"`
	PageSize        *int   `json:"page_size,omitempty"`
	PageIndex       int    `json:"page_index,omitempty"`
}

// RootFilter selects the chain roots.
func (r SequencesRequest) RootFilter() (Predicate, error) {
	run, err := runFilter(r.RunID)
	if err != nil {
		return nil, err
	}
	if r.RootEventID != "" {
		return AndOf(run, Equals{Column: ColEventID, Value: r.RootEventID}), nil
	}
	return AndOf(run, IsNull{Column: ColParentID}), nil
}

// ChildFilter selects the direct children of parents within the run.
func (r SequencesRequest) ChildFilter(parents []string) Predicate {
	return AndOf(
		Equals{Column: ColRunID, Value: r.RunID},
		In{Column: ColParentID, Values: parents},
	)
}

// Pattern parses SequencePattern, a comma-separated list of event types.
// Returns nil for an empty pattern.
func (r SequencesRequest) Pattern() ([]event.Type, error) {
	return ParsePattern(r.SequencePattern)
}

// Depth returns the normalized max depth.
func (r SequencesRequest) Depth() int {
	return NormalizeDepth(r.MaxDepth)
}

// Page returns the normalized page.
func (r SequencesRequest) Page() (Page, bool) {
	return NormalizePage(r.PageSize, r.PageIndex)
}

// ParsePattern parses a comma-separated event type list. Blank tokens are
// skipped; an unknown token fails with InvalidArgument.
func ParsePattern(s string) ([]event.Type, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []event.Type
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		t, err := event.ParseType(tok)
		if err != nil {
			return nil, apperr.InvalidArgument("sequence_pattern: unknown event type %q", tok)
		}
		out = append(out, t)
	}
	return out, nil
}

// Aggregation names a statistic computed over extracted values.
type Aggregation string

const (
	AggCount  Aggregation = "count"
	AggSum    Aggregation = "sum"
	AggAvg    Aggregation = "avg"
	AggMin    Aggregation = "min"
	AggMax    Aggregation = "max"
	AggStddev Aggregation = "stddev"
)

// AllAggregations lists the supported aggregations in output order.
var AllAggregations = []Aggregation{AggCount, AggSum, AggAvg, AggMin, AggMax, AggStddev}

// ParseAggregations parses names case-insensitively, dropping repeats.
// At least one aggregation is required.
func ParseAggregations(names []string) ([]Aggregation, error) {
	if len(names) == 0 {
		return nil, apperr.InvalidArgument("aggregations must name at least one of count, sum, avg, min, max, stddev")
	}
	seen := map[Aggregation]bool{}
	out := make([]Aggregation, 0, len(names))
	for _, n := range names {
		agg := Aggregation(strings.ToLower(strings.TrimSpace(n)))
		valid := false
		for _, a := range AllAggregations {
			if agg == a {
				valid = true
				break
			}
		}
		if !valid {
			return nil, apperr.InvalidArgument("unknown aggregation %q", n)
		}
		if !seen[agg] {
			seen[agg] = true
			out = append(out, agg)
		}
	}
	return out, nil
}

// AggregateRequest computes statistics over one property of one event
// type.
type AggregateRequest struct {
	RunID        string     `json:"run_id"`
	EventType    string     `json:"event_type"`
	PropertyPath string     `json:"property_path"`
	Aggregations []string   `json:"aggregations"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
}

// Query lowers the request to an Extract and the parsed aggregations.
// The path is validated before anything else is built from it.
func (r AggregateRequest) Query() (Extract, []Aggregation, error) {
	path, err := ParsePropertyPath(r.PropertyPath)
	if err != nil {
		return Extract{}, nil, err
	}
	aggs, err := ParseAggregations(r.Aggregations)
	if err != nil {
		return Extract{}, nil, err
	}
	run, err := runFilter(r.RunID)
	if err != nil {
		return Extract{}, nil, err
	}
	if r.EventType == "" {
		return Extract{}, nil, apperr.InvalidArgument("event_type is required")
	}
	typ, err := optionalType(r.EventType)
	if err != nil {
		return Extract{}, nil, err
	}
	tr, err := timeRange(r.StartTime, r.EndTime)
	if err != nil {
		return Extract{}, nil, err
	}
	return Extract{Path: path, Filter: AndOf(run, typ, tr)}, aggs, nil
}

// ValidationErrorsRequest lists events carrying validation errors.
type ValidationErrorsRequest struct {
	RunID     string `json:"run_id"`
	Severity  string `json:"severity,omitempty"`
	PageSize  *int   `json:"page_size,omitempty"`
	PageIndex int    `json:"page_index,omitempty"`
}

// Filter lowers the request to a predicate.
func (r ValidationErrorsRequest) Filter() (Predicate, error) {
	run, err := runFilter(r.RunID)
	if err != nil {
		return nil, err
	}
	var sev Predicate
	if r.Severity != "" {
		s, err := event.ParseSeverity(r.Severity)
		if err != nil {
			return nil, err
		}
		sev = HasValidationSeverity{Severity: s}
	}
	return AndOf(run, NotNull{Column: ColValidationErrors}, sev), nil
}

// Page returns the normalized page.
func (r ValidationErrorsRequest) Page() (Page, bool) {
	return NormalizePage(r.PageSize, r.PageIndex)
}

func runFilter(runID string) (Predicate, error) {
	if runID == "" {
		return nil, apperr.InvalidArgument("run_id is required")
	}
	return Equals{Column: ColRunID, Value: runID}, nil
}

func optionalType(s string) (Predicate, error) {
	if s == "" {
		return nil, nil
	}
	t, err := event.ParseType(s)
	if err != nil {
		return nil, err
	}
	return Equals{Column: ColEventType, Value: string(t)}, nil
}

func optionalSeverity(s string) (Predicate, error) {
	if s == "" {
		return nil, nil
	}
	sev, err := event.ParseSeverity(s)
	if err != nil {
		return nil, err
	}
	return Equals{Column: ColSeverity, Value: string(sev)}, nil
}

func timeRange(from, to *time.Time) (Predicate, error) {
	if from == nil && to == nil {
		return nil, nil
	}
	if from != nil && to != nil && from.After(*to) {
		return nil, apperr.InvalidArgument("start_time %s is after end_time %s",
			from.Format(time.RFC3339Nano), to.Format(time.RFC3339Nano))
	}
	return TimeRange{From: from, To: to}, nil
}
