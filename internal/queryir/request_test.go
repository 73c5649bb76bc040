package queryir

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/btdebug/internal/apperr"
	"github.com/roach88/btdebug/internal/event"
)

func intPtr(n int) *int { return &n }

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		name       string
		size       *int
		index      int
		wantSize   int
		wantIndex  int
		wantCapped bool
	}{
		{"default size", nil, 0, DefaultPageSize, 0, false},
		{"explicit zero", intPtr(0), 0, 0, 0, false},
		{"in range", intPtr(25), 3, 25, 3, false},
		{"at cap", intPtr(1000), 0, 1000, 0, false},
		{"over cap", intPtr(5000), 1, 1000, 1, true},
		{"negative size", intPtr(-4), 0, 0, 0, false},
		{"negative index", intPtr(10), -2, 10, 0, false},
		{"huge index", intPtr(1000), math.MaxInt, 1000, MaxPageIndex, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, capped := NormalizePage(tt.size, tt.index)
			assert.Equal(t, tt.wantSize, p.Size)
			assert.Equal(t, tt.wantIndex, p.Index)
			assert.Equal(t, tt.wantCapped, capped)
		})
	}
}

func TestPage_HasMore(t *testing.T) {
	// For every total and size, exactly the last non-empty page has has_more=false.
	for total := 0; total <= 12; total++ {
		for size := 1; size <= 5; size++ {
			pages := (total + size - 1) / size
			for idx := 0; idx < pages; idx++ {
				p := Page{Size: size, Index: idx}
				assert.Equal(t, idx < pages-1, p.HasMore(total),
					"total=%d size=%d idx=%d", total, size, idx)
			}
		}
	}

	assert.False(t, Page{Size: 0, Index: 0}.HasMore(10), "zero page size never has more")
	assert.Equal(t, 40, Page{Size: 20, Index: 2}.Offset())

	last, _ := NormalizePage(intPtr(MaxPageSize), math.MaxInt)
	assert.Positive(t, last.Offset())
	assert.False(t, last.HasMore(math.MaxInt32))
}

func TestNormalizeDepth(t *testing.T) {
	assert.Equal(t, DefaultMaxDepth, NormalizeDepth(nil))
	assert.Equal(t, 1, NormalizeDepth(intPtr(0)))
	assert.Equal(t, 1, NormalizeDepth(intPtr(-3)))
	assert.Equal(t, 7, NormalizeDepth(intPtr(7)))
	assert.Equal(t, MaxDepthLimit, NormalizeDepth(intPtr(1000)))
}

func TestEventsRequest_Filter(t *testing.T) {
	start := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	req := EventsRequest{
		RunID:     "run-1",
		EventType: "tradeexecution",
		Severity:  "WARNING",
		StartTime: &start,
	}

	pred, err := req.Filter()
	require.NoError(t, err)

	and, ok := pred.(And)
	require.True(t, ok)
	require.Len(t, and.Predicates, 4)
	assert.Equal(t, Equals{Column: ColRunID, Value: "run-1"}, and.Predicates[0])
	assert.Equal(t, Equals{Column: ColEventType, Value: "TradeExecution"}, and.Predicates[1])
	assert.Equal(t, Equals{Column: ColSeverity, Value: "Warning"}, and.Predicates[2])
	assert.Equal(t, TimeRange{From: &start}, and.Predicates[3])
	assert.NoError(t, Validate(Select{Filter: pred}))
}

func TestEventsRequest_Errors(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-time.Minute)

	tests := []struct {
		name string
		req  EventsRequest
	}{
		{"missing run", EventsRequest{}},
		{"bad type", EventsRequest{RunID: "r", EventType: "Trade"}},
		{"bad severity", EventsRequest{RunID: "r", Severity: "Critical"}},
		{"inverted range", EventsRequest{RunID: "r", StartTime: &now, EndTime: &earlier}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.req.Filter()
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument), err.Error())
		})
	}
}

func TestEntityRequest_Filter(t *testing.T) {
	req := EntityRequest{RunID: "run-1", EntityType: "orderid", EntityValue: "O-1", EventType: "OrderPlacement"}

	pred, err := req.Filter()
	require.NoError(t, err)

	and := pred.(And)
	require.Len(t, and.Predicates, 3)
	assert.Equal(t, HasEntity{RunID: "run-1", Type: event.EntityOrderID, Value: "O-1"}, and.Predicates[1])
	assert.Equal(t, Equals{Column: ColEventType, Value: "OrderPlacement"}, and.Predicates[2])
}

func TestEntityRequest_Errors(t *testing.T) {
	for name, req := range map[string]EntityRequest{
		"unknown entity type": {RunID: "r", EntityType: "Ticker", EntityValue: "x"},
		"missing value":       {RunID: "r", EntityType: "OrderId"},
		"bad event type":      {RunID: "r", EntityType: "OrderId", EntityValue: "x", EventType: "nope"},
	} {
		_, err := req.Filter()
		assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument), name)
	}
}

func TestSequencesRequest(t *testing.T) {
	req := SequencesRequest{RunID: "run-1", SequencePattern: " TradeExecution, positionupdate ,"}

	pattern, err := req.Pattern()
	require.NoError(t, err)
	assert.Equal(t, []event.Type{event.TypeTradeExecution, event.TypePositionUpdate}, pattern)

	roots, err := req.RootFilter()
	require.NoError(t, err)
	assert.Contains(t, roots.(And).Predicates, Predicate(IsNull{Column: ColParentID}))

	req.RootEventID = "ev-9"
	roots, err = req.RootFilter()
	require.NoError(t, err)
	assert.Contains(t, roots.(And).Predicates, Predicate(Equals{Column: ColEventID, Value: "ev-9"}))

	assert.Equal(t, DefaultMaxDepth, req.Depth())

	_, err = ParsePattern("TradeExecution,Bogus")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))
	assert.Contains(t, err.Error(), "Bogus")

	empty, err := ParsePattern("  ")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestParseAggregations(t *testing.T) {
	aggs, err := ParseAggregations([]string{"SUM", "avg", "sum", " stddev "})
	require.NoError(t, err)
	assert.Equal(t, []Aggregation{AggSum, AggAvg, AggStddev}, aggs)

	_, err = ParseAggregations([]string{"median"})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))

	_, err = ParseAggregations(nil)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))
}

func TestAggregateRequest_Query(t *testing.T) {
	req := AggregateRequest{
		RunID:        "run-1",
		EventType:    "TradeExecution",
		PropertyPath: "$.price",
		Aggregations: []string{"count", "avg"},
	}
	ex, aggs, err := req.Query()
	require.NoError(t, err)
	assert.Equal(t, PropertyPath("$.price"), ex.Path)
	assert.Equal(t, []Aggregation{AggCount, AggAvg}, aggs)
	assert.NoError(t, Validate(ex))

	req.PropertyPath = "$.items[0].price"
	_, _, err = req.Query()
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))

	req.PropertyPath = "$.price"
	req.EventType = ""
	_, _, err = req.Query()
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))
}

func TestValidationErrorsRequest_Filter(t *testing.T) {
	pred, err := ValidationErrorsRequest{RunID: "r", Severity: "error"}.Filter()
	require.NoError(t, err)
	and := pred.(And)
	require.Len(t, and.Predicates, 3)
	assert.Equal(t, NotNull{Column: ColValidationErrors}, and.Predicates[1])
	assert.Equal(t, HasValidationSeverity{Severity: event.SeverityError}, and.Predicates[2])

	_, err = ValidationErrorsRequest{RunID: "r", Severity: "loud"}.Filter()
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))
}
