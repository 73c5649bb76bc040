package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/btdebug/internal/apperr"
	"github.com/roach88/btdebug/internal/event"
	"github.com/roach88/btdebug/internal/queryir"
	"github.com/roach88/btdebug/internal/testutil"
)

func ev(id string, typ event.Type, at int, parent string) event.Event {
	return testutil.NewEvent(runID, id, typ).After(time.Duration(at) * time.Second).Parent(parent).Build()
}

func TestQuerySequences_Completeness(t *testing.T) {
	eng, _ := newEngine(t,
		// complete: TradeExecution -> PositionUpdate
		ev("t1", event.TypeTradeExecution, 1, ""),
		ev("p1", event.TypePositionUpdate, 2, "t1"),
		// incomplete: root only
		ev("t2", event.TypeTradeExecution, 3, ""),
	)
	ctx := context.Background()

	res, err := eng.QuerySequences(ctx, queryir.SequencesRequest{
		RunID: runID, SequencePattern: "TradeExecution,PositionUpdate", FindIncomplete: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Chains, 2)

	assert.Equal(t, "t1", res.Chains[0].RootEventID)
	assert.True(t, res.Chains[0].Complete)
	assert.Empty(t, res.Chains[0].MissingEventTypes)
	assert.Equal(t, []event.Type{event.TypeTradeExecution, event.TypePositionUpdate}, res.Chains[0].EventTypes)
	assert.Equal(t, 1, res.Chains[0].Depth)

	assert.Equal(t, "t2", res.Chains[1].RootEventID)
	assert.False(t, res.Chains[1].Complete)
	assert.Equal(t, []event.Type{event.TypePositionUpdate}, res.Chains[1].MissingEventTypes)

	// Without find_incomplete only complete chains are returned.
	res, err = eng.QuerySequences(ctx, queryir.SequencesRequest{
		RunID: runID, SequencePattern: "TradeExecution,PositionUpdate",
	})
	require.NoError(t, err)
	require.Len(t, res.Chains, 1)
	assert.Equal(t, "t1", res.Chains[0].RootEventID)
	assert.Equal(t, 1, res.Metadata.TotalCount)
}

func TestQuerySequences_PreOrderWithTimestampOrderedChildren(t *testing.T) {
	eng, _ := newEngine(t,
		ev("root", event.TypeSignalGenerated, 0, ""),
		ev("late", event.TypeOrderPlacement, 5, "root"),
		ev("early", event.TypeRiskCheck, 1, "root"),
		ev("early-child", event.TypeOrderRejection, 2, "early"),
		ev("late-child", event.TypeTradeExecution, 6, "late"),
	)

	res, err := eng.QuerySequences(context.Background(), queryir.SequencesRequest{RunID: runID})
	require.NoError(t, err)
	require.Len(t, res.Chains, 1)
	assert.Equal(t, []string{"root", "early", "early-child", "late", "late-child"}, ids(res.Chains[0].Events))
	assert.True(t, res.Chains[0].Complete, "no pattern means complete")
	assert.Equal(t, 2, res.Chains[0].Depth)
}

func TestQuerySequences_MaxDepthTruncates(t *testing.T) {
	events := []event.Event{ev("n0", event.TypeSignalGenerated, 0, "")}
	for i := 1; i <= 5; i++ {
		events = append(events, ev(fmt.Sprintf("n%d", i), event.TypeRiskCheck, i, fmt.Sprintf("n%d", i-1)))
	}
	eng, _ := newEngine(t, events...)
	ctx := context.Background()

	res, err := eng.QuerySequences(ctx, queryir.SequencesRequest{RunID: runID, MaxDepth: intPtr(2)})
	require.NoError(t, err)
	require.Len(t, res.Chains, 1)
	assert.Equal(t, []string{"n0", "n1", "n2"}, ids(res.Chains[0].Events))
	assert.True(t, res.Chains[0].Truncated)
	assert.True(t, res.Metadata.Truncated)

	res, err = eng.QuerySequences(ctx, queryir.SequencesRequest{RunID: runID, MaxDepth: intPtr(5)})
	require.NoError(t, err)
	assert.Len(t, res.Chains[0].Events, 6)
	assert.False(t, res.Chains[0].Truncated)
	assert.False(t, res.Metadata.Truncated)

	// max_depth below 1 clamps to 1.
	res, err = eng.QuerySequences(ctx, queryir.SequencesRequest{RunID: runID, MaxDepth: intPtr(0)})
	require.NoError(t, err)
	assert.Len(t, res.Chains[0].Events, 2)
}

func TestQuerySequences_RootEventID(t *testing.T) {
	eng, _ := newEngine(t,
		ev("a", event.TypeSignalGenerated, 0, ""),
		ev("b", event.TypeOrderPlacement, 1, "a"),
		ev("c", event.TypeTradeExecution, 2, "b"),
	)
	ctx := context.Background()

	res, err := eng.QuerySequences(ctx, queryir.SequencesRequest{RunID: runID, RootEventID: "b"})
	require.NoError(t, err)
	require.Len(t, res.Chains, 1)
	assert.Equal(t, []string{"b", "c"}, ids(res.Chains[0].Events))

	_, err = eng.QuerySequences(ctx, queryir.SequencesRequest{RunID: runID, RootEventID: "zzz"})
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestQuerySequences_UnknownPatternToken(t *testing.T) {
	eng, _ := newEngine(t)

	_, err := eng.QuerySequences(context.Background(), queryir.SequencesRequest{
		RunID: runID, SequencePattern: "TradeExecution,Fill",
	})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))
}

func TestQuerySequences_PagesCompleteChains(t *testing.T) {
	var events []event.Event
	for i := 0; i < 7; i++ {
		root := fmt.Sprintf("t%d", i)
		events = append(events, ev(root, event.TypeTradeExecution, i*10, ""))
		if i%2 == 0 { // t0, t2, t4, t6 complete
			events = append(events, ev("p"+root, event.TypePositionUpdate, i*10+1, root))
		}
	}
	events = append(events, ev("noise", event.TypeRiskCheck, 100, ""))
	eng, _ := newEngine(t, events...)
	ctx := context.Background()

	var roots []string
	for idx := 0; ; idx++ {
		res, err := eng.QuerySequences(ctx, queryir.SequencesRequest{
			RunID: runID, SequencePattern: "TradeExecution,PositionUpdate",
			PageSize: intPtr(3), PageIndex: idx,
		})
		require.NoError(t, err)
		assert.Equal(t, 4, res.Metadata.TotalCount)
		for _, c := range res.Chains {
			assert.True(t, c.Complete)
			roots = append(roots, c.RootEventID)
		}
		if !res.Metadata.HasMore {
			break
		}
	}
	assert.Equal(t, []string{"t0", "t2", "t4", "t6"}, roots)

	res, err := eng.QuerySequences(ctx, queryir.SequencesRequest{
		RunID: runID, SequencePattern: "TradeExecution,PositionUpdate", FindIncomplete: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 8, res.Metadata.TotalCount)
	last := res.Chains[len(res.Chains)-1]
	assert.Equal(t, "noise", last.RootEventID)
	assert.Equal(t, []event.Type{event.TypeTradeExecution, event.TypePositionUpdate}, last.MissingEventTypes)
}
