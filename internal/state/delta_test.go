package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/btdebug/internal/apperr"
	"github.com/roach88/btdebug/internal/event"
	"github.com/roach88/btdebug/internal/testutil"
)

func deltaFixture(t *testing.T) *Reconstructor {
	return newReconstructor(t,
		testutil.Position(runID, "aapl-1", 1*time.Second, "AAPL", 100, 175),
		testutil.Position(runID, "msft-1", 1*time.Second, "MSFT", 50, 300),
		testutil.Position(runID, "aapl-2", 5*time.Second, "AAPL", 150, 176),
		testutil.Indicator(runID, "rsi-1", 2*time.Second, "rsi", "AAPL", 0.1),
		testutil.Indicator(runID, "rsi-2", 6*time.Second, "rsi", "AAPL", 0.3),
		testutil.Indicator(runID, "vix-1", 7*time.Second, "vix", "", 17),
		testutil.PnL(runID, "pnl-1", 1*time.Second, event.PnLValues{}, event.PnLValues{Realized: 1, Total: 1}),
	)
}

func TestGetDelta_OnlyChangedEntries(t *testing.T) {
	r := deltaFixture(t)

	d, err := r.GetDelta(context.Background(), DeltaRequest{RunID: runID, StartTime: at(3 * time.Second), EndTime: at(10 * time.Second)})
	require.NoError(t, err)

	require.Len(t, d.PositionChanges, 1, "MSFT did not change")
	assert.Equal(t, PositionChange{
		Security: "AAPL", QtyBefore: 100, QtyAfter: 150, QtyChange: 50, AvgPriceBefore: 175, AvgPriceAfter: 176,
	}, d.PositionChanges[0])

	require.Len(t, d.IndicatorChanges, 2)
	rsi := d.IndicatorChanges[0]
	assert.Equal(t, "rsi", rsi.Name)
	assert.Equal(t, 0.1, *rsi.ValueBefore)
	assert.Equal(t, 0.3, *rsi.ValueAfter)
	assert.Equal(t, 0.2, *rsi.Change, "decimal arithmetic, no float residue")

	vix := d.IndicatorChanges[1]
	assert.Equal(t, "vix", vix.Name)
	assert.Nil(t, vix.ValueBefore)
	assert.Equal(t, 17.0, *vix.ValueAfter)
	assert.Nil(t, vix.Change)

	assert.Nil(t, d.PnLChange, "pnl unchanged in window is omitted")
}

func TestGetDelta_BoundaryEventBelongsToBefore(t *testing.T) {
	r := deltaFixture(t)

	// aapl-2 sits exactly on start_time, so it is already in the before state.
	d, err := r.GetDelta(context.Background(), DeltaRequest{RunID: runID, StartTime: at(5 * time.Second), EndTime: at(5 * time.Second)})
	require.NoError(t, err)
	assert.Empty(t, d.PositionChanges)
	assert.Empty(t, d.IndicatorChanges)
	assert.Nil(t, d.PnLChange)
}

func TestGetDelta_PnLAndFilter(t *testing.T) {
	r := newReconstructor(t,
		testutil.Position(runID, "aapl-1", 1*time.Second, "AAPL", 100, 175),
		testutil.Position(runID, "msft-1", 4*time.Second, "MSFT", 50, 300),
		testutil.PnL(runID, "pnl-1", 1*time.Second, event.PnLValues{}, event.PnLValues{Realized: 0.1, Unrealized: 1, Total: 1.1}),
		testutil.PnL(runID, "pnl-2", 4*time.Second, event.PnLValues{}, event.PnLValues{Realized: 0.3, Unrealized: 1, Total: 1.3}),
	)

	d, err := r.GetDelta(context.Background(), DeltaRequest{
		RunID: runID, StartTime: at(2 * time.Second), EndTime: at(5 * time.Second), SecurityFilter: "Msft",
	})
	require.NoError(t, err)

	require.Len(t, d.PositionChanges, 1)
	assert.Equal(t, "MSFT", d.PositionChanges[0].Security)
	assert.Equal(t, 0.0, d.PositionChanges[0].QtyBefore)
	assert.Equal(t, 50.0, d.PositionChanges[0].QtyChange)

	require.NotNil(t, d.PnLChange)
	assert.Equal(t, 0.1, d.PnLChange.RealizedBefore)
	assert.Equal(t, 0.3, d.PnLChange.RealizedAfter)
	assert.Equal(t, 0.2, d.PnLChange.RealizedChange)
	assert.Equal(t, 0.0, d.PnLChange.UnrealizedChange)
	assert.Equal(t, 0.2, d.PnLChange.TotalChange)
}

func TestGetDelta_InvalidWindow(t *testing.T) {
	r := deltaFixture(t)

	_, err := r.GetDelta(context.Background(), DeltaRequest{RunID: runID, StartTime: at(10 * time.Second), EndTime: at(time.Second)})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))

	_, err = r.GetDelta(context.Background(), DeltaRequest{RunID: runID, EndTime: at(time.Second)})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))
}

func TestDiff(t *testing.T) {
	assert.Equal(t, 0.2, diff(0.1, 0.3))
	assert.Equal(t, -50.0, diff(150, 100))
	assert.Equal(t, 0.0, diff(1.1, 1.1))
}
