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

const runID = "run-1"

func newReconstructor(t *testing.T, events ...event.Event) *Reconstructor {
	t.Helper()
	s := testutil.OpenStore(t)
	testutil.Seed(t, s, runID, events...)
	return New(s)
}

func at(d time.Duration) time.Time {
	return testutil.BaseTime.Add(d)
}

func TestGetSnapshot_LastWriteWins(t *testing.T) {
	// Inserted out of timestamp order on purpose.
	r := newReconstructor(t,
		testutil.Position(runID, "p3", 2*time.Hour, "AAPL", 200, 177.00),
		testutil.Position(runID, "p1", 0, "AAPL", 100, 175.50),
		testutil.Position(runID, "p2", time.Hour, "AAPL", 150, 176.00),
	)

	snap, err := r.GetSnapshot(context.Background(), SnapshotRequest{RunID: runID, Timestamp: at(90 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "AAPL", snap.Positions[0].Security)
	assert.Equal(t, 150.0, snap.Positions[0].Quantity)
	assert.Equal(t, 176.00, snap.Positions[0].AvgPrice)
	assert.Equal(t, at(time.Hour), snap.Positions[0].UpdatedAt)

	snap, err = r.GetSnapshot(context.Background(), SnapshotRequest{RunID: runID, Timestamp: at(2 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 200.0, snap.Positions[0].Quantity, "timestamp bound is inclusive")
}

func TestGetSnapshot_EmptyBeforeFirstEvent(t *testing.T) {
	r := newReconstructor(t,
		testutil.Position(runID, "p1", time.Minute, "AAPL", 100, 175.50),
		testutil.PnL(runID, "pnl", time.Minute, event.PnLValues{}, event.PnLValues{Realized: 5, Total: 5}),
	)

	snap, err := r.GetSnapshot(context.Background(), SnapshotRequest{
		RunID: runID, Timestamp: at(0), IncludeIndicators: true, IncludeActiveOrders: true,
	})
	require.NoError(t, err)
	assert.NotNil(t, snap.Positions)
	assert.Empty(t, snap.Positions)
	assert.Empty(t, snap.Indicators)
	assert.Empty(t, snap.ActiveOrders)
	assert.Equal(t, PnL{}, snap.PnL)

	snap, err = r.GetSnapshot(context.Background(), SnapshotRequest{RunID: "no-such-run", Timestamp: at(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, snap.Positions)
}

func TestGetSnapshot_SecurityFilterFoldsCase(t *testing.T) {
	r := newReconstructor(t,
		testutil.Position(runID, "p1", 0, "AAPL", 100, 175),
		testutil.Position(runID, "p2", 0, "MSFT", 10, 300),
		testutil.Position(runID, "p3", 0, "ÄPFEL", 1, 2),
		testutil.Indicator(runID, "i1", 0, "rsi", "AAPL", 55),
		testutil.Indicator(runID, "i2", 0, "rsi", "MSFT", 45),
		testutil.Indicator(runID, "i3", 0, "vix", "", 17),
	)
	ctx := context.Background()

	snap, err := r.GetSnapshot(ctx, SnapshotRequest{RunID: runID, Timestamp: at(time.Second), SecurityFilter: "aapl", IncludeIndicators: true})
	require.NoError(t, err)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "AAPL", snap.Positions[0].Security)
	require.Len(t, snap.Indicators, 2)
	assert.Equal(t, Indicator{Name: "rsi", Security: "AAPL", Value: 55, UpdatedAt: at(0)}, snap.Indicators[0])
	assert.Equal(t, "vix", snap.Indicators[1].Name, "indicators without a security are not filtered out")

	snap, err = r.GetSnapshot(ctx, SnapshotRequest{RunID: runID, Timestamp: at(time.Second), SecurityFilter: "äpfel"})
	require.NoError(t, err)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "ÄPFEL", snap.Positions[0].Security)

	snap, err = r.GetSnapshot(ctx, SnapshotRequest{RunID: runID, Timestamp: at(time.Second)})
	require.NoError(t, err)
	assert.Len(t, snap.Positions, 3)
	assert.Empty(t, snap.Indicators, "indicators only when requested")
}

func TestGetSnapshot_PnLFromLatestStateChange(t *testing.T) {
	r := newReconstructor(t,
		testutil.PnL(runID, "pnl1", time.Minute, event.PnLValues{}, event.PnLValues{Realized: 10, Unrealized: 2, Total: 12}),
		testutil.PnL(runID, "pnl2", 3*time.Minute, event.PnLValues{Realized: 10, Unrealized: 2, Total: 12},
			event.PnLValues{Realized: 15, Unrealized: -1, Total: 14}),
		testutil.NewEvent(runID, "other-state", event.TypeStateChange).After(2*time.Minute).
			Props(map[string]any{"state_type": "Mode", "after": map[string]any{"realized": 999}}).Build(),
	)
	ctx := context.Background()

	snap, err := r.GetSnapshot(ctx, SnapshotRequest{RunID: runID, Timestamp: at(2 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, PnL{Realized: 10, Unrealized: 2, Total: 12}, snap.PnL)

	snap, err = r.GetSnapshot(ctx, SnapshotRequest{RunID: runID, Timestamp: at(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, PnL{Realized: 15, Unrealized: -1, Total: 14}, snap.PnL)
}

func TestGetSnapshot_ActiveOrders(t *testing.T) {
	r := newReconstructor(t,
		testutil.Order(runID, "o1", 1*time.Second, "ORD-1", "AAPL", "buy", 10, 100),
		testutil.Order(runID, "o2", 2*time.Second, "ORD-2", "MSFT", "sell", 5, 300),
		testutil.Trade(runID, "t1", 3*time.Second, "ORD-1", "AAPL", 10, 100),
		testutil.Trade(runID, "t2", 10*time.Second, "ORD-2", "MSFT", 5, 300),
	)
	ctx := context.Background()

	snap, err := r.GetSnapshot(ctx, SnapshotRequest{RunID: runID, Timestamp: at(5 * time.Second), IncludeActiveOrders: true})
	require.NoError(t, err)
	require.Len(t, snap.ActiveOrders, 1)
	assert.Equal(t, ActiveOrder{
		OrderID: "ORD-2", Security: "MSFT", Side: "sell", Quantity: 5, Price: 300, PlacedAt: at(2 * time.Second),
	}, snap.ActiveOrders[0])

	snap, err = r.GetSnapshot(ctx, SnapshotRequest{RunID: runID, Timestamp: at(2 * time.Second), IncludeActiveOrders: true})
	require.NoError(t, err)
	assert.Len(t, snap.ActiveOrders, 2)
	assert.Equal(t, "ORD-1", snap.ActiveOrders[0].OrderID)

	snap, err = r.GetSnapshot(ctx, SnapshotRequest{RunID: runID, Timestamp: at(time.Minute), IncludeActiveOrders: true})
	require.NoError(t, err)
	assert.Empty(t, snap.ActiveOrders)

	snap, err = r.GetSnapshot(ctx, SnapshotRequest{RunID: runID, Timestamp: at(2 * time.Second), IncludeActiveOrders: true, SecurityFilter: "msft"})
	require.NoError(t, err)
	require.Len(t, snap.ActiveOrders, 1)
	assert.Equal(t, "ORD-2", snap.ActiveOrders[0].OrderID)
}

func TestGetSnapshot_InvalidArguments(t *testing.T) {
	r := newReconstructor(t)

	_, err := r.GetSnapshot(context.Background(), SnapshotRequest{Timestamp: at(0)})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))

	_, err = r.GetSnapshot(context.Background(), SnapshotRequest{RunID: runID})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))
}
