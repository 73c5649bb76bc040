package event

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloadEvent(typ Type, props map[string]any) Event {
	return Event{
		ID:         "e",
		RunID:      "r",
		Timestamp:  time.Unix(0, 0).UTC(),
		Type:       typ,
		Severity:   SeverityInfo,
		Category:   CategoryPortfolio,
		Properties: Props(props),
	}
}

func TestDecodePayload_Position(t *testing.T) {
	p, err := DecodePayload(payloadEvent(TypePositionUpdate, map[string]any{
		"security":       "AAPL",
		"quantity":       150,
		"avg_price":      "176.00",
		"unrealized_pnl": -12.5,
	}))
	require.NoError(t, err)
	pos, ok := p.(PositionPayload)
	require.True(t, ok)
	assert.Equal(t, "AAPL", pos.Security)
	assert.Equal(t, 150.0, pos.Quantity)
	assert.Equal(t, 176.0, pos.AvgPrice, "numeric strings are accepted")
	assert.Equal(t, -12.5, pos.UnrealizedPnL)
	assert.Equal(t, 0.0, pos.RealizedPnL)
}

func TestDecodePayload_StateChangePnL(t *testing.T) {
	p, err := DecodePayload(payloadEvent(TypeStateChange, map[string]any{
		"state_type": "pnl",
		"before":     map[string]any{"realized": 0, "unrealized": 0, "total": 0},
		"after":      map[string]any{"realized": 10, "unrealized": 5, "total": 15},
	}))
	require.NoError(t, err)
	sc := p.(StateChangePayload)
	assert.True(t, sc.IsPnL())
	assert.Equal(t, PnLValues{Realized: 10, Unrealized: 5, Total: 15}, *sc.After)

	p, err = DecodePayload(payloadEvent(TypeStateChange, map[string]any{"state_type": "Mode"}))
	require.NoError(t, err)
	assert.False(t, p.(StateChangePayload).IsPnL())
}

func TestDecodePayload_IndicatorAndOrders(t *testing.T) {
	p, err := DecodePayload(payloadEvent(TypeIndicatorCalculation, map[string]any{"name": "EMA20", "value": 101.5, "symbol": "MSFT"}))
	require.NoError(t, err)
	assert.Equal(t, IndicatorPayload{Name: "EMA20", Security: "MSFT", Value: 101.5}, p)

	p, err = DecodePayload(payloadEvent(TypeOrderPlacement, map[string]any{"order_id": 9, "security": "AAPL", "side": "Buy", "quantity": 10, "price": 175}))
	require.NoError(t, err)
	assert.Equal(t, OrderPayload{OrderID: "9", Security: "AAPL", Side: "Buy", Quantity: 10, Price: 175}, p)

	p, err = DecodePayload(payloadEvent(TypeTradeExecution, map[string]any{"order_id": "9", "trade_id": "t1"}))
	require.NoError(t, err)
	assert.Equal(t, TypeTradeExecution, p.EventType())
	assert.Equal(t, "t1", p.(TradePayload).TradeID)
}

func TestDecodePayload_Raw(t *testing.T) {
	p, err := DecodePayload(payloadEvent(TypeMarketDataEvent, map[string]any{"bid": 1}))
	require.NoError(t, err)
	raw, ok := p.(RawPayload)
	require.True(t, ok)
	assert.Equal(t, TypeMarketDataEvent, raw.EventType())
	assert.Contains(t, raw.Fields, "bid")
}

func TestDecodePayload_Malformed(t *testing.T) {
	e := payloadEvent(TypePositionUpdate, nil)
	e.Properties = json.RawMessage(`{"security":`)
	_, err := DecodePayload(e)
	assert.Error(t, err)
}

func TestParseNumeric(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{int64(3), 3, true},
		{2.5, 2.5, true},
		{"  42.25 ", 42.25, true},
		{[]byte("7"), 7, true},
		{json.Number("1e2"), 100, true},
		{"abc", 0, false},
		{nil, 0, false},
		{true, 0, false},
		{"NaN", 0, false},
		{math.Inf(1), 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseNumeric(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}
