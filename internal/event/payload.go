package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Payload is the decoded, type-specific view of an event's properties.
//
// This is a sealed interface: the concrete type is selected by the
// event's Type in DecodePayload. Consumers type-switch on it.
type Payload interface {
	EventType() Type
}

// PositionPayload is the decoded form of a PositionUpdate.
type PositionPayload struct {
	Security      string
	PositionID    string
	Quantity      float64
	AvgPrice      float64
	UnrealizedPnL float64
	RealizedPnL   float64
}

// IndicatorPayload is the decoded form of an IndicatorCalculation.
type IndicatorPayload struct {
	Name     string
	Security string
	Value    float64
}

// OrderPayload is the decoded form of an OrderPlacement.
type OrderPayload struct {
	OrderID  string
	Security string
	Side     string
	Quantity float64
	Price    float64
}

// TradePayload is the decoded form of a TradeExecution.
type TradePayload struct {
	OrderID  string
	TradeID  string
	Security string
	Side     string
	Quantity float64
	Price    float64
}

// PnLValues holds one side of a PnL state change.
type PnLValues struct {
	Realized   float64 `json:"realized"`
	Unrealized float64 `json:"unrealized"`
	Total      float64 `json:"total"`
}

// StateChangePayload is the decoded form of a StateChange.
// Before/After are only populated when the change carries PnL values.
type StateChangePayload struct {
	StateType string
	Before    *PnLValues
	After     *PnLValues
}

// RawPayload is returned for event types without a dedicated decoder.
type RawPayload struct {
	Type   Type
	Fields map[string]json.RawMessage
}

func (PositionPayload) EventType() Type    { return TypePositionUpdate }
func (IndicatorPayload) EventType() Type   { return TypeIndicatorCalculation }
func (OrderPayload) EventType() Type       { return TypeOrderPlacement }
func (TradePayload) EventType() Type       { return TypeTradeExecution }
func (StateChangePayload) EventType() Type { return TypeStateChange }
func (p RawPayload) EventType() Type       { return p.Type }

// StateTypePnL tags StateChange events that carry PnL updates.
const StateTypePnL = "PnL"

// IsPnL reports whether the state change is a PnL update with an after
// value.
func (p StateChangePayload) IsPnL() bool {
	return strings.EqualFold(p.StateType, StateTypePnL) && p.After != nil
}

// DecodePayload decodes e.Properties according to e.Type.
func DecodePayload(e Event) (Payload, error) {
	fields, err := decodeFields(e.Properties)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload (event %s): %w", e.Type, e.ID, err)
	}

	switch e.Type {
	case TypePositionUpdate:
		return PositionPayload{
			Security:      fieldString(fields, "security", "symbol"),
			PositionID:    fieldString(fields, "position_id"),
			Quantity:      fieldNumber(fields, "quantity"),
			AvgPrice:      fieldNumber(fields, "avg_price"),
			UnrealizedPnL: fieldNumber(fields, "unrealized_pnl"),
			RealizedPnL:   fieldNumber(fields, "realized_pnl"),
		}, nil
	case TypeIndicatorCalculation:
		return IndicatorPayload{
			Name:     fieldString(fields, "indicator_name", "name"),
			Security: fieldString(fields, "security", "symbol"),
			Value:    fieldNumber(fields, "value"),
		}, nil
	case TypeOrderPlacement:
		return OrderPayload{
			OrderID:  fieldString(fields, "order_id"),
			Security: fieldString(fields, "security", "symbol"),
			Side:     fieldString(fields, "side"),
			Quantity: fieldNumber(fields, "quantity"),
			Price:    fieldNumber(fields, "price"),
		}, nil
	case TypeTradeExecution:
		return TradePayload{
			OrderID:  fieldString(fields, "order_id"),
			TradeID:  fieldString(fields, "trade_id"),
			Security: fieldString(fields, "security", "symbol"),
			Side:     fieldString(fields, "side"),
			Quantity: fieldNumber(fields, "quantity"),
			Price:    fieldNumber(fields, "price"),
		}, nil
	case TypeStateChange:
		return StateChangePayload{
			StateType: fieldString(fields, "state_type"),
			Before:    fieldPnL(fields, "before"),
			After:     fieldPnL(fields, "after"),
		}, nil
	default:
		return RawPayload{Type: e.Type, Fields: fields}, nil
	}
}

// ParseNumeric converts a JSON or SQL scalar to float64.
//
// Accepted: numbers of any Go numeric kind, json.Number, and strings or
// byte slices holding a finite decimal number. Everything else (nil,
// bools, objects, non-numeric text, NaN/Inf) reports false.
func ParseNumeric(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int64:
		f = float64(val)
	case int:
		f = float64(val)
	case int32:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case []byte:
		return ParseNumeric(string(val))
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func decodeFields(props json.RawMessage) (map[string]json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(props)) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(props, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func fieldString(fields map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		if raw, ok := fields[k]; ok {
			if s, ok := scalarString(raw); ok {
				return s
			}
		}
	}
	return ""
}

func fieldNumber(fields map[string]json.RawMessage, key string) float64 {
	raw, ok := fields[key]
	if !ok {
		return 0
	}
	return rawNumber(raw)
}

func rawNumber(raw json.RawMessage) float64 {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0
	}
	f, _ := ParseNumeric(v)
	return f
}

func fieldPnL(fields map[string]json.RawMessage, key string) *PnLValues {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	var sub map[string]json.RawMessage
	if err := json.Unmarshal(raw, &sub); err != nil || sub == nil {
		return nil
	}
	return &PnLValues{
		Realized:   fieldNumber(sub, "realized"),
		Unrealized: fieldNumber(sub, "unrealized"),
		Total:      fieldNumber(sub, "total"),
	}
}
