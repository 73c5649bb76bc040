package event

import (
	"bytes"
	"encoding/json"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/btdebug/internal/apperr"
)

// EntityType names a domain entity that can be looked up across events.
type EntityType string

const (
	EntityOrderID        EntityType = "OrderId"
	EntitySecuritySymbol EntityType = "SecuritySymbol"
	EntityPositionID     EntityType = "PositionId"
	EntityIndicatorName  EntityType = "IndicatorName"
	EntityTradeID        EntityType = "TradeId"
	EntityStrategyName   EntityType = "StrategyName"
)

// entityKeys maps each entity type to the top-level property keys that
// carry it. The first key is canonical; later keys are accepted aliases.
var entityKeys = map[EntityType][]string{
	EntityOrderID:        {"order_id"},
	EntitySecuritySymbol: {"security", "symbol"},
	EntityPositionID:     {"position_id"},
	EntityIndicatorName:  {"indicator_name"},
	EntityTradeID:        {"trade_id"},
	EntityStrategyName:   {"strategy"},
}

// AllEntityTypes lists every valid EntityType.
var AllEntityTypes = []EntityType{
	EntityOrderID,
	EntitySecuritySymbol,
	EntityPositionID,
	EntityIndicatorName,
	EntityTradeID,
	EntityStrategyName,
}

// Entity is one (type, value) pair found in an event's properties.
type Entity struct {
	Type  EntityType
	Value string
}

// ParseEntityType parses an entity type name case-insensitively.
func ParseEntityType(s string) (EntityType, error) {
	if et, ok := lookup(AllEntityTypes, s); ok {
		return et, nil
	}
	return "", apperr.InvalidArgument("unknown entity type %q", s)
}

// PropertyKeys returns the property keys that carry this entity type.
func (et EntityType) PropertyKeys() []string {
	return entityKeys[et]
}

// NormalizeEntityValue prepares a value for exact, case-sensitive
// comparison. Strings are NFC normalized so canonically equivalent
// spellings compare equal; case is preserved.
func NormalizeEntityValue(v string) string {
	return norm.NFC.String(v)
}

// ExtractEntities returns the entity values present at the top level of
// a properties document. String and number values are indexed; other
// JSON types are ignored. Malformed documents yield no entities.
//
// IndicatorCalculation events also index a bare "name" key as an
// IndicatorName so producers need not repeat it.
func ExtractEntities(t Type, props json.RawMessage) []Entity {
	if len(bytes.TrimSpace(props)) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(props, &fields); err != nil {
		return nil
	}

	var out []Entity
	seen := make(map[Entity]bool)
	add := func(et EntityType, raw json.RawMessage) {
		v, ok := scalarString(raw)
		if !ok || v == "" {
			return
		}
		e := Entity{Type: et, Value: NormalizeEntityValue(v)}
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}

	for _, et := range AllEntityTypes {
		for _, key := range entityKeys[et] {
			if raw, ok := fields[key]; ok {
				add(et, raw)
			}
		}
	}
	if t == TypeIndicatorCalculation {
		if raw, ok := fields["name"]; ok {
			add(EntityIndicatorName, raw)
		}
	}
	return out
}

// scalarString renders a JSON string or number as text.
func scalarString(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", false
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false
		}
		return s, true
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return "", false
		}
		return strings.TrimSpace(n.String()), true
	default:
		return "", false
	}
}
