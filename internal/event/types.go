package event

import (
	"slices"
	"strings"

	"github.com/roach88/btdebug/internal/apperr"
)

// Type is the closed set of event types the backtester emits.
type Type string

const (
	TypeTradeExecution       Type = "TradeExecution"
	TypeOrderPlacement       Type = "OrderPlacement"
	TypeOrderCancellation    Type = "OrderCancellation"
	TypeOrderRejection       Type = "OrderRejection"
	TypePositionUpdate       Type = "PositionUpdate"
	TypeIndicatorCalculation Type = "IndicatorCalculation"
	TypeSignalGenerated      Type = "SignalGenerated"
	TypeRiskCheck            Type = "RiskCheck"
	TypeStateChange          Type = "StateChange"
	TypeMarketDataEvent      Type = "MarketDataEvent"
	TypePerformanceMetric    Type = "PerformanceMetric"
	TypeDataQuality          Type = "DataQuality"
)

// AllTypes lists every valid Type in declaration order.
var AllTypes = []Type{
	TypeTradeExecution,
	TypeOrderPlacement,
	TypeOrderCancellation,
	TypeOrderRejection,
	TypePositionUpdate,
	TypeIndicatorCalculation,
	TypeSignalGenerated,
	TypeRiskCheck,
	TypeStateChange,
	TypeMarketDataEvent,
	TypePerformanceMetric,
	TypeDataQuality,
}

// Severity is the log level of an event or validation warning.
type Severity string

const (
	SeverityDebug   Severity = "Debug"
	SeverityInfo    Severity = "Info"
	SeverityWarning Severity = "Warning"
	SeverityError   Severity = "Error"
)

// AllSeverities lists every valid Severity from least to most severe.
var AllSeverities = []Severity{SeverityDebug, SeverityInfo, SeverityWarning, SeverityError}

// Category groups events by the subsystem that produced them.
type Category string

const (
	CategoryExecution   Category = "Execution"
	CategoryPerformance Category = "Performance"
	CategoryIndicators  Category = "Indicators"
	CategoryData        Category = "Data"
	CategoryAnalysis    Category = "Analysis"
	CategoryPortfolio   Category = "Portfolio"
)

// AllCategories lists every valid Category.
var AllCategories = []Category{
	CategoryExecution,
	CategoryPerformance,
	CategoryIndicators,
	CategoryData,
	CategoryAnalysis,
	CategoryPortfolio,
}

// ParseType parses an event type name case-insensitively.
// Unknown names fail with an InvalidArgument error.
func ParseType(s string) (Type, error) {
	if t, ok := lookup(AllTypes, s); ok {
		return t, nil
	}
	return "", apperr.InvalidArgument("unknown event type %q", s)
}

// ParseSeverity parses a severity name case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	if sev, ok := lookup(AllSeverities, s); ok {
		return sev, nil
	}
	return "", apperr.InvalidArgument("unknown severity %q", s)
}

// ParseCategory parses a category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	if c, ok := lookup(AllCategories, s); ok {
		return c, nil
	}
	return "", apperr.InvalidArgument("unknown category %q", s)
}

// Valid reports whether t is one of AllTypes.
func (t Type) Valid() bool {
	return slices.Contains(AllTypes, t)
}

// Valid reports whether s is one of AllSeverities.
func (s Severity) Valid() bool {
	return slices.Contains(AllSeverities, s)
}

// Valid reports whether c is one of AllCategories.
func (c Category) Valid() bool {
	return slices.Contains(AllCategories, c)
}

func lookup[T ~string](all []T, s string) (T, bool) {
	s = strings.TrimSpace(s)
	for _, v := range all {
		if strings.EqualFold(string(v), s) {
			return v, true
		}
	}
	var zero T
	return zero, false
}
