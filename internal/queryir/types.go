package queryir

import (
	"time"

	"github.com/roach88/btdebug/internal/event"
)

// Query represents an abstract query over the events table.
//
// This is a sealed interface - only types in this package implement it.
//
// Query types:
//   - Select: a page of whole events in canonical order
//   - Count: the number of events matching a filter
//   - Extract: one property value per matching event, in canonical order
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Predicate represents a filter condition over events.
//
// This is a sealed interface - only types in this package implement it.
//
// Predicate types:
//   - Equals: column = literal
//   - IsNull / NotNull: column IS [NOT] NULL
//   - In: column IN (literals)
//   - TimeRange: inclusive timestamp bounds
//   - HasEntity: the event carries an entity key with the given value
//   - HasValidationSeverity: some validation error has the given severity
//   - And: all predicates must be true
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Column names an events column a predicate may reference.
// Only the columns below are accepted; anything else fails validation.
type Column string

const (
	ColEventID          Column = "event_id"
	ColRunID            Column = "run_id"
	ColEventType        Column = "event_type"
	ColSeverity         Column = "severity"
	ColCategory         Column = "category"
	ColParentID         Column = "parent_event_id"
	ColValidationErrors Column = "validation_errors"
)

// Columns lists every column predicates may reference.
var Columns = []Column{
	ColEventID,
	ColRunID,
	ColEventType,
	ColSeverity,
	ColCategory,
	ColParentID,
	ColValidationErrors,
}

// Limit bounds a Select. A nil *Limit selects every matching row.
type Limit struct {
	Count  int
	Offset int
}

// Select returns whole events ordered by (timestamp, insertion).
//
// Semantics:
//
//	SELECT <event columns> FROM events WHERE <filter>
//	ORDER BY timestamp, seq [LIMIT n OFFSET m]
type Select struct {
	Filter Predicate // WHERE conditions (nil = no filter)
	Limit  *Limit    // nil = unbounded
}

func (Select) queryNode() {}

// Count returns the number of events matching Filter.
type Count struct {
	Filter Predicate
}

func (Count) queryNode() {}

// Extract returns the value at Path in each matching event's properties,
// one row per event. Events without the path yield a NULL row; callers
// decide whether that counts.
type Extract struct {
	Path   PropertyPath
	Filter Predicate
}

func (Extract) queryNode() {}

// Equals matches column = value.
type Equals struct {
	Column Column
	Value  string
}

func (Equals) predicateNode() {}

// IsNull matches column IS NULL.
type IsNull struct {
	Column Column
}

func (IsNull) predicateNode() {}

// NotNull matches column IS NOT NULL.
type NotNull struct {
	Column Column
}

func (NotNull) predicateNode() {}

// In matches column IN (values). Values must be non-empty.
type In struct {
	Column Column
	Values []string
}

func (In) predicateNode() {}

// TimeRange bounds event timestamps. Both ends are inclusive; a nil end
// is unbounded.
type TimeRange struct {
	From *time.Time
	To   *time.Time
}

func (TimeRange) predicateNode() {}

// HasEntity matches events whose properties carry entity Type with
// exactly Value. Lookups go through the entity index, never through the
// properties document.
type HasEntity struct {
	RunID string
	Type  event.EntityType
	Value string
}

func (HasEntity) predicateNode() {}

// HasValidationSeverity matches events with at least one validation
// error of the given severity.
type HasValidationSeverity struct {
	Severity event.Severity
}

func (HasValidationSeverity) predicateNode() {}

// And represents a conjunction of predicates (all must be true).
// An empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// AndOf builds an And from the non-nil predicates given.
func AndOf(preds ...Predicate) And {
	out := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	return And{Predicates: out}
}
