// Package queryir provides the intermediate representation for event log
// queries.
//
// The Query Engine never builds SQL strings itself. Each request type
// (EventsRequest, EntityRequest, SequencesRequest, AggregateRequest,
// ValidationErrorsRequest) is validated and normalized here, then lowered
// to a Query over the events table that package querysql compiles to
// parameterized SQL:
//
//	[dispatcher params] → [Request] → [Query IR] → [querysql] → SQLite
//
// NORMALIZATION:
//
// Requests are clamped, never rejected, for out-of-range paging:
//   - page_size is clamped to [0, MaxPageSize]; absent means DefaultPageSize
//   - negative page_index becomes 0
//   - max_depth is clamped to [1, MaxDepthLimit]; absent means DefaultMaxDepth
//
// Unparsable enum values, unknown entity types, unknown aggregations and
// malformed property paths are rejected with apperr.CodeInvalidArgument.
//
// SEALED INTERFACES:
//
// Query and Predicate are sealed interfaces using the marker method pattern.
// Only types in this package implement them, so the SQL compiler can use
// exhaustive type switches:
//
//	switch q := query.(type) {
//	case Select:
//	    // page of events
//	case Count:
//	    // total for metadata
//	case Extract:
//	    // one property value per event
//	}
//
// PROPERTY PATHS:
//
// Aggregation reads a value out of each event's opaque properties document
// by a user-supplied path. The path is checked against a strict grammar
// (see ParsePropertyPath) before it reaches the compiler, and the compiler
// binds it as a parameter as well. Only dotted member access is accepted;
// array indexing is not part of the grammar.
package queryir
