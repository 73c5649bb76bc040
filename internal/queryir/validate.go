package queryir

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/btdebug/internal/apperr"
)

// Validate checks that a query only references allow-listed columns,
// carries a valid property path, and uses well-formed predicates.
//
// Request lowering already produces valid queries; Validate is the
// compiler's last line before any text reaches SQL, and catches queries
// built by hand in tests or tools.
//
// All problems are reported together as one InvalidArgument error.
// Validate is a pure function with no side effects.
func Validate(query Query) error {
	v := &validator{}
	v.validateQuery(query)
	if len(v.problems) == 0 {
		return nil
	}
	return apperr.Wrap(apperr.CodeInvalidArgument, "invalid query", errors.Join(v.problems...))
}

// validator accumulates problems during traversal.
type validator struct {
	problems []error
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Errorf(format, args...))
}

// validateQuery validates a query node.
func (v *validator) validateQuery(q Query) {
	if q == nil {
		v.addProblem("nil query")
		return
	}

	switch query := q.(type) {
	case Select:
		v.validateSelect(query)
	case *Select:
		v.validateSelect(*query)
	case Count:
		v.validatePredicate(query.Filter)
	case *Count:
		v.validatePredicate(query.Filter)
	case Extract:
		v.validateExtract(query)
	case *Extract:
		v.validateExtract(*query)
	default:
		v.addProblem("unknown query type %T", q)
	}
}

func (v *validator) validateSelect(sel Select) {
	if sel.Limit != nil {
		if sel.Limit.Count < 0 {
			v.addProblem("negative limit %d", sel.Limit.Count)
		}
		if sel.Limit.Offset < 0 {
			v.addProblem("negative offset %d", sel.Limit.Offset)
		}
	}
	v.validatePredicate(sel.Filter)
}

func (v *validator) validateExtract(ex Extract) {
	if !ex.Path.Valid() {
		v.addProblem("invalid property path %q", ex.Path)
	}
	v.validatePredicate(ex.Filter)
}

// validatePredicate recursively validates a predicate node.
func (v *validator) validatePredicate(p Predicate) {
	if p == nil {
		return // nil predicates are valid (no filter)
	}

	switch pred := p.(type) {
	case Equals:
		v.validateColumn(pred.Column)
	case *Equals:
		v.validateColumn(pred.Column)
	case IsNull:
		v.validateColumn(pred.Column)
	case *IsNull:
		v.validateColumn(pred.Column)
	case NotNull:
		v.validateColumn(pred.Column)
	case *NotNull:
		v.validateColumn(pred.Column)
	case In:
		v.validateIn(pred)
	case *In:
		v.validateIn(*pred)
	case TimeRange:
		v.validateTimeRange(pred)
	case *TimeRange:
		v.validateTimeRange(*pred)
	case HasEntity:
		v.validateEntity(pred)
	case *HasEntity:
		v.validateEntity(*pred)
	case HasValidationSeverity:
		if !pred.Severity.Valid() {
			v.addProblem("invalid severity %q", pred.Severity)
		}
	case *HasValidationSeverity:
		if !pred.Severity.Valid() {
			v.addProblem("invalid severity %q", pred.Severity)
		}
	case And:
		v.validateAnd(pred)
	case *And:
		v.validateAnd(*pred)
	default:
		v.addProblem("unknown predicate type %T", p)
	}
}

func (v *validator) validateColumn(c Column) {
	if !slices.Contains(Columns, c) {
		v.addProblem("unknown column %q", c)
	}
}

func (v *validator) validateIn(in In) {
	v.validateColumn(in.Column)
	if len(in.Values) == 0 {
		v.addProblem("empty IN list for column %q", in.Column)
	}
}

func (v *validator) validateTimeRange(tr TimeRange) {
	if tr.From != nil && tr.To != nil && tr.From.After(*tr.To) {
		v.addProblem("time range start after end")
	}
}

func (v *validator) validateEntity(he HasEntity) {
	if len(he.Type.PropertyKeys()) == 0 {
		v.addProblem("unknown entity type %q", he.Type)
	}
	if he.RunID == "" {
		v.addProblem("entity lookup without run_id")
	}
}

func (v *validator) validateAnd(and And) {
	for _, sub := range and.Predicates {
		v.validatePredicate(sub)
	}
}
