package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/btdebug/internal/queryir"
	"github.com/roach88/btdebug/internal/store"
)

// SQLCompiler compiles queryir queries to parameterized SQL for SQLite.
//
// CRITICAL: every row-returning query is ordered by (timestamp, seq) so
// pagination is deterministic.
// CRITICAL: all values are parameterized, never interpolated. The only
// identifiers written into SQL text are allow-listed column names.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts a query to parameterized SQL.
// Returns (sql, params, error). Queries failing queryir.Validate are
// rejected before any SQL is produced.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}
	if err := queryir.Validate(q); err != nil {
		return "", nil, err
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	case queryir.Count:
		return c.compileCount(query)
	case *queryir.Count:
		return c.compileCount(*query)
	case queryir.Extract:
		return c.compileExtract(query)
	case *queryir.Extract:
		return c.compileExtract(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

// compileSelect compiles a Select to SQL.
// MANDATORY: includes ORDER BY.
func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	where, params, err := c.compileWhere(q.Filter)
	if err != nil {
		return "", nil, err
	}

	sql := "SELECT " + store.EventColumns + " FROM events e" + where + " ORDER BY " + c.stableOrderKey()
	if q.Limit != nil {
		sql += " LIMIT ? OFFSET ?"
		params = append(params, q.Limit.Count, q.Limit.Offset)
	}
	return sql, params, nil
}

// compileCount compiles a Count to SQL. Counts need no ordering.
func (c *SQLCompiler) compileCount(q queryir.Count) (string, []any, error) {
	where, params, err := c.compileWhere(q.Filter)
	if err != nil {
		return "", nil, err
	}
	return "SELECT COUNT(*) FROM events e" + where, params, nil
}

// compileExtract compiles an Extract to SQL. Each row is
// (json_type, json_extract) so callers can tell JSON booleans, which
// json_extract reports as 1/0, apart from numbers.
// The path was validated against the property path grammar and is still
// bound as a parameter, never spliced into the statement.
func (c *SQLCompiler) compileExtract(q queryir.Extract) (string, []any, error) {
	where, filterParams, err := c.compileWhere(q.Filter)
	if err != nil {
		return "", nil, err
	}
	params := append([]any{string(q.Path), string(q.Path)}, filterParams...)
	sql := "SELECT json_type(e.properties, ?), json_extract(e.properties, ?) FROM events e" + where + " ORDER BY " + c.stableOrderKey()
	return sql, params, nil
}

func (c *SQLCompiler) compileWhere(p queryir.Predicate) (string, []any, error) {
	if p == nil {
		return "", nil, nil
	}
	sql, params, err := c.compilePredicate(p)
	if err != nil {
		return "", nil, fmt.Errorf("compile filter: %w", err)
	}
	return " WHERE " + sql, params, nil
}

// stableOrderKey returns the ORDER BY clause for row-returning queries.
func (c *SQLCompiler) stableOrderKey() string {
	return store.EventOrder
}

// compilePredicate compiles a predicate to a WHERE clause fragment.
// CRITICAL: values NEVER interpolated - always use ? placeholders.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil // Always true
	}

	switch pred := p.(type) {
	case queryir.Equals:
		return c.compileEquals(pred)
	case *queryir.Equals:
		return c.compileEquals(*pred)
	case queryir.IsNull:
		return column(pred.Column) + " IS NULL", nil, nil
	case *queryir.IsNull:
		return column(pred.Column) + " IS NULL", nil, nil
	case queryir.NotNull:
		return column(pred.Column) + " IS NOT NULL", nil, nil
	case *queryir.NotNull:
		return column(pred.Column) + " IS NOT NULL", nil, nil
	case queryir.In:
		return c.compileIn(pred)
	case *queryir.In:
		return c.compileIn(*pred)
	case queryir.TimeRange:
		return c.compileTimeRange(pred)
	case *queryir.TimeRange:
		return c.compileTimeRange(*pred)
	case queryir.HasEntity:
		return c.compileHasEntity(pred)
	case *queryir.HasEntity:
		return c.compileHasEntity(*pred)
	case queryir.HasValidationSeverity:
		return c.compileValidationSeverity(pred)
	case *queryir.HasValidationSeverity:
		return c.compileValidationSeverity(*pred)
	case queryir.And:
		return c.compileAnd(pred)
	case *queryir.And:
		return c.compileAnd(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// column qualifies an allow-listed column with the events alias.
func column(c queryir.Column) string {
	return "e." + string(c)
}

func (c *SQLCompiler) compileEquals(eq queryir.Equals) (string, []any, error) {
	return column(eq.Column) + " = ?", []any{eq.Value}, nil
}

func (c *SQLCompiler) compileIn(in queryir.In) (string, []any, error) {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(in.Values)), ", ")
	params := make([]any, len(in.Values))
	for i, v := range in.Values {
		params[i] = v
	}
	return column(in.Column) + " IN (" + marks + ")", params, nil
}

func (c *SQLCompiler) compileTimeRange(tr queryir.TimeRange) (string, []any, error) {
	var parts []string
	var params []any
	if tr.From != nil {
		parts = append(parts, "e.timestamp >= ?")
		params = append(params, store.ToNanos(*tr.From))
	}
	if tr.To != nil {
		parts = append(parts, "e.timestamp <= ?")
		params = append(params, store.ToNanos(*tr.To))
	}
	if len(parts) == 0 {
		return "1 = 1", nil, nil
	}
	return strings.Join(parts, " AND "), params, nil
}

// compileHasEntity looks the entity up in the covering index.
func (c *SQLCompiler) compileHasEntity(he queryir.HasEntity) (string, []any, error) {
	sql := "e.seq IN (SELECT x.seq FROM event_entities x WHERE x.run_id = ? AND x.entity_type = ? AND x.entity_value = ?)"
	return sql, []any{he.RunID, string(he.Type), he.Value}, nil
}

func (c *SQLCompiler) compileValidationSeverity(vs queryir.HasValidationSeverity) (string, []any, error) {
	sql := "EXISTS (SELECT 1 FROM json_each(e.validation_errors) v WHERE json_extract(v.value, '$.severity') = ?)"
	return sql, []any{string(vs.Severity)}, nil
}

// compileAnd compiles an And predicate to a conjunction.
func (c *SQLCompiler) compileAnd(and queryir.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil // Always true (vacuous truth)
	}

	var sqlParts []string
	var allParams []any

	for _, pred := range and.Predicates {
		sql, params, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		sqlParts = append(sqlParts, sql)
		allParams = append(allParams, params...)
	}

	if len(sqlParts) == 1 {
		return sqlParts[0], allParams, nil
	}
	return "(" + strings.Join(sqlParts, " AND ") + ")", allParams, nil
}
