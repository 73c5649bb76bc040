package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/btdebug/internal/event"
)

// toNanos converts a timestamp to the stored INTEGER form (unix ns, UTC).
func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

// fromNanos converts a stored INTEGER timestamp back to UTC time.
func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// ToNanos is exported for the SQL compiler, which binds time bounds.
func ToNanos(t time.Time) int64 {
	return toNanos(t)
}

// marshalValidationErrors converts soft warnings to JSON TEXT.
// Returns a NULL value for an empty list so the partial index on
// validation_errors only covers events that carry warnings.
func marshalValidationErrors(errs []event.ValidationError) (sql.NullString, error) {
	if len(errs) == 0 {
		return sql.NullString{}, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(errs); err != nil {
		return sql.NullString{}, fmt.Errorf("marshal validation errors: %w", err)
	}
	return sql.NullString{String: strings.TrimSpace(buf.String()), Valid: true}, nil
}

// unmarshalValidationErrors parses the stored JSON TEXT back to a slice.
func unmarshalValidationErrors(data sql.NullString) ([]event.ValidationError, error) {
	if !data.Valid || data.String == "" {
		return nil, nil
	}
	var errs []event.ValidationError
	if err := json.Unmarshal([]byte(data.String), &errs); err != nil {
		return nil, fmt.Errorf("unmarshal validation errors: %w", err)
	}
	return errs, nil
}

// marshalProperties compacts the properties document for storage.
// The document itself is never interpreted here.
func marshalProperties(props json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(props)
	if len(trimmed) == 0 {
		return "{}", nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "", fmt.Errorf("marshal properties: %w", err)
	}
	return buf.String(), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}
