package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/btdebug/internal/apperr"
)

// Event is the atomic log record.
//
// Properties is an opaque JSON object whose shape depends on Type. It is
// stored verbatim and only probed by key at query time.
type Event struct {
	ID               string            `json:"event_id"`
	RunID            string            `json:"run_id"`
	Timestamp        time.Time         `json:"timestamp"`
	Type             Type              `json:"event_type"`
	Severity         Severity          `json:"severity"`
	Category         Category          `json:"category"`
	Properties       json.RawMessage   `json:"properties"`
	ParentID         string            `json:"parent_event_id,omitempty"`
	ValidationErrors []ValidationError `json:"validation_errors,omitempty"`
}

// ValidationError is a soft warning recorded alongside a valid event.
// It never causes the event to be rejected.
type ValidationError struct {
	Field    string   `json:"field"`
	Error    string   `json:"error"`
	Severity Severity `json:"severity"`
}

// Run describes one backtest execution. Exactly one run's events live in
// one log file.
type Run struct {
	ID                 string     `json:"id"`
	StartTime          time.Time  `json:"start_time"`
	EndTime            *time.Time `json:"end_time,omitempty"`
	StrategyConfigHash string     `json:"strategy_config_hash"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Validate checks the fields required for an append.
// Properties may be empty (stored as {}); otherwise it must be a JSON object.
func (e *Event) Validate() error {
	if e.ID == "" {
		return apperr.InvalidArgument("event_id is required")
	}
	if e.RunID == "" {
		return apperr.InvalidArgument("run_id is required (event %s)", e.ID)
	}
	if e.Timestamp.IsZero() {
		return apperr.InvalidArgument("timestamp is required (event %s)", e.ID)
	}
	if !e.Type.Valid() {
		return apperr.InvalidArgument("invalid event_type %q (event %s)", e.Type, e.ID)
	}
	if !e.Severity.Valid() {
		return apperr.InvalidArgument("invalid severity %q (event %s)", e.Severity, e.ID)
	}
	if !e.Category.Valid() {
		return apperr.InvalidArgument("invalid category %q (event %s)", e.Category, e.ID)
	}
	if e.ParentID == e.ID {
		return apperr.InvalidArgument("event %s cannot be its own parent", e.ID)
	}
	if len(e.Properties) > 0 && !isJSONObject(e.Properties) {
		return apperr.InvalidArgument("properties must be a JSON object (event %s)", e.ID)
	}
	for i, ve := range e.ValidationErrors {
		if !ve.Severity.Valid() {
			return apperr.InvalidArgument("validation_errors[%d]: invalid severity %q", i, ve.Severity)
		}
	}
	return nil
}

// PropertiesOrEmpty returns Properties, or "{}" when unset.
func (e *Event) PropertiesOrEmpty() json.RawMessage {
	if len(bytes.TrimSpace(e.Properties)) == 0 {
		return json.RawMessage("{}")
	}
	return e.Properties
}

// Props marshals a map into a properties document.
// Intended for producers and tests; panics on unmarshalable input.
func Props(m map[string]any) json.RawMessage {
	data, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Sprintf("event.Props: %v", err))
	}
	return data
}

// Validate checks the fields required to create a run.
func (r *Run) Validate() error {
	if r.ID == "" {
		return apperr.InvalidArgument("run id is required")
	}
	if r.StartTime.IsZero() {
		return apperr.InvalidArgument("run %s: start_time is required", r.ID)
	}
	if r.EndTime != nil && r.EndTime.Before(r.StartTime) {
		return apperr.InvalidArgument("run %s: end_time precedes start_time", r.ID)
	}
	return nil
}

func isJSONObject(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}
