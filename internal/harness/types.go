package harness

import (
	"bytes"
	"encoding/json"
)

// Exchange is one request line and the response line it produced.
type Exchange struct {
	Request  json.RawMessage `json:"request"`
	Response json.RawMessage `json:"response"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses match.
	Pass bool `json:"pass"`

	// Exchanges holds every request/response pair in order.
	// Used for golden comparison.
	Exchanges []Exchange `json:"exchanges"`

	// Errors contains expectation failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Exchanges: []Exchange{},
		Errors:    []string{},
	}
}

// AddError adds an expectation failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Transcript renders the exchanges as "> request" / "< response" lines,
// the format stored in golden files.
func (r *Result) Transcript() []byte {
	var buf bytes.Buffer
	for _, ex := range r.Exchanges {
		buf.WriteString("> ")
		buf.Write(ex.Request)
		buf.WriteString("\n< ")
		buf.Write(ex.Response)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
