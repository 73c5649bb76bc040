package harness

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/roach88/btdebug/internal/dispatch"
)

// checkExpect compares a response against its expect clause and returns a
// message per mismatch.
func checkExpect(exp *Expect, resp dispatch.Response, raw []byte) []string {
	var errs []string
	if resp.Status != exp.Status {
		msg := fmt.Sprintf("status = %q, want %q", resp.Status, exp.Status)
		if resp.Error != nil {
			msg += fmt.Sprintf(" (%s: %s)", resp.Error.Code, resp.Error.Message)
		}
		return append(errs, msg)
	}
	if exp.Code != "" {
		got := ""
		if resp.Error != nil {
			got = string(resp.Error.Code)
		}
		if got != exp.Code {
			errs = append(errs, fmt.Sprintf("error code = %q, want %q", got, exp.Code))
		}
	}
	if exp.Data != nil {
		var decoded struct {
			Data any `json:"data"`
		}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return append(errs, fmt.Sprintf("decode response: %v", err))
		}
		want, err := normalize(exp.Data)
		if err != nil {
			return append(errs, fmt.Sprintf("normalize expected data: %v", err))
		}
		if !matchSubset(decoded.Data, want) {
			errs = append(errs, fmt.Sprintf("data mismatch:\n  expected (subset): %v\n  actual: %v", want, decoded.Data))
		}
	}
	return errs
}

// normalize round-trips v through JSON so YAML ints compare equal to the
// float64 numbers in decoded responses.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(data, &out)
	return out, err
}

// matchSubset reports whether expected is contained in actual. Objects may
// carry extra keys; arrays must have the same length and match element by
// element.
func matchSubset(actual, expected any) bool {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for key, want := range exp {
			got, exists := act[key]
			if !exists || !matchSubset(got, want) {
				return false
			}
		}
		return true
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !matchSubset(act[i], exp[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(actual, expected)
	}
}
