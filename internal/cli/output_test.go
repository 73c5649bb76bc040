package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/btdebug/internal/apperr"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("NotFound", "run r1 not found", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NotFound", resp.Error.Code)
	assert.Equal(t, "run r1 not found", resp.Error.Message)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	tests := []struct {
		name string
		data any
		want string
	}{
		{"string", "server stopped", "server stopped\n"},
		{"stringer", StatusResult{Instance: "main"}, "instance \"main\": not running\n"},
		{"struct as indented json", map[string]int{"count": 2}, "{\n  \"count\": 2\n}\n"},
		{"html is not escaped", map[string]string{"path": "$.a<b"}, "{\n  \"path\": \"$.a<b\"\n}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf}

			require.NoError(t, formatter.Success(tt.data))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("LockedFile", "events.db-wal is locked", map[string]int{"attempts": 5})
	require.NoError(t, err)
	assert.Equal(t, "Error [LockedFile]: events.db-wal is locked\n", buf.String())
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := map[string]string{"path": "events.db"}
	err := formatter.Error("LockedFile", "database is locked", details)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [LockedFile]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_AppError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"coded", apperr.NotFound("run %s not found", "r1"), "Error [NotFound]: run r1 not found\n"},
		{"wrapped cause", apperr.Wrap(apperr.CodeInvalidArgument, "malformed request", errors.New("eof")), "Error [InvalidArgument]: malformed request: eof\n"},
		{"wrapped by fmt", fmt.Errorf("query: %w", apperr.InvalidArgument("bad path")), "Error [InvalidArgument]: bad path\n"},
		{"plain", errors.New("boom"), "Error [Internal]: boom\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf}
			require.NoError(t, formatter.AppError(tt.err))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    out,
				ErrWriter: errOut,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("Processing %s", "events.jsonl")

			assert.Empty(t, out.String(), "diagnostics never go to stdout")
			if tt.wantLog {
				assert.Contains(t, errOut.String(), "Processing events.jsonl")
			} else {
				assert.Empty(t, errOut.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitFailure, "server error", errors.New("pipe")))
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
	assert.Equal(t, "outer: server error: pipe", wrapped.Error())
}
