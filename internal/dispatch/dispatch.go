// Package dispatch maps line-delimited JSON requests to query and state
// operations.
//
// Each input line is one request:
//
//	{"id": 1, "method": "query_events", "params": {"run_id": "r1"}}
//
// and produces exactly one output line:
//
//	{"id": 1, "status": "ok", "data": {...}}
//	{"id": 1, "status": "error", "error": {"code": "InvalidArgument", "message": "..."}}
//
// Requests are handled strictly in arrival order. A malformed line, an
// unknown method or a panic inside a handler produces an error response;
// none of them stops the loop.
package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/roach88/btdebug/internal/apperr"
	"github.com/roach88/btdebug/internal/query"
	"github.com/roach88/btdebug/internal/state"
	"github.com/roach88/btdebug/internal/store"
)

// MaxLineBytes bounds a single request line.
const MaxLineBytes = 4 << 20

// Session bundles the engines bound to one open store.
type Session struct {
	Store *store.Store
	Query *query.Engine
	State *state.Reconstructor
}

// NewSession binds engines to s.
func NewSession(s *store.Store, opts ...query.Option) Session {
	return Session{Store: s, Query: query.New(s, opts...), State: state.New(s)}
}

// Backend provides sessions to the dispatcher.
//
// WithSession must fail with a DatabaseUnavailable error when no store is
// usable rather than block.
type Backend interface {
	WithSession(ctx context.Context, fn func(Session) error) error
	Status() any
}

// Request is one decoded input line.
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one output line.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Status string          `json:"status"`
	Data   any             `json:"data,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody is the structured error of a failed request.
type ErrorBody struct {
	Code      apperr.Code `json:"code"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable,omitempty"`
}

const (
	statusOK    = "ok"
	statusError = "error"
)

// Dispatcher routes requests to a Backend.
type Dispatcher struct {
	backend Backend
	methods map[string]method
	logger  *slog.Logger
}

// New creates a Dispatcher over b.
func New(b Backend) *Dispatcher {
	return &Dispatcher{backend: b, methods: methodTable(), logger: slog.Default()}
}

// Methods lists the supported method names in sorted order.
func (d *Dispatcher) Methods() []string {
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call runs a single method. It is the core of Handle and is also used by
// the one-shot query CLI.
func (d *Dispatcher) Call(ctx context.Context, name string, params json.RawMessage) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic", "method", name, "panic", r)
			data, err = nil, apperr.New(apperr.CodeInternal, "internal error in %s: %v", name, r)
		}
	}()

	m, ok := d.methods[name]
	if !ok {
		return nil, apperr.InvalidArgument("unknown method %q", name)
	}
	if !m.session {
		return m.call(ctx, d, Session{}, params)
	}
	err = d.backend.WithSession(ctx, func(s Session) error {
		var callErr error
		data, callErr = m.call(ctx, d, s, params)
		return callErr
	})
	return data, err
}

// Handle decodes one request line and returns its response.
func (d *Dispatcher) Handle(ctx context.Context, line []byte) Response {
	var req Request
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return errorResponse(nil, apperr.Wrap(apperr.CodeInvalidArgument, "malformed request", err))
	}
	if req.Method == "" {
		return errorResponse(req.ID, apperr.InvalidArgument("method is required"))
	}

	data, err := d.Call(ctx, req.Method, req.Params)
	if err != nil {
		d.logger.Debug("request failed", "method", req.Method, "error", err)
		return errorResponse(req.ID, err)
	}
	return Response{ID: idOrNull(req.ID), Status: statusOK, Data: data}
}

// Serve reads requests from r and writes responses to w until r reaches
// EOF (returns nil) or ctx is cancelled (returns ctx.Err()).
//
// The blocking read runs on its own goroutine so cancellation is observed
// between requests; a read still blocked at that point is abandoned.
// A line longer than MaxLineBytes is discarded and answered with an
// InvalidArgument error.
func (d *Dispatcher) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	lines := make(chan inputLine)
	readErr := make(chan error, 1)
	go func() {
		br := bufio.NewReaderSize(r, 64*1024)
		for {
			l, err := readLine(br, MaxLineBytes)
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				readErr <- err
				return
			}
			select {
			case lines <- l:
			case <-ctx.Done():
				return
			}
		}
	}()

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read request: %w", err)
			}
			return nil
		case l := <-lines:
			var resp Response
			switch {
			case l.tooLong:
				d.logger.Warn("request line too long", "limit", MaxLineBytes)
				resp = errorResponse(nil, apperr.InvalidArgument("request exceeds %d bytes", MaxLineBytes))
			case len(bytes.TrimSpace(l.data)) == 0:
				continue
			default:
				resp = d.Handle(ctx, l.data)
			}
			if err := enc.Encode(resp); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
		}
	}
}

// inputLine is one request line. data is nil when tooLong is set.
type inputLine struct {
	data    []byte
	tooLong bool
}

// readLine returns the next line without its newline. A final line with no
// newline is returned before io.EOF. Once a line grows past limit its bytes
// are dropped until the newline.
func readLine(br *bufio.Reader, limit int) (inputLine, error) {
	var l inputLine
	for {
		chunk, err := br.ReadSlice('\n')
		if err == nil {
			chunk = chunk[:len(chunk)-1]
		}
		if !l.tooLong {
			if len(l.data)+len(chunk) > limit {
				l.tooLong, l.data = true, nil
			} else {
				l.data = append(l.data, chunk...)
			}
		}

		switch {
		case err == nil:
			return l, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && (len(l.data) > 0 || l.tooLong):
			return l, nil
		default:
			return l, err
		}
	}
}

func errorResponse(id json.RawMessage, err error) Response {
	body := &ErrorBody{Code: apperr.CodeOf(err), Message: err.Error()}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body.Message = ae.Message
		if ae.Err != nil {
			body.Message += ": " + ae.Err.Error()
		}
		body.Retryable = ae.Retryable()
	}
	return Response{ID: idOrNull(id), Status: statusError, Error: body}
}

func idOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
