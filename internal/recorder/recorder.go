// Package recorder is the producer side of the event log: it accepts
// events from a running backtest without blocking on the database and
// writes them in batches on a single writer goroutine.
package recorder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/btdebug/internal/event"
	"github.com/roach88/btdebug/internal/store"
)

const (
	DefaultBatchSize     = 256
	DefaultFlushInterval = 250 * time.Millisecond
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("recorder is closed")

// Sink receives batches. *store.Store implements it.
type Sink interface {
	AppendEvents(ctx context.Context, events []event.Event) (store.AppendResult, error)
}

// Stats counts what the writer has done so far.
type Stats struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithBatchSize flushes as soon as n events are queued.
func WithBatchSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithFlushInterval flushes queued events at least this often.
func WithFlushInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.flushInterval = d
		}
	}
}

// WithIDGenerator assigns IDs to events recorded without one.
func WithIDGenerator(g event.IDGenerator) Option {
	return func(r *Recorder) {
		if g != nil {
			r.ids = g
		}
	}
}

// WithLogger overrides slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// Recorder buffers events for one run.
//
// Thread-safety: Record, Flush, Stats and Close are safe for concurrent
// use. Events are written in the order Record accepted them.
type Recorder struct {
	sink          Sink
	runID         string
	batchSize     int
	flushInterval time.Duration
	ids           event.IDGenerator
	logger        *slog.Logger

	queue    *eventQueue
	flushReq chan chan struct{}
	done     chan struct{}

	mu       sync.Mutex
	stats    Stats
	firstErr error
}

// New starts the writer goroutine. Events recorded without a run_id are
// stamped with runID.
func New(sink Sink, runID string, opts ...Option) *Recorder {
	r := &Recorder{
		sink:          sink,
		runID:         runID,
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
		ids:           event.UUIDv7Generator{},
		logger:        slog.Default(),
		queue:         newEventQueue(),
		flushReq:      make(chan chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.loop()
	return r
}

// Record validates e and queues it. Validation errors are returned
// synchronously; write errors surface from Flush and Close.
func (r *Recorder) Record(e event.Event) error {
	if e.ID == "" {
		e.ID = r.ids.Generate()
	}
	if e.RunID == "" {
		e.RunID = r.runID
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if !r.queue.Enqueue(e) {
		return ErrClosed
	}
	return nil
}

// Flush blocks until everything recorded so far has been written.
func (r *Recorder) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case r.flushReq <- ack:
	case <-r.done:
		return r.err()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return r.err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, writes what is queued and waits for the
// writer to exit. It returns the first write error, if any.
func (r *Recorder) Close(ctx context.Context) error {
	r.queue.Close()
	select {
	case <-r.done:
		return r.err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a copy of the counters.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Recorder) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstErr
}

func (r *Recorder) loop() {
	defer close(r.done)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.queue.Wait():
			if r.queue.Closed() {
				r.drain()
				return
			}
			for r.queue.Len() >= r.batchSize {
				r.write(r.queue.TakeUpTo(r.batchSize))
			}
		case <-ticker.C:
			r.drain()
		case ack := <-r.flushReq:
			r.drain()
			close(ack)
		}
	}
}

func (r *Recorder) drain() {
	for {
		batch := r.queue.TakeUpTo(r.batchSize)
		if len(batch) == 0 {
			return
		}
		r.write(batch)
	}
}

func (r *Recorder) write(batch []event.Event) {
	res, err := r.sink.AppendEvents(context.Background(), batch)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.stats.Failed += len(batch)
		if r.firstErr == nil {
			r.firstErr = err
		}
		r.logger.Error("append batch failed", "run_id", r.runID, "events", len(batch), "error", err)
		return
	}
	r.stats.Inserted += res.Inserted
	r.stats.Duplicates += len(res.Duplicates)
	for _, id := range res.Duplicates {
		r.logger.Warn("duplicate event skipped", "run_id", r.runID, "event_id", id)
	}
	r.logger.Debug("batch written", "run_id", r.runID, "inserted", res.Inserted)
}
