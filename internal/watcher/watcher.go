// Package watcher detects replacement of the log file and asks its owner to
// reconnect.
//
// A new run typically produces a burst of notifications (the main file plus
// its -wal, -shm and -journal companions). The watcher debounces the burst
// into a single reconnect request.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last notification before a
// reconnect is requested.
const DefaultDebounce = 500 * time.Millisecond

// State is the watcher's position in its small state machine.
type State int

const (
	Idle State = iota
	PendingChange
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case PendingChange:
		return "PendingChange"
	case Reconnecting:
		return "Reconnecting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ReconnectFunc closes and reopens the owner's connection. A returned error
// is logged; the next notification triggers another attempt.
type ReconnectFunc func(ctx context.Context) error

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// Watcher observes the directory containing a database file.
//
// Thread-safety: State may be called from any goroutine. Run must be
// called at most once.
type Watcher struct {
	path      string
	names     map[string]bool
	debounce  time.Duration
	reconnect ReconnectFunc
	logger    *slog.Logger

	fsw *fsnotify.Watcher

	mu    sync.Mutex
	state State
}

// New starts watching the directory of path. The directory must exist.
func New(path string, reconnect ReconnectFunc, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	base := filepath.Base(abs)
	w := &Watcher{
		path: abs,
		names: map[string]bool{
			base:              true,
			base + "-wal":     true,
			base + "-shm":     true,
			base + "-journal": true,
		},
		debounce:  DefaultDebounce,
		reconnect: reconnect,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	w.fsw = fsw
	return w, nil
}

// Path returns the watched database path.
func (w *Watcher) Path() string {
	return w.path
}

// Close stops the underlying fs watcher, which also ends Run.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// State returns the current state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Run processes notifications until ctx is cancelled or the underlying
// watcher is closed. It always closes the fs watcher before returning.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("database file changed", "path", ev.Name, "op", ev.Op.String())
			w.setState(PendingChange)
			timer.Reset(w.debounce)
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were dropped; assume the file changed.
				w.setState(PendingChange)
				timer.Reset(w.debounce)
				fire = timer.C
				continue
			}
			w.logger.Warn("file watcher error", "error", err)

		case <-fire:
			fire = nil
			w.setState(Reconnecting)
			if err := w.reconnect(ctx); err != nil {
				w.logger.Warn("reconnect failed, waiting for next change", "path", w.path, "error", err)
			}
			w.setState(Idle)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	return w.names[filepath.Base(ev.Name)]
}
