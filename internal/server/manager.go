// Package server runs the long-lived query server: it owns the instance
// lock, the shutdown signal, the database watcher and the store handle, and
// moves between them through an explicit state machine:
//
//	Stopped → Starting → Running ⇄ Reconnecting → Stopping → Stopped
//
// with Error reachable from Starting and Reconnecting.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/roach88/btdebug/internal/apperr"
	"github.com/roach88/btdebug/internal/dispatch"
	"github.com/roach88/btdebug/internal/instance"
	"github.com/roach88/btdebug/internal/store"
	"github.com/roach88/btdebug/internal/watcher"
)

// State is the manager's lifecycle state.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Reconnecting
	Stopping
	Error
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Reconnecting:
		return "Reconnecting"
	case Stopping:
		return "Stopping"
	case Error:
		return "Error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrAlreadyRunning is returned by Start when another process holds the
// instance lock.
var ErrAlreadyRunning = errors.New("another server instance is already running")

// Options configures a Manager.
type Options struct {
	DatabasePath   string
	Driver         string
	RuntimeDir     string
	InstanceName   string
	Debounce       time.Duration
	OpenRetries    int
	OpenRetryDelay time.Duration
	Logger         *slog.Logger
}

func (o *Options) setDefaults() {
	if o.Driver == "" {
		o.Driver = store.DefaultDriver
	}
	if o.InstanceName == "" {
		o.InstanceName = "btdebug"
	}
	if o.Debounce <= 0 {
		o.Debounce = watcher.DefaultDebounce
	}
	if o.OpenRetries < 1 {
		o.OpenRetries = 1
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Manager is the single lifecycle owner inside a server process.
//
// Thread-safety: all methods are safe for concurrent use. Queries hold the
// read lock for their duration; state changes and handle swaps take the
// write lock briefly.
type Manager struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	lock    *instance.Lock
	signal  *instance.ShutdownSignal
	watcher *watcher.Watcher

	mu         sync.RWMutex
	state      State
	session    dispatch.Session
	fileInfo   os.FileInfo
	startedAt  time.Time
	reconnects int
	lastErr    error
}

// NewManager creates a stopped manager.
func NewManager(opts Options) *Manager {
	opts.setDefaults()
	return &Manager{
		opts:   opts,
		logger: opts.Logger,
		now:    time.Now,
		lock:   instance.NewLock(opts.RuntimeDir, opts.InstanceName),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.logger.Debug("server state", "from", m.state.String(), "to", s.String())
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) fail(err error) error {
	m.mu.Lock()
	m.state = Error
	m.lastErr = err
	m.mu.Unlock()
	m.logger.Error("server error", "error", err)
	return err
}

// Start moves Stopped → Starting → Running. It returns ErrAlreadyRunning
// (state back to Stopped) when the instance lock is held elsewhere.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Stopped {
		st := m.state
		m.mu.Unlock()
		return fmt.Errorf("start: server is %s", st)
	}
	m.state = Starting
	m.mu.Unlock()

	ok, err := m.lock.TryAcquire()
	if err != nil {
		return m.fail(fmt.Errorf("acquire instance lock: %w", err))
	}
	if !ok {
		m.setState(Stopped)
		return ErrAlreadyRunning
	}

	st, info, err := m.openStore(ctx, store.Open)
	if err != nil {
		_ = m.lock.Dispose()
		return m.fail(fmt.Errorf("open database: %w", err))
	}

	sig, err := instance.CreateForServer(m.opts.RuntimeDir, m.opts.InstanceName)
	if err != nil {
		st.Close()
		_ = m.lock.Dispose()
		return m.fail(fmt.Errorf("create shutdown signal: %w", err))
	}

	w, err := watcher.New(m.opts.DatabasePath, m.Reconnect,
		watcher.WithDebounce(m.opts.Debounce), watcher.WithLogger(m.logger))
	if err != nil {
		sig.Close()
		st.Close()
		_ = m.lock.Dispose()
		return m.fail(fmt.Errorf("start watcher: %w", err))
	}

	m.mu.Lock()
	m.signal = sig
	m.watcher = w
	m.session = dispatch.NewSession(st)
	m.fileInfo = info
	m.startedAt = m.now()
	m.state = Running
	m.mu.Unlock()

	m.logger.Info("server running", "database", m.opts.DatabasePath, "driver", m.opts.Driver,
		"instance", m.opts.InstanceName, "pid", os.Getpid())
	return nil
}

// Run serves until the shutdown signal fires, ctx is cancelled or serve
// returns, then stops the manager. Start must have succeeded.
//
// serve receives a context cancelled on shutdown. If serve returns nil
// (e.g. stdin closed) and stayAlive is set, Run keeps waiting for the
// shutdown signal or ctx.
func (m *Manager) Run(ctx context.Context, serve func(context.Context) error, stayAlive bool) error {
	m.mu.RLock()
	sig, w := m.signal, m.watcher
	m.mu.RUnlock()
	if sig == nil || w == nil {
		return errors.New("run: server not started")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := sig.WaitForShutdown(ctx); err == nil {
			m.logger.Info("shutdown requested")
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		if err := w.Run(ctx); err != nil {
			m.logger.Warn("watcher stopped", "error", err)
		}
	}()

	serveErr := serve(ctx)
	if serveErr == nil && stayAlive {
		m.logger.Info("input closed, waiting for shutdown signal")
		<-ctx.Done()
	}
	cancel()
	wg.Wait()

	stopErr := m.Stop()
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return stopErr
}

// Stop moves to Stopping, releases every resource, and ends in Stopped.
// It is idempotent.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.state == Stopped {
		m.mu.Unlock()
		return nil
	}
	m.state = Stopping
	sess, sig, w := m.session, m.signal, m.watcher
	m.session = dispatch.Session{}
	m.signal, m.watcher = nil, nil
	m.mu.Unlock()

	var errs []error
	if w != nil {
		_ = w.Close()
	}
	if sess.Store != nil {
		if err := sess.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if sig != nil {
		if err := sig.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close shutdown signal: %w", err))
		}
	}
	if err := m.lock.Dispose(); err != nil {
		errs = append(errs, fmt.Errorf("release instance lock: %w", err))
	}

	m.setState(Stopped)
	m.logger.Info("server stopped")
	return errors.Join(errs...)
}

// WithSession runs fn against the current store while holding the read
// lock. It fails fast with DatabaseUnavailable unless Running.
func (m *Manager) WithSession(ctx context.Context, fn func(dispatch.Session) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != Running || m.session.Store == nil {
		return apperr.ErrDatabaseUnavailable
	}
	return fn(m.session)
}

// Reconnect closes the current handle and reopens the database file. It is
// the watcher's reconnect handler.
//
// Nothing happens when the file on disk is still the one already open.
// A missing file leaves the manager Reconnecting; the next notification
// retries.
func (m *Manager) Reconnect(ctx context.Context) error {
	info, statErr := os.Stat(m.opts.DatabasePath)

	m.mu.Lock()
	switch m.state {
	case Running, Reconnecting, Error:
	default:
		st := m.state
		m.mu.Unlock()
		return fmt.Errorf("reconnect: server is %s", st)
	}
	if statErr == nil && m.state == Running && m.fileInfo != nil && os.SameFile(m.fileInfo, info) {
		m.mu.Unlock()
		m.logger.Debug("database file unchanged, skipping reconnect", "path", m.opts.DatabasePath)
		return nil
	}
	m.state = Reconnecting
	old := m.session
	m.session = dispatch.Session{}
	m.fileInfo = nil
	m.mu.Unlock()

	m.logger.Info("reconnecting", "path", m.opts.DatabasePath)
	if old.Store != nil {
		if err := old.Store.Close(); err != nil {
			m.logger.Warn("close old database", "error", err)
		}
	}

	st, newInfo, err := m.openStore(ctx, store.OpenExisting)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return err
		}
		return m.fail(fmt.Errorf("reopen database: %w", err))
	}

	m.mu.Lock()
	m.session = dispatch.NewSession(st)
	m.fileInfo = newInfo
	m.reconnects++
	m.state = Running
	m.lastErr = nil
	m.mu.Unlock()

	m.logger.Info("reconnected", "path", m.opts.DatabasePath)
	return nil
}

type openFunc func(path string, opts ...store.Option) (*store.Store, error)

// openStore opens the database with bounded retries. A missing file is not
// retried.
func (m *Manager) openStore(ctx context.Context, open openFunc) (*store.Store, os.FileInfo, error) {
	var lastErr error
	for attempt := 1; attempt <= m.opts.OpenRetries; attempt++ {
		st, err := open(m.opts.DatabasePath, store.WithDriver(m.opts.Driver))
		if err == nil {
			info, statErr := os.Stat(m.opts.DatabasePath)
			if statErr != nil {
				st.Close()
				return nil, nil, apperr.Wrap(apperr.CodeNotFound, "database file vanished", statErr)
			}
			return st, info, nil
		}
		if apperr.Is(err, apperr.CodeNotFound) {
			return nil, nil, err
		}
		lastErr = err
		m.logger.Warn("open database failed", "attempt", attempt, "of", m.opts.OpenRetries, "error", err)
		if attempt < m.opts.OpenRetries {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(m.opts.OpenRetryDelay):
			}
		}
	}
	return nil, nil, lastErr
}
