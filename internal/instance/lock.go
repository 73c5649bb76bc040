// Package instance provides the cross-process primitives that keep a single
// server alive per instance name: an advisory lock file and a unix-socket
// shutdown signal.
//
// Both live under a runtime directory and are named <name>.lock and
// <name>.sock. The kernel drops the lock when its holder dies, so a crashed
// server never blocks the next start.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ErrNotSupported is returned on platforms without advisory file locks.
var ErrNotSupported = errors.New("instance lock not supported on this platform")

// Lock is a named, system-wide mutual-exclusion primitive.
//
// Thread-safety: safe for concurrent use.
type Lock struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// NewLock returns the lock <dir>/<name>.lock. Nothing is touched on disk
// until TryAcquire.
func NewLock(dir, name string) *Lock {
	return &Lock{path: LockPath(dir, name)}
}

// LockPath returns the lock file path for name.
func LockPath(dir, name string) string {
	return filepath.Join(dir, name+".lock")
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Owned reports whether this Lock currently holds the lock.
func (l *Lock) Owned() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}

// TryAcquire takes the lock without blocking. It returns false, nil when
// another holder exists. On success the holder's PID is written to the
// lock file.
func (l *Lock) TryAcquire() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return true, nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return false, fmt.Errorf("create runtime dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}

	ok, err := tryLock(f)
	if err != nil || !ok {
		f.Close()
		return false, err
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	l.file = f
	return true, nil
}

// Dispose releases the lock if this Lock owns it. The lock file is kept so
// every process always locks the same inode.
func (l *Lock) Dispose() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil

	_ = f.Truncate(0)
	if err := unlock(f); err != nil {
		f.Close()
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	return f.Close()
}

// HolderPID reads the PID recorded by the current holder. It returns 0 when
// the file is missing or empty (no holder, or holder not yet written).
func HolderPID(dir, name string) (int, error) {
	data, err := os.ReadFile(LockPath(dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read lock file: %w", err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse holder pid %q: %w", s, err)
	}
	return pid, nil
}
