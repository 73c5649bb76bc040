package instance

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	cmdShutdown = "shutdown"
	replyOK     = "ok"

	connTimeout = 2 * time.Second
)

// SocketPath returns the shutdown socket path for name.
func SocketPath(dir, name string) string {
	return filepath.Join(dir, name+".sock")
}

// ShutdownSignal is the server side of the named shutdown signal: a unix
// socket that accepts a single "shutdown" command.
type ShutdownSignal struct {
	path string
	ln   net.Listener

	once  sync.Once
	fired chan struct{}
	done  chan struct{}
}

// CreateForServer creates the signal, unset. Only the instance lock owner
// may call it: any existing socket file is assumed stale and removed.
func CreateForServer(dir, name string) (*ShutdownSignal, error) {
	path := SocketPath(dir, name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create runtime dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}

	s := &ShutdownSignal{
		path:  path,
		ln:    ln,
		fired: make(chan struct{}),
		done:  make(chan struct{}),
	}
	go s.accept()
	return s, nil
}

// Path returns the socket path.
func (s *ShutdownSignal) Path() string {
	return s.path
}

// Fired returns a channel closed once shutdown has been requested.
func (s *ShutdownSignal) Fired() <-chan struct{} {
	return s.fired
}

// WaitForShutdown blocks until the signal is set or ctx is done. It returns
// nil when signalled and ctx.Err() otherwise.
func (s *ShutdownSignal) WaitForShutdown(ctx context.Context) error {
	select {
	case <-s.fired:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting and removes the socket file.
func (s *ShutdownSignal) Close() error {
	err := s.ln.Close()
	<-s.done
	if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) && err == nil {
		err = rmErr
	}
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (s *ShutdownSignal) accept() {
	defer close(s.done)
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Warn("shutdown signal accept failed", "error", err)
			}
			return
		}
		s.serve(conn)
	}
}

func (s *ShutdownSignal) serve(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}
	switch cmd := strings.TrimSpace(line); cmd {
	case cmdShutdown:
		fmt.Fprintln(conn, replyOK)
		s.once.Do(func() { close(s.fired) })
	default:
		fmt.Fprintf(conn, "error unknown command %q\n", cmd)
	}
}

// Signal asks the server registered under name to shut down. It returns
// false, nil when no server is listening: the socket is missing or stale.
func Signal(ctx context.Context, dir, name string) (bool, error) {
	d := net.Dialer{Timeout: connTimeout}
	conn, err := d.DialContext(ctx, "unix", SocketPath(dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return false, nil
		}
		return false, fmt.Errorf("connect shutdown socket: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	if _, err := fmt.Fprintln(conn, cmdShutdown); err != nil {
		return false, fmt.Errorf("send shutdown: %w", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && reply == "" {
		return false, fmt.Errorf("read shutdown reply: %w", err)
	}
	if strings.TrimSpace(reply) != replyOK {
		return false, fmt.Errorf("shutdown rejected: %s", strings.TrimSpace(reply))
	}
	return true, nil
}
