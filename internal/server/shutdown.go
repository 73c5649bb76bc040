package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/btdebug/internal/instance"
)

// ShutdownOutcome is the result of RequestShutdown.
type ShutdownOutcome int

const (
	// NoServer: the instance lock was free.
	NoServer ShutdownOutcome = iota
	// ServerStopped: the server released the lock within the timeout.
	ServerStopped
	// ShutdownTimedOut: the lock was still held when the timeout expired.
	ShutdownTimedOut
)

func (o ShutdownOutcome) String() string {
	switch o {
	case NoServer:
		return "no server running"
	case ServerStopped:
		return "server stopped"
	case ShutdownTimedOut:
		return "timed out waiting for server to stop"
	default:
		return fmt.Sprintf("ShutdownOutcome(%d)", int(o))
	}
}

// ShutdownOptions configures RequestShutdown.
type ShutdownOptions struct {
	RuntimeDir   string
	InstanceName string
	Timeout      time.Duration
	PollInterval time.Duration
}

// RequestShutdown is the shutdown requester flow run by a second process:
// if the instance lock is free there is no server; otherwise signal it and
// poll until the lock becomes acquirable or the timeout expires.
func RequestShutdown(ctx context.Context, opts ShutdownOptions) (ShutdownOutcome, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	lock := instance.NewLock(opts.RuntimeDir, opts.InstanceName)

	ok, err := lock.TryAcquire()
	if err != nil {
		return NoServer, fmt.Errorf("probe instance lock: %w", err)
	}
	if ok {
		return NoServer, lock.Dispose()
	}

	signalled, err := instance.Signal(ctx, opts.RuntimeDir, opts.InstanceName)
	if err != nil {
		return ShutdownTimedOut, fmt.Errorf("signal server: %w", err)
	}
	if !signalled {
		// Lock held but nobody listening: the server is still starting.
		slog.Warn("server holds the lock but is not accepting shutdown requests yet")
	}

	deadline := time.NewTimer(opts.Timeout)
	defer deadline.Stop()
	tick := time.NewTicker(opts.PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ShutdownTimedOut, ctx.Err()
		case <-deadline.C:
			return ShutdownTimedOut, nil
		case <-tick.C:
			ok, err := lock.TryAcquire()
			if err != nil {
				return ShutdownTimedOut, fmt.Errorf("probe instance lock: %w", err)
			}
			if ok {
				return ServerStopped, lock.Dispose()
			}
			if !signalled {
				signalled, _ = instance.Signal(ctx, opts.RuntimeDir, opts.InstanceName)
			}
		}
	}
}
