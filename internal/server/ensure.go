package server

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/roach88/btdebug/internal/instance"
)

// EnsureOptions configures EnsureRunning.
type EnsureOptions struct {
	// Executable is the btdebug binary; empty means os.Executable().
	Executable   string
	DatabasePath string
	ConfigPath   string
	RuntimeDir   string
	InstanceName string
	Driver       string
}

// Args returns the serve command line for the detached server.
func (o EnsureOptions) Args() []string {
	args := []string{"serve",
		"--database", o.DatabasePath,
		"--runtime-dir", o.RuntimeDir,
		"--instance", o.InstanceName,
		"--exit-on-stdin-close=false",
	}
	if o.Driver != "" {
		args = append(args, "--driver", o.Driver)
	}
	if o.ConfigPath != "" {
		args = append(args, "--config", o.ConfigPath)
	}
	return args
}

// EnsureRunning spawns a detached server when no instance holds the lock.
// It returns false, nil when a server is already running.
//
// The child's stdio is detached: stdin reads /dev/null and output goes to
// <runtime_dir>/<instance>.log.
func EnsureRunning(opts EnsureOptions) (bool, error) {
	lock := instance.NewLock(opts.RuntimeDir, opts.InstanceName)
	ok, err := lock.TryAcquire()
	if err != nil {
		return false, fmt.Errorf("probe instance lock: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := lock.Dispose(); err != nil {
		return false, err
	}

	exe := opts.Executable
	if exe == "" {
		if exe, err = os.Executable(); err != nil {
			return false, fmt.Errorf("locate executable: %w", err)
		}
	}
	abs, err := filepath.Abs(opts.DatabasePath)
	if err != nil {
		return false, fmt.Errorf("resolve database path: %w", err)
	}
	opts.DatabasePath = abs

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return false, err
	}
	defer devNull.Close()
	logFile, err := os.OpenFile(filepath.Join(opts.RuntimeDir, opts.InstanceName+".log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return false, fmt.Errorf("open server log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, opts.Args()...)
	cmd.Stdin = devNull
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("spawn server: %w", err)
	}
	slog.Info("spawned server", "pid", cmd.Process.Pid, "database", abs)
	// The child outlives us; release our handle without waiting.
	return true, cmd.Process.Release()
}
