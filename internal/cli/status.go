package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/btdebug/internal/instance"
)

// StatusResult is the output of the status command.
type StatusResult struct {
	Instance   string `json:"instance"`
	Running    bool   `json:"running"`
	PID        int    `json:"pid,omitempty"`
	RuntimeDir string `json:"runtime_dir"`
	LockPath   string `json:"lock_path"`
	SocketPath string `json:"socket_path"`
}

func (r StatusResult) String() string {
	if !r.Running {
		return fmt.Sprintf("instance %q: not running", r.Instance)
	}
	if r.PID > 0 {
		return fmt.Sprintf("instance %q: running (pid %d)", r.Instance, r.PID)
	}
	return fmt.Sprintf("instance %q: running", r.Instance)
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether a server holds the instance lock",
		Long: `Probe the instance lock without signalling the server.

Example:
  btdebug status --instance main --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	result := StatusResult{
		Instance:   cfg.InstanceName,
		RuntimeDir: cfg.RuntimeDir,
		LockPath:   instance.LockPath(cfg.RuntimeDir, cfg.InstanceName),
		SocketPath: instance.SocketPath(cfg.RuntimeDir, cfg.InstanceName),
	}

	lock := instance.NewLock(cfg.RuntimeDir, cfg.InstanceName)
	free, err := lock.TryAcquire()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to probe instance lock", err)
	}
	if free {
		if err := lock.Dispose(); err != nil {
			return WrapExitError(ExitFailure, "failed to release instance lock", err)
		}
	} else {
		result.Running = true
		if pid, err := instance.HolderPID(cfg.RuntimeDir, cfg.InstanceName); err == nil {
			result.PID = pid
		}
	}
	return opts.formatter(cmd).Success(result)
}
