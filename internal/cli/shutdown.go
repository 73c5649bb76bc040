package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/btdebug/internal/server"
)

// ShutdownResult is the output of the shutdown command.
type ShutdownResult struct {
	Outcome  string `json:"outcome"`
	Instance string `json:"instance"`
}

func (r ShutdownResult) String() string { return r.Outcome }

// NewShutdownCommand creates the shutdown command.
func NewShutdownCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Ask the running server to stop",
		Long: `Signal the server holding the instance lock and wait for it to release
the lock.

Exit codes:
  0 - The server stopped, or no server was running
  1 - The server did not stop within shutdown_timeout

Example:
  btdebug shutdown --instance main
  btdebug --shutdown`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShutdown(rootOpts, cmd)
		},
	}
	return cmd
}

func runShutdown(opts *RootOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	ctx, cancel := signalContext(cmd)
	defer cancel()

	outcome, err := server.RequestShutdown(ctx, server.ShutdownOptions{
		RuntimeDir:   cfg.RuntimeDir,
		InstanceName: cfg.InstanceName,
		Timeout:      cfg.ShutdownTimeout,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "shutdown request failed", err)
	}

	if outcome == server.ShutdownTimedOut {
		slog.Warn("server did not stop in time", "instance", cfg.InstanceName, "timeout", cfg.ShutdownTimeout)
		return NewExitError(ExitFailure, outcome.String())
	}
	return opts.formatter(cmd).Success(ShutdownResult{Outcome: outcome.String(), Instance: cfg.InstanceName})
}
