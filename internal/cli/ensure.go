package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/btdebug/internal/config"
	"github.com/roach88/btdebug/internal/server"
)

// EnsureResult is the output of the ensure command.
type EnsureResult struct {
	Spawned  bool   `json:"spawned"`
	Instance string `json:"instance"`
}

func (r EnsureResult) String() string {
	if r.Spawned {
		return "server started"
	}
	return "server already running"
}

// NewEnsureCommand creates the ensure command.
func NewEnsureCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Start a detached server unless one is running",
		Long: `Spawn "btdebug serve" as a detached background process when no process
holds the instance lock. The child's output goes to
<runtime-dir>/<instance>.log.

Example:
  btdebug ensure --database ./events.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnsure(rootOpts, cmd)
		},
	}
	return cmd
}

func runEnsure(opts *RootOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	if err := cfg.RequireDatabase(); err != nil {
		return WrapExitError(ExitCommandError, "ensure", err)
	}
	spawned, err := ensureServer(opts, cfg)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to start server", err)
	}
	return opts.formatter(cmd).Success(EnsureResult{Spawned: spawned, Instance: cfg.InstanceName})
}

func ensureServer(opts *RootOptions, cfg config.Config) (bool, error) {
	return server.EnsureRunning(server.EnsureOptions{
		DatabasePath: cfg.Database,
		ConfigPath:   opts.ConfigPath,
		RuntimeDir:   cfg.RuntimeDir,
		InstanceName: cfg.InstanceName,
		Driver:       cfg.Driver,
	})
}
