package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/btdebug/internal/apperr"
	"github.com/roach88/btdebug/internal/server"
)

// CleanupResult is the output of the cleanup command.
type CleanupResult struct {
	Removed []string `json:"removed"`
}

func (r CleanupResult) String() string {
	return "removed " + r.Removed[0] + " and companions"
}

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete the database and its companion files",
		Long: `Delete the database file and its -wal, -shm and -journal companions
before a new run recreates it. Locked files are retried cleanup_attempts
times, cleanup_delay apart.

Exit codes:
  0 - Files removed (or already absent)
  1 - A file stayed locked
  2 - Command error

Example:
  btdebug cleanup --database ./events.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(rootOpts, cmd)
		},
	}
	return cmd
}

func runCleanup(opts *RootOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	if err := cfg.RequireDatabase(); err != nil {
		return WrapExitError(ExitCommandError, "cleanup", err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	if err := server.CleanupDatabase(ctx, cfg.Database, cfg.CleanupAttempts, cfg.CleanupDelay); err != nil {
		if apperr.Is(err, apperr.CodeLockedFile) {
			return WrapExitError(ExitFailure, "database is locked", err)
		}
		return WrapExitError(ExitFailure, "cleanup failed", err)
	}
	return opts.formatter(cmd).Success(CleanupResult{Removed: server.DatabaseFiles(cfg.Database)})
}
