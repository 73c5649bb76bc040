package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/btdebug/internal/dispatch"
	"github.com/roach88/btdebug/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ExitOnStdinClose bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the query server on stdio",
		Long: `Run the query server for one instance.

The server takes the instance lock, opens the database (creating it if
missing), watches the file for replacement and answers one JSON request
per stdin line with one JSON response per stdout line. Logs go to stderr.

It stops on SIGINT/SIGTERM, on "btdebug shutdown", or when stdin closes
(unless --exit-on-stdin-close=false).

Exit codes:
  0 - Stopped gracefully, or another instance is already running
  1 - Fatal error while serving
  2 - Startup failure

Example:
  btdebug serve --database ./events.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.ExitOnStdinClose, "exit-on-stdin-close", true, "stop when stdin reaches EOF")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	if cmd.Flags().Changed("exit-on-stdin-close") {
		cfg.ExitOnStdinClose = opts.ExitOnStdinClose
	}
	if err := cfg.RequireDatabase(); err != nil {
		return WrapExitError(ExitCommandError, "serve", err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	m := server.NewManager(server.Options{
		DatabasePath:   cfg.Database,
		Driver:         cfg.Driver,
		RuntimeDir:     cfg.RuntimeDir,
		InstanceName:   cfg.InstanceName,
		Debounce:       cfg.Debounce,
		OpenRetries:    cfg.OpenRetries,
		OpenRetryDelay: cfg.OpenRetryDelay,
		Logger:         slog.Default(),
	})
	if err := m.Start(ctx); err != nil {
		if errors.Is(err, server.ErrAlreadyRunning) {
			// stdout belongs to the protocol; report on stderr.
			fmt.Fprintf(cmd.ErrOrStderr(), "btdebug: instance %q already running\n", cfg.InstanceName)
			return nil
		}
		return WrapExitError(ExitCommandError, "failed to start server", err)
	}

	d := dispatch.New(m)
	serve := func(ctx context.Context) error {
		return d.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	}
	if err := m.Run(ctx, serve, !cfg.ExitOnStdinClose); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	return nil
}
