package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/btdebug/internal/config"
	"github.com/roach88/btdebug/internal/store"
)

// RootOptions holds global flags for all commands. Config is resolved in
// the root's PersistentPreRunE and read by every subcommand.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	EnvFile    string
	Shutdown   bool

	Database     string
	Driver       string
	RuntimeDir   string
	InstanceName string

	// Getenv overrides the process environment (for testing).
	Getenv func(string) string

	Config config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the btdebug CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{EnvFile: ".env", Getenv: os.Getenv})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "btdebug",
		Short: "btdebug - backtest event log debugger",
		Long: `Record, query and replay the event log of a backtest run.

A producer appends events to a SQLite log file. A single long-running
server per instance name serves line-delimited JSON queries over stdio,
follows the log file when a new run replaces it, and stops when asked
through its shutdown signal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.resolveConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Shutdown {
				return runShutdown(opts, cmd)
			}
			return cmd.Help()
		},
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")
	pf.StringVar(&opts.Database, "database", "", "path to the event log database")
	pf.StringVar(&opts.Driver, "driver", store.DefaultDriver, "sqlite driver (sqlite3|sqlite)")
	pf.StringVar(&opts.RuntimeDir, "runtime-dir", config.DefaultRuntimeDir(), "directory for the instance lock and shutdown socket")
	pf.StringVar(&opts.InstanceName, "instance", "btdebug", "instance name")
	cmd.Flags().BoolVar(&opts.Shutdown, "shutdown", false, "ask the running server to stop and exit")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewShutdownCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewCleanupCommand(opts))
	cmd.AddCommand(NewEnsureCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// resolveConfig loads the layered configuration, applies explicitly set
// flags on top, and installs the default logger.
func (o *RootOptions) resolveConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(config.LoadOptions{
		ConfigPath: o.ConfigPath,
		EnvFile:    o.EnvFile,
		Getenv:     o.Getenv,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	flags := cmd.Flags()
	if flags.Changed("database") {
		cfg.Database = o.Database
	}
	if flags.Changed("driver") {
		cfg.Driver = o.Driver
	}
	if flags.Changed("runtime-dir") {
		cfg.RuntimeDir = o.RuntimeDir
	}
	if flags.Changed("instance") {
		cfg.InstanceName = o.InstanceName
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	o.Config = cfg

	level := cfg.SlogLevel()
	if o.Verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return nil
}

// formatter returns an OutputFormatter bound to cmd's writers.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM or when the
// command's own context ends.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
