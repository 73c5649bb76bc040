package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/btdebug/internal/apperr"
	"github.com/roach88/btdebug/internal/config"
	"github.com/roach88/btdebug/internal/dispatch"
	"github.com/roach88/btdebug/internal/store"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Method string
	Params string // JSON object
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run one query against a database without a server",
		Long: `Open the database read side directly and run a single dispatcher method.

Methods: ` + strings.Join(dispatch.New(nil).Methods(), ", ") + `

Exit codes:
  0 - Query succeeded
  1 - Query returned an error
  2 - Command error (database not found, invalid params)

Examples:
  btdebug query --database ./events.db --method list_runs
  btdebug query --database ./events.db --method get_snapshot \
    --params '{"run_id":"01J...","timestamp":"2024-01-02T09:31:00Z"}'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Method, "method", "", "dispatcher method (required)")
	cmd.Flags().StringVar(&opts.Params, "params", "{}", "method params as a JSON object")
	_ = cmd.MarkFlagRequired("method")

	return cmd
}

func runQuery(opts *QueryOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	params := json.RawMessage(opts.Params)
	if !json.Valid(params) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --params: not valid JSON: %s", opts.Params))
	}

	st, err := openExisting(opts.Config)
	if err != nil {
		return err
	}
	defer closeStore(st)

	d := dispatch.New(dispatch.NewStaticBackend(st))
	data, err := d.Call(cmd.Context(), opts.Method, params)
	if err != nil {
		_ = formatter.AppError(err)
		return WrapExitError(ExitFailure, "query failed", err)
	}
	return formatter.Success(data)
}

// openExisting opens the configured database without creating it.
func openExisting(cfg config.Config) (*store.Store, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, WrapExitError(ExitCommandError, "no database", err)
	}
	st, err := store.OpenExisting(cfg.Database, store.WithDriver(cfg.Driver))
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("database not found: %s", cfg.Database), err)
		}
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	slog.Debug("database opened", "path", cfg.Database, "driver", cfg.Driver)
	return st, nil
}

func closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
