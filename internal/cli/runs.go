package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/btdebug/internal/store"
)

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the runs in a database",
		Long: `List every backtest run in the database with its event count.

Example:
  btdebug runs --database ./events.db
  btdebug runs --database ./events.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(rootOpts, cmd)
		},
	}
	return cmd
}

func runRuns(opts *RootOptions, cmd *cobra.Command) error {
	st, err := openExisting(opts.Config)
	if err != nil {
		return err
	}
	defer closeStore(st)

	runs, err := st.ListRuns(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list runs", err)
	}

	if opts.Format == "json" {
		return opts.formatter(cmd).Success(runs)
	}
	return writeRunsTable(cmd, runs)
}

func writeRunsTable(cmd *cobra.Command, runs []store.RunSummary) error {
	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTART\tEND\tEVENTS\tCONFIG HASH")
	for _, r := range runs {
		end := "-"
		if r.EndTime != nil {
			end = r.EndTime.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.StartTime.UTC().Format(time.RFC3339), end, r.EventCount, r.StrategyConfigHash)
	}
	return tw.Flush()
}
