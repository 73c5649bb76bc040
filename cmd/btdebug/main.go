// Command btdebug records, serves and queries backtest event logs.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/btdebug/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "btdebug:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
