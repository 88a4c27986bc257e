package commands

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var ledgerPath string

var rootCmd = &cobra.Command{
	Use:   "botctl",
	Short: "botctl inspects the post ledgers of the cvillebots.",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(
		&ledgerPath, "ledger", "l", "",
		"Path to the sqlite ledger file of a bot.",
	)
	rootCmd.MarkPersistentFlagRequired("ledger")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
