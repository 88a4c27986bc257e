package commands

import (
	"fmt"
	"os"
	"time"

	"cvillebots/lib/ledger"
	"cvillebots/lib/timezone"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every ledger entry, most recent first.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		led, err := ledger.Open(ledgerPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		defer led.Close()

		entries, err := led.List(cmd.Context())
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}

		t := newTable()
		t.AppendHeader(table.Row{"key", "post ref", "posted at"})
		for _, e := range entries {
			t.AppendRow(table.Row{
				e.Key,
				e.Entry.PostRef,
				time.Unix(e.CreatedAt, 0).In(timezone.Location).Format(time.DateTime),
			})
		}
		t.Render()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show the full ledger entry for a key.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		led, err := ledger.Open(ledgerPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		defer led.Close()

		entry, err := led.Get(cmd.Context(), args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}

		t := newTable()
		t.AppendRow(table.Row{"key", args[0]})
		t.AppendRow(table.Row{"post ref", entry.PostRef})
		t.AppendRow(table.Row{"thread root", entry.ThreadRoot})
		t.AppendRow(table.Row{"thread parent", entry.ThreadParent})
		t.Render()
	},
}
