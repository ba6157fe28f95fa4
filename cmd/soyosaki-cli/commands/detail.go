package commands

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(detailCmd)
	rootCmd.AddCommand(chaptersCmd)
	rootCmd.AddCommand(contentCmd)
}

var detailCmd = &cobra.Command{
	Use:   "detail <source> <id>",
	Short: "Fetches the full record for one item.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		app, err := buildApp(loadConfig())
		if err != nil {
			fatal("failed to initialize", err)
		}
		defer app.Close()

		adapter, err := adapterFor(app, args[0])
		if err != nil {
			fatal("bad source", err)
		}
		detail, err := adapter.GetDetail(cmd.Context(), args[1])
		if err != nil {
			fatal("failed to fetch detail", err)
		}
		if detail == nil {
			// some sources expose nothing beyond the search record
			slog.Info("source has no detail endpoint; the search record is complete")
			return
		}
		printJSON(detail)
	},
}

var chaptersCmd = &cobra.Command{
	Use:   "chapters <source> <id>",
	Short: "Lists the chapters of one item.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		app, err := buildApp(loadConfig())
		if err != nil {
			fatal("failed to initialize", err)
		}
		defer app.Close()

		adapter, err := adapterFor(app, args[0])
		if err != nil {
			fatal("bad source", err)
		}
		chapters, err := adapter.GetChapters(cmd.Context(), args[1])
		if err != nil {
			fatal("failed to fetch chapters", err)
		}
		printJSON(chapters)
	},
}
