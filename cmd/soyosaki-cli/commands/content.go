package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var contentCmd = &cobra.Command{
	Use:   "content <source> <id> [chapter]",
	Short: "Fetches one chapter's rendered HTML content (chapter defaults to 1).",
	Args:  cobra.RangeArgs(2, 3),
	Run: func(cmd *cobra.Command, args []string) {
		number := 1
		if len(args) == 3 {
			parsed, err := strconv.Atoi(args[2])
			if err != nil || parsed < 1 {
				fatal("bad chapter number", err)
			}
			number = parsed
		}

		app, err := buildApp(loadConfig())
		if err != nil {
			fatal("failed to initialize", err)
		}
		defer app.Close()

		adapter, err := adapterFor(app, args[0])
		if err != nil {
			fatal("bad source", err)
		}
		content, err := adapter.GetChapterContent(cmd.Context(), args[1], number)
		if err != nil {
			fatal("failed to fetch content", err)
		}
		fmt.Println(content)
	},
}
