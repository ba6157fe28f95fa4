package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"soyosaki-backend/internal/adapters"
	"soyosaki-backend/internal/novel"
)

var (
	searchTags     *[]string
	searchExclude  *[]string
	searchSources  *[]string
	searchPage     *int
	searchPageSize *int
	searchSort     *string
)

func init() {
	searchTags = searchCmd.Flags().StringSlice("tags", nil, "Pairing tags to search; source defaults are used when empty.")
	searchExclude = searchCmd.Flags().StringSlice("exclude", nil, "Case-insensitive substrings that drop a result when matched against its title or tags.")
	searchSources = searchCmd.Flags().StringSlice("sources", nil, "Sources to query (ao3, pixiv, lofter, bilibili); all registered when empty.")
	searchPage = searchCmd.Flags().Int("page", 1, "1-based result page.")
	searchPageSize = searchCmd.Flags().Int("page-size", 20, "Results per page per source.")
	searchSort = searchCmd.Flags().String("sort", "date", "Sort order: date, kudos, hits or wordCount.")
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search [--tags <tag,...>] [--sources <source,...>]",
	Short: "Searches the configured sources and prints the merged result page.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		app, err := buildApp(cfg)
		if err != nil {
			fatal("failed to initialize", err)
		}
		defer app.Close()

		var sources []novel.Source
		for _, raw := range *searchSources {
			source, err := novel.ParseSource(raw)
			if err != nil {
				fatal("bad --sources value", err)
			}
			sources = append(sources, source)
		}

		pageSize := *searchPageSize
		if cfg.MaxPageSize > 0 && pageSize > cfg.MaxPageSize {
			pageSize = cfg.MaxPageSize
		}

		items := app.registry.SearchAll(cmd.Context(), adapters.SearchRequest{
			Tags:        *searchTags,
			ExcludeTags: *searchExclude,
			Page:        *searchPage,
			PageSize:    pageSize,
			SortBy:      novel.SortBy(*searchSort),
		}, sources)

		slog.Info("search done", "results", len(items))
		printJSON(items)
	},
}
