package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the persistent compile cache",
		Long: `Commands for the SQLite compile cache configured by compile_cache.path.

The cache stores compiled text keyed by the content hash of the source and its
compiler options.`,
	}

	cmd.AddCommand(newCacheStatsCommand())
	cmd.AddCommand(newCachePruneCommand())

	return cmd
}

func newCacheStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show compile cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := setupEnvironment(ctx)
			if err != nil {
				return err
			}
			defer env.Close(context.Background())

			store, err := openStore(ctx, env.settings.CompileCache.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(stats)
			}
			table := newTable("Units", "Paths", "Bytes", "Oldest use", "Newest use")
			table.Append([]string{
				fmt.Sprint(stats.Units),
				fmt.Sprint(stats.Paths),
				fmt.Sprint(stats.Bytes),
				formatTime(stats.Oldest),
				formatTime(stats.Newest),
			})
			table.Render()
			return nil
		},
	}
}

func newCachePruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete compile cache entries not used recently",
		Example: `  # Prune with the configured max age
  modrun cache prune

  # Prune entries unused for a week
  modrun cache prune --older-than 168h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := setupEnvironment(ctx)
			if err != nil {
				return err
			}
			defer env.Close(context.Background())

			if olderThan <= 0 {
				olderThan = env.settings.CompileCache.MaxAge
			}

			store, err := openStore(ctx, env.settings.CompileCache.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Prune(ctx, olderThan)
			if err != nil {
				return err
			}
			log.Info().Int64("pruned", n).Dur("older_than", olderThan).Msg("Compile cache pruned")
			if jsonOutput {
				return printJSON(map[string]int64{"pruned": n})
			}
			fmt.Printf("Pruned %d unit(s)\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "prune entries unused for this long (default compile_cache.max_age)")

	return cmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
