package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	envFiles   []string
	verbose    bool
	jsonOutput bool

	// appVersion is reported as the telemetry service version.
	appVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	appVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "modrun",
		Short: "modrun - run TypeScript content modules in-process",
		Long: `modrun compiles and runs TypeScript and JavaScript modules inside an
embedded, sandboxed JavaScript runtime.

Features:
  - tsconfig-aware module resolution (baseUrl, paths, extends, node_modules)
  - Discovery of content manifests and lazy evaluation of their modules
  - Hot invalidation on file changes
  - Persistent compile cache backed by SQLite
  - Projects on local disk or on a remote workspace over SFTP`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (default modrun.yaml when present)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "environment files loaded before settings")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newDiscoverCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newCacheCommand())

	return rootCmd
}
