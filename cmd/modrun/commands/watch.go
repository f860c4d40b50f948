package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/contentkit/modrun/pkg/discovery"
)

func newWatchCommand() *cobra.Command {
	var (
		manifest string
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch [root]",
		Short: "Discover a project and rediscover it on every change",
		Long: `Watch discovers the project, then watches its files. Changed sources are
invalidated individually, package.json changes clear every loaded module and
configuration changes rebuild the runtime. After changes settle the project
is discovered again.

When metrics are enabled the Prometheus endpoint is served while watching.`,
		Example: `  # Watch the current project
  modrun watch

  # Watch with metrics on :9090/metrics
  MODRUN_METRICS_ADDR=:9090 modrun watch ./site`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			ctx := cmd.Context()

			env, err := setupEnvironment(ctx)
			if err != nil {
				return err
			}
			defer env.Close(context.Background())
			if env.remote != nil {
				return fmt.Errorf("watch is not supported for remote workspaces")
			}

			server, err := env.telemetry.StartMetricsServer()
			if err != nil {
				return err
			}
			if server != nil {
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = server.Shutdown(shutdownCtx)
				}()
				log.Info().Str("addr", server.Addr).Msg("Serving metrics")
			}

			d := env.discoverer()
			defer d.Close()

			root = env.abs(root)
			rediscover := func() {
				report := discoverRoot(ctx, env, d, root, manifest)
				printReports([]rootReport{report})
			}
			rediscover()

			w := discovery.NewWatcher(env.host, d.Registry(), discovery.WatcherOptions{
				Debounce: debounce,
				OnChange: func(files []string) {
					log.Info().Strs("files", files).Msg("Rediscovering")
					rediscover()
				},
				Logger: env.logger,
			})
			if err := w.Watch(ctx, root); err != nil {
				return err
			}
			defer w.Close()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifest, "manifest", "m", "", "manifest path relative to the root (default: search manifest_names)")
	cmd.Flags().DurationVar(&debounce, "debounce", discovery.DefaultDebounce, "quiet period before rediscovering")

	return cmd
}
