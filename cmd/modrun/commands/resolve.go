package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/contentkit/modrun/pkg/resolver"
	"github.com/contentkit/modrun/pkg/script"
)

func newResolveCommand() *cobra.Command {
	var (
		from string
		exec bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <specifier>",
		Short: "Show which file a specifier resolves to",
		Long: `Resolve applies the module resolution rules of the importing file's project:
builtins, relative paths, compilerOptions.paths, baseUrl and node_modules
packages. Packages that only ship type declarations are re-resolved the way
the host package loader would.`,
		Example: `  # Resolve an alias from a source file
  modrun resolve @/lib/schema --from src/pages/home.val.ts

  # Resolve and execute the module
  modrun resolve ./data.json --from src/index.ts --exec`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := setupEnvironment(ctx)
			if err != nil {
				return err
			}
			defer env.Close(context.Background())

			importer := env.normalize(from)
			cfg, err := env.projectConfig(importer)
			if err != nil {
				return err
			}

			r, err := resolver.New(env.host, resolver.Options{
				Config:    cfg,
				Builtins:  script.BuiltinNames(script.DefaultNativeModules(env.logger)),
				CacheSize: env.settings.Resolver.CacheSize,
				Logger:    env.logger,
				Metrics:   env.telemetry.Metrics,
			})
			if err != nil {
				return err
			}

			res, err := r.Resolve(args[0], importer)
			if err != nil {
				return err
			}

			if exec {
				rt, err := env.runtime(importer)
				if err != nil {
					return err
				}
				defer rt.Close()

				exports, err := rt.Require(ctx, args[0], string(importer))
				if err != nil {
					return err
				}
				value, err := rt.Export(ctx, exports)
				if err != nil {
					return err
				}
				return printJSON(map[string]interface{}{
					"resolution": res,
					"exports":    plain(value),
				})
			}

			if jsonOutput {
				return printJSON(res)
			}
			table := newTable("Specifier", "Path", "Kind", "Host loader")
			table.Append([]string{res.Specifier, string(res.Path), string(res.Kind), fmt.Sprint(res.ViaHostLoader)})
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&from, "from", "f", "index.ts", "importing file")
	cmd.Flags().BoolVar(&exec, "exec", false, "load the module and print its exports")

	return cmd
}
