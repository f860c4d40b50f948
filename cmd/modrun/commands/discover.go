package commands

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/contentkit/modrun/pkg/discovery"
)

// moduleReport is one evaluated thunk in command output.
type moduleReport struct {
	Root   string      `json:"root"`
	RunID  string      `json:"run_id"`
	Index  int         `json:"index"`
	Path   string      `json:"path,omitempty"`
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
	Value  interface{} `json:"value,omitempty"`
}

// rootReport is the discovery outcome for one project root.
type rootReport struct {
	Root     string         `json:"root"`
	Manifest string         `json:"manifest,omitempty"`
	Config   string         `json:"config,omitempty"`
	Error    string         `json:"error,omitempty"`
	Modules  []moduleReport `json:"modules"`
}

func newDiscoverCommand() *cobra.Command {
	var (
		manifest    string
		parallelism int
	)

	cmd := &cobra.Command{
		Use:   "discover [root...]",
		Short: "Discover content modules and evaluate them",
		Long: `Discover finds the content manifest of each project root, loads it in a
runtime scoped to the nearest tsconfig.json or jsconfig.json, and evaluates
every module thunk. A failing module is reported without stopping the others.

Roots are processed in parallel.`,
		Example: `  # Discover the project in the current directory
  modrun discover

  # Discover several projects as JSON
  modrun discover ./site ./docs --json

  # Use an explicit manifest
  modrun discover ./site --manifest src/content.modules.ts`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"."}
			}
			ctx := cmd.Context()

			env, err := setupEnvironment(ctx)
			if err != nil {
				return err
			}
			defer env.Close(context.Background())

			d := env.discoverer()
			defer d.Close()

			reports := make([]rootReport, len(args))
			var mu sync.Mutex
			g := new(errgroup.Group)
			g.SetLimit(parallelism)
			for i, root := range args {
				i, root := i, root
				g.Go(func() error {
					report := discoverRoot(ctx, env, d, root, manifest)
					mu.Lock()
					reports[i] = report
					mu.Unlock()
					return nil
				})
			}
			_ = g.Wait()

			failed := printReports(reports)
			if failed > 0 {
				return fmt.Errorf("%d module(s) failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifest, "manifest", "m", "", "manifest path relative to the root (default: search manifest_names)")
	cmd.Flags().IntVarP(&parallelism, "parallel", "p", 4, "number of roots discovered concurrently")

	return cmd
}

// discoverRoot discovers and evaluates one root.
func discoverRoot(ctx context.Context, env *environment, d *discovery.Discoverer, root, manifest string) rootReport {
	root = env.abs(root)
	report := rootReport{Root: root}

	manifestPath := manifest
	if manifestPath == "" {
		found, err := discovery.FindManifest(env.host, root, env.settings.ManifestNames...)
		if err != nil {
			report.Error = err.Error()
			return report
		}
		manifestPath = string(found)
	}

	m, err := d.Discover(ctx, root, manifestPath)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	report.Manifest = string(m.Path)
	report.Config = string(m.ConfigFile)
	report.Modules = modulesReport(root, m, m.EvaluateAll(ctx))

	log.Debug().Str("root", root).Int("modules", len(report.Modules)).Msg("Root discovered")
	return report
}

func modulesReport(root string, m *discovery.Manifest, results []discovery.Result) []moduleReport {
	out := make([]moduleReport, 0, len(results))
	for _, r := range results {
		mr := moduleReport{Root: root, RunID: m.RunID, Index: r.Index, Status: "ok"}
		if r.Err != nil {
			mr.Status = errorClass(r.Err)
			mr.Error = r.Err.Error()
			if terr, ok := r.Err.(*discovery.ThunkError); ok {
				mr.Path = string(terr.Path)
			}
		} else {
			mr.Path = string(r.Module.Path)
			mr.Value = plain(r.Module.Default)
		}
		out = append(out, mr)
	}
	return out
}

// printReports writes the reports and returns the number of failures.
func printReports(reports []rootReport) int {
	failed := 0
	for _, r := range reports {
		if r.Error != "" {
			failed++
		}
		for _, m := range r.Modules {
			if m.Status != "ok" {
				failed++
			}
		}
	}

	if jsonOutput {
		if err := printJSON(reports); err != nil {
			log.Error().Err(err).Msg("Failed to encode output")
		}
		return failed
	}

	table := newTable("Root", "#", "Module", "Status", "Value")
	for _, r := range reports {
		if r.Error != "" {
			table.Append([]string{r.Root, "-", "-", "failed", r.Error})
			continue
		}
		for _, m := range r.Modules {
			detail := summarize(m.Value)
			if m.Error != "" {
				detail = m.Error
			}
			table.Append([]string{r.Root, fmt.Sprint(m.Index), m.Path, m.Status, detail})
		}
	}
	table.Render()
	return failed
}
