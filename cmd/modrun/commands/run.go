package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	var (
		timeout time.Duration
		export  string
	)

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a file as an ad hoc script and print its exports",
		Long: `Run compiles the file with the options of its nearest project configuration,
executes it once in a fresh sandbox and prints its exports as JSON.

Files outside any project run with default compiler options.`,
		Example: `  # Run a script
  modrun run scripts/report.ts

  # Print one export, failing after 10 seconds
  modrun run scripts/report.ts --export default --timeout 10s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			env, err := setupEnvironment(ctx)
			if err != nil {
				return err
			}
			defer env.Close(context.Background())

			file := env.normalize(args[0])
			source, ok := env.host.ReadFile(string(file))
			if !ok {
				return fmt.Errorf("cannot read %s", file)
			}

			rt, err := env.runtime(file)
			if err != nil {
				return err
			}
			defer rt.Close()

			exports, err := rt.Run(ctx, source, string(file))
			if err != nil {
				return err
			}

			var value interface{}
			err = rt.Do(ctx, func(vm *goja.Runtime) error {
				v := exports
				if export != "" && v != nil {
					v = v.ToObject(vm).Get(export)
				}
				if v != nil {
					value = v.Export()
				}
				return nil
			})
			if err != nil {
				return err
			}
			return printJSON(plain(value))
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the script after this duration (0 means no limit)")
	cmd.Flags().StringVarP(&export, "export", "e", "", "print only this export")

	return cmd
}
