package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo-mysql/pkg/converge"
)

func newPlanCommand() *cobra.Command {
	var (
		target       string
		refreshFacts bool
	)

	cmd := &cobra.Command{
		Use:   "plan <node-file>",
		Short: "Show the activation sequence without applying it",
		Long: `Plan runs the node's run list in why-run mode: facts are collected and
every recipe is loaded, but providers are never invoked. The output lists
each resource in the order it would be activated and the phase it would
be activated in. The dry run is recorded in the run history.`,
		Example: `  # Plan the local machine
  froyo-mysql plan nodes/db1.yaml

  # Plan a remote node as JSON
  froyo-mysql plan nodes/db1.yaml --target deploy@db1 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			node, err := a.loader.LoadFile(ctx, args[0])
			if err != nil {
				return err
			}
			runner, err := a.runner(ctx)
			if err != nil {
				return err
			}
			shell, closeShell, err := a.shell(ctx, target)
			if err != nil {
				return err
			}
			defer closeShell()

			run, err := runner.Converge(ctx, converge.Request{
				Node:         node,
				Shell:        shell,
				DryRun:       true,
				RefreshFacts: refreshFacts,
			})
			if run != nil {
				if perr := printRun(cmd.OutOrStdout(), run); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "local", "target host (local or user@host[:port])")
	cmd.Flags().BoolVar(&refreshFacts, "refresh-facts", false, "ignore cached facts")

	return cmd
}
