package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo-mysql/pkg/converge"
	"github.com/openfroyo/froyo-mysql/pkg/engine"
	"github.com/openfroyo/froyo-mysql/pkg/policy"
)

type convergeOptions struct {
	target       string
	dryRun       bool
	watch        bool
	refreshFacts bool
	metricsFile  string
}

func newConvergeCommand() *cobra.Command {
	var opts convergeOptions

	cmd := &cobra.Command{
		Use:   "converge <node-file>",
		Short: "Converge a node's run list",
		Long: `Converge a node's run list against a target.

Facts are collected from the target, the node's attributes are composed
from the facts, the node file, the cookbook defaults and any attribute
scripts, and every recipe of the run list is loaded in order. Resources
activated by a recipe are applied immediately; the rest are applied after
the run list has been loaded. The run is recorded in the state store.`,
		Example: `  # Converge the local machine
  froyo-mysql converge nodes/db1.yaml

  # Converge a remote node over SSH
  froyo-mysql converge nodes/db1.yaml --target deploy@db1.example.com

  # Show what would change
  froyo-mysql converge nodes/db1.yaml --why-run

  # Re-converge whenever the node file changes
  froyo-mysql converge nodes/db1.yaml --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConverge(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.target, "target", "t", "local", "target host (local or user@host[:port])")
	cmd.Flags().BoolVarP(&opts.dryRun, "why-run", "W", false, "record activations without applying them")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "re-converge when the node file or its scripts change")
	cmd.Flags().BoolVar(&opts.refreshFacts, "refresh-facts", false, "ignore cached facts")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile after each run")

	return cmd
}

func runConverge(cmd *cobra.Command, nodePath string, opts convergeOptions) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if opts.metricsFile != "" {
		s.Telemetry.Metrics.Enabled = true
		s.Telemetry.Metrics.TextfilePath = opts.metricsFile
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, s)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	runner, err := a.runner(ctx)
	if err != nil {
		return err
	}
	shell, closeShell, err := a.shell(ctx, opts.target)
	if err != nil {
		return err
	}
	defer closeShell()

	once := func(ctx context.Context) error {
		node, err := a.loader.LoadFile(ctx, nodePath)
		if err != nil {
			return err
		}
		run, err := runner.Converge(ctx, converge.Request{
			Node:         node,
			Shell:        shell,
			DryRun:       opts.dryRun,
			RefreshFacts: opts.refreshFacts,
		})
		if run != nil {
			if perr := printRun(cmd.OutOrStdout(), run); perr != nil {
				return perr
			}
		}
		if werr := a.telemetry.Metrics.WriteTextfile(); werr != nil {
			a.logger().Warn().Err(werr).Msg("Failed to write metrics textfile")
		}
		return err
	}

	if !opts.watch {
		return once(ctx)
	}

	if err := once(ctx); err != nil {
		a.logger().Error().Err(err).Msg("Initial converge failed")
	}

	if dir := s.Policy.Dir; dir != "" {
		policies, err := a.policyEngine(ctx)
		if err != nil {
			return err
		}
		loader := policy.NewLoader(a.telemetry.Logger.Component("policy"))
		if err := loader.Watch(ctx, []string{dir}, func(ps []policy.Policy) error {
			return policies.Replace(ctx, ps)
		}); err != nil {
			return err
		}
		defer loader.StopWatching()
	}

	files := []string{nodePath}
	if node, err := a.loader.LoadFile(ctx, nodePath); err == nil {
		for _, script := range node.Scripts {
			files = append(files, resolveScript(nodePath, script.Name))
		}
	}
	watcher, err := converge.NewWatcher(files, 0, a.telemetry.Logger.Component("watch"))
	if err != nil {
		return err
	}
	a.logger().Info().Strs("files", files).Msg("Watching for changes")
	return watcher.Run(ctx, once)
}

// resolveScript locates an attribute script the way the loader does:
// relative to the node file.
func resolveScript(nodePath, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(filepath.Dir(nodePath), name)
}

func printRun(w io.Writer, run *engine.Run) error {
	if jsonOutput {
		return printJSON(w, run)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "SEQ\tRESOURCE\tACTION\tPHASE\tRESULT\n")
	for _, act := range run.Activations {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", act.Seq, act.Ref, act.Action, act.Phase, activationResult(act))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nRun %s %s in %s: %d declared, %d activated, %d changed, %d failed\n",
		run.ID, run.Status, run.Duration.Round(time.Millisecond), run.Summary.Declared, run.Summary.Activated,
		run.Summary.Changed, run.Summary.Failed)
	if run.Policy != nil {
		for _, v := range run.Policy.Violations {
			fmt.Fprintf(w, "policy %s (%s): %s\n", v.Policy, v.Severity, v.Message)
		}
	}
	if run.Error != "" {
		fmt.Fprintf(w, "error: %s\n", run.Error)
	}
	return nil
}

func activationResult(a engine.Activation) string {
	switch {
	case a.Error != "":
		return "failed"
	case a.DryRun:
		return "would " + string(a.Action)
	case a.Changed:
		return "changed"
	default:
		return "up to date"
	}
}
