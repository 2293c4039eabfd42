package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
	"github.com/openfroyo/froyo-mysql/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		node   string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List past runs or show one run",
		Long: `Without arguments, history lists recorded runs, newest first. With a run
ID it shows the run's activation journal and events.`,
		Example: `  # List the last runs of db1
  froyo-mysql history --node db1

  # Show one run
  froyo-mysql history 0b6f4c52-5a0e-4d8e-9a53-4c1f0c3f7f0e`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			if len(args) == 1 {
				return showRun(cmd, a.store, args[0])
			}

			var filter *string
			if node != "" {
				filter = &node
			}
			runs, err := a.store.ListRuns(ctx, filter, limit, offset)
			if err != nil {
				return err
			}
			return printRuns(cmd, runs)
		},
	}

	cmd.Flags().StringVar(&node, "node", "", "only runs of this node")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")

	return cmd
}

func printRuns(cmd *cobra.Command, runs []*stores.Run) error {
	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, runs)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tNODE\tTARGET\tSTATUS\tDRY RUN\tSTARTED\tACTIVATED\n")
	for _, r := range runs {
		var summary engine.RunSummary
		_ = json.Unmarshal([]byte(r.Summary), &summary)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\t%d/%d\n",
			r.ID, r.Node, r.Target, r.Status, r.DryRun,
			r.StartedAt.Local().Format(time.DateTime), summary.Activated, summary.Declared)
	}
	return tw.Flush()
}

func showRun(cmd *cobra.Command, store stores.Store, id string) error {
	ctx := cmd.Context()
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	activations, err := store.ListActivations(ctx, id)
	if err != nil {
		return err
	}
	events, err := store.GetEvents(ctx, &id, nil, -1, 0)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, map[string]interface{}{
			"run":         run,
			"activations": activations,
			"events":      events,
		})
	}

	fmt.Fprintf(w, "Run %s of %s on %s: %s\n", run.ID, run.Node, run.Target, run.Status)
	if run.Error != nil {
		fmt.Fprintf(w, "error: %s\n", *run.Error)
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "SEQ\tRESOURCE\tPROVIDER\tPHASE\tCHANGED\tDURATION\tERROR\n")
	for _, act := range activations {
		errMsg := ""
		if act.Error != nil {
			errMsg = *act.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\t%dms\t%s\n",
			act.Seq, act.Ref(), act.Provider, act.Phase, act.Changed, act.DurationMS, errMsg)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	for _, ev := range events {
		fmt.Fprintf(w, "%s %-7s %-18s %s\n", ev.Timestamp.Local().Format(time.TimeOnly), ev.Level, ev.Type, ev.Message)
	}
	return nil
}
