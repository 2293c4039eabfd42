package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

func newFactsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Facts collection and management",
		Long: `Collect and inspect platform facts.

Facts are read from /etc/os-release and hostname on the target and map the
distribution to a platform family (debian, rhel, fedora, suse, arch,
amazon). They are cached in the state store with a TTL.`,
	}

	cmd.AddCommand(newFactsCollectCommand())
	cmd.AddCommand(newFactsShowCommand())
	cmd.AddCommand(newFactsPruneCommand())

	return cmd
}

func newFactsCollectCommand() *cobra.Command {
	var (
		target  string
		refresh bool
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect facts from a target",
		Example: `  # Collect facts from the local machine
  froyo-mysql facts collect

  # Force a refresh of a remote node's cached facts
  froyo-mysql facts collect --target deploy@db1 --refresh`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			shell, closeShell, err := a.shell(ctx, target)
			if err != nil {
				return err
			}
			defer closeShell()

			facts, err := a.collector.Collect(ctx, shell, refresh)
			if err != nil {
				return err
			}
			return printFacts(cmd, facts)
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "local", "target host (local or user@host[:port])")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "force refresh cached facts")

	return cmd
}

func newFactsShowCommand() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show cached facts",
		Example: `  # Show the cached facts of a remote node
  froyo-mysql facts show --target deploy@db1:22`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			rec, err := a.store.GetFacts(ctx, target)
			if err != nil {
				return err
			}
			facts, err := rec.Facts()
			if err != nil {
				return err
			}
			return printFacts(cmd, facts)
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "local", "target as recorded (local or user@host:port)")

	return cmd
}

func newFactsPruneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete expired cached facts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			n, err := a.store.DeleteExpiredFacts(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d expired fact records\n", n)
			return nil
		},
	}
}

func printFacts(cmd *cobra.Command, f *engine.Facts) error {
	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, f)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "target\t%s\n", f.TargetID)
	fmt.Fprintf(tw, "hostname\t%s\n", f.Hostname)
	fmt.Fprintf(tw, "platform\t%s\n", f.Platform)
	fmt.Fprintf(tw, "platform_version\t%s\n", f.PlatformVersion)
	fmt.Fprintf(tw, "platform_family\t%s\n", f.PlatformFamily)
	if f.Codename != "" {
		fmt.Fprintf(tw, "lsb.codename\t%s\n", f.Codename)
	}
	fmt.Fprintf(tw, "collected_at\t%s\n", f.CollectedAt.Format(time.RFC3339))
	return tw.Flush()
}
