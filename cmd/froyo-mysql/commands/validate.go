package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo-mysql/pkg/config"
	"github.com/openfroyo/froyo-mysql/pkg/engine"
	"github.com/openfroyo/froyo-mysql/pkg/policy"
	"github.com/openfroyo/froyo-mysql/pkg/recipe"
)

func newValidateCommand() *cobra.Command {
	var platformFamily string

	cmd := &cobra.Command{
		Use:   "validate <node-file>...",
		Short: "Validate node files",
		Long: `Validate node files against the node schema and the cookbook.

This command checks:
  - YAML, JSON or CUE syntax
  - Node schema conformance
  - That every run-list recipe exists in the cookbook
  - That attribute scripts run, for the given platform family
  - That the client package list resolves
  - That user policies in the configured policy directory compile`,
		Example: `  # Validate a node file
  froyo-mysql validate nodes/db1.yaml

  # Validate several node files for RHEL nodes
  froyo-mysql validate --platform-family rhel nodes/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			loader := config.NewLoader(config.WithScriptTimeout(s.ScriptTimeout))

			var failed []string
			for _, path := range args {
				if err := validateNode(cmd, loader, path, platformFamily); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", path, err)
					failed = append(failed, path)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			}

			if s.Policy.Dir != "" {
				e := policy.New(log.Logger)
				if err := e.LoadPaths(cmd.Context(), []string{s.Policy.Dir}); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", s.Policy.Dir, err)
					failed = append(failed, s.Policy.Dir)
				}
			}

			if len(failed) > 0 {
				return fmt.Errorf("validation failed: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&platformFamily, "platform-family", "debian", "platform family to compose attributes for")

	return cmd
}

func validateNode(cmd *cobra.Command, loader *config.Loader, path, family string) error {
	ctx := cmd.Context()
	node, err := loader.LoadFile(ctx, path)
	if err != nil {
		return err
	}

	names, err := recipe.ParseRunList(node.RunList)
	if err != nil {
		return err
	}
	cookbook := recipe.DefaultCookbook()
	for _, name := range names {
		if _, ok := cookbook.Get(name); !ok {
			return fmt.Errorf("unknown recipe %s (known: %s)", name, strings.Join(cookbook.Names(), ", "))
		}
	}

	attrs, err := loader.Compose(ctx, node, &engine.Facts{
		Platform:       family,
		PlatformFamily: family,
		Hostname:       node.Name,
	})
	if err != nil {
		return err
	}
	if !attrs.Has(config.AttrClientPackages) {
		return errors.New("mysql.client.packages has no default for platform family " + family + " and is not set")
	}
	if verbose {
		pkgs, _ := attrs.Strings(config.AttrClientPackages)
		fmt.Fprintf(cmd.OutOrStdout(), "%s: implementation=%s client packages=%s\n",
			path, attrs.StringOr(config.AttrImplementation, ""), strings.Join(pkgs, " "))
	}
	return nil
}
