package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "froyo-mysql",
		Short: "Converge MySQL client libraries and the Ruby driver onto nodes",
		Long: `froyo-mysql runs the mysql cookbook's client recipes against a node.

A node file names the run list (for example recipe[mysql::ruby]) and the
node attributes. The mysql::ruby recipe installs the build toolchain and
the client development packages at compile time, enabling the Percona or
MariaDB repository first when the run list or the implementation asks for
it, and then installs the mysql gem.

Features:
  - Node files in YAML, JSON or CUE, with Starlark attribute scripts
  - Local or SSH targets, with sudo
  - Dry runs (why-run) and run history in SQLite
  - Rego policies over each run
  - Prometheus textfile metrics and OpenTelemetry traces`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newConvergeCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newFactsCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// loadSettings reads the settings for cmd, applying --verbose.
func loadSettings(_ *cobra.Command) (*Settings, error) {
	s, err := LoadSettings(viper.New(), configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		s.Telemetry.Logging.Level = "debug"
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	return s, nil
}

// openApp loads settings and opens the shared components.
func openApp(cmd *cobra.Command) (*app, error) {
	s, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), s)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
