// Package cli wires the fleetcomply commands. The root command owns the
// logger lifecycle: it is constructed once per invocation and handed down via
// context; components never reach for global logging state.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fleetcomply/fleetcomply/internal/observability"
	"github.com/fleetcomply/fleetcomply/internal/observability/logging"
	"github.com/fleetcomply/fleetcomply/internal/version"
)

var (
	logFormatFlag string
	logLevelFlag  string
	logOutputFlag string
)

var rootCmd = &cobra.Command{
	Use:   "fleetcomply",
	Short: "Host compliance assessment and reporting",
	Long: `fleetcomply evaluates hosts against a declarative rule catalog,
tracks per-agent compliance history and derives risk, streak and
framework what-if views from it.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log, err := logging.NewLogger(logging.Config{
			Format: logFormatFlag,
			Level:  logLevelFlag,
			Output: logOutputFlag,
		})
		if err != nil {
			return fmt.Errorf("initialize logging: %w", err)
		}

		ctx := observability.WithOpID(cmd.Context())
		cmd.SetContext(logging.WithLogger(ctx, log))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logging.From(cmd.Context()).Close()
	},
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	defaults := logging.DefaultConfig()
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", defaults.Format, "Log format (jsonl, none)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", defaults.Level, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logOutputFlag, "log-output", defaults.Output, "Log output (stderr, stdout or a file path)")

	rootCmd.AddCommand(GetServeCmd())
	rootCmd.AddCommand(GetScanCmd())
	rootCmd.AddCommand(GetCatalogCmd())
}
