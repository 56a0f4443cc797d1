package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetcomply/fleetcomply/internal/catalog"
	"github.com/fleetcomply/fleetcomply/internal/observability/logging"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the rule catalog",
}

var catalogRulesDirFlag string

var catalogValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the catalog and report problems",
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := catalog.NewLoader(catalogRulesDirFlag, logging.From(cmd.Context()))
		defs, err := loader.Load()
		if err != nil {
			return err
		}
		fmt.Printf("catalog OK: %d rules\n", len(defs))
		return nil
	},
}

var catalogHashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Print the catalog version token",
	Long: `Prints the content-addressed version token over the catalog's
canonical form. Remote evaluators compare tokens to detect catalog drift.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := catalog.NewLoader(catalogRulesDirFlag, logging.From(cmd.Context()))
		defs, err := loader.Load()
		if err != nil {
			return err
		}
		token, err := catalog.VersionToken(defs)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	catalogCmd.PersistentFlags().StringVar(&catalogRulesDirFlag, "rules-dir", "", "Directory with YAML rule files (empty: built-in presets)")
	catalogCmd.AddCommand(catalogValidateCmd)
	catalogCmd.AddCommand(catalogHashCmd)
}

// GetCatalogCmd exports the catalog command group.
func GetCatalogCmd() *cobra.Command {
	return catalogCmd
}
