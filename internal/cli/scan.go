package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/fleetcomply/fleetcomply/internal/catalog"
	"github.com/fleetcomply/fleetcomply/internal/client"
	"github.com/fleetcomply/fleetcomply/internal/models"
	"github.com/fleetcomply/fleetcomply/internal/observability/logging"
	"github.com/fleetcomply/fleetcomply/internal/rules"
	"github.com/fleetcomply/fleetcomply/internal/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan this host and evaluate the rule catalog",
	Long: `Collects the host fact context, evaluates every catalog rule
against it and prints the results. With --server-url the report is also
submitted to a fleetcomply server.

Example:
  fleetcomply scan --rules-dir rules --server-url http://127.0.0.1:8080`,
	RunE: runScan,
}

var (
	scanRulesDirFlag  string
	scanServerURLFlag string
	scanAgentIDFlag   string
	scanJSONFlag      bool
	scanTimeoutFlag   time.Duration
)

func init() {
	scanCmd.Flags().StringVar(&scanRulesDirFlag, "rules-dir", "", "Directory with YAML rule files (empty: built-in presets)")
	scanCmd.Flags().StringVar(&scanServerURLFlag, "server-url", "", "Base URL of the fleetcomply server (empty: do not submit)")
	scanCmd.Flags().StringVar(&scanAgentIDFlag, "agent-id", "", "Agent identifier (empty: hostname)")
	scanCmd.Flags().BoolVar(&scanJSONFlag, "json", false, "Print the full report as JSON instead of a table")
	scanCmd.Flags().DurationVarP(&scanTimeoutFlag, "timeout", "t", 10*time.Second, "Timeout for submitting the report")
}

// GetScanCmd exports the scan command.
func GetScanCmd() *cobra.Command {
	return scanCmd
}

var (
	severityRed    = color.New(color.FgRed).SprintFunc()
	severityYellow = color.New(color.FgYellow).SprintFunc()
	statusGreen    = color.New(color.FgGreen).SprintFunc()
)

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logging.From(ctx)
	start := time.Now()

	log.Event(ctx, "scan.start", nil)

	facts := scanner.Scan(ctx)

	loader := catalog.NewLoader(scanRulesDirFlag, log)
	defs, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load rule catalog: %w", err)
	}
	log.Info("scan", "rule catalog loaded", "rules", len(defs))

	engine := rules.NewEngine(log)
	results := engine.EvaluateAll(defs, facts)

	failed := 0
	for _, r := range results {
		if !r.Passed {
			failed++
		}
	}

	log.Event(ctx, "scan.complete", map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
		"rules":       len(results),
		"failed":      failed,
	})

	if scanJSONFlag {
		out, err := json.MarshalIndent(map[string]any{
			"scan":  facts,
			"rules": results,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		printResultTable(results)
		fmt.Printf("\n%d rules evaluated, %d passed, %d failed\n",
			len(results), len(results)-failed, failed)
	}

	if scanServerURLFlag == "" {
		return nil
	}

	agentID := scanAgentIDFlag
	if agentID == "" {
		agentID = facts.Hostname()
	}
	if agentID == "" {
		return fmt.Errorf("cannot determine agent id; pass --agent-id")
	}

	c := client.New(scanServerURLFlag, scanTimeoutFlag)
	resp, err := c.SubmitReport(ctx, client.ReportPayload{
		AgentID: agentID,
		Scan:    facts,
		Rules:   results,
	})
	if err != nil {
		return fmt.Errorf("submit report: %w", err)
	}

	log.Info("scan", "report accepted by server",
		"agent_id", agentID, "timestamp", resp.Timestamp)
	fmt.Printf("report accepted by server (timestamp %s)\n", resp.Timestamp)
	return nil
}

func printResultTable(results []models.RuleResult) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Rule", "Severity", "Status", "Details"})
	table.SetAutoWrapText(false)

	for _, r := range results {
		status := statusGreen("PASS")
		if !r.Passed {
			status = severityRed("FAIL")
		}

		severity := string(r.Severity)
		switch r.Severity {
		case models.SeverityCritical, models.SeverityHigh:
			severity = severityRed(severity)
		case models.SeverityMedium:
			severity = severityYellow(severity)
		}

		details := r.Details
		if details == "" && !r.Passed {
			details = r.Description
		}

		table.Append([]string{r.RuleID, severity, status, details})
	}

	table.Render()
}
