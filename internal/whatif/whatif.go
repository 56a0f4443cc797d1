// Package whatif projects the rule catalog against a regulatory framework for
// one agent: "if we adopted framework X today, where does this agent stand?"
// The projection uses only the latest stored evidence, never a re-scan.
package whatif

import (
	"context"
	"errors"

	"github.com/fleetcomply/fleetcomply/internal/catalog"
	"github.com/fleetcomply/fleetcomply/internal/models"
	"github.com/fleetcomply/fleetcomply/internal/store"
)

// Project classifies every catalog rule tagged with framework as passed,
// failed or not_implemented relative to the agent's latest report. An agent
// with no reports cannot be said to comply with or fail anything, so all
// rules come back not_implemented; the same applies to rules the latest
// report never evaluated (catalog grew since the last scan).
func Project(ctx context.Context, rules []models.RuleDefinition, st store.ReportStore, agentID, framework string) (*models.WhatIfResult, error) {
	fwRules := catalog.FrameworkIndex(rules)[framework]

	result := &models.WhatIfResult{
		AgentID:    agentID,
		Framework:  framework,
		TotalRules: len(fwRules),
		Rules:      make([]models.WhatIfRuleStatus, 0, len(fwRules)),
	}

	latest, err := st.Latest(ctx, agentID)
	if err != nil && !errors.Is(err, store.ErrNoReports) {
		return nil, err
	}

	statusByID := make(map[string]string)
	if latest != nil {
		for _, r := range latest.Rules {
			if r.Passed {
				statusByID[r.RuleID] = models.WhatIfPassed
			} else {
				statusByID[r.RuleID] = models.WhatIfFailed
			}
		}
	}

	for _, rule := range fwRules {
		status, ok := statusByID[rule.ID]
		if !ok {
			status = models.WhatIfNotImplemented
		}

		switch status {
		case models.WhatIfPassed:
			result.Passed++
		case models.WhatIfFailed:
			result.Failed++
		default:
			result.NotImplemented++
		}

		result.Rules = append(result.Rules, models.WhatIfRuleStatus{
			ID:          rule.ID,
			Description: rule.Description,
			Severity:    rule.Severity,
			Frameworks:  rule.Frameworks,
			Status:      status,
		})
	}

	return result, nil
}
