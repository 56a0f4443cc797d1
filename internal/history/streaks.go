// Package history derives per-rule failing-streak metadata from an agent's
// full report history. Streaks are recomputed from storage on every request;
// nothing here is persisted.
package history

import (
	"context"

	"github.com/fleetcomply/fleetcomply/internal/models"
	"github.com/fleetcomply/fleetcomply/internal/store"
)

// Streaks walks the agent's history oldest-first and returns, for every rule
// failing in the latest report, the timestamp since which it has continuously
// failed and the count of consecutive failing scans. Any observed pass clears
// the rule's streak entirely, so an earlier failing run never leaks through an
// intervening pass. An agent with no history yields an empty map.
func Streaks(ctx context.Context, st store.ReportStore, agentID string) (map[string]models.RuleStreak, error) {
	reports, err := st.AllReports(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return map[string]models.RuleStreak{}, nil
	}

	lastStatus := make(map[string]bool)
	failingSince := make(map[string]string)
	failingScans := make(map[string]int)

	for _, report := range reports {
		for _, r := range report.Rules {
			prev, seen := lastStatus[r.RuleID]

			switch {
			case !r.Passed && (!seen || prev):
				// transition into failing (or first-ever observation)
				failingSince[r.RuleID] = report.ReceivedAt
				failingScans[r.RuleID] = 1
			case !r.Passed:
				failingScans[r.RuleID]++
			default:
				delete(failingSince, r.RuleID)
				delete(failingScans, r.RuleID)
			}

			lastStatus[r.RuleID] = r.Passed
		}
	}

	latest := reports[len(reports)-1]
	out := make(map[string]models.RuleStreak)
	for _, r := range latest.Rules {
		if r.Passed {
			continue
		}
		since, ok := failingSince[r.RuleID]
		if !ok {
			since = latest.ReceivedAt
		}
		scans := failingScans[r.RuleID]
		if scans == 0 {
			scans = 1
		}
		out[r.RuleID] = models.RuleStreak{
			RuleID:       r.RuleID,
			FailingSince: since,
			FailingScans: scans,
		}
	}
	return out, nil
}
