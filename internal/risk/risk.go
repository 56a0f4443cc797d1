// Package risk derives a numeric non-compliance measure from a report.
//
// The score is a single linear accumulation over failed rules, never capped
// or averaged, so values stay directly comparable across time for one agent:
// each failed rule contributes severity weight x framework breadth x asset
// criticality.
package risk

import (
	"github.com/fleetcomply/fleetcomply/internal/models"
)

// SeverityWeight maps a rule severity to its score weight. Unknown severities
// weigh the same as low.
func SeverityWeight(s models.Severity) float64 {
	switch s {
	case models.SeverityLow:
		return 1.0
	case models.SeverityMedium:
		return 3.0
	case models.SeverityHigh:
		return 5.0
	case models.SeverityCritical:
		return 8.0
	default:
		return 1.0
	}
}

// CriticalityFactor maps an asset criticality to its score multiplier.
// Unknown criticalities count as normal.
func CriticalityFactor(c models.Criticality) float64 {
	switch c {
	case models.CriticalityLow:
		return 0.5
	case models.CriticalityNormal:
		return 1.0
	case models.CriticalityHigh:
		return 1.5
	case models.CriticalityCritical:
		return 2.0
	default:
		return 1.0
	}
}

// Score computes the risk value of one report under cfg. A failed rule with
// no framework mapping still counts once via the max(1, frameworks) floor.
// Passed rules contribute nothing; an empty report scores zero.
func Score(report *models.Report, cfg models.AgentConfig) float64 {
	if report == nil {
		return 0
	}

	factor := CriticalityFactor(cfg.Criticality)

	total := 0.0
	for _, r := range report.Rules {
		if r.Passed {
			continue
		}
		breadth := len(r.Frameworks)
		if breadth < 1 {
			breadth = 1
		}
		total += SeverityWeight(r.Severity) * float64(breadth) * factor
	}
	return total
}
