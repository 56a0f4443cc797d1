// Package models defines the data types shared across the compliance engine:
// rule definitions, evaluation results, agent reports and per-agent
// configuration. All report-related values are immutable once written.
package models

// Severity classifies how costly a rule violation is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Criticality classifies how important the asset behind an agent is.
type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityNormal   Criticality = "normal"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// FactContext is the structured snapshot of a host submitted to rule
// evaluation. The shape is open: rules only dereference the paths they need,
// unknown top-level keys are ignored.
type FactContext map[string]any

// Hostname returns the "hostname" fact, or "" when absent.
func (f FactContext) Hostname() string {
	if h, ok := f["hostname"].(string); ok {
		return h
	}
	return ""
}

// RuleDefinition is one entry of the rule catalog. Identity is ID; duplicate
// ids within a catalog are a load-time error. Immutable once loaded.
type RuleDefinition struct {
	ID          string   `json:"id" yaml:"id"`
	Description string   `json:"description" yaml:"description"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Tags        []string `json:"tags,omitempty" yaml:"tags"`
	Frameworks  []string `json:"frameworks,omitempty" yaml:"frameworks"`
	Condition   string   `json:"condition" yaml:"condition"`
}

// RuleResult is the outcome of evaluating one rule against one fact context.
// Details is non-empty only when the condition could not be evaluated; such
// results are always recorded as not passed.
type RuleResult struct {
	RuleID      string   `json:"rule_id"`
	Passed      bool     `json:"passed"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Frameworks  []string `json:"frameworks,omitempty"`
	Details     string   `json:"details,omitempty"`
	Timestamp   string   `json:"timestamp"`
}

// Report is one timestamped evaluation pass for one agent. ReceivedAt is the
// report's identity within the agent's history and is strictly increasing.
type Report struct {
	AgentID    string       `json:"agent_id"`
	ReceivedAt string       `json:"received_at"`
	Scan       FactContext  `json:"scan"`
	Rules      []RuleResult `json:"rules"`
}

// FailedCount returns the number of rules that did not pass.
func (r *Report) FailedCount() int {
	n := 0
	for _, res := range r.Rules {
		if !res.Passed {
			n++
		}
	}
	return n
}

// FailedRules returns the results that did not pass, in report order.
func (r *Report) FailedRules() []RuleResult {
	var out []RuleResult
	for _, res := range r.Rules {
		if !res.Passed {
			out = append(out, res)
		}
	}
	return out
}

// AgentConfig is the one mutable record per agent, independent of report
// history. Defaults apply when no record exists.
type AgentConfig struct {
	AgentID             string      `json:"agent_id"`
	ScanIntervalSeconds int         `json:"scan_interval_seconds"`
	Enabled             bool        `json:"enabled"`
	Criticality         Criticality `json:"criticality"`
	AssetTags           []string    `json:"asset_tags,omitempty"`
}

// DefaultAgentConfig returns the configuration used for agents that have
// never been configured: scan every 6 hours, enabled, normal criticality.
func DefaultAgentConfig(agentID string) AgentConfig {
	return AgentConfig{
		AgentID:             agentID,
		ScanIntervalSeconds: 21600,
		Enabled:             true,
		Criticality:         CriticalityNormal,
	}
}

// AgentSummary is one row of the fleet overview.
type AgentSummary struct {
	AgentID          string  `json:"agent_id"`
	LastReportAt     string  `json:"last_report_at,omitempty"`
	Hostname         string  `json:"hostname,omitempty"`
	FailedRulesCount int     `json:"failed_rules_count"`
	RiskScore        float64 `json:"risk_score"`
}

// ReportSummary is a derived view over one stored report. RiskScore reflects
// the scoring and agent configuration in effect when the summary is computed,
// not when the report was written.
type ReportSummary struct {
	ReportTimestamp string  `json:"report_timestamp"`
	Hostname        string  `json:"hostname"`
	TotalRules      int     `json:"total_rules"`
	FailedRules     int     `json:"failed_rules"`
	RiskScore       float64 `json:"risk_score"`
}

// RuleStreak describes how long one rule has been continuously failing for an
// agent, up to and including the latest report.
type RuleStreak struct {
	RuleID       string `json:"rule_id"`
	FailingSince string `json:"failing_since_report_timestamp"`
	FailingScans int    `json:"failing_scans"`
}

// What-if rule classifications.
const (
	WhatIfPassed         = "passed"
	WhatIfFailed         = "failed"
	WhatIfNotImplemented = "not_implemented"
)

// WhatIfRuleStatus classifies one framework rule against an agent's latest
// report.
type WhatIfRuleStatus struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Frameworks  []string `json:"frameworks,omitempty"`
	Status      string   `json:"status"`
}

// WhatIfResult is the framework-scoped compliance view for one agent.
type WhatIfResult struct {
	AgentID        string             `json:"agent_id"`
	Framework      string             `json:"framework"`
	TotalRules     int                `json:"total_rules"`
	Passed         int                `json:"passed"`
	Failed         int                `json:"failed"`
	NotImplemented int                `json:"not_implemented"`
	Rules          []WhatIfRuleStatus `json:"rules"`
}
