// Package drift compares the fact contexts of an agent's two most recent
// reports, showing operators what actually changed on the host between scans.
package drift

import (
	"context"
	"errors"
	"fmt"

	"github.com/wI2L/jsondiff"

	"github.com/fleetcomply/fleetcomply/internal/store"
)

// ErrInsufficientHistory signals that the agent has fewer than two reports,
// so there is nothing to compare yet.
var ErrInsufficientHistory = errors.New("agent has fewer than two reports")

// Report is the fact drift between two consecutive scans, expressed as an
// RFC 6902 patch transforming the older fact context into the newer one.
type Report struct {
	AgentID string         `json:"agent_id"`
	From    string         `json:"from_report_timestamp"`
	To      string         `json:"to_report_timestamp"`
	Changes jsondiff.Patch `json:"changes"`
}

// Compute diffs the two most recent reports of agentID.
func Compute(ctx context.Context, st store.ReportStore, agentID string) (*Report, error) {
	recent, err := st.History(ctx, agentID, 2)
	if err != nil {
		return nil, err
	}
	if len(recent) < 2 {
		return nil, fmt.Errorf("agent %s: %w", agentID, ErrInsufficientHistory)
	}

	newer, older := recent[0], recent[1]

	patch, err := jsondiff.Compare(older.Scan, newer.Scan)
	if err != nil {
		return nil, fmt.Errorf("diff fact contexts: %w", err)
	}

	return &Report{
		AgentID: agentID,
		From:    older.ReceivedAt,
		To:      newer.ReceivedAt,
		Changes: patch,
	}, nil
}
