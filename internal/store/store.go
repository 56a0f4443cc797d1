// Package store owns the append-only per-agent report history and its index,
// plus the per-agent configuration records. No other component mutates this
// state directly.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fleetcomply/fleetcomply/internal/models"
)

// ErrNoReports signals the valid empty state of an agent that has never
// reported. It is distinguishable from a report with zero failures.
var ErrNoReports = errors.New("no reports for agent")

// ErrInvalidAgentID rejects agent identifiers that cannot safely name a
// storage key (empty, path separators, relative path elements).
var ErrInvalidAgentID = errors.New("invalid agent id")

// ValidateAgentID checks that id is usable as a single storage key segment.
// Store implementations and the transport boundary both apply it, so a
// crafted agent id can never address state outside the agent's own slot.
func ValidateAgentID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("agent id %q: %w", id, ErrInvalidAgentID)
	}
	return nil
}

// ReadError wraps an I/O failure while reading a report or index. History
// walks recover from it by skipping the offending record.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string { return fmt.Sprintf("storage read %s: %v", e.Path, e.Err) }
func (e *ReadError) Unwrap() error { return e.Err }

// WriteError wraps an I/O failure while persisting a report or index. It is
// always surfaced to the caller of Append; losing a report silently is not
// acceptable.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string { return fmt.Sprintf("storage write %s: %v", e.Path, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// ReportStore persists report snapshots per agent in append-only,
// timestamp-ordered history. Append is serialized per agent; all read
// operations are side-effect-free and need no coordination.
type ReportStore interface {
	// Append writes a new report for agentID and returns its timestamp
	// (second precision, sortable string form). History stays strictly
	// monotonically increasing by timestamp.
	Append(ctx context.Context, agentID string, facts models.FactContext, results []models.RuleResult) (string, error)

	// Latest returns the highest-timestamp report, or ErrNoReports.
	Latest(ctx context.Context, agentID string) (*models.Report, error)

	// History returns up to limit reports, most recent first, re-read from
	// storage on every call. Unreadable reports are skipped.
	History(ctx context.Context, agentID string, limit int) ([]*models.Report, error)

	// AllReports returns the agent's full history oldest-first. An agent
	// that never reported yields an empty slice, not an error.
	AllReports(ctx context.Context, agentID string) ([]*models.Report, error)

	// Agents lists every known agent id in lexical order.
	Agents(ctx context.Context) ([]string, error)

	Close() error
}

// ConfigStore supplies and persists AgentConfig records. Get returns defaults
// when no record exists.
type ConfigStore interface {
	Get(ctx context.Context, agentID string) (models.AgentConfig, error)
	Put(ctx context.Context, cfg models.AgentConfig) error
}
