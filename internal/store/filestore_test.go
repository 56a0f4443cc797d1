package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetcomply/fleetcomply/internal/models"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	return s
}

func sampleFacts(hostname string) models.FactContext {
	return models.FactContext{
		"hostname": hostname,
		"ssh":      map[string]any{"permit_root_login": "yes"},
	}
}

func sampleResults() []models.RuleResult {
	return []models.RuleResult{
		{RuleID: "ssh-root-login-disabled", Passed: false, Severity: models.SeverityHigh},
		{RuleID: "no-telnet-listener", Passed: true, Severity: models.SeverityCritical},
	}
}

func TestFileStore_AppendLatestRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ts, err := s.Append(ctx, "agent-1", sampleFacts("web-01"), sampleResults())
	require.NoError(t, err)
	require.NotEmpty(t, ts)

	_, err = time.Parse("20060102T150405Z", ts)
	require.NoError(t, err, "timestamp %q must use the store layout", ts)

	latest, err := s.Latest(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", latest.AgentID)
	assert.Equal(t, ts, latest.ReceivedAt)
	assert.Equal(t, "web-01", latest.Scan.Hostname())
	assert.Len(t, latest.Rules, 2)
	assert.Equal(t, 1, latest.FailedCount())
}

func TestFileStore_LatestNoReports(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Latest(context.Background(), "never-seen")
	assert.ErrorIs(t, err, ErrNoReports)
}

func TestFileStore_SameSecondAppendsStayMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	frozen := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return frozen }

	ts1, err := s.Append(ctx, "agent-1", sampleFacts("web-01"), sampleResults())
	require.NoError(t, err)
	ts2, err := s.Append(ctx, "agent-1", sampleFacts("web-01"), sampleResults())
	require.NoError(t, err)
	ts3, err := s.Append(ctx, "agent-1", sampleFacts("web-01"), sampleResults())
	require.NoError(t, err)

	assert.Equal(t, "20260828T120000Z", ts1)
	assert.Equal(t, "20260828T120001Z", ts2)
	assert.Equal(t, "20260828T120002Z", ts3)

	history, err := s.History(ctx, "agent-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ts3, history[0].ReceivedAt, "history is most recent first")
	assert.Equal(t, ts1, history[2].ReceivedAt)
}

func TestFileStore_HistoryLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		tick := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return tick }
		_, err := s.Append(ctx, "agent-1", sampleFacts("web-01"), sampleResults())
		require.NoError(t, err)
	}

	history, err := s.History(ctx, "agent-1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "20260828T120400Z", history[0].ReceivedAt)
	assert.Equal(t, "20260828T120300Z", history[1].ReceivedAt)

	all, err := s.AllReports(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "20260828T120000Z", all[0].ReceivedAt, "AllReports is oldest first")
}

func TestFileStore_HistoryEmptyAgent(t *testing.T) {
	s := newTestStore(t)

	history, err := s.History(context.Background(), "never-seen", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestFileStore_ConcurrentAppendsLoseNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	const writers = 8

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Append(ctx, "agent-1", sampleFacts("web-01"), sampleResults())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := s.AllReports(ctx, "agent-1")
	require.NoError(t, err)
	assert.Len(t, all, writers)

	seen := make(map[string]bool)
	for _, r := range all {
		assert.False(t, seen[r.ReceivedAt], "duplicate timestamp %s", r.ReceivedAt)
		seen[r.ReceivedAt] = true
	}
}

func TestFileStore_CorruptReportSkipped(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	ts1, err := s.Append(ctx, "agent-1", sampleFacts("old-host"), sampleResults())
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(time.Minute) }
	ts2, err := s.Append(ctx, "agent-1", sampleFacts("new-host"), sampleResults())
	require.NoError(t, err)

	// Corrupt the newest report on disk and drop it from the cache.
	path := filepath.Join(dir, "agent-1", "reports", ts2+".json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	s.cache.Remove("agent-1/" + ts2)

	latest, err := s.Latest(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, ts1, latest.ReceivedAt, "Latest falls back past the corrupt file")

	all, err := s.AllReports(ctx, "agent-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFileStore_Agents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, agent := range []string{"zeta", "alpha", "mid"} {
		_, err := s.Append(ctx, agent, sampleFacts(agent), sampleResults())
		require.NoError(t, err)
	}

	agents, err := s.Agents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, agents)
}

func TestFileStore_IndexEntryFields(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	ts, err := s.Append(context.Background(), "agent-1", sampleFacts("web-01"), sampleResults())
	require.NoError(t, err)

	idx, err := s.loadIndex("agent-1")
	require.NoError(t, err)
	require.Len(t, idx.Reports, 1)

	entry := idx.Reports[0]
	assert.Equal(t, ts, entry.ReportTimestamp)
	assert.Equal(t, filepath.Join("reports", ts+".json"), entry.File)
	assert.Equal(t, "web-01", entry.Hostname)
	assert.Equal(t, 1, entry.FailedRulesCount)
}

func TestReadWriteErrors(t *testing.T) {
	inner := errors.New("boom")

	re := &ReadError{Path: "/x/y", Err: inner}
	assert.ErrorIs(t, re, inner)
	assert.Contains(t, re.Error(), "/x/y")

	we := &WriteError{Path: "/x/y", Err: inner}
	assert.ErrorIs(t, we, inner)
	assert.Contains(t, we.Error(), "/x/y")
}

func TestFileStore_RejectsTraversalAgentIDs(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "root")
	s, err := NewFileStore(root, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"../outside", "a/b", `a\b`, "..", ".", ""} {
		_, err := s.Append(ctx, id, sampleFacts("web-01"), sampleResults())
		assert.ErrorIs(t, err, ErrInvalidAgentID, "Append(%q)", id)

		_, err = s.Latest(ctx, id)
		assert.ErrorIs(t, err, ErrInvalidAgentID, "Latest(%q)", id)

		_, err = s.History(ctx, id, 1)
		assert.ErrorIs(t, err, ErrInvalidAgentID, "History(%q)", id)

		_, err = s.AllReports(ctx, id)
		assert.ErrorIs(t, err, ErrInvalidAgentID, "AllReports(%q)", id)
	}

	// Nothing may have been created next to the store root.
	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "root", entries[0].Name())
}

func TestFileStore_FailedIndexWriteLeavesNoOrphan(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	s.writeFile = func(name string, data []byte, perm os.FileMode) error {
		return errors.New("disk full")
	}

	_, err = s.Append(ctx, "agent-1", sampleFacts("web-01"), sampleResults())
	var we *WriteError
	require.ErrorAs(t, err, &we)

	reports, err := os.ReadDir(filepath.Join(dir, "agent-1", "reports"))
	require.NoError(t, err)
	assert.Empty(t, reports, "failed append must not leave an unindexed report file")

	_, err = s.Latest(ctx, "agent-1")
	assert.ErrorIs(t, err, ErrNoReports)

	// The store recovers once index writes work again.
	s.writeFile = os.WriteFile
	ts, err := s.Append(ctx, "agent-1", sampleFacts("web-01"), sampleResults())
	require.NoError(t, err)
	latest, err := s.Latest(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, ts, latest.ReceivedAt)
}

func TestFileStore_ManyAgentsIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		agent := fmt.Sprintf("agent-%d", i)
		_, err := s.Append(ctx, agent, sampleFacts(agent), sampleResults())
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		agent := fmt.Sprintf("agent-%d", i)
		latest, err := s.Latest(ctx, agent)
		require.NoError(t, err)
		assert.Equal(t, agent, latest.Scan.Hostname())
	}
}
