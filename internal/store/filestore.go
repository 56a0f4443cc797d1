package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fleetcomply/fleetcomply/internal/models"
	"github.com/fleetcomply/fleetcomply/internal/observability/logging"
)

// Report identity timestamps: UTC, second precision, lexically sortable.
const timestampLayout = "20060102T150405Z"

const reportCacheSize = 256

// indexEntry is the compact per-report record kept in an agent's index file.
type indexEntry struct {
	ReportTimestamp  string `json:"report_timestamp"`
	File             string `json:"file"`
	Hostname         string `json:"hostname"`
	FailedRulesCount int    `json:"failed_rules_count"`
}

type agentIndex struct {
	AgentID string       `json:"agent_id"`
	Reports []indexEntry `json:"reports"`
}

// FileStore keeps one file per report under
// <root>/<agent_id>/reports/<timestamp>.json with a compact index.json per
// agent. Report files are immutable once written, so reads go through a
// small LRU cache; the index is re-read on every operation.
type FileStore struct {
	root string
	log  logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	cache *lru.Cache[string, *models.Report]

	// Swappable for tests: deterministic timestamps and index write failures.
	now       func() time.Time
	writeFile func(name string, data []byte, perm os.FileMode) error
}

var _ ReportStore = (*FileStore)(nil)

// NewFileStore returns a FileStore rooted at root, creating it if needed.
func NewFileStore(root string, log logging.Logger) (*FileStore, error) {
	if log == nil {
		log = logging.Noop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &WriteError{Path: root, Err: err}
	}
	cache, err := lru.New[string, *models.Report](reportCacheSize)
	if err != nil {
		return nil, err
	}
	return &FileStore{
		root:      root,
		log:       log,
		locks:     make(map[string]*sync.Mutex),
		cache:     cache,
		now:       time.Now,
		writeFile: os.WriteFile,
	}, nil
}

// agentLock returns the mutex serializing writes for one agent. Appends for
// different agents never contend.
func (s *FileStore) agentLock(agentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[agentID] = l
	}
	return l
}

func (s *FileStore) agentDir(agentID string) string {
	return filepath.Join(s.root, agentID)
}

func (s *FileStore) indexPath(agentID string) string {
	return filepath.Join(s.agentDir(agentID), "index.json")
}

func (s *FileStore) loadIndex(agentID string) (*agentIndex, error) {
	path := s.indexPath(agentID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &agentIndex{AgentID: agentID}, nil
		}
		return nil, &ReadError{Path: path, Err: err}
	}
	var idx agentIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	idx.AgentID = agentID
	return &idx, nil
}

func (s *FileStore) saveIndex(agentID string, idx *agentIndex) error {
	// Defensive re-sort; normal operation appends in order already.
	sort.Slice(idx.Reports, func(i, j int) bool {
		return idx.Reports[i].ReportTimestamp < idx.Reports[j].ReportTimestamp
	})
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return &WriteError{Path: s.indexPath(agentID), Err: err}
	}
	if err := s.writeFile(s.indexPath(agentID), data, 0o644); err != nil {
		return &WriteError{Path: s.indexPath(agentID), Err: err}
	}
	return nil
}

// Append persists a new report and its index entry. The index update is a
// read-modify-write serialized per agent so a concurrent sibling entry is
// never lost. When two appends land within the same second the new timestamp
// is bumped one second past the newest entry to keep history strictly
// monotonic.
func (s *FileStore) Append(ctx context.Context, agentID string, facts models.FactContext, results []models.RuleResult) (string, error) {
	if err := ValidateAgentID(agentID); err != nil {
		return "", err
	}

	lock := s.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	reportsDir := filepath.Join(s.agentDir(agentID), "reports")
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return "", &WriteError{Path: reportsDir, Err: err}
	}

	idx, err := s.loadIndex(agentID)
	if err != nil {
		return "", err
	}

	ts := s.now().UTC().Truncate(time.Second)
	if n := len(idx.Reports); n > 0 {
		if last, perr := time.Parse(timestampLayout, idx.Reports[n-1].ReportTimestamp); perr == nil && !ts.After(last) {
			ts = last.Add(time.Second)
		}
	}
	tsStr := ts.Format(timestampLayout)

	report := &models.Report{
		AgentID:    agentID,
		ReceivedAt: tsStr,
		Scan:       facts,
		Rules:      results,
	}

	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", &WriteError{Path: reportsDir, Err: err}
	}

	relFile := filepath.Join("reports", tsStr+".json")
	reportPath := filepath.Join(s.agentDir(agentID), relFile)
	if err := os.WriteFile(reportPath, payload, 0o644); err != nil {
		return "", &WriteError{Path: reportPath, Err: err}
	}

	failed := 0
	for _, r := range results {
		if !r.Passed {
			failed++
		}
	}

	idx.Reports = append(idx.Reports, indexEntry{
		ReportTimestamp:  tsStr,
		File:             relFile,
		Hostname:         facts.Hostname(),
		FailedRulesCount: failed,
	})
	if err := s.saveIndex(agentID, idx); err != nil {
		// An unindexed report file is unreachable; remove it so a failed
		// append leaves no partial state behind.
		_ = os.Remove(reportPath)
		return "", err
	}

	s.cache.Add(agentID+"/"+tsStr, report)
	s.log.Debug("store", "report appended",
		"agent_id", agentID, "timestamp", tsStr, "failed", failed)

	return tsStr, nil
}

// loadReport reads one report through the cache. Reports never change after
// write, so cached entries never go stale.
func (s *FileStore) loadReport(agentID string, entry indexEntry) (*models.Report, error) {
	key := agentID + "/" + entry.ReportTimestamp
	if r, ok := s.cache.Get(key); ok {
		return r, nil
	}

	path := filepath.Join(s.agentDir(agentID), entry.File)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	var report models.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}

	s.cache.Add(key, &report)
	return &report, nil
}

// Latest returns the newest readable report, or ErrNoReports. A corrupt
// newest file falls back to the next entry rather than failing the lookup.
func (s *FileStore) Latest(ctx context.Context, agentID string) (*models.Report, error) {
	if err := ValidateAgentID(agentID); err != nil {
		return nil, err
	}
	idx, err := s.loadIndex(agentID)
	if err != nil {
		return nil, err
	}
	for i := len(idx.Reports) - 1; i >= 0; i-- {
		report, err := s.loadReport(agentID, idx.Reports[i])
		if err != nil {
			s.log.Warn("store", "skipping unreadable report",
				"agent_id", agentID, "timestamp", idx.Reports[i].ReportTimestamp, "error", err.Error())
			continue
		}
		return report, nil
	}
	return nil, fmt.Errorf("agent %s: %w", agentID, ErrNoReports)
}

// History returns up to limit reports most recent first. Each report is
// re-read from storage so derived views computed over it reflect current
// catalog and config, not the state at write time.
func (s *FileStore) History(ctx context.Context, agentID string, limit int) ([]*models.Report, error) {
	if err := ValidateAgentID(agentID); err != nil {
		return nil, err
	}
	idx, err := s.loadIndex(agentID)
	if err != nil {
		return nil, err
	}

	var out []*models.Report
	for i := len(idx.Reports) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		report, err := s.loadReport(agentID, idx.Reports[i])
		if err != nil {
			s.log.Warn("store", "skipping unreadable report",
				"agent_id", agentID, "timestamp", idx.Reports[i].ReportTimestamp, "error", err.Error())
			continue
		}
		out = append(out, report)
	}
	return out, nil
}

// AllReports returns the agent's full readable history oldest-first.
func (s *FileStore) AllReports(ctx context.Context, agentID string) ([]*models.Report, error) {
	if err := ValidateAgentID(agentID); err != nil {
		return nil, err
	}
	idx, err := s.loadIndex(agentID)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Report, 0, len(idx.Reports))
	for _, entry := range idx.Reports {
		report, err := s.loadReport(agentID, entry)
		if err != nil {
			s.log.Warn("store", "skipping unreadable report",
				"agent_id", agentID, "timestamp", entry.ReportTimestamp, "error", err.Error())
			continue
		}
		out = append(out, report)
	}
	return out, nil
}

// Agents lists agent directories in lexical order.
func (s *FileStore) Agents(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &ReadError{Path: s.root, Err: err}
	}
	var agents []string
	for _, e := range entries {
		if e.IsDir() {
			agents = append(agents, e.Name())
		}
	}
	sort.Strings(agents)
	return agents, nil
}

func (s *FileStore) Close() error { return nil }
