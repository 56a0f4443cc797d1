package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/fleetcomply/fleetcomply/internal/models"
)

// FileConfigStore keeps one config.json per agent directory, next to the
// agent's report history.
type FileConfigStore struct {
	root string
	mu   sync.Mutex
}

var _ ConfigStore = (*FileConfigStore)(nil)

// NewFileConfigStore returns a FileConfigStore rooted at root.
func NewFileConfigStore(root string) (*FileConfigStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &WriteError{Path: root, Err: err}
	}
	return &FileConfigStore{root: root}, nil
}

func (s *FileConfigStore) path(agentID string) string {
	return filepath.Join(s.root, agentID, "config.json")
}

// Get returns the agent's configuration, or defaults when none was stored.
func (s *FileConfigStore) Get(ctx context.Context, agentID string) (models.AgentConfig, error) {
	if err := ValidateAgentID(agentID); err != nil {
		return models.AgentConfig{}, err
	}
	data, err := os.ReadFile(s.path(agentID))
	if err != nil {
		if os.IsNotExist(err) {
			return models.DefaultAgentConfig(agentID), nil
		}
		return models.AgentConfig{}, &ReadError{Path: s.path(agentID), Err: err}
	}

	cfg := models.DefaultAgentConfig(agentID)
	if err := json.Unmarshal(data, &cfg); err != nil {
		return models.AgentConfig{}, &ReadError{Path: s.path(agentID), Err: err}
	}
	cfg.AgentID = agentID
	if cfg.Criticality == "" {
		cfg.Criticality = models.CriticalityNormal
	}
	return cfg, nil
}

// Put persists cfg, replacing any previous record.
func (s *FileConfigStore) Put(ctx context.Context, cfg models.AgentConfig) error {
	if err := ValidateAgentID(cfg.AgentID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, cfg.AgentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &WriteError{Path: dir, Err: err}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return &WriteError{Path: s.path(cfg.AgentID), Err: err}
	}
	if err := os.WriteFile(s.path(cfg.AgentID), data, 0o644); err != nil {
		return &WriteError{Path: s.path(cfg.AgentID), Err: err}
	}
	return nil
}
