package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/fleetcomply/fleetcomply/internal/models"
	"github.com/fleetcomply/fleetcomply/internal/observability/logging"
)

// PostgresStore implements ReportStore and ConfigStore over PostgreSQL.
// Reports live in an append-only table keyed by (agent_id, report_timestamp);
// the columns outside the payload act as the compact index.
type PostgresStore struct {
	db  *sql.DB
	log logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

var (
	_ ReportStore = (*PostgresStore)(nil)
	_ ConfigStore = (*PostgresStore)(nil)
)

// NewPostgresStore connects to dsn, applies the schema and returns the store.
func NewPostgresStore(dsn string, log logging.Logger) (*PostgresStore, error) {
	if log == nil {
		log = logging.Noop()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{
		db:    db,
		log:   log,
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			agent_id           text NOT NULL,
			report_timestamp   text NOT NULL,
			hostname           text NOT NULL DEFAULT '',
			failed_rules_count integer NOT NULL DEFAULT 0,
			payload            jsonb NOT NULL,
			PRIMARY KEY (agent_id, report_timestamp)
		)`,
		`CREATE TABLE IF NOT EXISTS agent_configs (
			agent_id text PRIMARY KEY,
			config   jsonb NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) agentLock(agentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[agentID] = l
	}
	return l
}

// Append inserts a new report row. The timestamp is bumped past the agent's
// newest row when needed so history stays strictly monotonic.
func (s *PostgresStore) Append(ctx context.Context, agentID string, facts models.FactContext, results []models.RuleResult) (string, error) {
	if err := ValidateAgentID(agentID); err != nil {
		return "", err
	}

	lock := s.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	var lastTS sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT max(report_timestamp) FROM reports WHERE agent_id = $1`, agentID,
	).Scan(&lastTS)
	if err != nil {
		return "", &ReadError{Path: "reports", Err: err}
	}

	ts := s.now().UTC().Truncate(time.Second)
	if lastTS.Valid {
		if last, perr := time.Parse(timestampLayout, lastTS.String); perr == nil && !ts.After(last) {
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
	payload, err := json.Marshal(report)
	if err != nil {
		return "", &WriteError{Path: "reports", Err: err}
	}

	failed := 0
	for _, r := range results {
		if !r.Passed {
			failed++
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (agent_id, report_timestamp, hostname, failed_rules_count, payload)
		 VALUES ($1, $2, $3, $4, $5)`,
		agentID, tsStr, facts.Hostname(), failed, payload)
	if err != nil {
		return "", &WriteError{Path: "reports", Err: err}
	}

	s.log.Debug("store", "report appended",
		"agent_id", agentID, "timestamp", tsStr, "failed", failed)
	return tsStr, nil
}

func (s *PostgresStore) scanReports(rows *sql.Rows, agentID string) ([]*models.Report, error) {
	defer rows.Close()

	var out []*models.Report
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, &ReadError{Path: "reports", Err: err}
		}
		var report models.Report
		if err := json.Unmarshal(payload, &report); err != nil {
			s.log.Warn("store", "skipping undecodable report",
				"agent_id", agentID, "error", err.Error())
			continue
		}
		out = append(out, &report)
	}
	if err := rows.Err(); err != nil {
		return nil, &ReadError{Path: "reports", Err: err}
	}
	return out, nil
}

// Latest returns the newest report for agentID, or ErrNoReports.
func (s *PostgresStore) Latest(ctx context.Context, agentID string) (*models.Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM reports WHERE agent_id = $1 ORDER BY report_timestamp DESC LIMIT 1`,
		agentID)
	if err != nil {
		return nil, &ReadError{Path: "reports", Err: err}
	}
	reports, err := s.scanReports(rows, agentID)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("agent %s: %w", agentID, ErrNoReports)
	}
	return reports[0], nil
}

// History returns up to limit reports most recent first.
func (s *PostgresStore) History(ctx context.Context, agentID string, limit int) ([]*models.Report, error) {
	query := `SELECT payload FROM reports WHERE agent_id = $1 ORDER BY report_timestamp DESC`
	args := []any{agentID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &ReadError{Path: "reports", Err: err}
	}
	return s.scanReports(rows, agentID)
}

// AllReports returns the agent's full history oldest-first.
func (s *PostgresStore) AllReports(ctx context.Context, agentID string) ([]*models.Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM reports WHERE agent_id = $1 ORDER BY report_timestamp ASC`,
		agentID)
	if err != nil {
		return nil, &ReadError{Path: "reports", Err: err}
	}
	return s.scanReports(rows, agentID)
}

// Agents lists every agent that has reported or been configured.
func (s *PostgresStore) Agents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id FROM reports
		 UNION SELECT agent_id FROM agent_configs
		 ORDER BY agent_id`)
	if err != nil {
		return nil, &ReadError{Path: "reports", Err: err}
	}
	defer rows.Close()

	var agents []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &ReadError{Path: "reports", Err: err}
		}
		agents = append(agents, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &ReadError{Path: "reports", Err: err}
	}
	return agents, nil
}

// Get returns the agent's configuration, or defaults when no row exists.
func (s *PostgresStore) Get(ctx context.Context, agentID string) (models.AgentConfig, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT config FROM agent_configs WHERE agent_id = $1`, agentID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return models.DefaultAgentConfig(agentID), nil
	}
	if err != nil {
		return models.AgentConfig{}, &ReadError{Path: "agent_configs", Err: err}
	}

	cfg := models.DefaultAgentConfig(agentID)
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return models.AgentConfig{}, &ReadError{Path: "agent_configs", Err: err}
	}
	cfg.AgentID = agentID
	if cfg.Criticality == "" {
		cfg.Criticality = models.CriticalityNormal
	}
	return cfg, nil
}

// Put upserts the agent's configuration.
func (s *PostgresStore) Put(ctx context.Context, cfg models.AgentConfig) error {
	if err := ValidateAgentID(cfg.AgentID); err != nil {
		return err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return &WriteError{Path: "agent_configs", Err: err}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_configs (agent_id, config) VALUES ($1, $2)
		 ON CONFLICT (agent_id) DO UPDATE SET config = EXCLUDED.config`,
		cfg.AgentID, raw)
	if err != nil {
		return &WriteError{Path: "agent_configs", Err: err}
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }
