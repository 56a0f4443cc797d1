// Package server exposes the compliance engine over HTTP: report ingest plus
// the read-time derived views (latest, history, streaks, what-if, drift) and
// the catalog version token. All derived views are recomputed from storage on
// every request so they stay consistent when the catalog or an agent's
// configuration changes.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/fleetcomply/fleetcomply/internal/catalog"
	"github.com/fleetcomply/fleetcomply/internal/drift"
	"github.com/fleetcomply/fleetcomply/internal/events"
	"github.com/fleetcomply/fleetcomply/internal/history"
	"github.com/fleetcomply/fleetcomply/internal/models"
	"github.com/fleetcomply/fleetcomply/internal/observability/logging"
	otelobs "github.com/fleetcomply/fleetcomply/internal/observability/otel"
	"github.com/fleetcomply/fleetcomply/internal/risk"
	"github.com/fleetcomply/fleetcomply/internal/rules"
	"github.com/fleetcomply/fleetcomply/internal/store"
	"github.com/fleetcomply/fleetcomply/internal/whatif"
)

const defaultHistoryLimit = 20

// CatalogFunc supplies the current rule catalog. It is invoked per read so
// callers control refresh cadence; the default loader re-reads the rule
// sources every time.
type CatalogFunc func() ([]models.RuleDefinition, error)

// Server wires the engine's components behind HTTP handlers.
type Server struct {
	reports store.ReportStore
	configs store.ConfigStore
	loadCat CatalogFunc
	engine  *rules.Engine
	pub     *events.Publisher // nil when eventing is disabled
	log     logging.Logger

	metrics  *Metrics
	registry *prometheus.Registry
}

// New assembles a Server. pub may be nil.
func New(reports store.ReportStore, configs store.ConfigStore, loadCat CatalogFunc, engine *rules.Engine, pub *events.Publisher, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	registry := prometheus.NewRegistry()
	return &Server{
		reports:  reports,
		configs:  configs,
		loadCat:  loadCat,
		engine:   engine,
		pub:      pub,
		log:      log,
		metrics:  NewMetrics(registry),
		registry: registry,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	mux.HandleFunc("POST /api/v1/reports", s.handleIngest)
	mux.HandleFunc("GET /api/v1/agents", s.handleAgents)
	mux.HandleFunc("GET /api/v1/agents/{id}/latest", s.handleLatest)
	mux.HandleFunc("GET /api/v1/agents/{id}/latest/raw", s.handleLatestRaw)
	mux.HandleFunc("GET /api/v1/agents/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /api/v1/agents/{id}/streaks", s.handleStreaks)
	mux.HandleFunc("GET /api/v1/agents/{id}/whatif", s.handleWhatIf)
	mux.HandleFunc("GET /api/v1/agents/{id}/drift", s.handleDrift)
	mux.HandleFunc("GET /api/v1/agents/{id}/config", s.handleConfigGet)
	mux.HandleFunc("PUT /api/v1/agents/{id}/config", s.handleConfigPut)
	mux.HandleFunc("GET /api/v1/catalog", s.handleCatalog)
	mux.HandleFunc("GET /api/v1/catalog/version", s.handleCatalogVersion)

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return s.instrument(mux)
}

// instrument records request latency per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RequestDuration.WithLabelValues(route, r.Method).
			Observe(time.Since(start).Seconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// agentID extracts and validates the {id} path segment. Rejecting path
// separators and relative elements here keeps crafted ids from ever reaching
// a store.
func (s *Server) agentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if err := store.ValidateAgentID(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return "", false
	}
	return id, true
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.loadCat(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "rule catalog unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type ingestRequest struct {
	AgentID string              `json:"agent_id"`
	Scan    models.FactContext  `json:"scan"`
	Rules   []models.RuleResult `json:"rules"`
}

// handleIngest accepts one report. Agents may submit pre-evaluated rule
// results; when Rules is empty the server evaluates the current catalog
// against the submitted facts instead.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h := otelobs.From(ctx); h != nil {
		var span trace.Span
		ctx, span = h.Tracer.Start(ctx, "fleetcomply.ingest")
		defer span.End()
		r = r.WithContext(ctx)
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid report payload: "+err.Error())
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	if err := store.ValidateAgentID(req.AgentID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent_id")
		return
	}
	if req.Scan == nil {
		writeError(w, http.StatusBadRequest, "scan is required")
		return
	}

	results := req.Rules
	if len(results) == 0 {
		defs, err := s.loadCat()
		if err != nil {
			s.log.Error("server", "catalog load failed", "error", err.Error())
			writeError(w, http.StatusInternalServerError, "rule catalog unavailable")
			return
		}
		results = s.engine.EvaluateAll(defs, req.Scan)
	}

	for _, res := range results {
		if res.Details != "" {
			s.metrics.EvalErrors.Inc()
		}
	}

	ts, err := s.reports.Append(r.Context(), req.AgentID, req.Scan, results)
	if err != nil {
		s.metrics.AppendErrors.Inc()
		s.log.Error("server", "report append failed",
			"agent_id", req.AgentID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "failed to persist report")
		return
	}
	s.metrics.ReportsReceived.Inc()

	failed := 0
	for _, res := range results {
		if !res.Passed {
			failed++
		}
	}
	s.log.Info("server", "report received",
		"agent_id", req.AgentID, "timestamp", ts,
		"rules", len(results), "failed", failed)

	if s.pub != nil {
		event := events.ReportReceived{
			AgentID:          req.AgentID,
			ReportTimestamp:  ts,
			Hostname:         req.Scan.Hostname(),
			FailedRulesCount: failed,
		}
		if err := s.pub.Publish(r.Context(), event); err != nil {
			s.log.Warn("server", "event publish failed", "error", err.Error())
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "timestamp": ts})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	ids, err := s.reports.Agents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}

	summaries := make([]models.AgentSummary, 0, len(ids))
	for _, id := range ids {
		summary := models.AgentSummary{AgentID: id}

		latest, err := s.reports.Latest(r.Context(), id)
		if err == nil {
			cfg, cfgErr := s.configs.Get(r.Context(), id)
			if cfgErr != nil {
				cfg = models.DefaultAgentConfig(id)
			}
			summary.LastReportAt = latest.ReceivedAt
			summary.Hostname = latest.Scan.Hostname()
			summary.FailedRulesCount = latest.FailedCount()
			summary.RiskScore = risk.Score(latest, cfg)
		} else if !errors.Is(err, store.ErrNoReports) {
			s.log.Warn("server", "latest report lookup failed",
				"agent_id", id, "error", err.Error())
		}

		summaries = append(summaries, summary)
	}

	writeJSON(w, http.StatusOK, summaries)
}

// latestSummary is the enriched view of an agent's newest report.
type latestSummary struct {
	AgentID         string              `json:"agent_id"`
	ReportTimestamp string              `json:"report_timestamp"`
	Hostname        string              `json:"hostname"`
	FailedRules     []models.RuleResult `json:"failed_rules"`
	FailedRulesMeta []models.RuleStreak `json:"failed_rules_meta"`
	RiskScore       float64             `json:"risk_score"`
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	agentID, ok := s.agentID(w, r)
	if !ok {
		return
	}

	latest, err := s.reports.Latest(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, store.ErrNoReports) {
			writeError(w, http.StatusNotFound, "no reports for this agent")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read report")
		return
	}

	cfg, err := s.configs.Get(r.Context(), agentID)
	if err != nil {
		cfg = models.DefaultAgentConfig(agentID)
	}

	streaks, err := history.Streaks(r.Context(), s.reports, agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute streaks")
		return
	}

	meta := make([]models.RuleStreak, 0, len(streaks))
	for _, res := range latest.Rules {
		if streak, ok := streaks[res.RuleID]; ok {
			meta = append(meta, streak)
		}
	}

	failed := latest.FailedRules()
	if failed == nil {
		failed = []models.RuleResult{}
	}

	writeJSON(w, http.StatusOK, latestSummary{
		AgentID:         agentID,
		ReportTimestamp: latest.ReceivedAt,
		Hostname:        latest.Scan.Hostname(),
		FailedRules:     failed,
		FailedRulesMeta: meta,
		RiskScore:       risk.Score(latest, cfg),
	})
}

func (s *Server) handleLatestRaw(w http.ResponseWriter, r *http.Request) {
	agentID, ok := s.agentID(w, r)
	if !ok {
		return
	}

	latest, err := s.reports.Latest(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, store.ErrNoReports) {
			writeError(w, http.StatusNotFound, "no reports for this agent")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read report")
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	agentID, ok := s.agentID(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	reports, err := s.reports.History(r.Context(), agentID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	cfg, err := s.configs.Get(r.Context(), agentID)
	if err != nil {
		cfg = models.DefaultAgentConfig(agentID)
	}

	points := make([]models.ReportSummary, 0, len(reports))
	for _, report := range reports {
		points = append(points, models.ReportSummary{
			ReportTimestamp: report.ReceivedAt,
			Hostname:        report.Scan.Hostname(),
			TotalRules:      len(report.Rules),
			FailedRules:     report.FailedCount(),
			RiskScore:       risk.Score(report, cfg),
		})
	}

	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleStreaks(w http.ResponseWriter, r *http.Request) {
	agentID, ok := s.agentID(w, r)
	if !ok {
		return
	}

	streaks, err := history.Streaks(r.Context(), s.reports, agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute streaks")
		return
	}
	writeJSON(w, http.StatusOK, streaks)
}

func (s *Server) handleWhatIf(w http.ResponseWriter, r *http.Request) {
	agentID, ok := s.agentID(w, r)
	if !ok {
		return
	}
	framework := r.URL.Query().Get("framework")
	if framework == "" {
		writeError(w, http.StatusBadRequest, "framework query parameter is required")
		return
	}

	defs, err := s.loadCat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "rule catalog unavailable")
		return
	}

	result, err := whatif.Project(r.Context(), defs, s.reports, agentID, framework)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute projection")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	agentID, ok := s.agentID(w, r)
	if !ok {
		return
	}

	report, err := drift.Compute(r.Context(), s.reports, agentID)
	if err != nil {
		if errors.Is(err, drift.ErrInsufficientHistory) {
			writeError(w, http.StatusNotFound, "agent has fewer than two reports")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to compute drift")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	agentID, ok := s.agentID(w, r)
	if !ok {
		return
	}

	cfg, err := s.configs.Get(r.Context(), agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read agent config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	agentID, ok := s.agentID(w, r)
	if !ok {
		return
	}

	cfg := models.DefaultAgentConfig(agentID)
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent config: "+err.Error())
		return
	}
	cfg.AgentID = agentID

	if err := s.configs.Put(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist agent config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	defs, err := s.loadCat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "rule catalog unavailable")
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

func (s *Server) handleCatalogVersion(w http.ResponseWriter, r *http.Request) {
	defs, err := s.loadCat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "rule catalog unavailable")
		return
	}
	token, err := catalog.VersionToken(defs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to hash catalog: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": token,
		"rules":   len(defs),
	})
}
