// Package client submits scan reports to a fleetcomply server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fleetcomply/fleetcomply/internal/models"
)

const defaultTimeout = 10 * time.Second

// ReportPayload is the wire shape of one submitted report.
type ReportPayload struct {
	AgentID string              `json:"agent_id"`
	Scan    models.FactContext  `json:"scan"`
	Rules   []models.RuleResult `json:"rules"`
}

// SubmitResponse is the server's acknowledgement of an accepted report.
type SubmitResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Client talks to one fleetcomply server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client for serverURL. A zero timeout means 10s.
func New(serverURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// SubmitReport posts payload to the server's report ingest endpoint.
func (c *Client) SubmitReport(ctx context.Context, payload ReportPayload) (*SubmitResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/reports", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("server rejected report: %s: %s",
			resp.Status, strings.TrimSpace(string(msg)))
	}

	var out SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode server response: %w", err)
	}
	return &out, nil
}

// CatalogVersion fetches the server's catalog version token so a remote
// evaluator can detect catalog drift without downloading the rules.
func (c *Client) CatalogVersion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/catalog/version", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("catalog version: unexpected status %s", resp.Status)
	}

	var out struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode catalog version: %w", err)
	}
	return out.Version, nil
}
