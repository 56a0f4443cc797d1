// Package events publishes report lifecycle notifications to NATS so
// downstream consumers (dashboards, SIEM pipelines) can react to new
// evidence without polling the API.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fleetcomply/fleetcomply/internal/observability/logging"
)

// DefaultSubject is the subject reports are announced on.
const DefaultSubject = "compliance.report.received"

const connectTimeout = 10 * time.Second

// ReportReceived is the payload published after a successful append.
type ReportReceived struct {
	AgentID          string `json:"agent_id"`
	ReportTimestamp  string `json:"report_timestamp"`
	Hostname         string `json:"hostname,omitempty"`
	FailedRulesCount int    `json:"failed_rules_count"`
}

// Publisher emits events to one NATS subject. Publishing is best effort:
// failures are logged, never surfaced to the report path.
type Publisher struct {
	conn    *nats.Conn
	subject string
	log     logging.Logger
}

// NewPublisher connects to url. An empty subject uses DefaultSubject.
func NewPublisher(url, subject string, log logging.Logger) (*Publisher, error) {
	if log == nil {
		log = logging.Noop()
	}
	if subject == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(url,
		nats.Timeout(connectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Info("events", "NATS publisher connected", "url", url, "subject", subject)
	return &Publisher{conn: conn, subject: subject, log: log}, nil
}

// Publish announces one received report.
func (p *Publisher) Publish(ctx context.Context, event ReportReceived) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", p.subject, err)
	}
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
