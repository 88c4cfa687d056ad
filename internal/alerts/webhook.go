package alerts

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry-go"

	"github.com/ppiankov/invigil/internal/protocol"
)

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 3
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

var httpClient = &http.Client{Timeout: requestTimeout}

// WebhookConfig defines a webhook alert destination.
type WebhookConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["service_tamper", "heartbeat_lost", ...]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// WebhookEvent is the payload sent to webhook endpoints.
type WebhookEvent struct {
	Timestamp string `json:"timestamp"`
	Host      string `json:"host"`
	Alert     string `json:"alert"`
	SourcePid uint32 `json:"source_pid"`
	Detail    string `json:"detail"`
}

// Send posts an alert event to a webhook endpoint. Connection failures
// and 5xx responses retry with backoff; a 4xx is a final answer and
// comes back without retry.
func Send(cfg WebhookConfig, event WebhookEvent) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	status, err := retry.DoWithData(func() (int, error) {
		req, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return 0, err
		}
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			return resp.StatusCode, fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
		}
		return resp.StatusCode, nil
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
	if err != nil {
		return fmt.Errorf("webhook failed after %d attempts: %w", maxRetries, err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("webhook rejected: HTTP %d", status)
	}
	return nil
}

// severityFor maps alert types to PagerDuty severities. Tampering with
// the agent and brute-force unlock attempts page; the rest inform.
func severityFor(alert string) string {
	switch alert {
	case protocol.AlertServiceTamper.String(), protocol.AlertUnlockBruteForce.String():
		return "critical"
	case protocol.AlertHeartbeatLost.String(), protocol.AlertFileTamper.String():
		return "error"
	case protocol.AlertProcessBlocked.String():
		return "warning"
	default:
		return "info"
	}
}
