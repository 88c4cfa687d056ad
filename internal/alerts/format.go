package alerts

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event WebhookEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event WebhookEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event WebhookEvent) ([]byte, error) {
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("invigil: %s", event.Alert),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Host:* %s", event.Host)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Pid:* %d", event.SourcePid)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:* %s", severityFor(event.Alert))},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Detail:* %s", event.Detail)},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event WebhookEvent) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("invigil %s: %s", event.Alert, event.Detail),
			"severity": severityFor(event.Alert),
			"source":   event.Host,
			"custom_details": map[string]any{
				"alert":      event.Alert,
				"source_pid": event.SourcePid,
				"detail":     event.Detail,
				"timestamp":  event.Timestamp,
			},
		},
	}
	return json.Marshal(payload)
}
