package sim

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders the replay result as human-readable text.
func FormatText(r *Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Replaying %d events through the enforcement gates...\n\n", r.Total)

	for _, line := range r.Lines {
		subject := line.Subject
		if len(subject) > 44 {
			subject = subject[:41] + "..."
		}
		fmt.Fprintf(&b, "  %-7s %-44s %-9s %s\n", line.Gate, subject, line.Verdict, line.Detail)
	}

	fmt.Fprintf(&b, "\n%d denied, %d stripped, %d untouched or allowed.", r.Denied, r.Stripped, r.Allowed)
	if r.Alerts > 0 {
		fmt.Fprintf(&b, " %d alerts raised.", r.Alerts)
	}
	b.WriteString("\n")

	return b.String()
}

// FormatJSON renders the replay result as JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}
