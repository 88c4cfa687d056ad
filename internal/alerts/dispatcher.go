package alerts

import (
	"os"
	"time"
)

// Dispatcher fans out alert events to matching webhook configurations.
type Dispatcher struct {
	configs  []WebhookConfig
	hostname string
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []WebhookConfig) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	host, _ := os.Hostname()
	return &Dispatcher{configs: configs, hostname: host}
}

// Dispatch sends the alert to all webhooks whose Events list matches its
// type name. An empty Events list matches everything. Fires goroutines
// and does not block the caller.
func (d *Dispatcher) Dispatch(a Alert) {
	event := WebhookEvent{
		Timestamp: a.Time.UTC().Format(time.RFC3339Nano),
		Host:      d.hostname,
		Alert:     a.Type.String(),
		SourcePid: a.SourcePid,
		Detail:    a.Detail,
	}
	for _, cfg := range d.configs {
		if matches(cfg.Events, event.Alert) {
			go Send(cfg, event)
		}
	}
}

// Deliver adapts Dispatch to the Center's delivery hook. Nil-safe so a
// daemon with no webhooks configured can wire it unconditionally.
func (d *Dispatcher) Deliver(a Alert) {
	if d == nil {
		return
	}
	d.Dispatch(a)
}

func matches(events []string, name string) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if e == name {
			return true
		}
	}
	return false
}
