// Package alerts carries enforcement events from the points that detect
// them to the consumers that care: the pending queue drained by the
// command bridge, the tamper journal, and any configured webhooks.
//
// Raising an alert is safe from every execution context in the daemon.
// The queue insert is a non-blocking channel operation and all delivery
// side effects (journal writes, HTTP posts) run on the Center's own
// goroutine, so a watchdog tick or a gate decision never waits on I/O.
package alerts

import (
	"time"

	"github.com/ppiankov/invigil/internal/protocol"
)

// Alert is a single enforcement event. SourcePid is the process the
// event concerns, zero when no process applies.
type Alert struct {
	Type      protocol.AlertType
	Time      time.Time
	SourcePid uint32
	Detail    string
}

// New stamps an alert with the current time.
func New(t protocol.AlertType, sourcePid uint32, detail string) Alert {
	return Alert{Type: t, Time: time.Now(), SourcePid: sourcePid, Detail: detail}
}

// Wire converts the alert to its fixed-layout record. Details longer
// than the wire field are truncated at marshal time.
func (a Alert) Wire() protocol.AlertRecord {
	return protocol.AlertRecord{
		Type:      a.Type,
		Timestamp: a.Time.UnixNano(),
		SourcePid: a.SourcePid,
		Detail:    a.Detail,
	}
}

// Raiser accepts alerts from enforcement code. Implementations must not
// block the caller.
type Raiser interface {
	Raise(Alert)
}

// RaiserFunc adapts a function to the Raiser interface.
type RaiserFunc func(Alert)

// Raise calls f(a).
func (f RaiserFunc) Raise(a Alert) { f(a) }

// Discard is a Raiser that drops every alert. Useful in tests and as a
// default before the daemon wires a real Center.
var Discard Raiser = RaiserFunc(func(Alert) {})
