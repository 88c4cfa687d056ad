// Package launchgate implements the banned-application decision for
// process launches. The gate is inert until a valid policy with the
// block-apps flag is in force; the banned list itself is accepted and
// stored even while the flag is off, so enforcement starts the moment
// the flag is toggled without a fresh list push.
package launchgate

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/ppiankov/invigil/internal/alerts"
	"github.com/ppiankov/invigil/internal/protocol"
	"github.com/ppiankov/invigil/internal/state"
)

// Launch describes one process creation observed by a monitor.
type Launch struct {
	Pid       uint32
	ImagePath string
}

// Verdict is the gate's answer for one launch.
type Verdict uint8

const (
	// Allow lets the launch proceed.
	Allow Verdict = iota
	// Deny vetoes the launch; the monitor translates the veto into
	// whatever its facility supports (creation status or kill).
	Deny
)

// Gate evaluates process launches against the banned-app set.
type Gate struct {
	st     *state.State
	raiser alerts.Raiser
	denied atomic.Uint64
}

// New creates a gate over the shared enforcement state. A nil raiser
// gets the no-op default.
func New(st *state.State, raiser alerts.Raiser) *Gate {
	if raiser == nil {
		raiser = alerts.Discard
	}
	return &Gate{st: st, raiser: raiser}
}

// Evaluate decides one launch. Launches with no image path, launches
// while no valid policy carries the block-apps flag, and images not in
// the banned set are allowed. A match denies and raises a
// process-blocked alert.
func (g *Gate) Evaluate(l Launch) Verdict {
	if l.ImagePath == "" {
		return Allow
	}
	p, ok := g.st.Policy()
	if !ok || !p.Flags.Has(protocol.PolicyBlockApps) {
		return Allow
	}

	name := FinalComponent(l.ImagePath)
	if name == "" {
		return Allow
	}
	if !g.st.MatchBanned(name) {
		return Allow
	}

	g.denied.Add(1)
	fmt.Fprintf(os.Stderr, "launchgate: blocked process %s (pid %d)\n", name, l.Pid)
	g.raiser.Raise(alerts.New(protocol.AlertProcessBlocked, l.Pid, name))
	return Deny
}

// Denied reports how many launches the gate has vetoed.
func (g *Gate) Denied() uint64 { return g.denied.Load() }

// FinalComponent returns everything after the last path separator.
// Image paths arrive in host-native form, so both separator conventions
// are honored.
func FinalComponent(path string) string {
	last := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' || path[i] == '\\' {
			last = i + 1
		}
	}
	return path[last:]
}
