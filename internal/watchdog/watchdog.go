// Package watchdog enforces the agent heartbeat deadline. A periodic
// tick atomically reads and clears the liveness flag; a tick that finds
// the flag already clear declares the agent lost, raises an alert and
// engages the killswitch hook. A beat anywhere inside the window
// satisfies the tick; no distinction is made between an agent that
// never checked in and one that stopped long ago.
//
// The tick body touches only atomics and the non-blocking alert path,
// so it never contends with the command bridge.
package watchdog

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/ppiankov/invigil/internal/alerts"
	"github.com/ppiankov/invigil/internal/hooks"
	"github.com/ppiankov/invigil/internal/protocol"
	"github.com/ppiankov/invigil/internal/state"
)

// Config holds watchdog configuration.
type Config struct {
	// Interval overrides the tick cadence. Zero follows the enforcement
	// state's heartbeat timeout (policy-supplied or the 6000 ms default).
	Interval time.Duration
}

// Watchdog drives the read-and-clear liveness check.
type Watchdog struct {
	cfg    Config
	st     *state.State
	raiser alerts.Raiser
	kill   hooks.Killswitch

	// lost tracks whether the previous tick already declared an outage.
	// Touched only by the tick goroutine.
	lost bool

	staleTicks atomic.Uint64
	outages    atomic.Uint64
}

// New creates a watchdog over the shared enforcement state. A nil raiser
// or killswitch gets the no-op default.
func New(cfg Config, st *state.State, raiser alerts.Raiser, kill hooks.Killswitch) *Watchdog {
	if raiser == nil {
		raiser = alerts.Discard
	}
	if kill == nil {
		kill = hooks.NoopKillswitch{}
	}
	return &Watchdog{cfg: cfg, st: st, raiser: raiser, kill: kill}
}

// Run starts the tick loop. Blocks until ctx is cancelled. The cadence
// follows the state's heartbeat timeout and picks up policy changes on
// the next tick.
func (w *Watchdog) Run(ctx context.Context) error {
	interval := w.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Tick()
			if next := w.interval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// Tick runs one liveness check. Exported so tests can drive the
// watchdog without waiting on the timer.
func (w *Watchdog) Tick() {
	if w.st.ReadAndClearAlive() {
		if w.lost {
			w.lost = false
			fmt.Fprintf(os.Stderr, "watchdog: agent heartbeat recovered\n")
		}
		return
	}

	w.staleTicks.Add(1)
	fmt.Fprintf(os.Stderr, "watchdog: heartbeat lost, agent is unresponsive\n")
	if w.lost {
		// Still inside the same outage. One alert per transition keeps
		// the pending queue from filling with duplicates.
		return
	}
	w.lost = true
	w.outages.Add(1)

	pid, _ := w.st.Service()
	w.raiser.Raise(alerts.New(protocol.AlertHeartbeatLost, pid, "no heartbeat inside the watchdog window"))
	if err := w.kill.Engage("heartbeat lost"); err != nil {
		fmt.Fprintf(os.Stderr, "watchdog: killswitch engage: %v\n", err)
	}
}

// StaleTicks reports how many ticks found no heartbeat.
func (w *Watchdog) StaleTicks() uint64 { return w.staleTicks.Load() }

// Outages reports how many distinct losses have been declared.
func (w *Watchdog) Outages() uint64 { return w.outages.Load() }

func (w *Watchdog) interval() time.Duration {
	if w.cfg.Interval > 0 {
		return w.cfg.Interval
	}
	return w.st.HeartbeatTimeout()
}
