// Package psmon polls the process table and feeds launches through the
// launch gate. The platform facility the reference system registers for
// creation callbacks is not available to user space, so launches are
// approximated as pids that appear between scans; a deny verdict is
// translated into a kill. The monitor also notices when the registered
// service process disappears and raises a tamper alert.
package psmon

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/ppiankov/invigil/internal/alerts"
	"github.com/ppiankov/invigil/internal/launchgate"
	"github.com/ppiankov/invigil/internal/protocol"
	"github.com/ppiankov/invigil/internal/state"
)

// Config holds monitor configuration.
type Config struct {
	// PollInterval is the scan cadence. Zero means 1s.
	PollInterval time.Duration
}

// Monitor scans the process table and enforces launch verdicts.
type Monitor struct {
	cfg    Config
	st     *state.State
	gate   *launchgate.Gate
	enum   Enumerator
	raiser alerts.Raiser

	// seen holds the pids of the previous scan; primed flips after the
	// first scan so processes that predate the monitor are not treated
	// as launches. serviceSeen arms the service-exit check once the
	// registered pid has been observed running. All three are touched
	// only by the scan goroutine.
	seen        map[uint32]bool
	primed      bool
	serviceSeen bool

	killed atomic.Uint64
}

// New creates a monitor over the shared enforcement state. A nil
// enumerator gets the process-table default; a nil raiser gets the
// no-op default.
func New(cfg Config, st *state.State, gate *launchgate.Gate, enum Enumerator, raiser alerts.Raiser) *Monitor {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if enum == nil {
		enum = GopsutilEnumerator{}
	}
	if raiser == nil {
		raiser = alerts.Discard
	}
	return &Monitor{
		cfg:    cfg,
		st:     st,
		gate:   gate,
		enum:   enum,
		raiser: raiser,
		seen:   make(map[uint32]bool),
	}
}

// Run starts the scan loop. Blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Scan()
		}
	}
}

// Scan runs one pass over the process table. Exported so tests can
// drive the monitor without waiting on the timer.
func (m *Monitor) Scan() {
	procs, err := m.enum.Snapshot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "psmon: snapshot: %v\n", err)
		return
	}

	next := make(map[uint32]bool, len(procs))
	for _, p := range procs {
		next[p.Pid] = true
		if m.seen[p.Pid] {
			continue
		}
		if !m.primed {
			// First scan inventories what already runs; only pids that
			// appear afterwards count as launches.
			continue
		}
		verdict := m.gate.Evaluate(launchgate.Launch{Pid: p.Pid, ImagePath: p.Image})
		if verdict != launchgate.Deny {
			continue
		}
		if err := m.enum.Kill(p.Pid); err != nil {
			fmt.Fprintf(os.Stderr, "psmon: kill pid %d: %v\n", p.Pid, err)
			continue
		}
		m.killed.Add(1)
	}

	// Replacing the map prunes exited pids, so a recycled pid is
	// evaluated as the new launch it is.
	m.seen = next
	m.primed = true

	m.checkService(next)
}

// checkService raises one service-tamper alert per observed
// disappearance of the registered service process.
func (m *Monitor) checkService(running map[uint32]bool) {
	pid, ok := m.st.Service()
	if !ok {
		m.serviceSeen = false
		return
	}
	if running[pid] {
		m.serviceSeen = true
		return
	}
	if !m.serviceSeen {
		// Not observed running yet. A service that died before its
		// first scan shows up through the heartbeat watchdog instead.
		return
	}
	m.serviceSeen = false
	fmt.Fprintf(os.Stderr, "psmon: protected service pid %d exited\n", pid)
	m.raiser.Raise(alerts.New(protocol.AlertServiceTamper, pid, "protected service process exited"))
}

// Killed reports how many denied launches were terminated.
func (m *Monitor) Killed() uint64 { return m.killed.Load() }
