package psmon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/invigil/internal/alerts"
	"github.com/ppiankov/invigil/internal/launchgate"
	"github.com/ppiankov/invigil/internal/proc"
	"github.com/ppiankov/invigil/internal/protocol"
	"github.com/ppiankov/invigil/internal/state"
)

type fakeEnum struct {
	mu      sync.Mutex
	procs   []Snapshot
	killed  []uint32
	killErr error
	snapErr error
}

func (f *fakeEnum) Snapshot() ([]Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	out := make([]Snapshot, len(f.procs))
	copy(out, f.procs)
	return out, nil
}

func (f *fakeEnum) Kill(pid uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.killErr != nil {
		return f.killErr
	}
	f.killed = append(f.killed, pid)
	return nil
}

func (f *fakeEnum) set(procs ...Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs = procs
}

func (f *fakeEnum) kills() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint32, len(f.killed))
	copy(out, f.killed)
	return out
}

// blockingState returns a state with an active block-apps policy and
// the given banned names.
func blockingState(banned ...string) *state.State {
	st := state.New()
	st.SetPolicy(protocol.Policy{
		Version: protocol.PolicyVersion,
		Flags:   protocol.PolicyBlockApps,
	})
	st.ReplaceBannedApps(banned)
	return st
}

func newTestMonitor(st *state.State, enum *fakeEnum) (*Monitor, *alerts.Queue) {
	q := alerts.NewQueue()
	raiser := alerts.RaiserFunc(func(a alerts.Alert) { q.Enqueue(a) })
	gate := launchgate.New(st, raiser)
	return New(Config{}, st, gate, enum, raiser), q
}

func TestFirstScanInventoriesWithoutKilling(t *testing.T) {
	enum := &fakeEnum{}
	enum.set(Snapshot{Pid: 100, Image: "/opt/games/solitaire"})
	st := blockingState("solitaire")
	m, q := newTestMonitor(st, enum)

	m.Scan()

	if n := len(enum.kills()); n != 0 {
		t.Fatalf("first scan killed %d processes, want 0", n)
	}
	if q.Pending() != 0 {
		t.Fatalf("first scan raised %d alerts, want 0", q.Pending())
	}
}

func TestNewBannedLaunchIsKilled(t *testing.T) {
	enum := &fakeEnum{}
	enum.set(Snapshot{Pid: 1, Image: "/sbin/init"})
	st := blockingState("solitaire")
	m, q := newTestMonitor(st, enum)

	m.Scan() // prime
	enum.set(
		Snapshot{Pid: 1, Image: "/sbin/init"},
		Snapshot{Pid: 222, Image: "/opt/games/solitaire"},
	)
	m.Scan()

	kills := enum.kills()
	if len(kills) != 1 || kills[0] != 222 {
		t.Fatalf("kills = %v, want [222]", kills)
	}
	if m.Killed() != 1 {
		t.Errorf("Killed() = %d, want 1", m.Killed())
	}

	a, ok := q.Pop()
	if !ok {
		t.Fatal("expected a process_blocked alert")
	}
	if a.Type != protocol.AlertProcessBlocked {
		t.Errorf("alert type = %s, want process_blocked", a.Type)
	}
	if a.SourcePid != 222 {
		t.Errorf("alert pid = %d, want 222", a.SourcePid)
	}
}

func TestUnbannedLaunchAllowed(t *testing.T) {
	enum := &fakeEnum{}
	st := blockingState("solitaire")
	m, q := newTestMonitor(st, enum)

	m.Scan() // prime on empty table
	enum.set(Snapshot{Pid: 300, Image: "/usr/bin/vim"})
	m.Scan()

	if n := len(enum.kills()); n != 0 {
		t.Fatalf("killed %d processes, want 0", n)
	}
	if q.Pending() != 0 {
		t.Fatalf("raised %d alerts, want 0", q.Pending())
	}
}

func TestSeenPidEvaluatedOnce(t *testing.T) {
	enum := &fakeEnum{}
	st := blockingState("solitaire")
	m, _ := newTestMonitor(st, enum)

	m.Scan() // prime
	banned := Snapshot{Pid: 400, Image: "solitaire"}
	enum.set(banned)
	m.Scan()
	// Kill failed to take effect (still running); the pid must not be
	// evaluated again.
	m.Scan()
	m.Scan()

	if n := len(enum.kills()); n != 1 {
		t.Fatalf("kill attempts = %d, want 1", n)
	}
}

func TestRecycledPidReevaluated(t *testing.T) {
	enum := &fakeEnum{}
	st := blockingState("solitaire")
	m, _ := newTestMonitor(st, enum)

	m.Scan() // prime
	enum.set(Snapshot{Pid: 500, Image: "/usr/bin/vim"})
	m.Scan()
	enum.set() // pid exits, seen map prunes it
	m.Scan()
	enum.set(Snapshot{Pid: 500, Image: "solitaire"}) // pid recycled
	m.Scan()

	kills := enum.kills()
	if len(kills) != 1 || kills[0] != 500 {
		t.Fatalf("kills = %v, want [500]", kills)
	}
}

func TestGateInertWithoutBlockAppsFlag(t *testing.T) {
	enum := &fakeEnum{}
	st := state.New()
	st.SetPolicy(protocol.Policy{Version: protocol.PolicyVersion}) // no block_apps
	st.ReplaceBannedApps([]string{"solitaire"})
	m, _ := newTestMonitor(st, enum)

	m.Scan() // prime
	enum.set(Snapshot{Pid: 600, Image: "solitaire"})
	m.Scan()

	if n := len(enum.kills()); n != 0 {
		t.Fatalf("killed %d processes with gate inert, want 0", n)
	}
}

func TestKillFailureDoesNotCount(t *testing.T) {
	enum := &fakeEnum{killErr: errors.New("operation not permitted")}
	st := blockingState("solitaire")
	m, _ := newTestMonitor(st, enum)

	m.Scan() // prime
	enum.mu.Lock()
	enum.procs = []Snapshot{{Pid: 700, Image: "solitaire"}}
	enum.mu.Unlock()
	m.Scan()

	if m.Killed() != 0 {
		t.Errorf("Killed() = %d after failed kill, want 0", m.Killed())
	}
}

func TestSnapshotErrorSkipsScan(t *testing.T) {
	enum := &fakeEnum{snapErr: errors.New("proc unavailable")}
	st := blockingState("solitaire")
	m, _ := newTestMonitor(st, enum)

	m.Scan()

	// The failed scan must not prime the monitor; once the table is
	// readable the first good scan is still the inventory pass.
	enum.mu.Lock()
	enum.snapErr = nil
	enum.procs = []Snapshot{{Pid: 800, Image: "solitaire"}}
	enum.mu.Unlock()
	m.Scan()

	if n := len(enum.kills()); n != 0 {
		t.Fatalf("killed %d processes on inventory pass, want 0", n)
	}
}

func TestServiceExitRaisesTamperOnce(t *testing.T) {
	enum := &fakeEnum{}
	st := blockingState()
	st.SetService(proc.StaticRef(900))
	m, q := newTestMonitor(st, enum)

	enum.set(Snapshot{Pid: 900, Image: "/usr/local/bin/invigil-agent"})
	m.Scan() // observes the service running

	enum.set() // service gone
	m.Scan()

	a, ok := q.Pop()
	if !ok {
		t.Fatal("expected a service_tamper alert")
	}
	if a.Type != protocol.AlertServiceTamper {
		t.Errorf("alert type = %s, want service_tamper", a.Type)
	}
	if a.SourcePid != 900 {
		t.Errorf("alert pid = %d, want 900", a.SourcePid)
	}

	// Still gone: no duplicate alert.
	m.Scan()
	if q.Pending() != 0 {
		t.Fatalf("expected one tamper alert per disappearance, got %d extra", q.Pending())
	}
}

func TestServiceNeverObservedNoTamper(t *testing.T) {
	enum := &fakeEnum{}
	st := blockingState()
	st.SetService(proc.StaticRef(901))
	m, q := newTestMonitor(st, enum)

	m.Scan()
	m.Scan()

	if q.Pending() != 0 {
		t.Fatalf("raised %d alerts for a never-observed service, want 0", q.Pending())
	}
}

func TestServiceReplacementRearmsTamperCheck(t *testing.T) {
	enum := &fakeEnum{}
	st := blockingState()
	st.SetService(proc.StaticRef(910))
	m, q := newTestMonitor(st, enum)

	enum.set(Snapshot{Pid: 910, Image: "invigil-agent"})
	m.Scan()
	enum.set()
	m.Scan() // first tamper
	if _, ok := q.Pop(); !ok {
		t.Fatal("expected first tamper alert")
	}

	// New service registers and is observed, then disappears again.
	st.SetService(proc.StaticRef(911))
	enum.set(Snapshot{Pid: 911, Image: "invigil-agent"})
	m.Scan()
	enum.set()
	m.Scan()

	a, ok := q.Pop()
	if !ok {
		t.Fatal("expected second tamper alert after re-registration")
	}
	if a.SourcePid != 911 {
		t.Errorf("alert pid = %d, want 911", a.SourcePid)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	enum := &fakeEnum{}
	st := blockingState()
	m, _ := newTestMonitor(st, enum)
	m.cfg.PollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
