//go:build dogfight

package dogfight

import (
	"os"
	"testing"
)

func TestRound4_AgentVanishes(t *testing.T) {
	a := newArena(t)
	c := a.dial(t)

	if err := c.ProtectSelf(); err != nil {
		t.Fatalf("ProtectSelf: %v", err)
	}
	if _, err := c.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	// The beat above landed inside this window.
	a.wd.Tick()
	if got := a.wd.Outages(); got != 0 {
		t.Fatalf("Outages = %d after a live window, want 0", got)
	}

	// The agent goes silent and the next window closes empty.
	a.wd.Tick()
	if got := a.wd.Outages(); got != 1 {
		t.Fatalf("Outages = %d after a silent window, want 1", got)
	}
	alert := popAlert(t, c, "heartbeat_lost")
	if alert.SourcePid != uint32(os.Getpid()) {
		t.Errorf("alert source pid = %d, want %d", alert.SourcePid, os.Getpid())
	}

	// Still silent: same outage, no duplicate alert.
	a.wd.Tick()
	if _, ok, err := c.ReadAlert(); err != nil {
		t.Fatalf("ReadAlert: %v", err)
	} else if ok {
		t.Error("duplicate alert inside one outage")
	}
	if got := a.wd.StaleTicks(); got != 2 {
		t.Errorf("StaleTicks = %d, want 2", got)
	}

	// The agent comes back.
	if _, err := c.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	a.wd.Tick()
	if got := a.wd.Outages(); got != 1 {
		t.Errorf("Outages = %d after recovery, want 1", got)
	}

	verifyChain(t, a.jnlPath)
}
