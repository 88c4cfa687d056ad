package state

import (
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/invigil/internal/proc"
	"github.com/ppiankov/invigil/internal/protocol"
)

func TestZeroValueDefaults(t *testing.T) {
	s := New()
	if _, ok := s.Service(); ok {
		t.Error("fresh state has a service pid")
	}
	if _, ok := s.Overlay(); ok {
		t.Error("fresh state has an overlay pid")
	}
	if s.AllowUnload() {
		t.Error("fresh state allows unload")
	}
	if s.Role() != protocol.RoleStudent {
		t.Errorf("fresh role = %s, want student", s.Role())
	}
	if _, ok := s.Policy(); ok {
		t.Error("fresh state has a valid policy")
	}
	if got := s.HeartbeatTimeout(); got != DefaultHeartbeatTimeoutMs*time.Millisecond {
		t.Errorf("HeartbeatTimeout = %v, want %dms", got, DefaultHeartbeatTimeoutMs)
	}
}

func TestServiceSlotReplaceOnWrite(t *testing.T) {
	s := New()
	s.SetService(proc.StaticRef(100))
	if pid, ok := s.Service(); !ok || pid != 100 {
		t.Fatalf("Service() = %d, %v; want 100, true", pid, ok)
	}
	s.SetService(proc.StaticRef(200))
	if pid, _ := s.Service(); pid != 200 {
		t.Errorf("Service() after replace = %d, want 200", pid)
	}
	s.Shutdown()
	if _, ok := s.Service(); ok {
		t.Error("Service() still set after Shutdown")
	}
}

func TestOverlaySlot(t *testing.T) {
	s := New()
	s.SetOverlay(77)
	if pid, ok := s.Overlay(); !ok || pid != 77 {
		t.Fatalf("Overlay() = %d, %v; want 77, true", pid, ok)
	}
	s.SetOverlay(0)
	if _, ok := s.Overlay(); ok {
		t.Error("Overlay() set after clear")
	}
}

func TestHeartbeatReadAndClear(t *testing.T) {
	s := New()
	if s.ReadAndClearAlive() {
		t.Error("alive before any heartbeat")
	}
	now := time.Now()
	s.MarkAlive(now)
	if !s.ReadAndClearAlive() {
		t.Error("alive flag not set by MarkAlive")
	}
	if s.ReadAndClearAlive() {
		t.Error("alive flag survived read-and-clear")
	}
	if got := s.LastBeat(); !got.Equal(time.Unix(0, now.UnixNano())) {
		t.Errorf("LastBeat = %v, want %v", got, now)
	}
}

func TestLockoutZeroTimeDisarms(t *testing.T) {
	s := New()
	if !s.LockoutUntil().IsZero() {
		t.Error("fresh state has a lockout deadline")
	}
	deadline := time.Now().Add(30 * time.Second)
	s.SetLockoutUntil(deadline)
	if s.LockoutUntil().IsZero() {
		t.Error("armed lockout reads as zero")
	}
	s.SetLockoutUntil(time.Time{})
	if !s.LockoutUntil().IsZero() {
		t.Error("disarmed lockout still reads a deadline")
	}
}

func TestPolicyReplaceWholeRecord(t *testing.T) {
	s := New()
	s.SetPolicy(protocol.Policy{
		Version:            protocol.PolicyVersion,
		Flags:              protocol.PolicyBlockApps,
		HeartbeatTimeoutMs: 2500,
	})
	p, ok := s.Policy()
	if !ok {
		t.Fatal("Policy() not valid after SetPolicy")
	}
	if !p.Flags.Has(protocol.PolicyBlockApps) {
		t.Error("flags lost in store")
	}
	if got := s.HeartbeatTimeout(); got != 2500*time.Millisecond {
		t.Errorf("HeartbeatTimeout = %v, want 2.5s", got)
	}

	// Mutating the returned copy must not leak back.
	p.Flags = 0
	q, _ := s.Policy()
	if !q.Flags.Has(protocol.PolicyBlockApps) {
		t.Error("caller mutation reached the stored policy")
	}
}

func TestMatchBannedCaseInsensitive(t *testing.T) {
	s := New()
	s.ReplaceBannedApps([]string{"CheatEngine.exe", "obs64.exe"})
	for _, image := range []string{"cheatengine.exe", "CHEATENGINE.EXE", "Obs64.Exe"} {
		if !s.MatchBanned(image) {
			t.Errorf("MatchBanned(%q) = false, want true", image)
		}
	}
	if s.MatchBanned("notepad.exe") {
		t.Error("MatchBanned(notepad.exe) = true, want false")
	}
	if s.MatchBanned("engine.exe") {
		t.Error("substring matched; comparison must be exact")
	}

	s.ReplaceBannedApps(nil)
	if s.MatchBanned("cheatengine.exe") {
		t.Error("entry survived a clearing replace")
	}
}

func TestBannedSwapNeverTears(t *testing.T) {
	s := New()
	setA := []string{"a.exe", "b.exe"}
	setB := []string{"c.exe"}
	s.ReplaceBannedApps(setA)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			s.ReplaceBannedApps(setA)
			s.ReplaceBannedApps(setB)
		}
	}()

	for i := 0; i < 2000; i++ {
		got := s.BannedApps()
		switch len(got) {
		case 2:
			if got[0] != "a.exe" || got[1] != "b.exe" {
				t.Fatalf("torn snapshot: %q", got)
			}
		case 1:
			if got[0] != "c.exe" {
				t.Fatalf("torn snapshot: %q", got)
			}
		default:
			t.Fatalf("snapshot with %d entries: %q", len(got), got)
		}
	}
	close(done)
	wg.Wait()
}
