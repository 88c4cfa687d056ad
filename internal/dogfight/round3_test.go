//go:build dogfight

package dogfight

import (
	"testing"

	"github.com/ppiankov/invigil/sdk/go/invigil"
)

func TestRound3_ImpostorCommands(t *testing.T) {
	a := newArena(t)
	c := a.dial(t)

	// Some other process owns the service slot; everything below comes
	// from this test's pid, which is not it.
	const servicePid = 4242
	if err := c.ProtectPid(servicePid); err != nil {
		t.Fatalf("ProtectPid: %v", err)
	}

	attacks := []struct {
		name string
		call func() error
	}{
		{"hard_lock", func() error { return c.HardLock(true) }},
		{"protect_ui", func() error { return c.ProtectUI(999, true) }},
		{"stealth", func() error { return c.Stealth(true, []string{"suppress_indicator"}) }},
		{"set_banned_apps", func() error { return c.SetBannedApps([]string{"solitaire"}) }},
		{"set_user_role", func() error { return c.SetUserRole("admin", 1, "uid-0") }},
		{"set_policy", func() error { return c.SetPolicy(invigil.Policy{}) }},
		{"unlock_with_correct_secret", func() error { return c.Unlock(arenaSecret) }},
	}
	for _, tc := range attacks {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !invigil.Denied(err) {
				t.Errorf("err = %v, want access denied", err)
			}
		})
	}

	st, err := c.Heartbeat()
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if st.ProtectedPid != servicePid {
		t.Errorf("ProtectedPid = %d, want %d", st.ProtectedPid, servicePid)
	}
	if st.UnlockPermitted {
		t.Error("UnlockPermitted = true after impostor unlock")
	}
	// Refusals at the authorization gate never reach the authenticator,
	// so the impostor cannot burn the attempt counter toward a lockout
	// the real operator would then inherit.
	if st.FailedUnlockAttempts != 0 {
		t.Errorf("FailedUnlockAttempts = %d, want 0", st.FailedUnlockAttempts)
	}
	if st.Role != "student" {
		t.Errorf("Role = %s, want the student default", st.Role)
	}

	if a.st.InputLocked() {
		t.Error("hard lock engaged by impostor")
	}
	if on, _ := a.st.Stealth(); on {
		t.Error("stealth engaged by impostor")
	}
	if apps := a.st.BannedApps(); len(apps) != 0 {
		t.Errorf("banned list = %v, want empty", apps)
	}

	t.Run("journal_records_every_refusal", func(t *testing.T) {
		for _, op := range []string{"hard_lock", "protect_ui", "stealth", "set_banned_apps", "set_user_role", "set_policy", "unlock"} {
			if n := countJournal(t, a.jnlPath, op, "access_denied"); n != 1 {
				t.Errorf("%s access_denied entries = %d, want 1", op, n)
			}
		}
	})
	t.Run("journal_chain_valid", func(t *testing.T) {
		verifyChain(t, a.jnlPath)
	})
}
