//go:build dogfight

package dogfight

import (
	"bytes"
	"os"
	"testing"

	"github.com/ppiankov/invigil/internal/unlock"
	"github.com/ppiankov/invigil/sdk/go/invigil"
)

func TestRound2_UnlockBruteForce(t *testing.T) {
	a := newArena(t)
	c := a.dial(t)

	if err := c.ProtectSelf(); err != nil {
		t.Fatalf("ProtectSelf: %v", err)
	}

	wrong := bytes.Repeat([]byte{'x'}, invigil.SecretSize)
	for i := 1; i <= unlock.MaxAttempts; i++ {
		if err := c.Unlock(wrong); !invigil.Denied(err) {
			t.Fatalf("attempt %d: err = %v, want access denied", i, err)
		}
	}

	st, err := c.Heartbeat()
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if st.FailedUnlockAttempts != unlock.MaxAttempts {
		t.Errorf("FailedUnlockAttempts = %d, want %d", st.FailedUnlockAttempts, unlock.MaxAttempts)
	}

	// The correct secret is worthless inside the lockout window.
	if err := c.Unlock(arenaSecret); !invigil.Denied(err) {
		t.Fatalf("unlock during lockout: err = %v, want access denied", err)
	}
	st, err = c.Heartbeat()
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if st.UnlockPermitted {
		t.Error("UnlockPermitted = true during lockout")
	}

	alert := popAlert(t, c, "unlock_brute_force")
	if alert.SourcePid != uint32(os.Getpid()) {
		t.Errorf("alert source pid = %d, want %d", alert.SourcePid, os.Getpid())
	}

	t.Run("journal_records_every_refusal", func(t *testing.T) {
		if n := countJournal(t, a.jnlPath, "unlock", "access_denied"); n != unlock.MaxAttempts+1 {
			t.Errorf("denied unlock entries = %d, want %d", n, unlock.MaxAttempts+1)
		}
	})
	t.Run("journal_chain_valid", func(t *testing.T) {
		verifyChain(t, a.jnlPath)
	})
}
