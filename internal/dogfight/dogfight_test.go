//go:build dogfight

// Adversarial rounds against a fully assembled daemon: real socket,
// real dispatcher, real authenticator, real journal. Each round plays
// an attacker or a misbehaving agent and asserts both the refusal and
// the evidence it leaves behind.
//
// Run with: go test -tags dogfight ./internal/dogfight/
package dogfight

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/invigil/internal/alerts"
	"github.com/ppiankov/invigil/internal/bridge"
	"github.com/ppiankov/invigil/internal/journal"
	"github.com/ppiankov/invigil/internal/proc"
	"github.com/ppiankov/invigil/internal/state"
	"github.com/ppiankov/invigil/internal/unlock"
	"github.com/ppiankov/invigil/internal/watchdog"
	"github.com/ppiankov/invigil/sdk/go/invigil"
)

var arenaSecret = []byte("dogfight-arena-unlock-secret-32!")

// arena is one daemon instance under attack.
type arena struct {
	socket  string
	jnlPath string
	st      *state.State
	wd      *watchdog.Watchdog
}

// newArena assembles the daemon the way serve does, on a private socket
// with a throwaway journal, and keeps it serving until the test ends.
// The watchdog is wired but not running; rounds drive Tick directly.
func newArena(t *testing.T) *arena {
	t.Helper()

	old := unlock.ObfuscatedKeyHex
	unlock.ObfuscatedKeyHex = hex.EncodeToString(unlock.Obfuscate(arenaSecret))
	t.Cleanup(func() { unlock.ObfuscatedKeyHex = old })

	dir := t.TempDir()
	jnlPath := filepath.Join(dir, "journal.jsonl")
	jnl, err := journal.Open(jnlPath)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { jnl.Close() })

	st := state.New()
	center := alerts.NewCenter(func(a alerts.Alert) {
		_ = jnl.Record(journal.AlertRaised(a.Type.String(), a.SourcePid, a.Detail))
	})

	auth, err := unlock.New(st, center)
	if err != nil {
		t.Fatalf("unlock.New: %v", err)
	}
	t.Cleanup(func() { auth.Close() })

	b := bridge.New(bridge.Config{
		State:  st,
		Lookup: proc.StaticLookup{},
		Auth:   auth,
		Queue:  center.Queue(),
		Jnl:    jnl,
	})
	srv := bridge.NewServer(filepath.Join(dir, "ctl.sock"), b)

	ctx, cancel := context.WithCancel(context.Background())
	centerDone := make(chan struct{})
	go func() {
		center.Run(ctx)
		close(centerDone)
	}()
	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-centerDone
		if err := <-serveDone; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})

	return &arena{
		socket:  srv.Path(),
		jnlPath: jnlPath,
		st:      st,
		wd:      watchdog.New(watchdog.Config{}, st, center, nil),
	}
}

func (a *arena) dial(t *testing.T) *invigil.Client {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		c, err := invigil.Dial(a.socket)
		if err == nil {
			t.Cleanup(func() { c.Close() })
			return c
		}
		if time.Now().After(deadline) {
			t.Fatalf("Dial(%s): %v", a.socket, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// verifyChain fails the test when the journal hash chain does not
// validate end to end.
func verifyChain(t *testing.T, path string) {
	t.Helper()
	res := journal.Verify(path)
	if !res.Valid {
		t.Errorf("journal chain broken at line %d: %s", res.ErrorLine, res.Error)
	}
}

// countJournal counts command entries for op that ended with status.
func countJournal(t *testing.T, path, op, status string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	n := 0
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var e journal.Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("journal line %q: %v", line, err)
		}
		if e.Event == journal.EventCommand && e.Op == op && e.Status == status {
			n++
		}
	}
	return n
}

// popAlert drains one pending alert and asserts its type.
func popAlert(t *testing.T, c *invigil.Client, wantType string) invigil.Alert {
	t.Helper()
	alert, ok, err := c.ReadAlert()
	if err != nil {
		t.Fatalf("ReadAlert: %v", err)
	}
	if !ok {
		t.Fatalf("no alert pending, want %s", wantType)
	}
	if alert.Type != wantType {
		t.Fatalf("alert type = %s, want %s", alert.Type, wantType)
	}
	return alert
}
