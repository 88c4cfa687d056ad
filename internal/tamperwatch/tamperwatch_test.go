package tamperwatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/invigil/internal/alerts"
	"github.com/ppiankov/invigil/internal/protocol"
	"github.com/ppiankov/invigil/internal/state"
)

func newTestWatcher(dirs ...string) (*Watcher, *state.State, *alerts.Queue) {
	st := state.New()
	q := alerts.NewQueue()
	raiser := alerts.RaiserFunc(func(a alerts.Alert) { q.Enqueue(a) })
	return New(Config{Dirs: dirs}, st, raiser), st, q
}

func TestHandleRaisesForProtectedName(t *testing.T) {
	w, _, q := newTestWatcher()

	w.handle(fsnotify.Event{Name: "/usr/local/bin/invigil", Op: fsnotify.Write})

	a, ok := q.Pop()
	if !ok {
		t.Fatal("expected a file_tamper alert")
	}
	if a.Type != protocol.AlertFileTamper {
		t.Errorf("alert type = %s, want file_tamper", a.Type)
	}
	if a.Detail != "detected modification of /usr/local/bin/invigil" {
		t.Errorf("alert detail = %q", a.Detail)
	}
	if w.Raised() != 1 {
		t.Errorf("Raised() = %d, want 1", w.Raised())
	}
}

func TestHandleIgnoresUnprotectedName(t *testing.T) {
	w, _, q := newTestWatcher()

	w.handle(fsnotify.Event{Name: "/usr/local/bin/vim", Op: fsnotify.Remove})

	if q.Pending() != 0 {
		t.Fatalf("raised %d alerts for unprotected name, want 0", q.Pending())
	}
}

func TestHandleMatchesCaseInsensitive(t *testing.T) {
	w, _, q := newTestWatcher()

	w.handle(fsnotify.Event{Name: "/opt/Invigil-Agent", Op: fsnotify.Remove})

	if q.Pending() != 1 {
		t.Fatalf("expected 1 alert for case-folded protected name, got %d", q.Pending())
	}
}

func TestBurstSuppression(t *testing.T) {
	w, _, q := newTestWatcher()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := base
	w.now = func() time.Time { return now }

	ev := fsnotify.Event{Name: "/usr/local/bin/invigil", Op: fsnotify.Write}

	w.handle(ev)
	now = now.Add(200 * time.Millisecond)
	w.handle(ev) // inside the window, suppressed
	if q.Pending() != 1 {
		t.Fatalf("expected 1 alert inside burst window, got %d", q.Pending())
	}

	now = base.Add(burstWindow + time.Millisecond)
	w.handle(ev)
	if q.Pending() != 2 {
		t.Fatalf("expected 2 alerts after burst window, got %d", q.Pending())
	}

	// A different protected path inside the window is its own burst.
	w.handle(fsnotify.Event{Name: "/usr/local/bin/invigil-ui", Op: fsnotify.Write})
	if q.Pending() != 3 {
		t.Fatalf("expected distinct paths to alert independently, got %d", q.Pending())
	}
}

func TestOpString(t *testing.T) {
	tests := []struct {
		op   fsnotify.Op
		want string
	}{
		{fsnotify.Remove, "removal"},
		{fsnotify.Rename, "rename"},
		{fsnotify.Write, "modification"},
		{fsnotify.Create, "replacement"},
		{fsnotify.Chmod, "permission change"},
		{fsnotify.Remove | fsnotify.Write, "removal"},
	}
	for _, tt := range tests {
		if got := opString(tt.op); got != tt.want {
			t.Errorf("opString(%v) = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func TestRunNoWatchableDirs(t *testing.T) {
	w, st, _ := newTestWatcher("/nonexistent/a", "/nonexistent/b")

	err := w.Run(context.Background())
	if err == nil {
		t.Fatal("expected error when nothing can be watched")
	}
	if st.FileGateUp() {
		t.Error("file gate flag must stay down when nothing is watched")
	}
}

func TestRunDetectsProtectedBinaryChange(t *testing.T) {
	dir := t.TempDir()
	w, st, q := newTestWatcher(dir)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Wait for the watch to come up.
	deadline := time.Now().Add(2 * time.Second)
	for !st.FileGateUp() {
		if time.Now().After(deadline) {
			t.Fatal("file gate flag never came up")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := os.WriteFile(filepath.Join(dir, "invigil-agent"), []byte("tampered"), 0755); err != nil {
		t.Fatal(err)
	}

	deadline = time.Now().Add(3 * time.Second)
	var got alerts.Alert
	for {
		if a, ok := q.Pop(); ok {
			got = a
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no tamper alert for protected binary change")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got.Type != protocol.AlertFileTamper {
		t.Errorf("alert type = %s, want file_tamper", got.Type)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if st.FileGateUp() {
		t.Error("file gate flag must drop after Run returns")
	}
}

func TestRunIgnoresUnprotectedFiles(t *testing.T) {
	dir := t.TempDir()
	w, st, q := newTestWatcher(dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for !st.FileGateUp() {
		if time.Now().After(deadline) {
			t.Fatal("file gate flag never came up")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	if q.Pending() != 0 {
		t.Fatalf("raised %d alerts for unprotected file, want 0", q.Pending())
	}
}
