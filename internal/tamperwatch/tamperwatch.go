// Package tamperwatch watches the install directories for changes to
// the protected binaries. It is the detection-only production adapter
// for the file-protection concern on hosts without a pre-operation
// veto facility: a write, removal, rename or permission change on a
// protected name cannot be blocked here, but it raises a file-tamper
// alert and its health drives the file-protection flag reported in
// heartbeat snapshots.
package tamperwatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/invigil/internal/alerts"
	"github.com/ppiankov/invigil/internal/filegate"
	"github.com/ppiankov/invigil/internal/protocol"
	"github.com/ppiankov/invigil/internal/state"
)

// burstWindow collapses the event burst a single file replacement
// produces into one alert per path.
const burstWindow = time.Second

// Config holds watcher configuration.
type Config struct {
	// Dirs are the directories holding the protected binaries.
	Dirs []string
}

// Watcher raises file-tamper alerts for events on protected names.
type Watcher struct {
	cfg    Config
	st     *state.State
	raiser alerts.Raiser

	// lastAlert is touched only by the event goroutine.
	lastAlert map[string]time.Time
	now       func() time.Time

	raised atomic.Uint64
}

// New creates a watcher over the shared enforcement state. A nil raiser
// gets the no-op default.
func New(cfg Config, st *state.State, raiser alerts.Raiser) *Watcher {
	if raiser == nil {
		raiser = alerts.Discard
	}
	return &Watcher{
		cfg:       cfg,
		st:        st,
		raiser:    raiser,
		lastAlert: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Run watches the configured directories until ctx is cancelled. The
// file-protection flag is up only while the watch is live. Returns an
// error when nothing can be watched; the daemon treats that as a
// degraded start, not a fatal one.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.st.SetFileGateUp(false)
		return fmt.Errorf("tamperwatch: create file watcher: %w", err)
	}
	defer watcher.Close()

	watched := 0
	for _, dir := range w.cfg.Dirs {
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			fmt.Fprintf(os.Stderr, "tamperwatch: skipping %s: %v\n", dir, err)
			continue
		}
		if err := watcher.Add(dir); err != nil {
			fmt.Fprintf(os.Stderr, "tamperwatch: cannot watch %s: %v\n", dir, err)
			continue
		}
		watched++
	}
	if watched == 0 {
		w.st.SetFileGateUp(false)
		return fmt.Errorf("tamperwatch: no watchable install directories")
	}

	w.st.SetFileGateUp(true)
	defer w.st.SetFileGateUp(false)
	fmt.Fprintf(os.Stderr, "tamperwatch: watching %d directories\n", watched)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "tamperwatch: watcher error: %v\n", err)
		}
	}
}

// handle classifies one event and raises at most one alert per path per
// burst window.
func (w *Watcher) handle(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if !filegate.IsProtectedName(name) {
		return
	}

	what := opString(event.Op)
	if what == "" {
		return
	}

	now := w.now()
	if last, ok := w.lastAlert[event.Name]; ok && now.Sub(last) < burstWindow {
		return
	}
	w.lastAlert[event.Name] = now

	w.raised.Add(1)
	fmt.Fprintf(os.Stderr, "tamperwatch: %s of %s\n", what, event.Name)
	w.raiser.Raise(alerts.New(protocol.AlertFileTamper, 0,
		fmt.Sprintf("detected %s of %s", what, event.Name)))
}

// Raised reports how many tamper alerts the watcher has raised.
func (w *Watcher) Raised() uint64 { return w.raised.Load() }

// opString names the tamper class of an event. Every operation on a
// protected binary is suspect, including permission changes.
func opString(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Remove):
		return "removal"
	case op.Has(fsnotify.Rename):
		return "rename"
	case op.Has(fsnotify.Write):
		return "modification"
	case op.Has(fsnotify.Create):
		return "replacement"
	case op.Has(fsnotify.Chmod):
		return "permission change"
	default:
		return ""
	}
}
