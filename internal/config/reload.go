package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses an editor's burst of writes into one reload.
const reloadDebounce = 500 * time.Millisecond

// Reloader watches the config file and re-applies the webhook section
// on change. Other sections are ignored until restart.
type Reloader struct {
	watcher *fsnotify.Watcher
	path    string
	apply   func(*Config)
}

// NewReloader creates a file watcher for the config at path. Empty path
// falls back to DefaultPath. A missing file is not watched; the daemon
// keeps its compiled defaults until restart.
func NewReloader(path string, apply func(*Config)) (*Reloader, error) {
	if path == "" {
		path = DefaultPath
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create file watcher: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := watcher.Add(path); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("config: watch %q: %w", path, err)
		}
	}

	return &Reloader{
		watcher: watcher,
		path:    path,
		apply:   apply,
	}, nil
}

// Run watches for file changes and reloads the webhook section. Blocks
// until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	debounce := time.AfterFunc(time.Hour, r.reload)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				debounce.Reset(reloadDebounce)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "config: file watcher error: %v\n", err)
		}
	}
}

func (r *Reloader) reload() {
	cfg, err := Load(r.path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: hot-reload failed: %v\n", err)
		return
	}
	r.apply(cfg)
	fmt.Fprintf(os.Stderr, "config: hot-reload: webhooks reloaded (%d destinations)\n", len(cfg.Webhooks))
}
