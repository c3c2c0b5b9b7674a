package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchTargets holds callbacks that fire when specific governance state
// files change. Used for hot-reload without restarting `govledger serve`:
// the CLI writes trust.yaml / consents.yaml / budgets.yaml, the watcher
// fires, and the running engine picks up the new state in memory.
type WatchTargets struct {
	// OnTrustChange fires when trust.yaml is written or created.
	OnTrustChange func()

	// OnConsentChange fires when consents.yaml is written or created.
	OnConsentChange func()

	// OnBudgetChange fires when budgets.yaml is written or created.
	OnBudgetChange func()
}

// Watcher monitors the GovLedger state directory for file changes using
// fsnotify, dispatching to the matching WatchTargets callback.
//
// The watcher runs a background goroutine that processes fsnotify events.
// Call Close() to stop the watcher and release resources.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	done      chan struct{}
}

// NewWatcher creates a file watcher on the given state directory and
// immediately starts processing events in a background goroutine. Rapid
// successive writes are debounced naturally by fsnotify.
func NewWatcher(dir string, targets WatchTargets) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}

	w := &Watcher{
		fsWatcher: fw,
		done:      make(chan struct{}),
	}

	go w.processEvents(targets)

	slog.Info("file watcher started", "dir", dir)
	return w, nil
}

// processEvents reads fsnotify events and dispatches to the appropriate
// callback. Runs until Close() is called.
func (w *Watcher) processEvents(targets WatchTargets) {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			// Only write and create matter — remove or rename means the
			// file is gone, and reloading a missing file would wipe state.
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			switch filepath.Base(event.Name) {
			case "trust.yaml":
				slog.Info("trust.yaml changed, triggering reload")
				if targets.OnTrustChange != nil {
					targets.OnTrustChange()
				}
			case "consents.yaml":
				slog.Info("consents.yaml changed, triggering reload")
				if targets.OnConsentChange != nil {
					targets.OnConsentChange()
				}
			case "budgets.yaml":
				slog.Info("budgets.yaml changed, triggering reload")
				if targets.OnBudgetChange != nil {
					targets.OnBudgetChange()
				}
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("file watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// Close stops the file watcher goroutine and releases the underlying
// fsnotify watcher. Safe to call multiple times.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.fsWatcher.Close()
}
