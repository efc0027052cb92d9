package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/piperunner/internal/definition"
	"git.home.luguber.info/inful/piperunner/internal/logfields"
)

// DefinitionWatcher monitors the pipeline definition file and swaps the
// daemon's graph when it changes. A reload that fails to parse or build
// leaves the previous graph in place.
type DefinitionWatcher struct {
	definitionPath string
	daemon         *Daemon
	watcher        *fsnotify.Watcher
	mu             sync.RWMutex
	stopChan       chan struct{}
	reloadChan     chan struct{}
	debounceTime   time.Duration
}

// NewDefinitionWatcher creates a watcher for the given definition file.
func NewDefinitionWatcher(definitionPath string, daemon *Daemon) (*DefinitionWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	absPath, err := filepath.Abs(definitionPath)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to resolve definition path: %w", err)
	}

	return &DefinitionWatcher{
		definitionPath: absPath,
		daemon:         daemon,
		watcher:        watcher,
		stopChan:       make(chan struct{}),
		reloadChan:     make(chan struct{}, 1),
		debounceTime:   2 * time.Second,
	}, nil
}

// Start begins monitoring the definition file.
func (dw *DefinitionWatcher) Start(ctx context.Context) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	// Watching the directory survives editors that replace the file on save.
	definitionDir := filepath.Dir(dw.definitionPath)
	if err := dw.watcher.Add(definitionDir); err != nil {
		return fmt.Errorf("failed to watch definition directory %s: %w", definitionDir, err)
	}

	slog.Info("Starting definition watcher", logfields.Path(dw.definitionPath))

	go dw.watchLoop(ctx)
	go dw.reloadLoop(ctx)

	return nil
}

// Stop stops the definition watcher.
func (dw *DefinitionWatcher) Stop(ctx context.Context) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	slog.Info("Stopping definition watcher")

	close(dw.stopChan)

	if dw.watcher != nil {
		if err := dw.watcher.Close(); err != nil {
			slog.Error("Error closing file watcher", logfields.Error(err))
		}
	}

	return nil
}

// watchLoop filters file system events down to the definition file.
func (dw *DefinitionWatcher) watchLoop(ctx context.Context) {
	definitionFile := filepath.Base(dw.definitionPath)

	for {
		select {
		case <-ctx.Done():
			return
		case <-dw.stopChan:
			return
		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != definitionFile {
				continue
			}

			switch {
			case event.Op&fsnotify.Write == fsnotify.Write:
				slog.Debug("Definition file write detected", logfields.Path(event.Name))
				dw.triggerReload()
			case event.Op&fsnotify.Create == fsnotify.Create:
				slog.Debug("Definition file create detected", logfields.Path(event.Name))
				dw.triggerReload()
			case event.Op&fsnotify.Rename == fsnotify.Rename:
				slog.Debug("Definition file rename detected", logfields.Path(event.Name))
				dw.triggerReload()
			case event.Op&fsnotify.Remove == fsnotify.Remove:
				slog.Warn("Definition file removed", logfields.Path(event.Name))
			}

		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Definition watcher error", logfields.Error(err))
		}
	}
}

// reloadLoop collapses bursts of change events into one debounced reload.
func (dw *DefinitionWatcher) reloadLoop(ctx context.Context) {
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			return
		case <-dw.stopChan:
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			return
		case <-dw.reloadChan:
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(dw.debounceTime, func() {
				if err := dw.performReload(ctx); err != nil {
					slog.Error("Failed to reload pipeline definition", logfields.Error(err))
				}
			})
		}
	}
}

// triggerReload requests a debounced reload.
func (dw *DefinitionWatcher) triggerReload() {
	select {
	case dw.reloadChan <- struct{}{}:
	default:
		// Reload already pending
	}
}

// performReload loads the definition, builds the new graph and swaps it in.
func (dw *DefinitionWatcher) performReload(ctx context.Context) error {
	slog.Info("Reloading pipeline definition", logfields.Path(dw.definitionPath))

	doc, err := definition.Load(dw.definitionPath)
	if err != nil {
		return fmt.Errorf("failed to load definition: %w", err)
	}

	g, err := definition.Build(doc, dw.daemon.buildOptions())
	if err != nil {
		return fmt.Errorf("failed to build pipeline graph: %w", err)
	}

	dw.daemon.SwapGraph(g)

	if dw.daemon.config.Daemon.WatchRun {
		if _, err := dw.daemon.SubmitRun(TriggerWatch, ""); err != nil {
			slog.Error("Failed to enqueue run after definition reload", logfields.Error(err))
		}
	}

	return nil
}
