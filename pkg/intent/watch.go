package intent

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDelay debounces bursts of file events into one reload.
const DefaultReloadDelay = 500 * time.Millisecond

// Watcher reloads an intent document when its file changes.
type Watcher struct {
	loader *Loader
	logger zerolog.Logger
	delay  time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher that parses documents with loader.
func NewWatcher(loader *Loader, logger zerolog.Logger) *Watcher {
	if loader == nil {
		loader = NewLoader(nil)
	}
	return &Watcher{
		loader: loader,
		logger: logger.With().Str("component", "intent-watcher").Logger(),
		delay:  DefaultReloadDelay,
	}
}

// Watch starts watching path and calls reloadFn with each successfully parsed
// revision. Parse failures are logged and the previous revision stays in
// effect. Watching stops when ctx is cancelled or Stop is called.
func (w *Watcher) Watch(ctx context.Context, path string, reloadFn func(NetworkIntent) error) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve intent path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Editors often replace the file rather than write to it, so the
	// directory is watched and events are filtered by name.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	go w.processEvents(ctx, watcher, abs, reloadFn)

	w.logger.Info().Str("path", abs).Msg("Started watching intent")
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher, path string, reloadFn func(NetworkIntent) error) {
	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Intent file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(w.delay, func() {
				w.reload(ctx, path, reloadFn)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) reload(ctx context.Context, path string, reloadFn func(NetworkIntent) error) {
	if ctx.Err() != nil {
		return
	}

	in, err := w.loader.LoadFile(ctx, path)
	if err != nil {
		w.logger.Error().Err(err).Str("path", path).Msg("Failed to reload intent, keeping previous revision")
		return
	}

	if err := reloadFn(in); err != nil {
		w.logger.Error().Err(err).Str("path", path).Msg("Failed to apply reloaded intent")
		return
	}

	w.logger.Info().Str("network", in.NetworkName).Msg("Intent reloaded")
}

// Stop stops watching.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	w.watcher = nil
	return err
}
