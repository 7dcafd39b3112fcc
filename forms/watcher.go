// forms/watcher.go
package forms

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher refreshes the registry when template files in a directory change.
type Watcher struct {
	dir      string
	registry *Registry
	logger   zerolog.Logger
	debounce time.Duration
}

func NewWatcher(dir string, registry *Registry, logger zerolog.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		registry: registry,
		logger:   logger.With().Str("component", "forms.watcher").Str("dir", dir).Logger(),
		debounce: defaultDebounce,
	}
}

// Run watches until ctx is done. Bursts of events collapse into one refresh.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info().Msg("watching form templates")

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isYAML(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("form template changed")
				timer.Reset(w.debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("fsnotify error")
		case <-timer.C:
			if err := w.registry.Refresh(ctx); err != nil {
				w.logger.Warn().Err(err).Msg("form template reload failed, keeping previous templates")
				continue
			}
			w.logger.Info().Msg("form templates reloaded")
		}
	}
}
