package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/praetor-sec/praetor/internal/types"
)

// Watcher reloads detection thresholds when the config file changes on disk,
// so thresholds can be tuned without restarting the scheduler.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(types.DetectionThresholds)
	logger   zerolog.Logger
}

// NewWatcher creates a watcher for the given config file. onReload is called
// with the merged thresholds after every successful reload.
func NewWatcher(path string, onReload func(types.DetectionThresholds), logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	// Watch the directory rather than the file itself: editors replace files
	// on save, which would drop a direct file watch.
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	return &Watcher{
		path:     path,
		watcher:  fsw,
		onReload: onReload,
		logger:   logger.With().Str("component", "config_watcher").Logger(),
	}, nil
}

// Start processes filesystem events until ctx is cancelled. Write events on
// the config file are debounced briefly so a single save triggers one reload.
func (w *Watcher) Start(ctx context.Context) {
	defer w.watcher.Close()

	var debounce *time.Timer
	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}

// reload re-parses the config file and pushes the thresholds to the callback.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).Str("path", w.path).Msg("config reload failed, keeping previous thresholds")
		return
	}

	w.logger.Info().Str("path", w.path).Msg("detection thresholds reloaded")
	if w.onReload != nil {
		w.onReload(cfg.Detection.Thresholds)
	}
}
