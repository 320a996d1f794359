package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// FileWatcher wakes the Refresher when a file source changes on disk, so
// edits apply before the next poll. Polling keeps running regardless; the
// watcher only shortens the delay.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	path      string
	refresher *Refresher
	debounce  time.Duration
	logger    *slog.Logger
}

// NewFileWatcher watches the directory containing path. Watching the
// directory rather than the file survives editors that replace the file.
func NewFileWatcher(path string, r *Refresher, logger *slog.Logger) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	return &FileWatcher{
		watcher:   w,
		path:      path,
		refresher: r,
		debounce:  defaultDebounce,
		logger:    logger.With("component", "config_watcher"),
	}, nil
}

// Run forwards debounced change events until ctx is canceled, then closes the
// underlying watcher.
func (fw *FileWatcher) Run(ctx context.Context) {
	defer func() { _ = fw.watcher.Close() }()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	base := filepath.Base(fw.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(fw.debounce, fw.refresher.Trigger)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("config watcher error", "err", err)
		}
	}
}
