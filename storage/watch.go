package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
)

// DefaultDebounce collapses bursts of writes into a single reload.
const DefaultDebounce = 100 * time.Millisecond

// Watcher calls a reload function when one document in the local storage
// directory is changed by someone else (an editor, a second process, a
// restore script).
type Watcher struct {
	dir      string
	name     string
	debounce time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	reload   func(context.Context) error
}

// NewWatcher watches dir/name. The directory is watched rather than the file
// because atomic saves replace the file on every write.
func NewWatcher(dir, name string, debounce time.Duration, clock clockwork.Clock, logger *slog.Logger, reload func(context.Context) error) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		dir:      dir,
		name:     name,
		debounce: debounce,
		clock:    clock,
		logger:   logger,
		reload:   reload,
	}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer func() {
		if closeErr := fw.Close(); closeErr != nil {
			w.logger.Warn("Failed to close file watcher", "error", closeErr)
		}
	}()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("Watching document for external changes", "dir", w.dir, "name", w.name, "debounce", w.debounce.String())

	d := newDebouncer(w.clock, w.debounce, func() {
		if err := w.reload(ctx); err != nil {
			w.logger.Warn("Reload after file change failed", "name", w.name, "error", err)
			return
		}
		w.logger.Info("Reloaded document after file change", "name", w.name)
	})
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("Document changed on disk", "path", ev.Name, "op", ev.Op.String())
			d.trigger()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Base(ev.Name) != w.name {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// debouncer runs fn once the trigger calls have been quiet for delay.
type debouncer struct {
	mu    sync.Mutex
	clock clockwork.Clock
	delay time.Duration
	fn    func()
	timer clockwork.Timer
}

func newDebouncer(clock clockwork.Clock, delay time.Duration, fn func()) *debouncer {
	return &debouncer{clock: clock, delay: delay, fn: fn}
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clock.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
