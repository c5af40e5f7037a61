package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"polo/internal/logger"
	"polo/internal/model"
)

// Watcher imports new plate directories as they appear under a root.
// A directory is imported once it has been quiet for the settle period, so
// images still being copied in are picked up.
type Watcher struct {
	root     string
	importer *Importer
	opts     func(dir string) HWIOptions
	onRun    func(*model.Run)
	settle   time.Duration
	logger   *logger.Logger

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewWatcher creates a Watcher. opts builds the import options for a
// directory; onRun receives each imported run.
func NewWatcher(root string, im *Importer, opts func(dir string) HWIOptions, onRun func(*model.Run), settle time.Duration, logger *logger.Logger) *Watcher {
	if settle <= 0 {
		settle = 5 * time.Second
	}
	return &Watcher{
		root:     root,
		importer: im,
		opts:     opts,
		onRun:    onRun,
		settle:   settle,
		logger:   logger,
		pending:  make(map[string]time.Time),
	}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}
	w.logger.Info("Watching %s for new plate directories", w.root)

	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(fw, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error: %v", err)
		case now := <-ticker.C:
			w.flush(fw, now)
		}
	}
}

func (w *Watcher) handle(fw *fsnotify.Watcher, event fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fw.Add(event.Name); err != nil {
				w.logger.Warning("Cannot watch %s: %v", event.Name, err)
			}
			w.pending[event.Name] = time.Now()
			return
		}
	}
	// Activity inside a pending directory postpones its import.
	dir := filepath.Dir(event.Name)
	if _, ok := w.pending[dir]; ok {
		w.pending[dir] = time.Now()
	}
}

func (w *Watcher) flush(fw *fsnotify.Watcher, now time.Time) {
	w.mu.Lock()
	var ready []string
	for dir, last := range w.pending {
		if now.Sub(last) >= w.settle {
			ready = append(ready, dir)
			delete(w.pending, dir)
		}
	}
	w.mu.Unlock()

	for _, dir := range ready {
		_ = fw.Remove(dir)
		run, err := w.importer.Import(dir, w.opts(dir))
		if err != nil {
			w.logger.Warning("Auto-import of %s failed: %v", dir, err)
			continue
		}
		w.onRun(run)
	}
}

// Pending returns the number of directories waiting to settle.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
