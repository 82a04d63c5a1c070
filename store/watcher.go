package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchEvent reports an out-of-band change to a persisted document:
// another process (or an operator with an editor) rewrote a tasks.json
// or the registry behind the kernel's back.
type WatchEvent struct {
	// ProjectID is the owning project, or empty for the registry.
	ProjectID string
	// Path is the changed file.
	Path string
}

// Watcher watches the data root for document rewrites and emits debounced
// change events. Lock files and unknown files are ignored.
type Watcher struct {
	store   *Store
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	// Debouncing: collect changes before reporting.
	pendingMu sync.Mutex
	pending   map[string]time.Time

	debounce time.Duration
	events   chan WatchEvent
}

// NewWatcher creates a watcher over the store's data root.
func NewWatcher(s *Store, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		store:    s,
		logger:   logger,
		watcher:  fsw,
		pending:  make(map[string]time.Time),
		debounce: debounce,
		events:   make(chan WatchEvent, 64),
	}
	if err := fsw.Add(s.Root()); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	projectsDir := filepath.Join(s.Root(), "projects")
	// Per-project dirs appear lazily; adding them is best-effort here and
	// retried whenever a create event lands.
	_ = fsw.Add(projectsDir)
	if entries, err := filepath.Glob(filepath.Join(projectsDir, "*")); err == nil {
		for _, dir := range entries {
			_ = fsw.Add(dir)
		}
	}
	return w, nil
}

// Events is the channel of debounced document changes.
func (w *Watcher) Events() <-chan WatchEvent {
	return w.events
}

// Start runs the watch loop until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()
	defer close(w.events)
	defer func() { _ = w.watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Data watcher error", "error", err)
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	base := filepath.Base(ev.Name)
	if ev.Op.Has(fsnotify.Create) {
		// A new project directory: start watching inside it.
		if base != "tasks.json" && !strings.Contains(base, ".") {
			_ = w.watcher.Add(ev.Name)
			return
		}
	}
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
		return
	}
	if base != "tasks.json" && base != "projects.json" {
		return
	}
	w.pendingMu.Lock()
	w.pending[ev.Name] = time.Now()
	w.pendingMu.Unlock()
}

func (w *Watcher) flush() {
	now := time.Now()
	w.pendingMu.Lock()
	var ready []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.pendingMu.Unlock()

	for _, path := range ready {
		ev := WatchEvent{Path: path}
		if filepath.Base(path) == "tasks.json" {
			ev.ProjectID = filepath.Base(filepath.Dir(path))
		}
		select {
		case w.events <- ev:
		default:
			w.logger.Debug("Dropping watch event, channel full", "path", path)
		}
	}
}
