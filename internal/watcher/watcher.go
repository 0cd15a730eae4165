// Package watcher turns file-system notifications under the vault roots into
// debounced change events for the sync engine.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyperjump/vaultsearch/internal/models"
	"go.uber.org/zap"
)

const (
	defaultDebounce = 400 * time.Millisecond
	eventBuffer     = 256
)

// Resolver decides which files belong to the vault and names them.
// Rel maps an absolute path to a vault path, reporting false for files to ignore.
type Resolver interface {
	Roots() []string
	Recursive() bool
	Rel(abs string) (string, bool)
}

// Watcher watches the vault roots and emits ChangeEvents on Events.
// Created, modified and renamed events are debounced per path; deletes are
// emitted immediately. A rename pairs with a create that follows within the
// debounce window; a rename with no matching create becomes a delete.
type Watcher struct {
	resolver Resolver
	debounce time.Duration
	logger   *zap.Logger
	events   chan models.ChangeEvent

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	pending  map[string]*pending
	renames  []*pendingRename
	started  bool
	stopped  bool
	inflight sync.WaitGroup

	done     chan struct{}
	stopOnce sync.Once
}

type pending struct {
	kind    models.EventKind
	oldPath string
	timer   *time.Timer
}

type pendingRename struct {
	path  string
	timer *time.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets the per-path debounce window. Default 400ms.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over the roots of r.
func NewWatcher(r Resolver, opts ...Option) *Watcher {
	w := &Watcher{
		resolver: r,
		debounce: defaultDebounce,
		logger:   zap.NewNop(),
		events:   make(chan models.ChangeEvent, eventBuffer),
		pending:  make(map[string]*pending),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Events returns the change event stream. It is closed by Stop.
func (w *Watcher) Events() <-chan models.ChangeEvent {
	return w.events
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started || w.stopped {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	w.started = true
	roots := w.resolver.Roots()
	w.logger.Debug("watcher starting", zap.Strings("roots", roots), zap.Bool("recursive", w.resolver.Recursive()))
	for _, root := range roots {
		if err := w.addTreeLocked(root); err != nil {
			_ = w.fsw.Close()
			w.fsw = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	abs := ev.Name
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", abs))

	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			w.handleNewDirectory(abs)
			return
		}
		rel, ok := w.resolver.Rel(abs)
		if !ok {
			return
		}
		if old, ok := w.popRename(); ok && old != rel {
			w.schedule(rel, models.EventRenamed, old)
			return
		}
		w.schedule(rel, models.EventCreated, "")
	case ev.Has(fsnotify.Write):
		if rel, ok := w.resolver.Rel(abs); ok {
			w.schedule(rel, models.EventModified, "")
		}
	case ev.Has(fsnotify.Remove):
		if rel, ok := w.resolver.Rel(abs); ok {
			w.cancel(rel)
			w.emitAsync(models.ChangeEvent{Kind: models.EventDeleted, Path: rel})
		}
	case ev.Has(fsnotify.Rename):
		if rel, ok := w.resolver.Rel(abs); ok {
			w.cancel(rel)
			w.pushRename(rel)
		}
	}
}

// schedule (re)starts the debounce timer for path. A modify never downgrades
// a pending create or rename.
func (w *Watcher) schedule(path string, kind models.EventKind, oldPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	p, ok := w.pending[path]
	if ok {
		p.timer.Stop()
		if !(kind == models.EventModified && (p.kind == models.EventCreated || p.kind == models.EventRenamed)) {
			p.kind, p.oldPath = kind, oldPath
		}
	} else {
		p = &pending{kind: kind, oldPath: oldPath}
		w.pending[path] = p
	}
	p.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		cur, ok := w.pending[path]
		if !ok || cur != p {
			w.mu.Unlock()
			return
		}
		delete(w.pending, path)
		ev := models.ChangeEvent{Kind: p.kind, Path: path, OldPath: p.oldPath}
		w.mu.Unlock()
		w.emit(ev)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) pushRename(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	r := &pendingRename{path: path}
	r.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		found := false
		for i, cur := range w.renames {
			if cur == r {
				w.renames = append(w.renames[:i], w.renames[i+1:]...)
				found = true
				break
			}
		}
		w.mu.Unlock()
		if found {
			w.emit(models.ChangeEvent{Kind: models.EventDeleted, Path: path})
		}
	})
	w.renames = append(w.renames, r)
}

// popRename takes the oldest rename still waiting for its create.
func (w *Watcher) popRename() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.renames) == 0 {
		return "", false
	}
	r := w.renames[0]
	r.timer.Stop()
	w.renames = w.renames[1:]
	return r.path, true
}

func (w *Watcher) emit(ev models.ChangeEvent) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()
	w.send(ev)
}

// emitAsync delivers ev without holding up the fsnotify loop when the
// consumer is behind.
func (w *Watcher) emitAsync(ev models.ChangeEvent) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.inflight.Add(1)
	w.mu.Unlock()
	go func() {
		defer w.inflight.Done()
		w.send(ev)
	}()
}

func (w *Watcher) send(ev models.ChangeEvent) {
	w.logger.Debug("watcher emit", zap.String("kind", string(ev.Kind)),
		zap.String("path", ev.Path), zap.String("old_path", ev.OldPath))
	select {
	case w.events <- ev:
	case <-w.done:
	}
}

// handleNewDirectory watches a directory created (or moved) into the vault and
// reports the files already inside it as created.
func (w *Watcher) handleNewDirectory(dir string) {
	if !w.resolver.Recursive() || isHidden(filepath.Base(dir)) {
		return
	}
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	if err := w.addTreeLocked(dir); err != nil {
		w.logger.Debug("watcher failed to add directory", zap.String("path", dir), zap.Error(err))
	}
	w.mu.Unlock()

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && isHidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if rel, ok := w.resolver.Rel(path); ok {
			w.schedule(rel, models.EventCreated, "")
		}
		return nil
	})
}

// addTreeLocked watches root and, when recursive, every non-hidden directory below it.
func (w *Watcher) addTreeLocked(root string) error {
	root = filepath.Clean(root)
	if !w.resolver.Recursive() {
		return w.fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// Stop stops watching, drops pending events and closes the Events channel.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	for _, r := range w.renames {
		r.timer.Stop()
	}
	w.renames = nil
	if w.fsw != nil {
		_ = w.fsw.Close()
		w.fsw = nil
	}
	w.mu.Unlock()

	w.stopOnce.Do(func() {
		close(w.done)
		w.inflight.Wait()
		close(w.events)
	})
}
