// Package watcher keeps indexed repositories in sync with the filesystem.
// One fsnotify subscription serves every watched repository; events are
// debounced per path before the file is re-indexed.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"codegraph/internal/builder"
	"codegraph/internal/jobs"
	"codegraph/internal/metrics"
	"codegraph/internal/parser"
)

// DefaultDebounce is the quiet period before a changed file is re-indexed.
const DefaultDebounce = 500 * time.Millisecond

// JobKindWatch is the job kind of the initial build of a watched repository.
const JobKindWatch = "watch"

var ErrNotWatched = errors.New("path is not watched")

// Indexer is the part of the builder the watcher drives.
type Indexer interface {
	Build(ctx context.Context, root string, progress builder.ProgressFunc) (*builder.Summary, error)
	UpdateFile(ctx context.Context, root, path string) (*builder.Summary, error)
	RemoveFile(ctx context.Context, path string) (bool, error)
	Ignore(root string) (*builder.Ignore, error)
	Supported(path string) bool
	FilesUnder(ctx context.Context, root, dir string) ([]string, error)
}

// Submitter starts background jobs.
type Submitter interface {
	Submit(kind, path string, task jobs.Task) string
}

// Watcher owns the process-wide fsnotify subscription.
type Watcher struct {
	fsw      *fsnotify.Watcher
	idx      Indexer
	jobs     Submitter
	debounce time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	handlers map[string]*handler

	done      chan struct{}
	closeOnce sync.Once
}

func New(idx Indexer, submitter Submitter, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		fsw:      fsw,
		idx:      idx,
		jobs:     submitter,
		debounce: debounce,
		log:      slog.Default().With("component", "watcher"),
		handlers: make(map[string]*handler),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Watch starts watching the directory tree at path and submits its initial
// build as a job. Watching a path that is already watched returns an empty
// job id and no error.
func (w *Watcher) Watch(ctx context.Context, path string) (string, error) {
	root, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s: %w", root, builder.ErrNotDirectory)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.handlers[root]; ok {
		return "", nil
	}
	ig, err := w.idx.Ignore(root)
	if err != nil {
		return "", err
	}
	h := &handler{
		root:    root,
		ignore:  ig,
		w:       w,
		timers:  make(map[string]*time.Timer),
		pending: make(map[string]op),
		locks:   make(map[string]*sync.Mutex),
		dirs:    make(map[string]bool),
	}
	if err := h.addTree(root); err != nil {
		h.release()
		return "", err
	}
	w.handlers[root] = h
	metrics.WatchedPaths.Set(float64(len(w.handlers)))

	id := w.jobs.Submit(JobKindWatch, root, func(ctx context.Context, report func(jobs.Progress)) (any, error) {
		return w.idx.Build(ctx, root, func(p builder.Progress) {
			report(jobs.Progress{Processed: p.Processed, Total: p.Total, Failed: p.Failed, Current: p.Current})
		})
	})
	w.log.Info("watching", "root", root, "job", id)
	return id, nil
}

// Unwatch stops watching path and drops its pending events.
func (w *Watcher) Unwatch(path string) error {
	root, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	h, ok := w.handlers[root]
	if ok {
		delete(w.handlers, root)
	}
	metrics.WatchedPaths.Set(float64(len(w.handlers)))
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", root, ErrNotWatched)
	}
	h.release()
	w.log.Info("unwatched", "root", root)
	return nil
}

// ListWatched returns the watched roots in sorted order.
func (w *Watcher) ListWatched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.handlers))
	for root := range w.handlers {
		out = append(out, root)
	}
	sort.Strings(out)
	return out
}

// Close stops every handler and the event loop.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		for root, h := range w.handlers {
			h.release()
			delete(w.handlers, root)
		}
		metrics.WatchedPaths.Set(0)
		w.mu.Unlock()
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if h := w.handlerFor(ev.Name); h != nil {
				h.handle(ev)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			metrics.WatchErrors.Inc()
			w.log.Warn("fsnotify error", "error", err)
		}
	}
}

// handlerFor returns the handler of the innermost watched root containing path.
func (w *Watcher) handlerFor(path string) *handler {
	w.mu.Lock()
	defer w.mu.Unlock()
	var best *handler
	for root, h := range w.handlers {
		if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
			continue
		}
		if best == nil || len(root) > len(best.root) {
			best = h
		}
	}
	return best
}

type op int

const (
	opUpdate op = iota
	opRemove
)

func (o op) String() string {
	if o == opRemove {
		return "remove"
	}
	return "update"
}

// handler is the per-repository state: subscribed directories, pending
// debounce timers and a lock per path serialising its re-indexing.
type handler struct {
	root   string
	ignore *builder.Ignore
	w      *Watcher

	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending map[string]op
	locks   map[string]*sync.Mutex
	dirs    map[string]bool
	closed  bool
}

func (h *handler) addTree(dir string) error {
	_, err := h.walk(dir)
	return err
}

// walk subscribes dir and its non-ignored subdirectories. It returns the
// supported files found on the way.
func (h *handler) walk(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if h.w.idx.Supported(path) && !h.ignore.Match(path, false) {
				files = append(files, path)
			}
			return nil
		}
		if path != h.root && h.ignore.Match(path, true) {
			return filepath.SkipDir
		}
		if err := h.w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		h.mu.Lock()
		h.dirs[path] = true
		h.mu.Unlock()
		return nil
	})
	return files, err
}

func (h *handler) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		h.mu.Lock()
		isDir := h.dirs[path]
		if isDir {
			prefix := path + string(filepath.Separator)
			for d := range h.dirs {
				if d == path || strings.HasPrefix(d, prefix) {
					delete(h.dirs, d)
				}
			}
		}
		h.mu.Unlock()
		if isDir {
			h.removeTree(path)
			return
		}
		if h.w.idx.Supported(path) && !h.ignore.Match(path, false) {
			h.schedule(path, opRemove)
		}

	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if !ev.Has(fsnotify.Create) || h.ignore.Match(path, true) {
				return
			}
			// files may land in a new directory before it is subscribed
			files, err := h.walk(path)
			if err != nil {
				h.w.log.Warn("subscribe directory", "path", path, "error", err)
			}
			for _, f := range files {
				h.schedule(f, opUpdate)
			}
			return
		}
		if h.w.idx.Supported(path) && !h.ignore.Match(path, false) {
			h.schedule(path, opUpdate)
		}
	}
}

// removeTree schedules the removal of every indexed file below a directory
// that was deleted or moved away. A move inside the root shows up again as
// a create of the new directory.
func (h *handler) removeTree(dir string) {
	files, err := h.w.idx.FilesUnder(context.Background(), h.root, dir)
	if err != nil {
		metrics.WatchErrors.Inc()
		h.w.log.Warn("list files of removed directory", "path", dir, "error", err)
		return
	}
	for _, f := range files {
		h.schedule(f, opRemove)
	}
}

// schedule (re)arms the debounce timer of path. The latest event wins.
func (h *handler) schedule(path string, o op) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.pending[path] = o
	if t, ok := h.timers[path]; ok {
		t.Reset(h.w.debounce)
		return
	}
	h.timers[path] = time.AfterFunc(h.w.debounce, func() { h.fire(path) })
}

func (h *handler) fire(path string) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	o, ok := h.pending[path]
	delete(h.pending, path)
	delete(h.timers, path)
	lock, held := h.locks[path]
	if !held {
		lock = &sync.Mutex{}
		h.locks[path] = lock
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	lock.Lock()
	defer lock.Unlock()

	ctx := context.Background()
	var err error
	switch o {
	case opRemove:
		_, err = h.w.idx.RemoveFile(ctx, path)
	default:
		_, err = h.w.idx.UpdateFile(ctx, h.root, path)
	}
	metrics.WatchEvents.WithLabelValues(o.String()).Inc()
	if err != nil && !errors.Is(err, builder.ErrIgnored) && !errors.Is(err, parser.ErrUnsupportedLanguage) {
		metrics.WatchErrors.Inc()
		h.w.log.Warn("re-index failed", "path", path, "op", o, "error", err)
		return
	}
	h.w.log.Debug("re-indexed", "path", path, "op", o)
}

// release stops pending timers and unsubscribes the handler's directories.
func (h *handler) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for path, t := range h.timers {
		t.Stop()
		delete(h.timers, path)
	}
	clear(h.pending)
	for dir := range h.dirs {
		_ = h.w.fsw.Remove(dir)
	}
	clear(h.dirs)
}
