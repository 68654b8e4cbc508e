// Package builder turns a source tree into graph writes: a cheap first pass
// collects every definition into a symbol table, a second pass parses each
// file fully and resolves its imports, calls and base types against it.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"codegraph/internal/graph"
	"codegraph/internal/metrics"
	"codegraph/internal/parser"
	"codegraph/internal/resolver"
	"codegraph/util"
)

var (
	// ErrIgnored is returned when an update targets a path excluded by the ignore rules.
	ErrIgnored = errors.New("path is ignored")

	// ErrNotDirectory is returned when a build root is not a directory.
	ErrNotDirectory = errors.New("not a directory")
)

// Options tune a Builder.
type Options struct {
	// Concurrency bounds the second pass. Zero means 4.
	Concurrency int
	// MaxFileSize skips larger files. Zero means no limit.
	MaxFileSize int64
	// Excludes are extra glob patterns on top of DefaultExcludes.
	Excludes []string
	// FullReResolve re-resolves every unresolved call of the repository
	// after an incremental update.
	FullReResolve bool
	// IsDependency marks built repositories as installed packages.
	IsDependency bool
}

// Progress is reported after each file of the second pass.
type Progress struct {
	Processed int
	Total     int
	Failed    int
	Current   string
}

// ProgressFunc receives progress updates. It may be nil.
type ProgressFunc func(Progress)

// FileError is a per-file failure recorded in a Summary.
type FileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Summary describes the outcome of a build.
type Summary struct {
	Root            string        `json:"root"`
	Files           int           `json:"files"`
	Succeeded       int           `json:"succeeded"`
	Failed          int           `json:"failed"`
	Removed         int           `json:"removed"`
	Nodes           int           `json:"nodes"`
	Edges           int           `json:"edges"`
	CallsResolved   int           `json:"calls_resolved"`
	CallsUnresolved int           `json:"calls_unresolved"`
	Relinked        int           `json:"relinked,omitempty"`
	Errors          []FileError   `json:"errors,omitempty"`
	Duration        time.Duration `json:"duration"`
}

func (s *Summary) fail(path string, err error) {
	s.Failed++
	s.Errors = append(s.Errors, FileError{Path: path, Error: err.Error()})
}

// Builder writes repositories into a graph store.
type Builder struct {
	store *graph.Store
	fs    afero.Fs
	reg   *parser.Registry
	opts  Options
	log   *slog.Logger
}

func New(store *graph.Store, fsys afero.Fs, reg *parser.Registry, opts Options) *Builder {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Builder{
		store: store,
		fs:    fsys,
		reg:   reg,
		opts:  opts,
		log:   slog.Default().With("component", "builder"),
	}
}

func (b *Builder) Store() *graph.Store { return b.store }

func (b *Builder) Registry() *parser.Registry { return b.reg }

// Supported reports whether path has a parser.
func (b *Builder) Supported(path string) bool { return b.reg.Supported(path) }

// Ignore loads the ignore rules of root.
func (b *Builder) Ignore(root string) (*Ignore, error) {
	return LoadIgnore(b.fs, root, b.opts.Excludes)
}

// Build indexes the tree under root. When root is a file, only that file is
// indexed, as part of the repository enclosing it. Cancelling ctx stops new
// files from starting; files already being written are finished.
func (b *Builder) Build(ctx context.Context, root string, progress ProgressFunc) (*Summary, error) {
	start := time.Now()
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	info, err := b.fs.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return b.buildSingle(ctx, root, progress)
	}

	if err := b.store.UpsertRepository(ctx, graph.Repository{Path: root, IsDependency: b.opts.IsDependency}); err != nil {
		return nil, err
	}
	ig, err := b.Ignore(root)
	if err != nil {
		return nil, err
	}
	files, err := b.collect(ctx, root, ig)
	if err != nil {
		return nil, err
	}

	sum := &Summary{Root: root, Files: len(files)}
	if sum.Removed, err = b.removeMissing(ctx, root, files); err != nil {
		return nil, err
	}

	table, ok := b.prescan(ctx, files, sum)
	if err := ctx.Err(); err != nil {
		return sum, fmt.Errorf("build %s: %w", root, err)
	}
	res := resolver.New(root, table)
	b.log.Info("first pass done", "root", root, "files", len(files), "definitions", table.Len())

	var (
		mu        sync.Mutex
		processed = sum.Failed
		g         errgroup.Group
	)
	g.SetLimit(b.opts.Concurrency)
	writeCtx := context.WithoutCancel(ctx)
	for _, path := range files {
		if !ok[path] {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// g.Go may have waited for a slot
			if ctx.Err() != nil {
				return nil
			}
			st, err := b.indexFile(writeCtx, root, path, res)

			mu.Lock()
			defer mu.Unlock()
			processed++
			if err != nil {
				b.log.Warn("index file failed", "path", path, "error", err)
				metrics.FilesIndexed.WithLabelValues("failed").Inc()
				sum.fail(path, err)
			} else {
				metrics.FilesIndexed.WithLabelValues("ok").Inc()
				sum.Succeeded++
				sum.add(st)
			}
			if progress != nil {
				progress(Progress{Processed: processed, Total: sum.Files, Failed: sum.Failed, Current: path})
			}
			return nil
		})
	}
	_ = g.Wait()

	sum.Duration = time.Since(start)
	if err := ctx.Err(); err != nil {
		return sum, fmt.Errorf("build %s: %w", root, err)
	}
	if err := b.store.UpsertRepository(writeCtx, graph.Repository{Path: root, IsDependency: b.opts.IsDependency}); err != nil {
		return sum, err
	}
	metrics.BuildDuration.Observe(sum.Duration.Seconds())
	b.log.Info("build done", "root", root, "files", sum.Files, "failed", sum.Failed,
		"resolved", sum.CallsResolved, "unresolved", sum.CallsUnresolved, "duration", sum.Duration)
	return sum, nil
}

func (b *Builder) buildSingle(ctx context.Context, path string, progress ProgressFunc) (*Summary, error) {
	start := time.Now()
	root, err := util.FindGitRoot(filepath.Dir(path))
	if err != nil {
		root = filepath.Dir(path)
	}
	if err := b.store.UpsertRepository(ctx, graph.Repository{Path: root, IsDependency: b.opts.IsDependency}); err != nil {
		return nil, err
	}
	sum := &Summary{Root: root, Files: 1}
	st, err := b.UpdateFile(ctx, root, path)
	if err != nil {
		var perr *parser.ParseError
		if !errors.As(err, &perr) {
			return nil, err
		}
		sum.fail(path, err)
	} else {
		sum.merge(st)
	}
	if progress != nil {
		progress(Progress{Processed: 1, Total: 1, Failed: sum.Failed, Current: path})
	}
	sum.Duration = time.Since(start)
	return sum, nil
}

// collect lists the supported, non-ignored files under root in sorted order.
func (b *Builder) collect(ctx context.Context, root string, ig *Ignore) ([]string, error) {
	var files []string
	err := afero.Walk(b.fs, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			b.log.Debug("walk error", "path", path, "error", err)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() {
			if path != root && ig.Match(path, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !b.reg.Supported(path) || ig.Match(path, false) {
			return nil
		}
		if b.opts.MaxFileSize > 0 && info.Size() > b.opts.MaxFileSize {
			b.log.Debug("skipping large file", "path", path, "size", info.Size())
			return nil
		}
		files = append(files, filepath.Clean(path))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// removeMissing deletes stored files of root that are no longer on disk or
// are now ignored.
func (b *Builder) removeMissing(ctx context.Context, root string, files []string) (int, error) {
	stored, err := b.store.FileHashes(ctx, root)
	if err != nil {
		return 0, err
	}
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f] = true
	}
	removed := 0
	for path := range stored {
		if present[path] {
			continue
		}
		if _, err := b.store.DeleteFile(ctx, path); err != nil {
			return removed, err
		}
		metrics.FilesIndexed.WithLabelValues("removed").Inc()
		removed++
	}
	return removed, nil
}

// prescan runs the first pass. It returns the table and the files that
// made it through.
func (b *Builder) prescan(ctx context.Context, files []string, sum *Summary) (*resolver.SymbolTable, map[string]bool) {
	table := resolver.NewSymbolTable()
	ok := make(map[string]bool, len(files))
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		table.AddFile(path)
		defs, err := b.definitions(path)
		if err != nil {
			sum.fail(path, err)
			continue
		}
		for _, d := range defs {
			table.Add(d)
		}
		ok[path] = true
	}
	return table, ok
}

func (b *Builder) definitions(path string) ([]resolver.Definition, error) {
	p, ok := b.reg.ForPath(path)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, parser.ErrUnsupportedLanguage)
	}
	content, err := afero.ReadFile(b.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defs, err := p.Definitions(path, content)
	if err != nil {
		return nil, err
	}
	return resolver.FromParser(path, defs), nil
}

func (b *Builder) indexFile(ctx context.Context, root, path string, res *resolver.Resolver) (fileStats, error) {
	content, err := afero.ReadFile(b.fs, path)
	if err != nil {
		return fileStats{}, fmt.Errorf("read %s: %w", path, err)
	}
	rec, err := b.reg.Parse(ctx, path, content)
	if err != nil {
		return fileStats{}, err
	}
	if len(rec.Errors) > 0 {
		b.log.Debug("syntax errors", "path", path, "count", len(rec.Errors))
	}
	w, st := buildWrite(root, rec, content, res)
	out, err := b.store.WriteFile(ctx, w)
	if err != nil {
		return st, err
	}
	st.Nodes, st.Edges = out.Nodes, out.Edges
	metrics.CallsResolved.WithLabelValues("resolved").Add(float64(st.CallsResolved))
	for reason, n := range st.unresolved {
		metrics.CallsResolved.WithLabelValues(reason).Add(float64(n))
	}
	return st, nil
}

// UpdateFile re-indexes one file of root against the definitions already in
// the store. A file that no longer exists is removed.
func (b *Builder) UpdateFile(ctx context.Context, root, path string) (*Summary, error) {
	root, path = filepath.Clean(root), filepath.Clean(path)
	if !b.reg.Supported(path) {
		return nil, fmt.Errorf("%s: %w", path, parser.ErrUnsupportedLanguage)
	}
	ig, err := b.Ignore(root)
	if err != nil {
		return nil, err
	}
	if ig.Match(path, false) {
		return nil, fmt.Errorf("%s: %w", path, ErrIgnored)
	}
	if _, err := b.fs.Stat(path); errors.Is(err, fs.ErrNotExist) {
		removed, err := b.RemoveFile(ctx, path)
		if err != nil {
			return nil, err
		}
		sum := &Summary{Root: root}
		if removed {
			sum.Removed = 1
		}
		return sum, nil
	}

	table, err := b.storedTable(ctx, root)
	if err != nil {
		return nil, err
	}
	defs, err := b.definitions(path)
	if err != nil {
		return nil, err
	}
	table.ReplaceFile(path, defs)
	res := resolver.New(root, table)

	st, err := b.indexFile(ctx, root, path, res)
	if err != nil {
		metrics.FilesIndexed.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.FilesIndexed.WithLabelValues("ok").Inc()
	sum := &Summary{Root: root, Files: 1, Succeeded: 1}
	sum.add(st)

	if b.opts.FullReResolve {
		n, err := b.reresolve(ctx, root, res)
		if err != nil {
			return sum, err
		}
		sum.Relinked = n
	}
	return sum, nil
}

// storedTable rebuilds the symbol table of root from the store.
func (b *Builder) storedTable(ctx context.Context, root string) (*resolver.SymbolTable, error) {
	defs, err := b.store.Definitions(ctx, root)
	if err != nil {
		return nil, err
	}
	hashes, err := b.store.FileHashes(ctx, root)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(hashes))
	for f := range hashes {
		files = append(files, f)
	}
	return resolver.FromGraph(defs, files), nil
}

// reresolve retries every call of root that currently ends in an External
// placeholder, moving those that now resolve onto their definition.
func (b *Builder) reresolve(ctx context.Context, root string, res *resolver.Resolver) (int, error) {
	calls, err := b.store.UnresolvedCalls(ctx, root)
	if err != nil {
		return 0, err
	}
	imports := map[string][]parser.Import{}
	var relinks []graph.Relink
	for _, uc := range calls {
		file := uc.Caller.FilePath
		imps, ok := imports[file]
		if !ok {
			content, err := afero.ReadFile(b.fs, file)
			if err == nil {
				imps, _ = resolver.ExtractImports(b.reg, file, content)
			}
			imports[file] = imps
		}
		call := parser.Call{Name: uc.Target.Name, FullName: uc.Target.Name}
		if full, ok := uc.Props["full_name"].(string); ok && full != "" {
			call.FullName = full
		}
		call.Class, _ = uc.Props["class"].(string)

		t := res.ResolveCall(file, call, imps)
		if !t.Resolved() {
			continue
		}
		relinks = append(relinks, graph.Relink{
			Src:    uc.Caller.ID,
			OldDst: uc.Target.ID,
			To:     graph.StubRef(defStub(*t.Definition, root)),
			Props:  graph.Props{"line": uc.Props["line"], "full_name": call.FullName, "resolved_via": t.Via},
		})
	}
	n, err := b.store.RelinkCalls(ctx, relinks)
	if err != nil {
		return 0, fmt.Errorf("relink calls of %s: %w", root, err)
	}
	if n > 0 {
		b.log.Info("re-resolved calls", "root", root, "count", n)
	}
	return n, nil
}

// RemoveFile deletes a file and everything defined in it.
func (b *Builder) RemoveFile(ctx context.Context, path string) (bool, error) {
	removed, err := b.store.DeleteFile(ctx, filepath.Clean(path))
	if err != nil {
		return false, err
	}
	if removed {
		metrics.FilesIndexed.WithLabelValues("removed").Inc()
	}
	return removed, nil
}

// FilesUnder lists the indexed files of root that live below dir, sorted.
func (b *Builder) FilesUnder(ctx context.Context, root, dir string) ([]string, error) {
	stored, err := b.store.FileHashes(ctx, filepath.Clean(root))
	if err != nil {
		return nil, err
	}
	prefix := filepath.Clean(dir) + string(filepath.Separator)
	var out []string
	for path := range stored {
		if strings.HasPrefix(path, prefix) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

// DeleteRepository removes root and everything indexed under it.
func (b *Builder) DeleteRepository(ctx context.Context, root string) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	return b.store.DeleteRepository(ctx, root)
}
