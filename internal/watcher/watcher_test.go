package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/internal/builder"
	"codegraph/internal/graph"
	"codegraph/internal/jobs"
	"codegraph/internal/parser"
)

const testDebounce = 50 * time.Millisecond

type fakeIndexer struct {
	mu      sync.Mutex
	builds  []string
	updates []string
	removes []string
}

func (f *fakeIndexer) Build(_ context.Context, root string, _ builder.ProgressFunc) (*builder.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds = append(f.builds, root)
	return &builder.Summary{Root: root}, nil
}

func (f *fakeIndexer) UpdateFile(_ context.Context, root, path string) (*builder.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, path)
	return &builder.Summary{Root: root}, nil
}

func (f *fakeIndexer) RemoveFile(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes = append(f.removes, path)
	return true, nil
}

func (f *fakeIndexer) Ignore(root string) (*builder.Ignore, error) {
	return builder.LoadIgnore(afero.NewOsFs(), root, nil)
}

func (f *fakeIndexer) Supported(path string) bool { return strings.HasSuffix(path, ".py") }

// FilesUnder treats every updated path as indexed.
func (f *fakeIndexer) FilesUnder(_ context.Context, _, dir string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.updates {
		if strings.HasPrefix(p, dir+string(filepath.Separator)) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeIndexer) count(list *[]string, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range *list {
		if p == path {
			n++
		}
	}
	return n
}

type syncSubmitter struct{}

func (syncSubmitter) Submit(_, _ string, task jobs.Task) string {
	_, _ = task(context.Background(), func(jobs.Progress) {})
	return "job-1"
}

func newFakeWatcher(t *testing.T) (*Watcher, *fakeIndexer, string) {
	t.Helper()
	idx := &fakeIndexer{}
	w, err := New(idx, syncSubmitter{}, testDebounce)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	dir := t.TempDir()
	id, err := w.Watch(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	return w, idx, dir
}

func write(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestWatchIsIdempotent(t *testing.T) {
	w, idx, dir := newFakeWatcher(t)

	id, err := w.Watch(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Equal(t, []string{dir}, w.ListWatched())
	assert.Len(t, idx.builds, 1)

	require.NoError(t, w.Unwatch(dir))
	assert.Empty(t, w.ListWatched())
	assert.ErrorIs(t, w.Unwatch(dir), ErrNotWatched)
}

func TestWatchRejectsFiles(t *testing.T) {
	w, err := New(&fakeIndexer{}, syncSubmitter{}, testDebounce)
	require.NoError(t, err)
	defer w.Close()

	file := filepath.Join(t.TempDir(), "a.py")
	write(t, file, "x = 1\n")
	_, err = w.Watch(context.Background(), file)
	assert.ErrorIs(t, err, builder.ErrNotDirectory)
}

func TestDebounceCollapsesBursts(t *testing.T) {
	_, idx, dir := newFakeWatcher(t)
	path := filepath.Join(dir, "a.py")

	for i := 0; i < 5; i++ {
		write(t, path, strings.Repeat("x = 1\n", i+1))
	}
	require.Eventually(t, func() bool { return idx.count(&idx.updates, path) == 1 },
		2*time.Second, 10*time.Millisecond)
	time.Sleep(4 * testDebounce)
	assert.Equal(t, 1, idx.count(&idx.updates, path))
}

func TestRemoveEventDeletesFile(t *testing.T) {
	_, idx, dir := newFakeWatcher(t)
	path := filepath.Join(dir, "gone.py")
	write(t, path, "x = 1\n")
	require.Eventually(t, func() bool { return idx.count(&idx.updates, path) == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return idx.count(&idx.removes, path) == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestNewDirectoriesAreSubscribed(t *testing.T) {
	_, idx, dir := newFakeWatcher(t)
	sub := filepath.Join(dir, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	path := filepath.Join(sub, "b.py")
	write(t, path, "def b():\n    pass\n")

	require.Eventually(t, func() bool { return idx.count(&idx.updates, path) >= 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestIgnoredAndUnsupportedPathsAreSkipped(t *testing.T) {
	_, idx, dir := newFakeWatcher(t)
	ignored := filepath.Join(dir, "node_modules")
	require.NoError(t, os.Mkdir(ignored, 0o755))
	write(t, filepath.Join(ignored, "x.py"), "x = 1\n")
	write(t, filepath.Join(dir, "notes.txt"), "hello")
	sentinel := filepath.Join(dir, "c.py")
	write(t, sentinel, "x = 1\n")

	require.Eventually(t, func() bool { return idx.count(&idx.updates, sentinel) == 1 },
		2*time.Second, 10*time.Millisecond)
	time.Sleep(2 * testDebounce)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	assert.Equal(t, []string{sentinel}, idx.updates)
}

func TestUnwatchDropsPendingEvents(t *testing.T) {
	w, idx, dir := newFakeWatcher(t)
	path := filepath.Join(dir, "a.py")
	write(t, path, "x = 1\n")
	require.NoError(t, w.Unwatch(dir))

	time.Sleep(4 * testDebounce)
	assert.Zero(t, idx.count(&idx.updates, path))
}

// End to end over a real builder and store.
func TestWatchedEditsReachTheGraph(t *testing.T) {
	ctx := context.Background()
	store, err := graph.Open(ctx, filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	defer store.Close()

	dir := t.TempDir()
	write(t, filepath.Join(dir, "lib.py"), "def one():\n    return 1\n\n\ndef two():\n    return 2\n")

	b := builder.New(store, afero.NewOsFs(), parser.DefaultRegistry(), builder.Options{})
	manager := jobs.NewManager()
	runner := jobs.NewRunner(manager, 1, 4)
	defer runner.Close()
	w, err := New(b, runner, testDebounce)
	require.NoError(t, err)
	defer w.Close()

	id, err := w.Watch(ctx, dir)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		info, err := manager.Get(id)
		return err == nil && info.State == jobs.StateCompleted
	}, 5*time.Second, 10*time.Millisecond)

	find := func(name string) []graph.Node {
		nodes, err := store.FindNodes(ctx, graph.NodeFilter{Name: name, Labels: []graph.Label{graph.LabelFunction}})
		require.NoError(t, err)
		return nodes
	}
	one := find("one")
	require.Len(t, one, 1)

	t.Run("new file with an unresolved call", func(t *testing.T) {
		write(t, filepath.Join(dir, "baz.py"), "def baz():\n    qux()\n")
		require.Eventually(t, func() bool { return len(find("baz")) == 1 }, 5*time.Second, 10*time.Millisecond)

		out, err := store.Neighbors(ctx, find("baz")[0].ID, graph.Outgoing, graph.RelCalls)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, graph.LabelExternal, out[0].Node.Label)
		assert.Equal(t, "qux", out[0].Node.Name)
	})

	t.Run("editing one body keeps sibling identity", func(t *testing.T) {
		body := "def one():\n    return 1\n\n\ndef two():\n    if True:\n        return 2\n    return 0\n"
		write(t, filepath.Join(dir, "lib.py"), body)
		require.Eventually(t, func() bool {
			two := find("two")
			return len(two) == 1 && two[0].Complexity == 2
		}, 5*time.Second, 10*time.Millisecond)

		after := find("one")
		require.Len(t, after, 1)
		assert.Equal(t, one[0].ID, after[0].ID)
	})
}

func TestMovedDirectoryRemovesItsFiles(t *testing.T) {
	_, idx, dir := newFakeWatcher(t)
	pkg := filepath.Join(dir, "pkg")
	require.NoError(t, os.Mkdir(pkg, 0o755))
	// let the new directory get subscribed before writing into it
	time.Sleep(2 * testDebounce)
	file := filepath.Join(pkg, "b.py")
	write(t, file, "x = 1\n")
	require.Eventually(t, func() bool { return idx.count(&idx.updates, file) >= 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Rename(pkg, filepath.Join(t.TempDir(), "elsewhere")))
	require.Eventually(t, func() bool { return idx.count(&idx.removes, file) == 1 },
		2*time.Second, 10*time.Millisecond)
}
