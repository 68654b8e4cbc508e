package builder

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/internal/graph"
	"codegraph/internal/parser"
)

const root = "/repo"

func newTestBuilder(t *testing.T, files map[string]string, opts Options) (*Builder, afero.Fs, *graph.Store) {
	t.Helper()
	store, err := graph.Open(context.Background(), filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fsys := afero.NewMemMapFs()
	for name, body := range files {
		require.NoError(t, afero.WriteFile(fsys, filepath.Join(root, name), []byte(body), 0o644))
	}
	return New(store, fsys, parser.DefaultRegistry(), opts), fsys, store
}

func findOne(t *testing.T, s *graph.Store, label graph.Label, name string) graph.Node {
	t.Helper()
	nodes, err := s.FindNodes(context.Background(), graph.NodeFilter{Name: name, Labels: []graph.Label{label}})
	require.NoError(t, err)
	require.Len(t, nodes, 1, "%s %s", label, name)
	return nodes[0]
}

func callees(t *testing.T, s *graph.Store, id int64) []graph.Node {
	t.Helper()
	out, err := s.Neighbors(context.Background(), id, graph.Outgoing, graph.RelCalls)
	require.NoError(t, err)
	nodes := make([]graph.Node, len(out))
	for i, n := range out {
		nodes[i] = n.Node
	}
	return nodes
}

var twoFiles = map[string]string{
	"b.py": "def bar():\n    return 1\n",
	"a.py": "from b import bar\n\n\ndef foo():\n    return bar()\n",
}

func TestBuildResolvesAcrossFiles(t *testing.T) {
	ctx := context.Background()
	b, _, s := newTestBuilder(t, twoFiles, Options{})

	var last Progress
	sum, err := b.Build(ctx, root, func(p Progress) { last = p })
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Files)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Zero(t, sum.Failed)
	assert.Equal(t, 1, sum.CallsResolved)
	assert.Equal(t, Progress{Processed: 2, Total: 2, Current: last.Current}, last)

	foo := findOne(t, s, graph.LabelFunction, "foo")
	got := callees(t, s, foo.ID)
	require.Len(t, got, 1)
	assert.Equal(t, "bar", got[0].Name)
	assert.Equal(t, "/repo/b.py", got[0].FilePath)

	file := findOne(t, s, graph.LabelFile, "a.py")
	imports, err := s.Neighbors(ctx, file.ID, graph.Outgoing, graph.RelImports)
	require.NoError(t, err)
	require.Len(t, imports, 1)
	assert.Equal(t, "/repo/b.py", imports[0].Node.FilePath)
	assert.Equal(t, "a.py", file.Props["relative_path"])
}

func TestBuildResolvesJavaAndCpp(t *testing.T) {
	ctx := context.Background()
	b, _, s := newTestBuilder(t, map[string]string{
		"src/com/shop/model/Item.java": "package com.shop.model;\n\npublic class Item {\n    public int price() {\n        return 1;\n    }\n}\n",
		"src/com/shop/Cart.java": "package com.shop;\n\nimport com.shop.model.Item;\n\npublic class Cart {\n" +
			"    int total() {\n        Item i = new Item();\n        return i.price();\n    }\n}\n",
		"geo/shape.hpp": "class Shape {\npublic:\n    int area() { return 0; }\n};\n",
		"geo/main.cpp":  "#include \"shape.hpp\"\n\nint run() {\n    Shape s;\n    return s.area();\n}\n",
	}, Options{})

	sum, err := b.Build(ctx, root, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Succeeded)
	assert.Equal(t, 3, sum.CallsResolved)

	total := findOne(t, s, graph.LabelFunction, "total")
	var got []string
	for _, n := range callees(t, s, total.ID) {
		got = append(got, string(n.Label)+" "+n.Name)
		assert.Equal(t, "/repo/src/com/shop/model/Item.java", n.FilePath)
	}
	assert.ElementsMatch(t, []string{"Class Item", "Function price"}, got)

	run := findOne(t, s, graph.LabelFunction, "run")
	area := callees(t, s, run.ID)
	require.Len(t, area, 1)
	assert.Equal(t, "/repo/geo/shape.hpp", area[0].FilePath)

	file := findOne(t, s, graph.LabelFile, "main.cpp")
	imports, err := s.Neighbors(ctx, file.ID, graph.Outgoing, graph.RelImports)
	require.NoError(t, err)
	require.Len(t, imports, 1)
	assert.Equal(t, "/repo/geo/shape.hpp", imports[0].Node.FilePath)
}

func TestBuildIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b, _, s := newTestBuilder(t, twoFiles, Options{})

	_, err := b.Build(ctx, root, nil)
	require.NoError(t, err)
	first, err := s.Stats(ctx, root)
	require.NoError(t, err)
	fooBefore := findOne(t, s, graph.LabelFunction, "foo")

	_, err = b.Build(ctx, root, nil)
	require.NoError(t, err)
	second, err := s.Stats(ctx, root)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, fooBefore.ID, findOne(t, s, graph.LabelFunction, "foo").ID)
}

func TestBuildRecordsUnresolvedCalls(t *testing.T) {
	b, _, s := newTestBuilder(t, map[string]string{
		"a.py": "def foo():\n    missing()\n",
	}, Options{})

	sum, err := b.Build(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.CallsUnresolved)

	got := callees(t, s, findOne(t, s, graph.LabelFunction, "foo").ID)
	require.Len(t, got, 1)
	assert.Equal(t, graph.LabelExternal, got[0].Label)
	assert.Equal(t, "missing", got[0].Name)
}

func TestBuildLeavesAmbiguousMethodCallsUnresolved(t *testing.T) {
	b, _, s := newTestBuilder(t, map[string]string{
		"a.py": "class Bar:\n    def foo(self):\n        return 1\n\n    def go(self, x):\n        return x.foo()\n",
		"b.py": "class Baz:\n    def foo(self):\n        return 2\n",
	}, Options{})

	sum, err := b.Build(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.CallsUnresolved)

	got := callees(t, s, findOne(t, s, graph.LabelFunction, "go").ID)
	require.Len(t, got, 1)
	assert.Equal(t, graph.LabelExternal, got[0].Label)
	assert.Equal(t, "foo", got[0].Name)
}

func TestBuildRemovesFilesGoneFromDisk(t *testing.T) {
	ctx := context.Background()
	b, fsys, s := newTestBuilder(t, twoFiles, Options{})
	_, err := b.Build(ctx, root, nil)
	require.NoError(t, err)

	require.NoError(t, fsys.Remove("/repo/b.py"))
	sum, err := b.Build(ctx, root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Removed)

	nodes, err := s.FindNodes(ctx, graph.NodeFilter{Name: "bar", Labels: []graph.Label{graph.LabelFunction}})
	require.NoError(t, err)
	assert.Empty(t, nodes)

	got := callees(t, s, findOne(t, s, graph.LabelFunction, "foo").ID)
	require.Len(t, got, 1)
	assert.Equal(t, graph.LabelExternal, got[0].Label)
}

func TestBuildHonoursIgnoreRules(t *testing.T) {
	b, _, s := newTestBuilder(t, map[string]string{
		"a.py":                  "def foo():\n    pass\n",
		"node_modules/x/y.js":   "function y() {}\n",
		"generated/out.py":      "def gen():\n    pass\n",
		".gitignore":            "generated/\n",
		"notes.txt":             "not code",
		"pkg/__pycache__/c.py":  "def cached():\n    pass\n",
		"pkg/skipme.py":         "def skipped():\n    pass\n",
		IgnoreFileName:          "pkg/skipme.py\n",
	}, Options{})

	sum, err := b.Build(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Files)
	findOne(t, s, graph.LabelFunction, "foo")
}

func TestUpdateFileKeepsSiblingIdentities(t *testing.T) {
	ctx := context.Background()
	b, fsys, s := newTestBuilder(t, twoFiles, Options{})
	_, err := b.Build(ctx, root, nil)
	require.NoError(t, err)
	fooBefore := findOne(t, s, graph.LabelFunction, "foo")
	barBefore := findOne(t, s, graph.LabelFunction, "bar")

	updated := twoFiles["a.py"] + "\n\ndef baz():\n    return foo()\n"
	require.NoError(t, afero.WriteFile(fsys, "/repo/a.py", []byte(updated), 0o644))
	sum, err := b.UpdateFile(ctx, root, "/repo/a.py")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.CallsResolved)

	assert.Equal(t, fooBefore.ID, findOne(t, s, graph.LabelFunction, "foo").ID)
	assert.Equal(t, barBefore.ID, findOne(t, s, graph.LabelFunction, "bar").ID)

	baz := findOne(t, s, graph.LabelFunction, "baz")
	got := callees(t, s, baz.ID)
	require.Len(t, got, 1)
	assert.Equal(t, fooBefore.ID, got[0].ID)
}

func TestUpdateFileRemovesDeletedFile(t *testing.T) {
	ctx := context.Background()
	b, fsys, s := newTestBuilder(t, twoFiles, Options{})
	_, err := b.Build(ctx, root, nil)
	require.NoError(t, err)

	require.NoError(t, fsys.Remove("/repo/a.py"))
	sum, err := b.UpdateFile(ctx, root, "/repo/a.py")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Removed)

	nodes, err := s.FindNodes(ctx, graph.NodeFilter{FilePath: "/repo/a.py"})
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestUpdateFileRejectsIgnoredAndUnsupported(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBuilder(t, map[string]string{"a.py": "x = 1\n"}, Options{})

	_, err := b.UpdateFile(ctx, root, "/repo/node_modules/m.py")
	assert.ErrorIs(t, err, ErrIgnored)

	_, err = b.UpdateFile(ctx, root, "/repo/readme.md")
	assert.ErrorIs(t, err, parser.ErrUnsupportedLanguage)
}

func TestFullReResolveRelinksPlaceholders(t *testing.T) {
	ctx := context.Background()
	b, fsys, s := newTestBuilder(t, map[string]string{
		"a.py": "def foo():\n    later()\n",
	}, Options{FullReResolve: true})
	_, err := b.Build(ctx, root, nil)
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fsys, "/repo/c.py", []byte("def later():\n    pass\n"), 0o644))
	sum, err := b.UpdateFile(ctx, root, "/repo/c.py")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Relinked)

	got := callees(t, s, findOne(t, s, graph.LabelFunction, "foo").ID)
	require.Len(t, got, 1)
	assert.Equal(t, graph.LabelFunction, got[0].Label)
	assert.Equal(t, "/repo/c.py", got[0].FilePath)

	ext, err := s.FindNodes(ctx, graph.NodeFilter{Labels: []graph.Label{graph.LabelExternal}})
	require.NoError(t, err)
	assert.Empty(t, ext)
}

func TestDeleteRepository(t *testing.T) {
	ctx := context.Background()
	b, _, s := newTestBuilder(t, twoFiles, Options{})
	_, err := b.Build(ctx, root, nil)
	require.NoError(t, err)

	require.NoError(t, b.DeleteRepository(ctx, root))
	_, err = s.Stats(ctx, root)
	assert.ErrorIs(t, err, graph.ErrNotFound)

	err = b.DeleteRepository(ctx, root)
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestBuildStopsWhenCancelled(t *testing.T) {
	b, _, _ := newTestBuilder(t, twoFiles, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Build(ctx, root, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildSingleFile(t *testing.T) {
	ctx := context.Background()
	b, _, s := newTestBuilder(t, twoFiles, Options{})

	var last Progress
	sum, err := b.Build(ctx, filepath.Join(root, "b.py"), func(p Progress) { last = p })
	require.NoError(t, err)
	assert.Equal(t, root, sum.Root)
	assert.Equal(t, 1, sum.Files)
	assert.Equal(t, 1, sum.Succeeded)
	assert.NotZero(t, sum.Nodes)
	assert.Equal(t, Progress{Processed: 1, Total: 1, Current: filepath.Join(root, "b.py")}, last)

	sum, err = b.Build(ctx, filepath.Join(root, "a.py"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.CallsResolved)

	foo := findOne(t, s, graph.LabelFunction, "foo")
	got := callees(t, s, foo.ID)
	require.Len(t, got, 1)
	assert.Equal(t, "bar", got[0].Name)
	assert.Equal(t, filepath.Join(root, "b.py"), got[0].FilePath)
}

func TestBuildStartsNoFilesAfterCancel(t *testing.T) {
	b, _, _ := newTestBuilder(t, map[string]string{
		"a.py": "def a():\n    return 1\n",
		"b.py": "def b():\n    return 2\n",
		"c.py": "def c():\n    return 3\n",
	}, Options{Concurrency: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sum, err := b.Build(ctx, root, func(Progress) { cancel() })
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, sum)
	assert.Equal(t, 1, sum.Succeeded)
}
