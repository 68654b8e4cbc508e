package finder

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/internal/builder"
	"codegraph/internal/graph"
	"codegraph/internal/parser"
)

const repo = "/proj"

var sources = map[string]string{
	"main.py": `from util import helper, recurse


def main():
    run()


def run():
    helper()
    recurse(3)


def unused():
    return 0


@app.route("/x")
def handler():
    return 1


def test_something():
    run()
`,
	"util.py": `def helper():
    return recurse(1)


def recurse(n):
    if n > 0 and n < 10:
        return recurse(n - 1)
    return ping()


def ping():
    return recurse(0)
`,
	"shapes.py": `class Shape:
    def area(self):
        return 0

    def name(self):
        return "shape"


class Square(Shape):
    def area(self):
        return 4


class Tiny(Square):
    def name(self):
        return "tiny"
`,
}

func setup(t *testing.T) (*Finder, *builder.Builder) {
	t.Helper()
	ctx := context.Background()
	store, err := graph.Open(ctx, filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fsys := afero.NewMemMapFs()
	for name, body := range sources {
		require.NoError(t, afero.WriteFile(fsys, filepath.Join(repo, name), []byte(body), 0o644))
	}
	b := builder.New(store, fsys, parser.DefaultRegistry(), builder.Options{})
	sum, err := b.Build(ctx, repo, nil)
	require.NoError(t, err)
	require.Zero(t, sum.Failed)

	f, err := New(store, 0)
	require.NoError(t, err)
	return f, b
}

func names[T interface{ name() string }](items []T) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.name()
	}
	return out
}

func (e Entity) name() string { return e.Name }

func TestCallersAndCallees(t *testing.T) {
	f, _ := setup(t)
	ctx := context.Background()

	callers, err := f.Callers(ctx, "run", "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main", "test_something"}, callNames(callers))

	callees, err := f.Callees(ctx, "run", "main.py")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"helper", "recurse"}, callNames(callees))
	for _, c := range callees {
		assert.Equal(t, "/proj/util.py", c.FilePath)
		assert.NotZero(t, c.CallLine)
	}

	// every callee of run lists run among its callers
	for _, c := range callees {
		back, err := f.Callers(ctx, c.Name, c.FilePath)
		require.NoError(t, err)
		assert.Contains(t, callNames(back), "run")
	}
}

func callNames(calls []Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Name
	}
	return out
}

func TestEmptyResultIsNotAnError(t *testing.T) {
	f, _ := setup(t)
	callers, err := f.Callers(context.Background(), "main", "")
	require.NoError(t, err)
	assert.NotNil(t, callers)
	assert.Empty(t, callers)
}

func TestMissingSubjectIsNotFound(t *testing.T) {
	f, _ := setup(t)
	_, err := f.Callers(context.Background(), "nope", "")
	assert.ErrorIs(t, err, ErrNotFound)

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "nope", nf.Name)

	_, err = f.Callers(context.Background(), "run", "other.py")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitiveClosureSurvivesCycles(t *testing.T) {
	f, _ := setup(t)
	ctx := context.Background()

	all, err := f.AllCallees(ctx, "main", "", 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"run", "helper", "recurse", "ping"}, callNames(all))

	up, err := f.AllCallers(ctx, "ping", "", 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"recurse", "run", "helper", "main", "test_something"}, callNames(up))

	near, err := f.AllCallers(ctx, "ping", "", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"recurse"}, callNames(near))
	assert.Equal(t, 1, near[0].Depth)
}

func TestCallChain(t *testing.T) {
	f, _ := setup(t)
	ctx := context.Background()

	res, err := f.CallChain(ctx, "main", "ping", 0, false)
	require.NoError(t, err)
	require.Len(t, res.Paths, 1)
	assert.Equal(t, []string{"main", "run", "recurse", "ping"}, names(res.Paths[0]))
	assert.False(t, res.NoPath)

	res, err = f.CallChain(ctx, "main", "ping", 0, true)
	require.NoError(t, err)
	assert.Len(t, res.Paths, 2)

	res, err = f.CallChain(ctx, "ping", "main", 0, false)
	require.NoError(t, err)
	assert.True(t, res.NoPath)
	assert.Empty(t, res.Paths)

	_, err = f.CallChain(ctx, "main", "nope", 0, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeadCode(t *testing.T) {
	f, _ := setup(t)
	ctx := context.Background()

	dead, err := f.DeadCode(ctx, repo, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"unused", "handler"}, names(inFile(dead, "/proj/main.py")))
	assert.Empty(t, inFile(dead, "/proj/util.py"))

	dead, err = f.DeadCode(ctx, repo, []string{"@app.route"})
	require.NoError(t, err)
	assert.Equal(t, []string{"unused"}, names(inFile(dead, "/proj/main.py")))
}

func inFile(es []Entity, path string) []Entity {
	var out []Entity
	for _, e := range es {
		if e.FilePath == path {
			out = append(out, e)
		}
	}
	return out
}

func TestComplexity(t *testing.T) {
	f, _ := setup(t)
	ctx := context.Background()

	got, err := f.Complexity(ctx, "recurse", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Complexity)

	got, err = f.Complexity(ctx, "ping", "util.py")
	require.NoError(t, err)
	assert.Equal(t, 1, got[0].Complexity)

	top, err := f.MostComplex(ctx, repo, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"recurse"}, names(top))
}

func TestClassHierarchyAndOverrides(t *testing.T) {
	f, _ := setup(t)
	ctx := context.Background()

	hs, err := f.ClassHierarchy(ctx, "Square", "")
	require.NoError(t, err)
	require.Len(t, hs, 1)
	h := hs[0]
	require.Len(t, h.Ancestors, 1)
	assert.Equal(t, "Shape", h.Ancestors[0].Name)
	assert.Equal(t, graph.RelInherits, h.Ancestors[0].Via)
	require.Len(t, h.Descendants, 1)
	assert.Equal(t, "Tiny", h.Descendants[0].Name)
	assert.Equal(t, []string{"area"}, names(h.Methods))

	ov, err := f.Overrides(ctx, "Tiny", "")
	require.NoError(t, err)
	require.Len(t, ov, 1)
	assert.Equal(t, "name", ov[0].Method.Name)
	assert.Equal(t, "Shape", ov[0].In.Name)

	_, err = f.ClassHierarchy(ctx, "run", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestImportsAndContents(t *testing.T) {
	f, _ := setup(t)
	ctx := context.Background()

	imps, err := f.Imports(ctx, "main.py")
	require.NoError(t, err)
	require.Len(t, imps, 1)
	assert.Equal(t, "/proj/util.py", imps[0].Target.FilePath)
	assert.Equal(t, "util", imps[0].Module)

	importers, err := f.Importers(ctx, "util.py")
	require.NoError(t, err)
	assert.Equal(t, []string{"main.py"}, names(importers))

	_, err = f.Importers(ctx, "nowhere")
	assert.ErrorIs(t, err, ErrNotFound)

	top, err := f.Contents(ctx, "/proj/util.py", 1)
	require.NoError(t, err)
	assert.Len(t, top, 3)

	all, err := f.Contents(ctx, "/proj/util.py", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestVariableScopeAndArguments(t *testing.T) {
	f, _ := setup(t)
	ctx := context.Background()

	scopes, err := f.VariableScope(ctx, "n")
	require.NoError(t, err)
	require.Len(t, scopes, 1)
	assert.Equal(t, "recurse", scopes[0].Scope.Name)
	assert.Equal(t, graph.RelHasArgument, scopes[0].Via)

	fns, err := f.ByArgument(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, []string{"recurse"}, names(fns))

	fns, err = f.ByDecorator(ctx, "app.route", repo)
	require.NoError(t, err)
	assert.Equal(t, []string{"handler"}, names(fns))
}

func TestSearchRanksExactNamesFirst(t *testing.T) {
	f, _ := setup(t)
	got, err := f.Search(context.Background(), "recurse", 10)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "recurse", got[0].Name)
	assert.Contains(t, names(got), "helper")
}

func TestClosureCacheFollowsWrites(t *testing.T) {
	f, b := setup(t)
	ctx := context.Background()

	before, err := f.AllCallers(ctx, "ping", "", 0)
	require.NoError(t, err)
	assert.Contains(t, callNames(before), "main")

	_, err = b.RemoveFile(ctx, "/proj/main.py")
	require.NoError(t, err)

	after, err := f.AllCallers(ctx, "ping", "", 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"recurse", "helper"}, callNames(after))
}

func TestAnalyzeDispatch(t *testing.T) {
	f, _ := setup(t)
	ctx := context.Background()

	res, err := f.Analyze(ctx, Request{QueryType: QueryCallers, Target: "run"})
	require.NoError(t, err)
	assert.Len(t, res.Results, 2)

	_, err = f.Analyze(ctx, Request{QueryType: "bogus"})
	assert.ErrorIs(t, err, ErrUnknownQuery)
	assert.Contains(t, QueryTypes(), QueryCallChain)
}

func TestAnalyzeDeadCodeRequiresExclusions(t *testing.T) {
	f, _ := setup(t)
	ctx := context.Background()

	_, err := f.Analyze(ctx, Request{QueryType: QueryDeadCode, Repo: repo})
	assert.ErrorIs(t, err, ErrMissingParameter)

	res, err := f.Analyze(ctx, Request{QueryType: QueryDeadCode, Repo: repo, Exclude: []string{}})
	require.NoError(t, err)
	dead, ok := res.Results.([]Entity)
	require.True(t, ok)
	assert.Equal(t, []string{"unused", "handler"}, names(inFile(dead, "/proj/main.py")))

	res, err = f.Analyze(ctx, Request{QueryType: QueryDeadCode, Repo: repo, Exclude: []string{"@app.route"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"unused"}, names(inFile(res.Results.([]Entity), "/proj/main.py")))
}
