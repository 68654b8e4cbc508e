package server

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/internal/builder"
	"codegraph/internal/finder"
	"codegraph/internal/graph"
	"codegraph/internal/jobs"
	"codegraph/internal/parser"
	"codegraph/internal/pkgresolve"
	"codegraph/internal/watcher"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	ctx := context.Background()

	store, err := graph.Open(ctx, filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fsys := afero.NewOsFs()
	reg := parser.DefaultRegistry()
	code := builder.New(store, fsys, reg, builder.Options{})
	deps := builder.New(store, fsys, reg, builder.Options{IsDependency: true})

	runner := jobs.NewRunner(jobs.NewManager(), 2, 8)
	t.Cleanup(runner.Close)

	w, err := watcher.New(code, runner, 50*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	f, err := finder.New(store, 0)
	require.NoError(t, err)

	pkgDir := t.TempDir()
	writeFile(t, filepath.Join(pkgDir, "extlib", "__init__.py"), "def external_helper():\n    return 1\n")
	res := pkgresolve.New(fsys, t.TempDir(), pkgresolve.WithCommand(
		func(_ context.Context, _ string, name string, args ...string) (string, error) {
			if name == "python3" && args[len(args)-1] == "extlib" {
				return filepath.Join(pkgDir, "extlib", "__init__.py"), nil
			}
			return "", errors.New("not installed")
		}))

	s := New(Deps{
		Store:    store,
		Builder:  code,
		Packages: deps,
		Jobs:     runner,
		Watcher:  w,
		Finder:   f,
		Resolver: res,
	}, "test")

	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, "b.py"), "def bar():\n    return 1\n")
	writeFile(t, filepath.Join(repo, "a.py"), "from b import bar\n\n\ndef foo():\n    return bar()\n")
	return s, repo
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func decode(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.False(t, res.IsError, text(t, res))
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	return out
}

func waitDone(t *testing.T, s *Server, id string) jobs.JobInfo {
	t.Helper()
	var info jobs.JobInfo
	require.Eventually(t, func() bool {
		var err error
		info, err = s.jobs.Manager().Get(id)
		return err == nil && info.State.Terminal()
	}, 10*time.Second, 20*time.Millisecond)
	return info
}

func TestAddCodeThenQuery(t *testing.T) {
	s, repo := newTestServer(t)
	ctx := context.Background()

	res, _, err := s.addCode(ctx, nil, AddCodeArgs{Path: repo})
	require.NoError(t, err)
	out := decode(t, res)
	id, _ := out["job_id"].(string)
	require.NotEmpty(t, id)

	info := waitDone(t, s, id)
	assert.Equal(t, jobs.StateCompleted, info.State)
	assert.Equal(t, 2, info.Total)

	res, _, err = s.jobStatus(ctx, nil, JobArgs{JobID: id})
	require.NoError(t, err)
	status := decode(t, res)
	assert.Equal(t, "completed", status["status"])
	assert.EqualValues(t, 100, status["progress_percent"])

	res, _, err = s.analyze(ctx, nil, AnalyzeArgs{QueryType: finder.QueryCallers, Target: "bar"})
	require.NoError(t, err)
	assert.Contains(t, text(t, res), `"foo"`)

	res, _, err = s.findCode(ctx, nil, FindCodeArgs{Query: "foo"})
	require.NoError(t, err)
	assert.Contains(t, text(t, res), filepath.Join(repo, "a.py"))

	res, _, err = s.listRepositories(ctx, nil, NoArgs{})
	require.NoError(t, err)
	assert.Contains(t, text(t, res), repo)

	res, _, err = s.repositoryStats(ctx, nil, StatsArgs{RepoPath: repo})
	require.NoError(t, err)
	stats := decode(t, res)["stats"].(map[string]any)
	assert.EqualValues(t, 2, stats["nodes"].(map[string]any)["Function"])
}

func TestToolErrorsAreResults(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, _, err := s.addCode(ctx, nil, AddCodeArgs{Path: "/definitely/missing"})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, _, err = s.analyze(ctx, nil, AnalyzeArgs{QueryType: "nonsense"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), finder.QueryCallChain)

	res, _, err = s.analyze(ctx, nil, AnalyzeArgs{QueryType: finder.QueryCallers, Target: "ghost"})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, _, err = s.analyze(ctx, nil, AnalyzeArgs{QueryType: finder.QueryDeadCode})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "exclude_decorators")

	res, _, err = s.analyze(ctx, nil, AnalyzeArgs{QueryType: finder.QueryDeadCode, Exclude: []string{}})
	require.NoError(t, err)
	assert.False(t, res.IsError, text(t, res))

	res, _, err = s.jobStatus(ctx, nil, JobArgs{JobID: "nope"})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, _, err = s.findCode(ctx, nil, FindCodeArgs{})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, _, err = s.addPackage(ctx, nil, AddPackageArgs{PackageName: "x", Language: "cobol"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "python")
}

func TestAddPackageIndexesDependency(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, _, err := s.addPackage(ctx, nil, AddPackageArgs{PackageName: "extlib", Language: "python"})
	require.NoError(t, err)
	out := decode(t, res)
	info := waitDone(t, s, out["job_id"].(string))
	require.Equal(t, jobs.StateCompleted, info.State)

	repos, err := s.store.Repositories(ctx)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.True(t, repos[0].IsDependency)
	assert.Equal(t, out["path"], repos[0].Path)

	res, _, err = s.addPackage(ctx, nil, AddPackageArgs{PackageName: "missing", Language: "python"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestWatchLifecycle(t *testing.T) {
	s, repo := newTestServer(t)
	ctx := context.Background()

	res, _, err := s.watch(ctx, nil, PathArgs{Path: repo})
	require.NoError(t, err)
	info := waitDone(t, s, decode(t, res)["job_id"].(string))
	assert.Equal(t, jobs.StateCompleted, info.State)

	res, _, err = s.watch(ctx, nil, PathArgs{Path: repo})
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "Already watching")

	res, _, err = s.listWatched(ctx, nil, NoArgs{})
	require.NoError(t, err)
	assert.Equal(t, []any{repo}, decode(t, res)["paths"])

	res, _, err = s.listJobs(ctx, nil, ListJobsArgs{Status: "completed"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, decode(t, res)["count"])

	res, _, err = s.deleteRepository(ctx, nil, RepoArgs{RepoPath: repo})
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Empty(t, s.watcher.ListWatched())

	res, _, err = s.deleteRepository(ctx, nil, RepoArgs{RepoPath: repo})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, _, err = s.unwatch(ctx, nil, PathArgs{Path: repo})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestCancelJob(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	release := make(chan struct{})
	id := s.jobs.Submit("test", "/x", func(ctx context.Context, _ func(jobs.Progress)) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return nil, nil
		}
	})
	defer close(release)

	require.Eventually(t, func() bool {
		info, err := s.jobs.Manager().Get(id)
		return err == nil && info.State == jobs.StateRunning
	}, 5*time.Second, 10*time.Millisecond)

	res, _, err := s.cancelJob(ctx, nil, JobArgs{JobID: id})
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Equal(t, jobs.StateCancelled, waitDone(t, s, id).State)
}

func TestResources(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, err := s.readGuidelines(ctx, &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: guidelinesURI}})
	require.NoError(t, err)
	assert.Contains(t, res.Contents[0].Text, "analyze_code_relationships")

	res, err = s.readSchema(ctx, &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: schemaPrefix + "analyze_code_relationships"}})
	require.NoError(t, err)
	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &schema))
	assert.Contains(t, schema["properties"], "query_type")
	assert.Contains(t, schema["required"], "query_type")
	exclude := schema["properties"].(map[string]any)["exclude_decorators"].(map[string]any)
	assert.Contains(t, exclude["description"], "required for dead_code")

	_, err = s.readSchema(ctx, &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: schemaPrefix + "nope"}})
	assert.Error(t, err)

	assert.Len(t, schemaMap, 13)
}
