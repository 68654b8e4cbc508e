package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"codegraph/internal/finder"
	"codegraph/internal/graph"
	"codegraph/internal/jobs"
	"codegraph/internal/pkgresolve"
	"codegraph/internal/watcher"
)

// Arguments structs

type AddCodeArgs struct {
	Path string `json:"path" jsonschema:"absolute path of the directory or file to index"`
}

type AddPackageArgs struct {
	PackageName string `json:"package_name" jsonschema:"name of the installed package, e.g. requests or github.com/spf13/afero"`
	Language    string `json:"language" jsonschema:"package ecosystem: python, javascript, typescript, go, c or cpp"`
}

type PathArgs struct {
	Path string `json:"path" jsonschema:"absolute path of the directory"`
}

type NoArgs struct{}

type JobArgs struct {
	JobID string `json:"job_id" jsonschema:"id returned when the job was submitted"`
}

type ListJobsArgs struct {
	Status string `json:"status,omitempty" jsonschema:"only list jobs in this state: pending, running, completed, failed or cancelled"`
}

type FindCodeArgs struct {
	Query string `json:"query" jsonschema:"name or source fragment to search for"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 50"`
}

type AnalyzeArgs struct {
	QueryType string   `json:"query_type" jsonschema:"one of the query types listed in codegraph://usage-guidelines"`
	Target    string   `json:"target,omitempty" jsonschema:"function, class, file, module, variable, decorator or argument the query is about"`
	To        string   `json:"to,omitempty" jsonschema:"destination function for call_chain"`
	File      string   `json:"file,omitempty" jsonschema:"file path narrowing the target when its name is not unique"`
	RepoPath  string   `json:"repo_path,omitempty" jsonschema:"restrict repository-wide queries to this repository"`
	Depth     int      `json:"depth,omitempty" jsonschema:"maximum traversal depth, 0 for unbounded"`
	Limit     int      `json:"limit,omitempty" jsonschema:"maximum number of results"`
	AllPaths  bool     `json:"all_paths,omitempty" jsonschema:"call_chain returns every path instead of the shortest"`
	Exclude   []string `json:"exclude_decorators,omitempty" jsonschema:"required for dead_code: functions carrying these decorators are not reported, [] for none"`
}

type RepoArgs struct {
	RepoPath string `json:"repo_path" jsonschema:"absolute path of the indexed repository"`
}

type StatsArgs struct {
	RepoPath string `json:"repo_path,omitempty" jsonschema:"repository to count, all repositories when empty"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "add_code_to_graph",
		Description: "Indexes a local directory or file into the code graph as a background job. Returns a job id to poll with check_job_status.",
	}, s.addCode)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "add_package_to_graph",
		Description: "Locates an installed package and indexes its source as a dependency repository in a background job.",
	}, s.addPackage)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "watch_directory",
		Description: "Indexes a directory and keeps the graph up to date as files inside it change.",
	}, s.watch)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "unwatch_directory",
		Description: "Stops watching a directory. The indexed data is kept.",
	}, s.unwatch)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_watched_paths",
		Description: "Lists the directories currently being watched",
	}, s.listWatched)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "check_job_status",
		Description: "Returns the state and progress of a background job",
	}, s.jobStatus)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_jobs",
		Description: "Lists background jobs, oldest first",
	}, s.listJobs)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "cancel_job",
		Description: "Cancels a pending or running background job",
	}, s.cancelJob)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "find_code",
		Description: "Searches functions, classes and variables by name or source text. Exact name matches rank first.",
	}, s.findCode)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "analyze_code_relationships",
		Description: "Answers relationship queries over the graph: callers, callees, call chains, dead code, complexity, class hierarchy, imports and scopes.",
	}, s.analyze)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "delete_repository",
		Description: "Removes a repository and everything indexed from it",
	}, s.deleteRepository)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_indexed_repositories",
		Description: "Lists the repositories in the graph",
	}, s.listRepositories)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_repository_stats",
		Description: "Counts nodes per label and relationships per type, for one repository or the whole graph",
	}, s.repositoryStats)
}

func absPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("path is required")
	}
	return filepath.Abs(p)
}

func (s *Server) addCode(ctx context.Context, req *mcp.CallToolRequest, args AddCodeArgs) (*mcp.CallToolResult, any, error) {
	path, err := absPath(args.Path)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return errorResult(fmt.Sprintf("Path not found: %s", path)), nil, nil
	}

	id := s.jobs.Submit(JobKindIndex, path, buildTask(s.builder, path))
	s.log.Info("index job submitted", "path", path, "job", id)
	return jsonResult(map[string]any{
		"job_id":  id,
		"path":    path,
		"message": "Indexing started. Poll check_job_status with the job id.",
	}), nil, nil
}

func (s *Server) addPackage(ctx context.Context, req *mcp.CallToolRequest, args AddPackageArgs) (*mcp.CallToolResult, any, error) {
	if s.resolver == nil {
		return errorResult("Package resolution is not available"), nil, nil
	}
	path, err := s.resolver.Locate(ctx, args.PackageName, args.Language)
	if err != nil {
		if errors.Is(err, pkgresolve.ErrUnsupportedLanguage) {
			return errorResult(fmt.Sprintf("%v. Supported: %s", err, strings.Join(pkgresolve.Languages(), ", "))), nil, nil
		}
		return errorResult(fmt.Sprintf("Could not locate package: %v", err)), nil, nil
	}

	id := s.jobs.Submit(JobKindPackage, path, buildTask(s.packages, path))
	s.log.Info("package job submitted", "package", args.PackageName, "path", path, "job", id)
	return jsonResult(map[string]any{
		"job_id":       id,
		"package_name": args.PackageName,
		"path":         path,
	}), nil, nil
}

func (s *Server) watch(ctx context.Context, req *mcp.CallToolRequest, args PathArgs) (*mcp.CallToolResult, any, error) {
	path, err := absPath(args.Path)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	// the initial build must outlive this request
	id, err := s.watcher.Watch(context.WithoutCancel(ctx), path)
	if err != nil {
		return errorResult(fmt.Sprintf("Watch failed: %v", err)), nil, nil
	}
	if id == "" {
		return textResult(fmt.Sprintf("Already watching %s", path)), nil, nil
	}
	return jsonResult(map[string]any{
		"job_id":  id,
		"path":    path,
		"message": "Watching. The initial build runs as a job.",
	}), nil, nil
}

func (s *Server) unwatch(ctx context.Context, req *mcp.CallToolRequest, args PathArgs) (*mcp.CallToolResult, any, error) {
	path, err := absPath(args.Path)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	if err := s.watcher.Unwatch(path); err != nil {
		return errorResult(fmt.Sprintf("Unwatch failed: %v", err)), nil, nil
	}
	return textResult(fmt.Sprintf("Stopped watching %s", path)), nil, nil
}

func (s *Server) listWatched(ctx context.Context, req *mcp.CallToolRequest, args NoArgs) (*mcp.CallToolResult, any, error) {
	return jsonResult(map[string]any{"paths": s.watcher.ListWatched()}), nil, nil
}

type jobView struct {
	jobs.JobInfo
	Percent float64 `json:"progress_percent"`
}

func viewOf(j jobs.JobInfo) jobView {
	return jobView{JobInfo: j, Percent: j.Percent()}
}

func (s *Server) jobStatus(ctx context.Context, req *mcp.CallToolRequest, args JobArgs) (*mcp.CallToolResult, any, error) {
	j, err := s.jobs.Manager().Get(args.JobID)
	if err != nil {
		return errorResult(fmt.Sprintf("Job %q: %v", args.JobID, err)), nil, nil
	}
	return jsonResult(viewOf(j)), nil, nil
}

func (s *Server) listJobs(ctx context.Context, req *mcp.CallToolRequest, args ListJobsArgs) (*mcp.CallToolResult, any, error) {
	views := []jobView{}
	for _, j := range s.jobs.Manager().List() {
		if args.Status != "" && !strings.EqualFold(string(j.State), args.Status) {
			continue
		}
		views = append(views, viewOf(j))
	}
	return jsonResult(map[string]any{"jobs": views, "count": len(views)}), nil, nil
}

func (s *Server) cancelJob(ctx context.Context, req *mcp.CallToolRequest, args JobArgs) (*mcp.CallToolResult, any, error) {
	if err := s.jobs.Manager().Cancel(args.JobID); err != nil {
		return errorResult(fmt.Sprintf("Cancel failed: %v", err)), nil, nil
	}
	return textResult(fmt.Sprintf("Cancellation requested for job %s", args.JobID)), nil, nil
}

func (s *Server) findCode(ctx context.Context, req *mcp.CallToolRequest, args FindCodeArgs) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Query) == "" {
		return errorResult("query is required"), nil, nil
	}
	found, err := s.finder.Search(ctx, args.Query, args.Limit)
	if err != nil {
		return errorResult(fmt.Sprintf("Query failed: %v", err)), nil, nil
	}
	return jsonResult(map[string]any{"query": args.Query, "results": found}), nil, nil
}

func (s *Server) analyze(ctx context.Context, req *mcp.CallToolRequest, args AnalyzeArgs) (*mcp.CallToolResult, any, error) {
	res, err := s.finder.Analyze(ctx, finder.Request{
		QueryType: args.QueryType,
		Target:    args.Target,
		To:        args.To,
		File:      args.File,
		Repo:      args.RepoPath,
		Depth:     args.Depth,
		Limit:     args.Limit,
		All:       args.AllPaths,
		Exclude:   args.Exclude,
	})
	switch {
	case errors.Is(err, finder.ErrUnknownQuery):
		return errorResult(fmt.Sprintf("%v. Valid query types: %s", err, strings.Join(finder.QueryTypes(), ", "))), nil, nil
	case errors.Is(err, finder.ErrNotFound), errors.Is(err, finder.ErrMissingParameter):
		return errorResult(err.Error()), nil, nil
	case err != nil:
		return errorResult(fmt.Sprintf("Query failed: %v", err)), nil, nil
	}
	return jsonResult(res), nil, nil
}

func (s *Server) deleteRepository(ctx context.Context, req *mcp.CallToolRequest, args RepoArgs) (*mcp.CallToolResult, any, error) {
	path, err := absPath(args.RepoPath)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	if err := s.watcher.Unwatch(path); err != nil && !errors.Is(err, watcher.ErrNotWatched) {
		s.log.Warn("unwatch before delete failed", "path", path, "error", err)
	}
	if err := s.builder.DeleteRepository(ctx, path); err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return errorResult(fmt.Sprintf("Repository not indexed: %s", path)), nil, nil
		}
		return errorResult(fmt.Sprintf("Delete failed: %v", err)), nil, nil
	}
	return textResult(fmt.Sprintf("Deleted repository %s", path)), nil, nil
}

func (s *Server) listRepositories(ctx context.Context, req *mcp.CallToolRequest, args NoArgs) (*mcp.CallToolResult, any, error) {
	repos, err := s.store.Repositories(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("Query failed: %v", err)), nil, nil
	}
	return jsonResult(map[string]any{"repositories": repos}), nil, nil
}

func (s *Server) repositoryStats(ctx context.Context, req *mcp.CallToolRequest, args StatsArgs) (*mcp.CallToolResult, any, error) {
	repo := args.RepoPath
	if repo != "" {
		abs, err := filepath.Abs(repo)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		repo = abs
	}
	stats, err := s.store.Stats(ctx, repo)
	if err != nil {
		return errorResult(fmt.Sprintf("Query failed: %v", err)), nil, nil
	}
	return jsonResult(map[string]any{"repo_path": repo, "stats": stats}), nil, nil
}
