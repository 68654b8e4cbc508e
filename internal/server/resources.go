package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	guidelinesURI = "codegraph://usage-guidelines"
	schemaPrefix  = "codegraph://schemas/"
)

const usageGuidelines = `# codegraph

codegraph indexes source trees (Python, Go, JavaScript, TypeScript, C, C++,
Java) into a property graph and answers relationship questions from it.

## Indexing

1. add_code_to_graph or watch_directory with an absolute path. Both return a job id.
2. Poll check_job_status until the status is completed. Per-file parse errors are
   listed in the job result and do not fail the job.
3. add_package_to_graph indexes an installed dependency (python, javascript,
   typescript, go, c, cpp) so calls into it resolve.

Watched directories are re-indexed file by file as they change. Files matched by
.gitignore, .codegraphignore or the default excludes (node_modules, .git, vendor,
build output) are never indexed.

## Querying

- find_code searches names and source text.
- analyze_code_relationships takes a query_type and a target:
  - find_callers, find_callees: direct call relationships of a function
  - find_all_callers, find_all_callees: transitive closure, optional depth
  - call_chain: paths from target to "to"; all_paths for every path
  - dead_code: functions nothing calls, excluding entry points; exclude_decorators
    is required and skips framework handlers such as app.route ([] for none)
  - calculate_cyclomatic_complexity, find_most_complex_functions
  - class_hierarchy, overrides
  - find_imports (target is a file), find_importers (target is a module or file)
  - module_contents (target is a file), variable_scope
  - find_functions_by_decorator, find_functions_by_argument

Pass file when a name is defined in several places. Calls that could not be
resolved point at External nodes marked unresolved.
`

func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         guidelinesURI,
		Name:        "Usage Guidelines",
		Description: "How to index code and query the codegraph MCP server",
		MIMEType:    "text/markdown",
	}, s.readGuidelines)

	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: schemaPrefix + "{tool_name}",
		Name:        "Tool Schema",
		Description: "JSON schema for the named tool's arguments",
		MIMEType:    "application/schema+json",
	}, s.readSchema)
}

func (s *Server) readGuidelines(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      guidelinesURI,
				MIMEType: "text/markdown",
				Text:     s.systemPrompt,
			},
		},
	}, nil
}

var schemaMap = buildSchemaMap()

func (s *Server) readSchema(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	toolName := strings.TrimPrefix(uri, schemaPrefix)
	schemaJSON, ok := schemaMap[toolName]
	if !ok {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/schema+json",
				Text:     schemaJSON,
			},
		},
	}, nil
}

// buildSchemaMap maps each tool name to the JSON schema of its arguments.
func buildSchemaMap() map[string]string {
	m := make(map[string]string)
	addSchema[AddCodeArgs](m, "add_code_to_graph")
	addSchema[AddPackageArgs](m, "add_package_to_graph")
	addSchema[PathArgs](m, "watch_directory")
	addSchema[PathArgs](m, "unwatch_directory")
	addSchema[NoArgs](m, "list_watched_paths")
	addSchema[JobArgs](m, "check_job_status")
	addSchema[ListJobsArgs](m, "list_jobs")
	addSchema[JobArgs](m, "cancel_job")
	addSchema[FindCodeArgs](m, "find_code")
	addSchema[AnalyzeArgs](m, "analyze_code_relationships")
	addSchema[RepoArgs](m, "delete_repository")
	addSchema[NoArgs](m, "list_indexed_repositories")
	addSchema[StatsArgs](m, "get_repository_stats")
	return m
}

func addSchema[T any](m map[string]string, name string) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		panic(fmt.Sprintf("schema for %s: %v", name, err))
	}
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		panic(fmt.Sprintf("schema for %s: %v", name, err))
	}
	m[name] = string(schemaJSON)
}
