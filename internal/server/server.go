// Package server exposes the code graph over the Model Context Protocol.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"codegraph/internal/builder"
	"codegraph/internal/finder"
	"codegraph/internal/graph"
	"codegraph/internal/jobs"
	"codegraph/internal/pkgresolve"
	"codegraph/internal/watcher"
)

// Job kinds submitted by the tools.
const (
	JobKindIndex   = "index"
	JobKindPackage = "package"
)

// Deps are the collaborators a Server drives.
type Deps struct {
	Store *graph.Store
	// Builder indexes user code; Packages indexes installed dependencies.
	Builder  *builder.Builder
	Packages *builder.Builder
	Jobs     *jobs.Runner
	Watcher  *watcher.Watcher
	Finder   *finder.Finder
	Resolver *pkgresolve.Resolver
}

type Server struct {
	mcpServer *mcp.Server

	store    *graph.Store
	builder  *builder.Builder
	packages *builder.Builder
	jobs     *jobs.Runner
	watcher  *watcher.Watcher
	finder   *finder.Finder
	resolver *pkgresolve.Resolver

	systemPrompt string
	log          *slog.Logger
}

func New(d Deps, version string) *Server {
	s := &Server{
		store:        d.Store,
		builder:      d.Builder,
		packages:     d.Packages,
		jobs:         d.Jobs,
		watcher:      d.Watcher,
		finder:       d.Finder,
		resolver:     d.Resolver,
		systemPrompt: usageGuidelines,
		log:          slog.Default().With("component", "server"),
	}
	if s.packages == nil {
		s.packages = s.builder
	}
	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "codegraph",
		Version: version,
	}, &mcp.ServerOptions{
		Instructions: "Index source trees into a code graph and query relationships between functions, classes, files and modules. Read codegraph://usage-guidelines first.",
	})
	s.registerTools()
	s.registerResources()
	return s
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *mcp.Server { return s.mcpServer }

// Run serves MCP over stdin/stdout until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("serving MCP over stdio")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// buildTask adapts a builder run to a job, forwarding per-file progress.
func buildTask(b *builder.Builder, root string) jobs.Task {
	return func(ctx context.Context, report func(jobs.Progress)) (any, error) {
		return b.Build(ctx, root, func(p builder.Progress) {
			report(jobs.Progress{Processed: p.Processed, Total: p.Total, Failed: p.Failed, Current: p.Current})
		})
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	res := textResult(text)
	res.IsError = true
	return res
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to encode result: %v", err))
	}
	return textResult(string(data))
}
