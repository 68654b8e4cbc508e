package finder

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Query types accepted by Analyze.
const (
	QueryCallers        = "find_callers"
	QueryCallees        = "find_callees"
	QueryAllCallers     = "find_all_callers"
	QueryAllCallees     = "find_all_callees"
	QueryCallChain      = "call_chain"
	QueryDeadCode       = "dead_code"
	QueryComplexity     = "calculate_cyclomatic_complexity"
	QueryMostComplex    = "find_most_complex_functions"
	QueryClassHierarchy = "class_hierarchy"
	QueryOverrides      = "overrides"
	QueryImports        = "find_imports"
	QueryImporters      = "find_importers"
	QueryModuleContents = "module_contents"
	QueryVariableScope  = "variable_scope"
	QueryByDecorator    = "find_functions_by_decorator"
	QueryByArgument     = "find_functions_by_argument"
)

var (
	ErrUnknownQuery = errors.New("unknown query type")
	// ErrMissingParameter reports a query run without a parameter it requires.
	ErrMissingParameter = errors.New("missing required parameter")
)

// Request is one analyze_code_relationships call.
type Request struct {
	QueryType string `json:"query_type"`
	// Target is the subject: a function, class, file, module, variable,
	// decorator or argument name depending on the query.
	Target string `json:"target"`
	// To is the destination function of a call chain.
	To string `json:"to,omitempty"`
	// File narrows the subject to one file.
	File    string   `json:"file,omitempty"`
	Repo    string   `json:"repo_path,omitempty"`
	Depth   int      `json:"depth,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	All     bool     `json:"all_paths,omitempty"`
	// Exclude is required for dead code; an empty, non-nil list excludes nothing.
	Exclude []string `json:"exclude_decorators,omitempty"`
}

// Response wraps a query result.
type Response struct {
	QueryType string `json:"query_type"`
	Target    string `json:"target,omitempty"`
	Results   any    `json:"results"`
}

// QueryTypes lists the accepted query types in sorted order.
func QueryTypes() []string {
	out := make([]string, 0, len(dispatch))
	for q := range dispatch {
		out = append(out, q)
	}
	sort.Strings(out)
	return out
}

var dispatch = map[string]func(ctx context.Context, f *Finder, r Request) (any, error){
	QueryCallers: func(ctx context.Context, f *Finder, r Request) (any, error) {
		return f.Callers(ctx, r.Target, r.File)
	},
	QueryCallees: func(ctx context.Context, f *Finder, r Request) (any, error) {
		return f.Callees(ctx, r.Target, r.File)
	},
	QueryAllCallers: func(ctx context.Context, f *Finder, r Request) (any, error) {
		return f.AllCallers(ctx, r.Target, r.File, r.Depth)
	},
	QueryAllCallees: func(ctx context.Context, f *Finder, r Request) (any, error) {
		return f.AllCallees(ctx, r.Target, r.File, r.Depth)
	},
	QueryCallChain: func(ctx context.Context, f *Finder, r Request) (any, error) {
		return f.CallChain(ctx, r.Target, r.To, r.Depth, r.All)
	},
	QueryDeadCode: func(ctx context.Context, f *Finder, r Request) (any, error) {
		return f.DeadCode(ctx, r.Repo, r.Exclude)
	},
	QueryComplexity: func(ctx context.Context, f *Finder, r Request) (any, error) {
		return f.Complexity(ctx, r.Target, r.File)
	},
	QueryMostComplex: func(ctx context.Context, f *Finder, r Request) (any, error) {
		return f.MostComplex(ctx, r.Repo, r.Limit)
	},
	QueryClassHierarchy: func(ctx context.Context, f *Finder, r Request) (any, error) {
		return f.ClassHierarchy(ctx, r.Target, r.File)
	},
	QueryOverrides: func(ctx context.Context, f *Finder, r Request) (any, error) {
		return f.Overrides(ctx, r.Target, r.File)
	},
	QueryImports: func(ctx context.Context, f *Finder, r Request) (any, error) {
		return f.Imports(ctx, r.Target)
	},
	QueryImporters: func(ctx context.Context, f *Finder, r Request) (any, error) {
		return f.Importers(ctx, r.Target)
	},
	QueryModuleContents: func(ctx context.Context, f *Finder, r Request) (any, error) {
		return f.Contents(ctx, r.Target, r.Depth)
	},
	QueryVariableScope: func(ctx context.Context, f *Finder, r Request) (any, error) {
		return f.VariableScope(ctx, r.Target)
	},
	QueryByDecorator: func(ctx context.Context, f *Finder, r Request) (any, error) {
		return f.ByDecorator(ctx, r.Target, r.Repo)
	},
	QueryByArgument: func(ctx context.Context, f *Finder, r Request) (any, error) {
		return f.ByArgument(ctx, r.Target)
	},
}

// Analyze runs the query named by r.QueryType.
func (f *Finder) Analyze(ctx context.Context, r Request) (*Response, error) {
	run, ok := dispatch[r.QueryType]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownQuery, r.QueryType)
	}
	if r.QueryType == QueryDeadCode && r.Exclude == nil {
		return nil, fmt.Errorf("%w: %s needs exclude_decorators, pass [] to exclude nothing", ErrMissingParameter, QueryDeadCode)
	}
	res, err := run(ctx, f, r)
	if err != nil {
		return nil, err
	}
	return &Response{QueryType: r.QueryType, Target: r.Target, Results: res}, nil
}
