// Package finder answers structural questions over the stored code graph:
// who calls what, call chains, dead code, complexity and type hierarchies.
// Every query is read-only.
package finder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"codegraph/internal/graph"
	"codegraph/internal/metrics"
)

// ErrNotFound matches every *NotFoundError.
var ErrNotFound = errors.New("not found")

// NotFoundError reports that the subject of a query does not exist.
type NotFoundError struct {
	Kind string
	Name string
	File string
}

func (e *NotFoundError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s %q in %s not found", e.Kind, e.Name, e.File)
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Entity is the summary of a node returned by queries.
type Entity struct {
	ID         int64       `json:"id"`
	Label      graph.Label `json:"type"`
	Name       string      `json:"name"`
	FilePath   string      `json:"file_path,omitempty"`
	StartLine  int         `json:"line_number,omitempty"`
	EndLine    int         `json:"end_line,omitempty"`
	Complexity int         `json:"cyclomatic_complexity,omitempty"`
	Class      string      `json:"class,omitempty"`
	Decorators []string    `json:"decorators,omitempty"`
	Unresolved bool        `json:"unresolved,omitempty"`
}

func entity(n graph.Node) Entity {
	e := Entity{
		ID:         n.ID,
		Label:      n.Label,
		Name:       n.Name,
		FilePath:   n.FilePath,
		StartLine:  n.StartLine,
		EndLine:    n.EndLine,
		Complexity: n.Complexity,
		Decorators: n.Decorators,
		Unresolved: n.Label == graph.LabelExternal,
	}
	e.Class, _ = n.Props["class"].(string)
	return e
}

func entities(nodes []graph.Node) []Entity {
	out := make([]Entity, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, entity(n))
	}
	return out
}

// Call is a caller or callee together with the call site.
type Call struct {
	Entity
	CallLine int    `json:"call_line,omitempty"`
	FullName string `json:"call_expression,omitempty"`
	Depth    int    `json:"depth,omitempty"`
}

// Finder runs queries against a store. Closure queries are memoised until
// the store's next write.
type Finder struct {
	store *graph.Store
	cache *lru.Cache[string, cached]
	log   *slog.Logger
}

type cached struct {
	gen   uint64
	value any
}

// DefaultCacheSize is used when New is given a non-positive size.
const DefaultCacheSize = 256

func New(store *graph.Store, cacheSize int) (*Finder, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, cached](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}
	return &Finder{store: store, cache: cache, log: slog.Default().With("component", "finder")}, nil
}

func memo[T any](f *Finder, key string, compute func() (T, error)) (T, error) {
	gen := f.store.Generation()
	if c, ok := f.cache.Get(key); ok && c.gen == gen {
		if v, ok := c.value.(T); ok {
			metrics.QueryCache.WithLabelValues("hit").Inc()
			return v, nil
		}
	}
	metrics.QueryCache.WithLabelValues("miss").Inc()
	v, err := compute()
	if err != nil {
		return v, err
	}
	f.cache.Add(key, cached{gen: gen, value: v})
	return v, nil
}

var (
	functionLabels = []graph.Label{graph.LabelFunction}
	typeLabels     = []graph.Label{graph.LabelClass, graph.LabelStruct, graph.LabelInterface}
)

// subjects looks up the named nodes, narrowed by file when given.
func (f *Finder) subjects(ctx context.Context, kind, name, file string, labels []graph.Label) ([]graph.Node, error) {
	if name == "" {
		return nil, &NotFoundError{Kind: kind, Name: name, File: file}
	}
	nodes, err := f.store.FindNodes(ctx, graph.NodeFilter{Name: name, FilePath: file, Labels: labels})
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 && file != "" {
		// a relative path or a bare file name narrows by suffix
		all, err := f.store.FindNodes(ctx, graph.NodeFilter{Name: name, Labels: labels})
		if err != nil {
			return nil, err
		}
		for _, n := range all {
			if strings.HasSuffix(n.FilePath, "/"+strings.TrimPrefix(file, "./")) {
				nodes = append(nodes, n)
			}
		}
	}
	if len(nodes) == 0 {
		return nil, &NotFoundError{Kind: kind, Name: name, File: file}
	}
	return nodes, nil
}

func (f *Finder) fileNode(ctx context.Context, path string) (graph.Node, error) {
	nodes, err := f.store.FindNodes(ctx, graph.NodeFilter{FilePath: path, Labels: []graph.Label{graph.LabelFile}})
	if err != nil {
		return graph.Node{}, err
	}
	if len(nodes) == 0 {
		all, err := f.store.FindNodes(ctx, graph.NodeFilter{Labels: []graph.Label{graph.LabelFile}})
		if err != nil {
			return graph.Node{}, err
		}
		for _, n := range all {
			if rel, _ := n.Props["relative_path"].(string); rel == path || strings.HasSuffix(n.FilePath, "/"+path) {
				nodes = append(nodes, n)
			}
		}
	}
	if len(nodes) != 1 {
		return graph.Node{}, &NotFoundError{Kind: "file", Name: path}
	}
	return nodes[0], nil
}

// Callers returns the functions (or files, for module-level calls) that
// call the named function directly.
func (f *Finder) Callers(ctx context.Context, name, file string) ([]Call, error) {
	return f.hop(ctx, name, file, graph.Incoming)
}

// Callees returns what the named function calls directly, including
// unresolved placeholders.
func (f *Finder) Callees(ctx context.Context, name, file string) ([]Call, error) {
	return f.hop(ctx, name, file, graph.Outgoing)
}

func (f *Finder) hop(ctx context.Context, name, file string, dir graph.Direction) ([]Call, error) {
	subs, err := f.subjects(ctx, "function", name, file, functionLabels)
	if err != nil {
		return nil, err
	}
	out := []Call{}
	seen := map[int64]bool{}
	for _, s := range subs {
		near, err := f.store.Neighbors(ctx, s.ID, dir, graph.RelCalls)
		if err != nil {
			return nil, err
		}
		for _, n := range near {
			if seen[n.Node.ID] {
				continue
			}
			seen[n.Node.ID] = true
			out = append(out, callOf(n, 1))
		}
	}
	return out, nil
}

func callOf(n graph.Neighbor, depth int) Call {
	c := Call{Entity: entity(n.Node), Depth: depth}
	if line, ok := n.Edge.Props["line"].(float64); ok {
		c.CallLine = int(line)
	}
	c.FullName, _ = n.Edge.Props["full_name"].(string)
	return c
}

// AllCallers returns every function that reaches the named one through
// CALLS, nearest first. depth bounds the search; zero means unbounded.
func (f *Finder) AllCallers(ctx context.Context, name, file string, depth int) ([]Call, error) {
	key := fmt.Sprintf("callers\x00%s\x00%s\x00%d", name, file, depth)
	return memo(f, key, func() ([]Call, error) { return f.closure(ctx, name, file, depth, graph.Incoming) })
}

// AllCallees returns everything the named function reaches through CALLS.
func (f *Finder) AllCallees(ctx context.Context, name, file string, depth int) ([]Call, error) {
	key := fmt.Sprintf("callees\x00%s\x00%s\x00%d", name, file, depth)
	return memo(f, key, func() ([]Call, error) { return f.closure(ctx, name, file, depth, graph.Outgoing) })
}

func (f *Finder) closure(ctx context.Context, name, file string, depth int, dir graph.Direction) ([]Call, error) {
	subs, err := f.subjects(ctx, "function", name, file, functionLabels)
	if err != nil {
		return nil, err
	}
	visited := map[int64]bool{}
	frontier := make([]int64, 0, len(subs))
	for _, s := range subs {
		visited[s.ID] = true
		frontier = append(frontier, s.ID)
	}
	out := []Call{}
	for level := 1; len(frontier) > 0 && (depth <= 0 || level <= depth); level++ {
		var next []int64
		for _, id := range frontier {
			near, err := f.store.Neighbors(ctx, id, dir, graph.RelCalls)
			if err != nil {
				return nil, err
			}
			for _, n := range near {
				if visited[n.Node.ID] {
					continue
				}
				visited[n.Node.ID] = true
				out = append(out, callOf(n, level))
				if n.Node.Label == graph.LabelFunction {
					next = append(next, n.Node.ID)
				}
			}
		}
		frontier = next
	}
	return out, nil
}

// ChainResult holds the call paths between two functions. NoPath is set
// when both ends exist but no path connects them within the depth bound.
type ChainResult struct {
	From   string     `json:"from"`
	To     string     `json:"to"`
	Paths  [][]Entity `json:"paths"`
	NoPath bool       `json:"no_path"`
}

const (
	defaultChainDepth = 10
	maxChainPaths     = 100
)

// CallChain finds the shortest call path from one function to another, or
// every simple path up to maxDepth hops when all is set.
func (f *Finder) CallChain(ctx context.Context, from, to string, maxDepth int, all bool) (*ChainResult, error) {
	if maxDepth <= 0 {
		maxDepth = defaultChainDepth
	}
	key := fmt.Sprintf("chain\x00%s\x00%s\x00%d\x00%t", from, to, maxDepth, all)
	return memo(f, key, func() (*ChainResult, error) {
		srcs, err := f.subjects(ctx, "function", from, "", functionLabels)
		if err != nil {
			return nil, err
		}
		dsts, err := f.subjects(ctx, "function", to, "", functionLabels)
		if err != nil {
			return nil, err
		}
		targets := map[int64]bool{}
		for _, d := range dsts {
			targets[d.ID] = true
		}

		res := &ChainResult{From: from, To: to, Paths: [][]Entity{}}
		for _, s := range srcs {
			var paths [][]graph.Node
			if all {
				paths, err = f.allPaths(ctx, s, targets, maxDepth)
			} else {
				paths, err = f.shortestPath(ctx, s, targets, maxDepth)
			}
			if err != nil {
				return nil, err
			}
			for _, p := range paths {
				res.Paths = append(res.Paths, entities(p))
			}
		}
		if !all && len(res.Paths) > 1 {
			shortest := res.Paths[0]
			for _, p := range res.Paths[1:] {
				if len(p) < len(shortest) {
					shortest = p
				}
			}
			res.Paths = [][]Entity{shortest}
		}
		res.NoPath = len(res.Paths) == 0
		return res, nil
	})
}

func (f *Finder) calleesOf(ctx context.Context, id int64) ([]graph.Node, error) {
	near, err := f.store.Neighbors(ctx, id, graph.Outgoing, graph.RelCalls)
	if err != nil {
		return nil, err
	}
	out := make([]graph.Node, 0, len(near))
	for _, n := range near {
		if n.Node.Label == graph.LabelFunction {
			out = append(out, n.Node)
		}
	}
	return out, nil
}

func (f *Finder) shortestPath(ctx context.Context, src graph.Node, targets map[int64]bool, maxDepth int) ([][]graph.Node, error) {
	if targets[src.ID] {
		return [][]graph.Node{{src}}, nil
	}
	prev := map[int64]graph.Node{}
	nodes := map[int64]graph.Node{src.ID: src}
	frontier := []graph.Node{src}
	for hop := 0; hop < maxDepth && len(frontier) > 0; hop++ {
		var next []graph.Node
		for _, cur := range frontier {
			callees, err := f.calleesOf(ctx, cur.ID)
			if err != nil {
				return nil, err
			}
			for _, c := range callees {
				if _, seen := nodes[c.ID]; seen {
					continue
				}
				nodes[c.ID] = c
				prev[c.ID] = cur
				if targets[c.ID] {
					return [][]graph.Node{walkBack(c, prev, src.ID)}, nil
				}
				next = append(next, c)
			}
		}
		frontier = next
	}
	return nil, nil
}

func walkBack(end graph.Node, prev map[int64]graph.Node, start int64) []graph.Node {
	path := []graph.Node{end}
	for cur := end; cur.ID != start; {
		cur = prev[cur.ID]
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func (f *Finder) allPaths(ctx context.Context, src graph.Node, targets map[int64]bool, maxDepth int) ([][]graph.Node, error) {
	var (
		out     [][]graph.Node
		path    = []graph.Node{src}
		onPath  = map[int64]bool{src.ID: true}
		callees = map[int64][]graph.Node{}
		visit   func(cur graph.Node) error
	)
	visit = func(cur graph.Node) error {
		if len(out) >= maxChainPaths {
			return nil
		}
		if targets[cur.ID] {
			out = append(out, append([]graph.Node(nil), path...))
			return nil
		}
		if len(path) > maxDepth {
			return nil
		}
		next, ok := callees[cur.ID]
		if !ok {
			var err error
			if next, err = f.calleesOf(ctx, cur.ID); err != nil {
				return err
			}
			callees[cur.ID] = next
		}
		for _, c := range next {
			if onPath[c.ID] {
				continue
			}
			onPath[c.ID] = true
			path = append(path, c)
			if err := visit(c); err != nil {
				return err
			}
			path = path[:len(path)-1]
			delete(onPath, c.ID)
		}
		return nil
	}
	if err := visit(src); err != nil {
		return nil, err
	}
	return out, nil
}

// entryPoints are called by the runtime or a test harness rather than by code.
var entryPoints = map[string]bool{
	"main": true, "init": true, "__init__": true, "__main__": true, "__new__": true,
	"setUp": true, "tearDown": true, "constructor": true,
}

func isEntryPoint(n graph.Node) bool {
	name := n.Name
	if entryPoints[name] {
		return true
	}
	if strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__") {
		return true
	}
	for _, p := range []string{"test_", "Test", "Benchmark", "Example", "Fuzz"} {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return name == "test"
}

// decoratorName strips the @, arguments and module qualifier of a decorator.
func decoratorName(d string) string {
	d = strings.TrimPrefix(strings.TrimSpace(d), "@")
	if i := strings.Index(d, "("); i >= 0 {
		d = d[:i]
	}
	return d
}

func hasDecorator(n graph.Node, exclude map[string]bool) bool {
	for _, d := range n.Decorators {
		name := decoratorName(d)
		if exclude[name] {
			return true
		}
		if i := strings.LastIndex(name, "."); i >= 0 && exclude[name[i+1:]] {
			return true
		}
	}
	return false
}

// DeadCode lists functions nothing calls. Entry points are skipped, as is
// any function carrying a decorator in excludeDecorators. repo narrows the
// search to one repository.
func (f *Finder) DeadCode(ctx context.Context, repo string, excludeDecorators []string) ([]Entity, error) {
	nodes, err := f.store.UncalledFunctions(ctx, repo)
	if err != nil {
		return nil, err
	}
	exclude := make(map[string]bool, len(excludeDecorators))
	for _, d := range excludeDecorators {
		exclude[decoratorName(d)] = true
	}
	out := []Entity{}
	for _, n := range nodes {
		if isEntryPoint(n) || hasDecorator(n, exclude) {
			continue
		}
		out = append(out, entity(n))
	}
	return out, nil
}

// Complexity returns the cyclomatic complexity of the named functions.
func (f *Finder) Complexity(ctx context.Context, name, file string) ([]Entity, error) {
	subs, err := f.subjects(ctx, "function", name, file, functionLabels)
	if err != nil {
		return nil, err
	}
	return entities(subs), nil
}

// MostComplex lists the functions of repo (every repository when empty)
// by descending complexity.
func (f *Finder) MostComplex(ctx context.Context, repo string, limit int) ([]Entity, error) {
	if limit <= 0 {
		limit = 10
	}
	nodes, err := f.store.MostComplex(ctx, repo, limit)
	if err != nil {
		return nil, err
	}
	return entities(nodes), nil
}

// Search finds definitions whose name or source contains term. Exact name
// matches come first, then name matches, then source matches.
func (f *Finder) Search(ctx context.Context, term string, limit int) ([]Entity, error) {
	if limit <= 0 {
		limit = 50
	}
	nodes, err := f.store.FindNodes(ctx, graph.NodeFilter{Contains: term, Labels: graph.EntityLabels})
	if err != nil {
		return nil, err
	}
	rank := func(n graph.Node) int {
		switch {
		case n.Name == term:
			return 0
		case strings.Contains(strings.ToLower(n.Name), strings.ToLower(term)):
			return 1
		}
		return 2
	}
	buckets := make([][]Entity, 3)
	for _, n := range nodes {
		if n.Label == graph.LabelVariable && rank(n) == 2 {
			continue
		}
		r := rank(n)
		buckets[r] = append(buckets[r], entity(n))
	}
	out := []Entity{}
	for _, b := range buckets {
		for _, e := range b {
			if len(out) == limit {
				return out, nil
			}
			out = append(out, e)
		}
	}
	return out, nil
}
