package finder

import (
	"context"
	"fmt"

	"codegraph/internal/graph"
)

// Hierarchy is a type together with its transitive supertypes and subtypes.
type Hierarchy struct {
	Class       Entity   `json:"class"`
	Ancestors   []Linked `json:"ancestors"`
	Descendants []Linked `json:"descendants"`
	Methods     []Entity `json:"methods"`
}

// Linked is a node reached over a relationship at some distance.
type Linked struct {
	Entity
	Via   graph.RelType `json:"relationship"`
	Depth int           `json:"depth"`
}

var hierarchyRels = []graph.RelType{graph.RelInherits, graph.RelImplements}

// ClassHierarchy returns the ancestors, descendants and methods of the named type.
func (f *Finder) ClassHierarchy(ctx context.Context, name, file string) ([]Hierarchy, error) {
	key := fmt.Sprintf("hierarchy\x00%s\x00%s", name, file)
	return memo(f, key, func() ([]Hierarchy, error) {
		subs, err := f.subjects(ctx, "class", name, file, typeLabels)
		if err != nil {
			return nil, err
		}
		out := make([]Hierarchy, 0, len(subs))
		for _, s := range subs {
			h := Hierarchy{Class: entity(s)}
			if h.Ancestors, err = f.walk(ctx, s.ID, graph.Outgoing, 0, hierarchyRels...); err != nil {
				return nil, err
			}
			if h.Descendants, err = f.walk(ctx, s.ID, graph.Incoming, 0, hierarchyRels...); err != nil {
				return nil, err
			}
			if h.Methods, err = f.methods(ctx, s.ID); err != nil {
				return nil, err
			}
			out = append(out, h)
		}
		return out, nil
	})
}

// walk is a breadth-first traversal over rels; depth zero is unbounded.
func (f *Finder) walk(ctx context.Context, id int64, dir graph.Direction, depth int, rels ...graph.RelType) ([]Linked, error) {
	visited := map[int64]bool{id: true}
	frontier := []int64{id}
	out := []Linked{}
	for level := 1; len(frontier) > 0 && (depth <= 0 || level <= depth); level++ {
		var next []int64
		for _, cur := range frontier {
			near, err := f.store.Neighbors(ctx, cur, dir, rels...)
			if err != nil {
				return nil, err
			}
			for _, n := range near {
				if visited[n.Node.ID] {
					continue
				}
				visited[n.Node.ID] = true
				out = append(out, Linked{Entity: entity(n.Node), Via: n.Edge.Type, Depth: level})
				next = append(next, n.Node.ID)
			}
		}
		frontier = next
	}
	return out, nil
}

func (f *Finder) methods(ctx context.Context, id int64) ([]Entity, error) {
	near, err := f.store.Neighbors(ctx, id, graph.Outgoing, graph.RelContains)
	if err != nil {
		return nil, err
	}
	out := []Entity{}
	for _, n := range near {
		if n.Node.Label == graph.LabelFunction {
			out = append(out, entity(n.Node))
		}
	}
	return out, nil
}

// Override pairs a method with the supertype method of the same name it replaces.
type Override struct {
	Method    Entity `json:"method"`
	Overrides Entity `json:"overrides"`
	In        Entity `json:"defined_in"`
}

// Overrides lists the methods of the named type that redefine a method of
// one of its transitive supertypes.
func (f *Finder) Overrides(ctx context.Context, name, file string) ([]Override, error) {
	hs, err := f.ClassHierarchy(ctx, name, file)
	if err != nil {
		return nil, err
	}
	out := []Override{}
	for _, h := range hs {
		own := map[string]Entity{}
		for _, m := range h.Methods {
			own[m.Name] = m
		}
		for _, anc := range h.Ancestors {
			inherited, err := f.methods(ctx, anc.ID)
			if err != nil {
				return nil, err
			}
			for _, m := range inherited {
				if mine, ok := own[m.Name]; ok {
					out = append(out, Override{Method: mine, Overrides: m, In: anc.Entity})
				}
			}
		}
	}
	return out, nil
}

// Import is an IMPORTS relationship out of a file.
type Import struct {
	Target Entity `json:"target"`
	Name   string `json:"name,omitempty"`
	Module string `json:"module,omitempty"`
	Alias  string `json:"alias,omitempty"`
	Line   int    `json:"line,omitempty"`
}

// Imports lists what a file imports.
func (f *Finder) Imports(ctx context.Context, file string) ([]Import, error) {
	fn, err := f.fileNode(ctx, file)
	if err != nil {
		return nil, err
	}
	near, err := f.store.Neighbors(ctx, fn.ID, graph.Outgoing, graph.RelImports)
	if err != nil {
		return nil, err
	}
	out := make([]Import, 0, len(near))
	for _, n := range near {
		imp := Import{Target: entity(n.Node)}
		imp.Name, _ = n.Edge.Props["name"].(string)
		imp.Module, _ = n.Edge.Props["module"].(string)
		imp.Alias, _ = n.Edge.Props["alias"].(string)
		if l, ok := n.Edge.Props["line"].(float64); ok {
			imp.Line = int(l)
		}
		out = append(out, imp)
	}
	return out, nil
}

// Importers lists the files importing module, given either as a module
// name that did not resolve to a file or as an indexed file path.
func (f *Finder) Importers(ctx context.Context, module string) ([]Entity, error) {
	targets, err := f.store.FindNodes(ctx, graph.NodeFilter{Name: module, Labels: []graph.Label{graph.LabelModule}})
	if err != nil {
		return nil, err
	}
	if fn, err := f.fileNode(ctx, module); err == nil {
		targets = append(targets, fn)
	}
	if len(targets) == 0 {
		return nil, &NotFoundError{Kind: "module", Name: module}
	}
	out := []Entity{}
	seen := map[int64]bool{}
	for _, t := range targets {
		near, err := f.store.Neighbors(ctx, t.ID, graph.Incoming, graph.RelImports)
		if err != nil {
			return nil, err
		}
		for _, n := range near {
			if !seen[n.Node.ID] {
				seen[n.Node.ID] = true
				out = append(out, entity(n.Node))
			}
		}
	}
	return out, nil
}

var containment = []graph.RelType{graph.RelContains, graph.RelDeclares, graph.RelHasArgument}

// Contents lists what a file contains, down to depth levels of nesting.
func (f *Finder) Contents(ctx context.Context, file string, depth int) ([]Linked, error) {
	fn, err := f.fileNode(ctx, file)
	if err != nil {
		return nil, err
	}
	return f.walk(ctx, fn.ID, graph.Outgoing, depth, containment...)
}

// Scope is a variable together with the node declaring it.
type Scope struct {
	Variable Entity        `json:"variable"`
	Scope    Entity        `json:"scope"`
	Via      graph.RelType `json:"relationship"`
	TypeHint string        `json:"type_hint,omitempty"`
	Value    string        `json:"value,omitempty"`
}

// VariableScope finds every variable or argument with the given name and
// the function, class or file it belongs to.
func (f *Finder) VariableScope(ctx context.Context, name string) ([]Scope, error) {
	vars, err := f.subjects(ctx, "variable", name, "", []graph.Label{graph.LabelVariable})
	if err != nil {
		return nil, err
	}
	out := make([]Scope, 0, len(vars))
	for _, v := range vars {
		near, err := f.store.Neighbors(ctx, v.ID, graph.Incoming, containment...)
		if err != nil {
			return nil, err
		}
		for _, n := range near {
			s := Scope{Variable: entity(v), Scope: entity(n.Node), Via: n.Edge.Type}
			s.TypeHint, _ = v.Props["type_hint"].(string)
			s.Value, _ = v.Props["value"].(string)
			out = append(out, s)
		}
	}
	return out, nil
}

// ByDecorator lists the functions of repo carrying the decorator.
func (f *Finder) ByDecorator(ctx context.Context, decorator, repo string) ([]Entity, error) {
	nodes, err := f.store.FindNodes(ctx, graph.NodeFilter{Labels: functionLabels, RepoPath: repo})
	if err != nil {
		return nil, err
	}
	want := map[string]bool{decoratorName(decorator): true}
	out := []Entity{}
	for _, n := range nodes {
		if hasDecorator(n, want) {
			out = append(out, entity(n))
		}
	}
	return out, nil
}

// ByArgument lists the functions taking an argument with the given name.
func (f *Finder) ByArgument(ctx context.Context, arg string) ([]Entity, error) {
	vars, err := f.store.FindNodes(ctx, graph.NodeFilter{Name: arg, Labels: []graph.Label{graph.LabelVariable}})
	if err != nil {
		return nil, err
	}
	out := []Entity{}
	for _, v := range vars {
		near, err := f.store.Neighbors(ctx, v.ID, graph.Incoming, graph.RelHasArgument)
		if err != nil {
			return nil, err
		}
		for _, n := range near {
			out = append(out, entity(n.Node))
		}
	}
	return out, nil
}
