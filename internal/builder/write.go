package builder

import (
	"path/filepath"

	"codegraph/internal/graph"
	"codegraph/internal/parser"
	"codegraph/internal/resolver"
	"codegraph/util"
)

type fileStats struct {
	Nodes           int
	Edges           int
	CallsResolved   int
	CallsUnresolved int
	unresolved      map[string]int
}

func (s *Summary) add(st fileStats) {
	s.Nodes += st.Nodes
	s.Edges += st.Edges
	s.CallsResolved += st.CallsResolved
	s.CallsUnresolved += st.CallsUnresolved
}

// merge folds the outcome of an incremental update into s.
func (s *Summary) merge(o *Summary) {
	s.Succeeded += o.Succeeded
	s.Removed += o.Removed
	s.Relinked += o.Relinked
	s.Nodes += o.Nodes
	s.Edges += o.Edges
	s.CallsResolved += o.CallsResolved
	s.CallsUnresolved += o.CallsUnresolved
	s.Errors = append(s.Errors, o.Errors...)
}

// writer accumulates the graph write of one parsed file.
type writer struct {
	root string
	path string
	rec  *parser.FileRecord
	res  *resolver.Resolver

	w    *graph.FileWrite
	file graph.NodeRef
	st   fileStats

	// containers by name: classes, structs and interfaces of this file
	containers map[string][]graph.Node
	functions  map[string][]graph.Node
	keys       map[string]bool
}

func buildWrite(root string, rec *parser.FileRecord, content []byte, res *resolver.Resolver) (*graph.FileWrite, fileStats) {
	rel, err := filepath.Rel(root, rec.Path)
	if err != nil {
		rel = rec.Path
	}
	fileNode := graph.Node{
		Label:    graph.LabelFile,
		Key:      graph.FileKey(rec.Path),
		Name:     filepath.Base(rec.Path),
		FilePath: rec.Path,
		RepoPath: root,
		Language: rec.Language,
		Props: graph.Props{
			"relative_path": filepath.ToSlash(rel),
			"hash":          util.ContentHash(content),
		},
	}
	if len(rec.Errors) > 0 {
		fileNode.Props["syntax_errors"] = len(rec.Errors)
	}

	wr := &writer{
		root:       root,
		path:       rec.Path,
		rec:        rec,
		res:        res,
		w:          &graph.FileWrite{Repo: root, File: fileNode},
		file:       graph.Ref(fileNode),
		containers: map[string][]graph.Node{},
		functions:  map[string][]graph.Node{},
		keys:       map[string]bool{},
		st:         fileStats{unresolved: map[string]int{}},
	}
	wr.types()
	wr.funcs()
	wr.variables()
	wr.imports()
	wr.calls()
	return wr.w, wr.st
}

func (wr *writer) entity(n graph.Node) graph.NodeRef {
	n.FilePath = wr.path
	n.RepoPath = wr.root
	n.Language = wr.rec.Language
	wr.w.Entities = append(wr.w.Entities, n)
	wr.keys[n.Key] = true
	ref := graph.Ref(n)
	wr.edge(ref, wr.file, graph.RelDefinedIn, nil)
	return ref
}

func (wr *writer) edge(from, to graph.NodeRef, typ graph.RelType, props graph.Props) {
	wr.w.Edges = append(wr.w.Edges, graph.EdgeSpec{From: from, To: to, Type: typ, Props: props})
}

func setIf(p graph.Props, key string, v any) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return
		}
	case []string:
		if len(t) == 0 {
			return
		}
	case bool:
		if !t {
			return
		}
	}
	p[key] = v
}

func (wr *writer) types() {
	for _, c := range wr.rec.Classes {
		n := graph.Node{
			Label:      graph.LabelClass,
			Key:        graph.EntityKey(graph.LabelClass, c.Name, wr.path, c.StartLine),
			Name:       c.Name,
			StartLine:  c.StartLine,
			EndLine:    c.EndLine,
			Source:     c.Source,
			Decorators: c.Decorators,
			Props:      graph.Props{},
		}
		setIf(n.Props, "bases", c.Bases)
		setIf(n.Props, "implements", c.Implements)
		setIf(n.Props, "abstract", c.Abstract)
		setIf(n.Props, "docstring", c.Docstring)
		ref := wr.entity(n)
		wr.containers[c.Name] = append(wr.containers[c.Name], n)
		wr.edge(wr.file, ref, graph.RelContains, nil)
		wr.supertypes(ref, n.Key, c.Bases, graph.RelInherits)
		wr.supertypes(ref, n.Key, c.Implements, graph.RelImplements)
	}

	for _, x := range wr.rec.Extensions {
		label, ok := resolver.LabelFor(x.Kind)
		if !ok {
			continue
		}
		n := graph.Node{
			Label:     label,
			Key:       graph.EntityKey(label, x.Name, wr.path, x.StartLine),
			Name:      x.Name,
			StartLine: x.StartLine,
			EndLine:   x.EndLine,
			Source:    x.Source,
			Props:     graph.Props{},
		}
		setIf(n.Props, "bases", x.Bases)
		ref := wr.entity(n)
		if graph.IsTypeLabel(label) {
			wr.containers[x.Name] = append(wr.containers[x.Name], n)
		}
		wr.edge(wr.file, ref, graph.RelContains, nil)
		wr.supertypes(ref, n.Key, x.Bases, graph.RelInherits)
	}
}

func (wr *writer) supertypes(from graph.NodeRef, self string, names []string, typ graph.RelType) {
	for _, name := range names {
		t := wr.res.ResolveType(wr.path, name, wr.rec.Imports)
		if !t.Resolved() || t.Definition.Key() == self {
			continue
		}
		wr.edge(from, graph.StubRef(defStub(*t.Definition, wr.root)), typ, graph.Props{"name": name})
	}
}

func functionKey(name, file string, line int) string {
	return graph.EntityKey(graph.LabelFunction, name, file, line)
}

func (wr *writer) funcs() {
	for _, f := range wr.rec.Functions {
		n := graph.Node{
			Label:      graph.LabelFunction,
			Key:        functionKey(f.Name, wr.path, f.StartLine),
			Name:       f.Name,
			StartLine:  f.StartLine,
			EndLine:    f.EndLine,
			Source:     f.Source,
			Complexity: f.Complexity,
			Decorators: f.Decorators,
			Props:      graph.Props{},
		}
		setIf(n.Props, "class", f.Class)
		setIf(n.Props, "parent", f.Parent)
		setIf(n.Props, "docstring", f.Docstring)
		setIf(n.Props, "args", f.Args)
		wr.entity(n)
		wr.functions[f.Name] = append(wr.functions[f.Name], n)
	}

	// containment needs every function of the file to be known first
	for _, f := range wr.rec.Functions {
		ref := graph.NodeRef{Label: graph.LabelFunction, Key: functionKey(f.Name, wr.path, f.StartLine)}
		wr.edge(wr.owner(f), ref, graph.RelContains, nil)

		for _, arg := range f.Args {
			v := graph.Node{
				Label:     graph.LabelVariable,
				Key:       graph.VariableKey(arg, wr.path, f.StartLine, f.Name),
				Name:      arg,
				StartLine: f.StartLine,
				EndLine:   f.StartLine,
				Props:     graph.Props{"argument": true, "scope": f.Name},
			}
			wr.edge(ref, wr.entity(v), graph.RelHasArgument, nil)
		}
	}
}

// owner is the node that CONTAINS f: its class, its enclosing function or the file.
func (wr *writer) owner(f parser.Function) graph.NodeRef {
	if f.Class != "" {
		if c, ok := enclosing(wr.containers[f.Class], f.StartLine, true); ok {
			return graph.Ref(c)
		}
		// Go methods may be declared beside a type from another file of the package
		for _, d := range wr.res.Table().Lookup(f.Class) {
			if graph.IsTypeLabel(d.Label) && filepath.Dir(d.File) == filepath.Dir(wr.path) && d.File != wr.path {
				return graph.StubRef(defStub(d, wr.root))
			}
		}
	}
	if f.Parent != "" {
		if p, ok := enclosing(wr.functions[f.Parent], f.StartLine, false); ok {
			return graph.Ref(p)
		}
	}
	return wr.file
}

// enclosing picks the candidate whose span contains line. With loose set, a
// single candidate is accepted even when it does not span line.
func enclosing(cands []graph.Node, line int, loose bool) (graph.Node, bool) {
	var best graph.Node
	found := false
	for _, c := range cands {
		if c.StartLine <= line && line <= c.EndLine && (!found || c.StartLine > best.StartLine) {
			best, found = c, true
		}
	}
	if !found && loose && len(cands) > 0 {
		return cands[0], true
	}
	return best, found
}

func (wr *writer) variables() {
	for _, v := range wr.rec.Variables {
		scope := v.Scope
		if scope == "" {
			scope = v.Class
		}
		n := graph.Node{
			Label:     graph.LabelVariable,
			Key:       graph.VariableKey(v.Name, wr.path, v.Line, scope),
			Name:      v.Name,
			StartLine: v.Line,
			EndLine:   v.Line,
			Props:     graph.Props{},
		}
		setIf(n.Props, "scope", scope)
		setIf(n.Props, "class", v.Class)
		setIf(n.Props, "type_hint", v.TypeHint)
		setIf(n.Props, "value", v.Value)
		if wr.keys[n.Key] {
			continue
		}
		ref := wr.entity(n)

		switch {
		case v.Scope != "":
			fn := graph.NodeRef{Label: graph.LabelFunction, Key: functionKey(v.Scope, wr.path, v.ScopeLine)}
			if wr.keys[fn.Key] {
				wr.edge(fn, ref, graph.RelDeclares, nil)
				continue
			}
		case v.Class != "":
			if c, ok := enclosing(wr.containers[v.Class], v.Line, true); ok {
				wr.edge(graph.Ref(c), ref, graph.RelDeclares, nil)
				continue
			}
		}
		wr.edge(wr.file, ref, graph.RelContains, nil)
	}
}

func (wr *writer) imports() {
	for _, imp := range wr.rec.Imports {
		props := graph.Props{"line": imp.Line}
		setIf(props, "name", imp.Name)
		setIf(props, "module", imp.Module)
		setIf(props, "alias", imp.Alias)

		t := wr.res.ResolveImport(wr.path, imp)
		switch {
		case len(t.Files) > 0:
			for _, f := range t.Files {
				if f == wr.path {
					continue
				}
				wr.edge(wr.file, graph.StubRef(fileStub(f, wr.root)), graph.RelImports, props)
			}
		case t.Definition != nil:
			wr.edge(wr.file, graph.StubRef(defStub(*t.Definition, wr.root)), graph.RelImports, props)
		default:
			name := imp.Module
			if name == "" {
				name = imp.Name
			}
			mod := graph.Node{
				Label: graph.LabelModule,
				Key:   graph.ModuleKey(name),
				Name:  name,
				Props: graph.Props{"external": true},
			}
			wr.edge(wr.file, graph.StubRef(mod), graph.RelImports, props)
		}
	}
}

func (wr *writer) calls() {
	for _, c := range wr.rec.Calls {
		from := wr.file
		if c.Caller != "" {
			if key := functionKey(c.Caller, wr.path, c.CallerLine); wr.keys[key] {
				from = graph.NodeRef{Label: graph.LabelFunction, Key: key}
			}
		}
		props := graph.Props{"line": c.Line}
		setIf(props, "full_name", c.FullName)
		setIf(props, "class", c.Class)

		t := wr.res.ResolveCall(wr.path, c, wr.rec.Imports)
		if t.Resolved() {
			props["resolved_via"] = t.Via
			wr.edge(from, graph.StubRef(defStub(*t.Definition, wr.root)), graph.RelCalls, props)
			wr.st.CallsResolved++
			continue
		}
		props["reason"] = t.Reason
		ext := graph.Node{
			Label: graph.LabelExternal,
			Key:   graph.ExternalKey(c.Name),
			Name:  c.Name,
			Props: graph.Props{"unresolved": true},
		}
		wr.edge(from, graph.StubRef(ext), graph.RelCalls, props)
		wr.st.CallsUnresolved++
		wr.st.unresolved[t.Reason]++
	}
}

// defStub is the node a resolved definition will have once its file is written.
func defStub(d resolver.Definition, root string) graph.Node {
	n := graph.Node{
		Label:     d.Label,
		Key:       d.Key(),
		Name:      d.Name,
		FilePath:  d.File,
		RepoPath:  root,
		StartLine: d.Line,
		EndLine:   d.Line,
		Props:     graph.Props{},
	}
	setIf(n.Props, "class", d.Container)
	return n
}

func fileStub(path, root string) graph.Node {
	n := graph.Node{
		Label:    graph.LabelFile,
		Key:      graph.FileKey(path),
		Name:     filepath.Base(path),
		FilePath: path,
		RepoPath: root,
		Props:    graph.Props{},
	}
	if rel, err := filepath.Rel(root, path); err == nil {
		n.Props["relative_path"] = filepath.ToSlash(rel)
	}
	return n
}
