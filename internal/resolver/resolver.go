package resolver

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"codegraph/internal/graph"
	"codegraph/internal/parser"
)

// Reasons recorded on unresolved targets.
const (
	ReasonNotFound  = "not_found"
	ReasonAmbiguous = "ambiguous"
)

// ImportTarget is where an import points. With no Files and no Definition
// the import is unresolved and lands on a Module placeholder.
type ImportTarget struct {
	Files      []string
	Definition *Definition
	Module     string
}

func (t ImportTarget) Resolved() bool { return len(t.Files) > 0 || t.Definition != nil }

// Target is the outcome of resolving a call or a type reference.
type Target struct {
	Definition *Definition
	// Reason explains an unresolved target.
	Reason string
	// Via names the rule that matched: same_file, import or global.
	Via string
}

func (t Target) Resolved() bool { return t.Definition != nil }

// Resolver answers resolution questions against one symbol table. The
// table must not change while the resolver is in use.
type Resolver struct {
	root   string
	table  *SymbolTable
	files  []string
	goDirs map[string][]string

	mu      sync.Mutex
	imports map[importKey]ImportTarget
}

type importKey struct {
	from, module, name string
}

func New(root string, table *SymbolTable) *Resolver {
	r := &Resolver{
		root:    filepath.Clean(root),
		table:   table,
		files:   table.Files(),
		imports: make(map[importKey]ImportTarget),
	}
	r.goDirs = r.indexGoDirs()
	return r
}

func (r *Resolver) Table() *SymbolTable { return r.table }

// ExtractImports returns the imports of a file using the parser for its language.
func ExtractImports(reg *parser.Registry, path string, content []byte) ([]parser.Import, error) {
	p, ok := reg.ForPath(path)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, parser.ErrUnsupportedLanguage)
	}
	return p.Imports(path, content)
}

// ResolveImport maps an import of file from onto repository files, then onto
// a unique definition of the imported name, and otherwise leaves it unresolved.
func (r *Resolver) ResolveImport(from string, imp parser.Import) ImportTarget {
	key := importKey{from: from, module: imp.Module, name: imp.Name}
	r.mu.Lock()
	t, ok := r.imports[key]
	r.mu.Unlock()
	if ok {
		return t
	}
	t = r.resolveImport(from, imp)
	r.mu.Lock()
	r.imports[key] = t
	r.mu.Unlock()
	return t
}

func (r *Resolver) resolveImport(from string, imp parser.Import) ImportTarget {
	if files := r.moduleFiles(from, imp.Module); len(files) > 0 {
		return ImportTarget{Files: files, Module: imp.Module}
	}
	if imp.Name != "" && imp.Name != imp.Module && imp.Name != "*" && imp.Name != "default" {
		if style(from) == stylePython && imp.Module != "" {
			if files := r.moduleFiles(from, joinModule(imp.Module, imp.Name)); len(files) > 0 {
				return ImportTarget{Files: files, Module: imp.Module}
			}
		}
		if defs := r.table.Lookup(imp.Name); len(defs) == 1 {
			d := defs[0]
			return ImportTarget{Definition: &d, Module: imp.Module}
		}
	}
	return ImportTarget{Module: imp.Module}
}

// ResolveCall resolves a call site of file from. The order is: a definition
// in the same file, a definition reached through one of the file's imports,
// then a unique definition anywhere in the repository.
func (r *Resolver) ResolveCall(from string, call parser.Call, imports []parser.Import) Target {
	return r.resolve(from, call.Name, qualifier(call.FullName, call.Name), call.Class, imports, callable)
}

// ResolveType resolves a base class or implemented interface named in file from.
func (r *Resolver) ResolveType(from, name string, imports []parser.Import) Target {
	short := lastSegment(name)
	return r.resolve(from, short, qualifier(name, short), "", imports, typeLike)
}

func callable(l graph.Label) bool { return l == graph.LabelFunction || l == graph.LabelClass }

func typeLike(l graph.Label) bool { return graph.IsTypeLabel(l) }

func (r *Resolver) resolve(from, name, qual, class string, imports []parser.Import, accept func(graph.Label) bool) Target {
	if name == "" {
		return Target{Reason: ReasonNotFound}
	}

	// a qualified name goes through its import first: os.path.join, util.go
	receiver := qual == "self" || qual == "this" || qual == "cls"
	if qual == "" || receiver {
		// only an explicit receiver ties the call to the caller's class
		own := ""
		if receiver {
			own = class
		}
		local := filter(r.table.InFile(from, name), accept)
		if t, ok := pick(local, own, "same_file"); ok {
			return t
		}
	}

	var viaImport []Definition
	for _, imp := range imports {
		want, submodule := importedName(imp, name, qual)
		if want == "" {
			continue
		}
		target := r.ResolveImport(from, imp)
		files := target.Files
		if submodule && style(from) == stylePython {
			if sub := r.moduleFiles(from, joinModule(imp.Module, imp.Name)); len(sub) > 0 {
				files = sub
			}
		}
		for _, f := range files {
			viaImport = append(viaImport, filter(r.table.InFile(f, want), accept)...)
		}
		if target.Definition != nil && target.Definition.Name == want && accept(target.Definition.Label) {
			viaImport = append(viaImport, *target.Definition)
		}
	}
	if t, ok := pick(dedupe(viaImport), "", "import"); ok {
		return t
	}

	global := filter(r.table.Lookup(name), accept)
	switch len(global) {
	case 0:
		return Target{Reason: ReasonNotFound}
	case 1:
		d := global[0]
		return Target{Definition: &d, Via: "global"}
	}
	return Target{Reason: ReasonAmbiguous}
}

// pick chooses among candidates: a single one wins, otherwise the one in
// class when class is set. Any other tie is ambiguous.
func pick(cands []Definition, class, via string) (Target, bool) {
	switch len(cands) {
	case 0:
		return Target{}, false
	case 1:
		d := cands[0]
		return Target{Definition: &d, Via: via}, true
	}
	if class != "" {
		var same []Definition
		for _, d := range cands {
			if d.Container == class {
				same = append(same, d)
			}
		}
		if len(same) == 1 {
			return Target{Definition: &same[0], Via: via}, true
		}
	}
	return Target{Reason: ReasonAmbiguous}, true
}

// importedName returns the definition name a call reaches through imp, or
// "" when imp does not bind the call. submodule reports that the call is
// qualified by a name imp brought in, as in "from pkg import mod; mod.f()".
func importedName(imp parser.Import, name, qual string) (want string, submodule bool) {
	if qual == "" {
		switch {
		case imp.Alias == name && imp.Name != "*" && imp.Name != "default":
			return imp.Name, false
		case imp.Alias == "" && imp.Name == name:
			return name, false
		case imp.Alias == name && imp.Name == "default":
			return name, false
		}
		return "", false
	}
	head := qual
	if i := strings.Index(qual, "."); i >= 0 {
		head = qual[:i]
	}
	switch {
	case imp.Alias != "" && imp.Alias == head:
		return name, imp.Name != imp.Module && imp.Name != "*"
	case imp.Alias == "" && imp.Name == head && imp.Name != imp.Module:
		return name, true
	case imp.Alias == "" && (imp.Name == head || lastSegment(imp.Module) == head || imp.Module == qual):
		return name, false
	}
	return "", false
}

func filter(defs []Definition, accept func(graph.Label) bool) []Definition {
	var out []Definition
	for _, d := range defs {
		if accept(d.Label) {
			out = append(out, d)
		}
	}
	return out
}

func dedupe(defs []Definition) []Definition {
	seen := map[string]bool{}
	var out []Definition
	for _, d := range defs {
		if k := d.Key(); !seen[k] {
			seen[k] = true
			out = append(out, d)
		}
	}
	return out
}

// qualifier returns the part of a dotted call before its final name.
func qualifier(full, name string) string {
	q := strings.TrimSuffix(full, name)
	q = strings.TrimSuffix(q, ".")
	q = strings.TrimSuffix(q, "->")
	q = strings.TrimSuffix(q, "::")
	if q == full {
		return ""
	}
	return q
}

func lastSegment(name string) string {
	name = strings.TrimRight(name, ".")
	for _, sep := range []string{".", "/", "::"} {
		if i := strings.LastIndex(name, sep); i >= 0 {
			name = name[i+len(sep):]
		}
	}
	return name
}
