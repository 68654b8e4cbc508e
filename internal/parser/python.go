package parser

import (
	"context"
	"strings"
	"unicode/utf8"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
)

// PythonParser parses Python sources.
type PythonParser struct {
	g *grammar
}

func NewPythonParser() *PythonParser {
	return &PythonParser{g: newGrammar("python", tree_sitter_python.Language())}
}

func (p *PythonParser) Language() string { return "python" }

func (p *PythonParser) Extensions() []string { return []string{".py", ".pyi"} }

func (p *PythonParser) Definitions(path string, content []byte) ([]Definition, error) {
	return p.g.definitions(path, content, func(def *sitter.Node) string {
		return pyClassOf(def, content)
	})
}

func (p *PythonParser) Imports(path string, content []byte) ([]Import, error) {
	rec, err := p.Parse(context.Background(), path, content)
	if err != nil {
		return nil, err
	}
	return rec.Imports, nil
}

func (p *PythonParser) Parse(ctx context.Context, path string, content []byte) (*FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tree, err := p.g.parse(path, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	v := &pyVisitor{content: content, rec: &FileRecord{Path: path, Language: p.Language()}}
	v.visit(root, scope{}, nil)
	v.rec.Errors = syntaxErrors(root)
	return v.rec, nil
}

// scope is the lexical position of a node during a visit.
type scope struct {
	fn     string
	fnLine int
	// class is the class whose body (or method body) encloses the node.
	class string
	// inClassBody is set only for direct members of a class body.
	inClassBody bool
}

type pyVisitor struct {
	content []byte
	rec     *FileRecord
}

func (v *pyVisitor) visit(n *sitter.Node, sc scope, decorators []string) {
	switch n.Kind() {
	case "decorated_definition":
		var decs []string
		for _, c := range namedChildren(n) {
			if c.Kind() == "decorator" {
				decs = append(decs, strings.TrimSpace(strings.TrimPrefix(text(c, v.content), "@")))
			}
		}
		if def := n.ChildByFieldName("definition"); def != nil {
			v.visit(def, sc, decs)
		}
		return
	case "class_definition":
		v.class(n, sc, decorators)
		return
	case "function_definition":
		v.function(n, sc, decorators)
		return
	case "import_statement":
		v.importStatement(n)
		return
	case "import_from_statement":
		v.importFrom(n)
		return
	case "call":
		v.call(n, sc)
	case "assignment":
		v.assignment(n, sc)
	}
	for _, c := range children(n) {
		v.visit(c, childScope(sc), nil)
	}
}

// childScope drops the class-body marker once we descend below a direct member.
func childScope(sc scope) scope {
	sc.inClassBody = false
	return sc
}

func (v *pyVisitor) class(n *sitter.Node, sc scope, decorators []string) {
	name := fieldText(n, "name", v.content)
	c := Class{
		Name:       name,
		StartLine:  startLine(n),
		EndLine:    endLine(n),
		Source:     text(n, v.content),
		Decorators: decorators,
		Docstring:  pyDocstring(n, v.content),
	}
	if supers := n.ChildByFieldName("superclasses"); supers != nil {
		for _, s := range namedChildren(supers) {
			switch s.Kind() {
			case "identifier", "attribute":
				base := text(s, v.content)
				c.Bases = append(c.Bases, base)
				if base == "ABC" || base == "abc.ABC" {
					c.Abstract = true
				}
			case "keyword_argument":
				if fieldText(s, "name", v.content) == "metaclass" && strings.Contains(fieldText(s, "value", v.content), "ABCMeta") {
					c.Abstract = true
				}
			}
		}
	}
	v.rec.Classes = append(v.rec.Classes, c)

	body := n.ChildByFieldName("body")
	inner := scope{class: name, inClassBody: true}
	for _, child := range children(body) {
		v.visit(child, inner, nil)
	}
}

func (v *pyVisitor) function(n *sitter.Node, sc scope, decorators []string) {
	name := fieldText(n, "name", v.content)
	f := Function{
		Name:       name,
		StartLine:  startLine(n),
		EndLine:    endLine(n),
		Source:     text(n, v.content),
		Args:       pyParams(n.ChildByFieldName("parameters"), v.content),
		Decorators: decorators,
		Parent:     sc.fn,
		Docstring:  pyDocstring(n, v.content),
		Complexity: complexity(n, pythonDecisions),
	}
	if sc.inClassBody {
		f.Class = sc.class
	}
	v.rec.Functions = append(v.rec.Functions, f)

	inner := scope{fn: name, fnLine: f.StartLine, class: sc.class}
	for _, child := range children(n.ChildByFieldName("body")) {
		v.visit(child, inner, nil)
	}
}

func pyParams(params *sitter.Node, content []byte) []string {
	var out []string
	for _, p := range namedChildren(params) {
		switch p.Kind() {
		case "identifier":
			out = append(out, text(p, content))
		case "typed_parameter":
			for _, c := range namedChildren(p) {
				if c.Kind() == "identifier" || c.Kind() == "list_splat_pattern" || c.Kind() == "dictionary_splat_pattern" {
					out = append(out, text(c, content))
					break
				}
			}
		case "default_parameter", "typed_default_parameter":
			out = append(out, fieldText(p, "name", content))
		case "list_splat_pattern", "dictionary_splat_pattern":
			out = append(out, text(p, content))
		}
	}
	return out
}

func pyDocstring(def *sitter.Node, content []byte) string {
	body := def.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Kind() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	if s := first.NamedChild(0); s.Kind() == "string" {
		return strings.TrimSpace(unquote(text(s, content)))
	}
	return ""
}

// pyClassOf returns the class a definition is a direct member of.
func pyClassOf(def *sitter.Node, content []byte) string {
	if def.Kind() != "function_definition" {
		return ""
	}
	for p := def.Parent(); p != nil; p = p.Parent() {
		switch p.Kind() {
		case "function_definition":
			return ""
		case "class_definition":
			return fieldText(p, "name", content)
		}
	}
	return ""
}

func (v *pyVisitor) importStatement(n *sitter.Node) {
	for _, c := range namedChildren(n) {
		switch c.Kind() {
		case "dotted_name":
			mod := text(c, v.content)
			v.rec.Imports = append(v.rec.Imports, Import{Name: mod, Module: mod, Line: startLine(n)})
		case "aliased_import":
			mod := fieldText(c, "name", v.content)
			v.rec.Imports = append(v.rec.Imports, Import{
				Name: mod, Module: mod, Alias: fieldText(c, "alias", v.content), Line: startLine(n),
			})
		}
	}
}

func (v *pyVisitor) importFrom(n *sitter.Node) {
	modNode := n.ChildByFieldName("module_name")
	mod := text(modNode, v.content)
	for _, c := range namedChildren(n) {
		if modNode != nil && c.Id() == modNode.Id() {
			continue
		}
		switch c.Kind() {
		case "dotted_name":
			v.rec.Imports = append(v.rec.Imports, Import{Name: text(c, v.content), Module: mod, Line: startLine(n)})
		case "aliased_import":
			v.rec.Imports = append(v.rec.Imports, Import{
				Name:   fieldText(c, "name", v.content),
				Module: mod,
				Alias:  fieldText(c, "alias", v.content),
				Line:   startLine(n),
			})
		case "wildcard_import":
			v.rec.Imports = append(v.rec.Imports, Import{Name: "*", Module: mod, Line: startLine(n)})
		}
	}
}

func (v *pyVisitor) call(n *sitter.Node, sc scope) {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return
	}
	c := Call{Line: startLine(n), Caller: sc.fn, CallerLine: sc.fnLine, Class: sc.class}
	switch fn.Kind() {
	case "identifier":
		c.Name = text(fn, v.content)
		c.FullName = c.Name
	case "attribute":
		c.Name = fieldText(fn, "attribute", v.content)
		c.FullName = text(fn, v.content)
	default:
		return
	}
	v.rec.Calls = append(v.rec.Calls, c)
}

func (v *pyVisitor) assignment(n *sitter.Node, sc scope) {
	left := n.ChildByFieldName("left")
	if left == nil {
		return
	}
	var names []*sitter.Node
	switch left.Kind() {
	case "identifier":
		names = append(names, left)
	case "pattern_list", "tuple_pattern":
		for _, c := range namedChildren(left) {
			if c.Kind() == "identifier" {
				names = append(names, c)
			}
		}
	}
	for _, id := range names {
		v.rec.Variables = append(v.rec.Variables, Variable{
			Name:      text(id, v.content),
			Line:      startLine(n),
			Scope:     sc.fn,
			ScopeLine: sc.fnLine,
			Class:     sc.class,
			TypeHint:  fieldText(n, "type", v.content),
			Value:     truncate(fieldText(n, "right", v.content), 200),
		})
	}
}

// truncate cuts s to at most max bytes on a rune boundary.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "..."
}
