package parser

import (
	"context"
	"path"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
)

// GoParser parses Go sources. Methods carry their receiver type as Class.
type GoParser struct {
	g *grammar
}

func NewGoParser() *GoParser {
	return &GoParser{g: newGrammar("go", tree_sitter_go.Language())}
}

func (p *GoParser) Language() string { return "go" }

func (p *GoParser) Extensions() []string { return []string{".go"} }

func (p *GoParser) Definitions(path string, content []byte) ([]Definition, error) {
	return p.g.definitions(path, content, func(def *sitter.Node) string {
		if def.Kind() == "method_declaration" {
			return goReceiverType(def, content)
		}
		return ""
	})
}

func (p *GoParser) Imports(path string, content []byte) ([]Import, error) {
	rec, err := p.Parse(context.Background(), path, content)
	if err != nil {
		return nil, err
	}
	return rec.Imports, nil
}

func (p *GoParser) Parse(ctx context.Context, path string, content []byte) (*FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tree, err := p.g.parse(path, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	v := &goVisitor{content: content, rec: &FileRecord{Path: path, Language: p.Language()}}
	v.visit(root, scope{})
	v.rec.Errors = syntaxErrors(root)
	return v.rec, nil
}

type goVisitor struct {
	content []byte
	rec     *FileRecord
}

func (v *goVisitor) visit(n *sitter.Node, sc scope) {
	switch n.Kind() {
	case "function_declaration", "method_declaration":
		v.function(n)
		return
	case "type_spec":
		v.typeSpec(n)
		return
	case "import_spec":
		v.importSpec(n)
		return
	case "call_expression":
		v.call(n, sc)
	case "var_spec", "const_spec":
		v.valueSpec(n, sc)
	case "short_var_declaration":
		v.shortVar(n, sc)
	}
	for _, c := range children(n) {
		v.visit(c, sc)
	}
}

func (v *goVisitor) function(n *sitter.Node) {
	name := fieldText(n, "name", v.content)
	f := Function{
		Name:       name,
		StartLine:  startLine(n),
		EndLine:    endLine(n),
		Source:     text(n, v.content),
		Args:       goParams(n.ChildByFieldName("parameters"), v.content),
		Docstring:  leadingComment(n, v.content),
		Complexity: complexity(n, goDecisions),
	}
	if n.Kind() == "method_declaration" {
		f.Class = goReceiverType(n, v.content)
	}
	v.rec.Functions = append(v.rec.Functions, f)

	inner := scope{fn: name, fnLine: f.StartLine, class: f.Class}
	for _, c := range children(n.ChildByFieldName("body")) {
		v.visit(c, inner)
	}
}

func goParams(params *sitter.Node, content []byte) []string {
	var out []string
	for _, p := range namedChildren(params) {
		if p.Kind() != "parameter_declaration" && p.Kind() != "variadic_parameter_declaration" {
			continue
		}
		for _, c := range namedChildren(p) {
			if c.Kind() == "identifier" {
				out = append(out, text(c, content))
			}
		}
	}
	return out
}

// goReceiverType returns the base type name of a method receiver.
func goReceiverType(method *sitter.Node, content []byte) string {
	recv := method.ChildByFieldName("receiver")
	for _, p := range namedChildren(recv) {
		if p.Kind() != "parameter_declaration" {
			continue
		}
		return goBaseType(p.ChildByFieldName("type"), content)
	}
	return ""
}

func goBaseType(t *sitter.Node, content []byte) string {
	for t != nil {
		switch t.Kind() {
		case "pointer_type":
			t = t.NamedChild(0)
		case "generic_type":
			t = t.ChildByFieldName("type")
		case "qualified_type":
			return fieldText(t, "name", content)
		default:
			return text(t, content)
		}
	}
	return ""
}

func (v *goVisitor) typeSpec(n *sitter.Node) {
	t := n.ChildByFieldName("type")
	ext := Extension{
		Name:      fieldText(n, "name", v.content),
		StartLine: startLine(n),
		EndLine:   endLine(n),
		Source:    text(n, v.content),
	}
	switch {
	case t == nil:
		return
	case t.Kind() == "struct_type":
		ext.Kind = KindStruct
		walk(t, func(c *sitter.Node) bool {
			if c.Kind() == "field_declaration" && c.ChildByFieldName("name") == nil {
				if base := goBaseType(c.ChildByFieldName("type"), v.content); base != "" {
					ext.Bases = append(ext.Bases, base)
				}
				return false
			}
			return true
		})
	case t.Kind() == "interface_type":
		ext.Kind = KindInterface
		for _, c := range namedChildren(t) {
			if c.Kind() == "type_elem" {
				ext.Bases = append(ext.Bases, goBaseType(c.NamedChild(0), v.content))
			}
		}
	default:
		ext.Kind = KindTypedef
	}
	v.rec.Extensions = append(v.rec.Extensions, ext)
}

func (v *goVisitor) importSpec(n *sitter.Node) {
	mod := unquote(fieldText(n, "path", v.content))
	v.rec.Imports = append(v.rec.Imports, Import{
		Name:   path.Base(mod),
		Module: mod,
		Alias:  fieldText(n, "name", v.content),
		Line:   startLine(n),
	})
}

func (v *goVisitor) call(n *sitter.Node, sc scope) {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return
	}
	c := Call{Line: startLine(n), Caller: sc.fn, CallerLine: sc.fnLine, Class: sc.class}
	switch fn.Kind() {
	case "identifier":
		c.Name = text(fn, v.content)
		c.FullName = c.Name
	case "selector_expression":
		c.Name = fieldText(fn, "field", v.content)
		c.FullName = text(fn, v.content)
	default:
		return
	}
	v.rec.Calls = append(v.rec.Calls, c)
}

func (v *goVisitor) valueSpec(n *sitter.Node, sc scope) {
	typ := fieldText(n, "type", v.content)
	val := truncate(fieldText(n, "value", v.content), 200)
	for _, c := range namedChildren(n) {
		if c.Kind() != "identifier" {
			continue
		}
		v.rec.Variables = append(v.rec.Variables, Variable{
			Name: text(c, v.content), Line: startLine(n), Scope: sc.fn, ScopeLine: sc.fnLine,
			Class: sc.class, TypeHint: typ, Value: val,
		})
	}
}

func (v *goVisitor) shortVar(n *sitter.Node, sc scope) {
	val := truncate(fieldText(n, "right", v.content), 200)
	for _, c := range namedChildren(n.ChildByFieldName("left")) {
		if c.Kind() != "identifier" || text(c, v.content) == "_" {
			continue
		}
		v.rec.Variables = append(v.rec.Variables, Variable{
			Name: text(c, v.content), Line: startLine(n), Scope: sc.fn, ScopeLine: sc.fnLine,
			Class: sc.class, Value: val,
		})
	}
}
