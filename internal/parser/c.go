package parser

import (
	"context"
	"strconv"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_c "github.com/tree-sitter/tree-sitter-c/bindings/go"
)

// CParser parses C sources and headers.
type CParser struct {
	g *grammar
}

func NewCParser() *CParser {
	return &CParser{g: newGrammar("c", tree_sitter_c.Language())}
}

func (p *CParser) Language() string { return "c" }

func (p *CParser) Extensions() []string { return []string{".c", ".h"} }

// Definitions reclassifies typedefs of anonymous aggregates so they agree
// with the full parse, which names such aggregates after the typedef.
func (p *CParser) Definitions(path string, content []byte) ([]Definition, error) {
	defs, err := p.g.definitions(path, content, nil)
	if err != nil {
		return nil, err
	}
	rec, err := p.Parse(context.Background(), path, content)
	if err != nil {
		return nil, err
	}
	kinds := map[string]Kind{}
	for _, e := range rec.Extensions {
		if e.Kind == KindStruct || e.Kind == KindUnion || e.Kind == KindEnum {
			kinds[lineKey(e.Name, e.StartLine)] = e.Kind
		}
	}
	for i, d := range defs {
		if d.Kind != KindTypedef {
			continue
		}
		if k, ok := kinds[lineKey(d.Name, d.Line)]; ok {
			defs[i].Kind = k
		}
	}
	return defs, nil
}

func lineKey(name string, line int) string {
	return name + "\x00" + strconv.Itoa(line)
}

func (p *CParser) Imports(path string, content []byte) ([]Import, error) {
	rec, err := p.Parse(context.Background(), path, content)
	if err != nil {
		return nil, err
	}
	return rec.Imports, nil
}

func (p *CParser) Parse(ctx context.Context, path string, content []byte) (*FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tree, err := p.g.parse(path, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	v := &cVisitor{content: content, rec: &FileRecord{Path: path, Language: p.Language()}}
	v.visit(root, scope{})
	v.rec.Errors = syntaxErrors(root)
	return v.rec, nil
}

type cVisitor struct {
	content []byte
	rec     *FileRecord
}

var cAggregates = map[string]Kind{
	"struct_specifier": KindStruct,
	"union_specifier":  KindUnion,
	"enum_specifier":   KindEnum,
}

func (v *cVisitor) visit(n *sitter.Node, sc scope) {
	switch n.Kind() {
	case "function_definition":
		v.function(n)
		return
	case "struct_specifier", "union_specifier", "enum_specifier":
		if n.ChildByFieldName("name") != nil && n.ChildByFieldName("body") != nil {
			v.aggregate(n, fieldText(n, "name", v.content), n)
		}
	case "type_definition":
		v.typedef(n)
		return
	case "preproc_include":
		v.include(n)
		return
	case "preproc_def", "preproc_function_def":
		v.rec.Extensions = append(v.rec.Extensions, Extension{
			Kind:      KindMacro,
			Name:      fieldText(n, "name", v.content),
			StartLine: startLine(n),
			EndLine:   endLine(n),
			Source:    strings.TrimSpace(text(n, v.content)),
		})
		return
	case "call_expression":
		v.call(n, sc)
	case "declaration":
		v.declaration(n, sc)
	}
	for _, c := range children(n) {
		v.visit(c, sc)
	}
}

// cFunctionDeclarator digs the function_declarator out of pointer declarators.
func cFunctionDeclarator(d *sitter.Node) *sitter.Node {
	for d != nil {
		switch d.Kind() {
		case "function_declarator":
			return d
		case "pointer_declarator", "parenthesized_declarator":
			d = d.ChildByFieldName("declarator")
			if d == nil {
				return nil
			}
		default:
			return nil
		}
	}
	return nil
}

// cDeclaredName returns the identifier a declarator ultimately declares.
func cDeclaredName(d *sitter.Node, content []byte) string {
	for d != nil {
		switch d.Kind() {
		case "identifier", "field_identifier", "type_identifier":
			return text(d, content)
		default:
			d = d.ChildByFieldName("declarator")
		}
	}
	return ""
}

func (v *cVisitor) function(n *sitter.Node) {
	fd := cFunctionDeclarator(n.ChildByFieldName("declarator"))
	if fd == nil {
		return
	}
	name := cDeclaredName(fd.ChildByFieldName("declarator"), v.content)
	f := Function{
		Name:       name,
		StartLine:  startLine(n),
		EndLine:    endLine(n),
		Source:     text(n, v.content),
		Docstring:  leadingComment(n, v.content),
		Complexity: complexity(n, cDecisions),
	}
	for _, p := range namedChildren(fd.ChildByFieldName("parameters")) {
		if p.Kind() != "parameter_declaration" {
			continue
		}
		if arg := cDeclaredName(p.ChildByFieldName("declarator"), v.content); arg != "" {
			f.Args = append(f.Args, arg)
		}
	}
	v.rec.Functions = append(v.rec.Functions, f)

	inner := scope{fn: name, fnLine: f.StartLine}
	for _, c := range children(n.ChildByFieldName("body")) {
		v.visit(c, inner)
	}
}

func (v *cVisitor) aggregate(n *sitter.Node, name string, anchor *sitter.Node) {
	v.rec.Extensions = append(v.rec.Extensions, Extension{
		Kind:      cAggregates[n.Kind()],
		Name:      name,
		StartLine: startLine(anchor),
		EndLine:   endLine(anchor),
		Source:    text(anchor, v.content),
	})
}

// typedef records "typedef struct { ... } name;" as the aggregate itself and
// any other typedef as a typedef extension.
func (v *cVisitor) typedef(n *sitter.Node) {
	name := cDeclaredName(n.ChildByFieldName("declarator"), v.content)
	t := n.ChildByFieldName("type")
	if t != nil {
		if _, ok := cAggregates[t.Kind()]; ok && t.ChildByFieldName("body") != nil {
			if t.ChildByFieldName("name") == nil {
				v.aggregate(t, name, n)
				return
			}
			v.aggregate(t, fieldText(t, "name", v.content), t)
		}
	}
	if name != "" {
		v.rec.Extensions = append(v.rec.Extensions, Extension{
			Kind:      KindTypedef,
			Name:      name,
			StartLine: startLine(n),
			EndLine:   endLine(n),
			Source:    text(n, v.content),
		})
	}
}

func (v *cVisitor) include(n *sitter.Node) {
	raw := fieldText(n, "path", v.content)
	mod := strings.Trim(raw, `"<>`)
	v.rec.Imports = append(v.rec.Imports, Import{
		Name:   mod,
		Module: mod,
		Line:   startLine(n),
	})
}

func (v *cVisitor) call(n *sitter.Node, sc scope) {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return
	}
	c := Call{Line: startLine(n), Caller: sc.fn, CallerLine: sc.fnLine}
	switch fn.Kind() {
	case "identifier":
		c.Name = text(fn, v.content)
		c.FullName = c.Name
	case "field_expression":
		c.Name = fieldText(fn, "field", v.content)
		c.FullName = text(fn, v.content)
	default:
		return
	}
	v.rec.Calls = append(v.rec.Calls, c)
}

func (v *cVisitor) declaration(n *sitter.Node, sc scope) {
	typ := fieldText(n, "type", v.content)
	for _, d := range namedChildren(n) {
		var name, val string
		switch d.Kind() {
		case "identifier":
			name = text(d, v.content)
		case "init_declarator":
			name = cDeclaredName(d.ChildByFieldName("declarator"), v.content)
			val = truncate(fieldText(d, "value", v.content), 200)
		case "pointer_declarator", "array_declarator":
			name = cDeclaredName(d, v.content)
		default:
			continue
		}
		if name == "" {
			continue
		}
		v.rec.Variables = append(v.rec.Variables, Variable{
			Name: name, Line: startLine(n), Scope: sc.fn, ScopeLine: sc.fnLine, TypeHint: typ, Value: val,
		})
	}
}
