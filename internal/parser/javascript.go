package parser

import (
	"context"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// JavaScriptParser parses JavaScript and, through its TypeScript variants,
// TypeScript and TSX. The grammars share their node kinds for everything
// extracted here; TypeScript adds interfaces, enums and type aliases.
type JavaScriptParser struct {
	lang string
	exts []string
	g    *grammar
}

func NewJavaScriptParser() *JavaScriptParser {
	return &JavaScriptParser{
		lang: "javascript",
		exts: []string{".js", ".jsx", ".mjs", ".cjs"},
		g:    newGrammar("javascript", tree_sitter_javascript.Language()),
	}
}

func NewTypeScriptParser() *JavaScriptParser {
	return &JavaScriptParser{
		lang: "typescript",
		exts: []string{".ts", ".mts", ".cts"},
		g:    newGrammar("typescript", tree_sitter_typescript.LanguageTypescript()),
	}
}

func NewTSXParser() *JavaScriptParser {
	return &JavaScriptParser{
		lang: "tsx",
		exts: []string{".tsx"},
		g:    newGrammar("typescript", tree_sitter_typescript.LanguageTSX()),
	}
}

func (p *JavaScriptParser) Language() string { return p.lang }

func (p *JavaScriptParser) Extensions() []string { return p.exts }

func (p *JavaScriptParser) Definitions(path string, content []byte) ([]Definition, error) {
	return p.g.definitions(path, content, func(def *sitter.Node) string {
		if def.Kind() == "method_definition" {
			return jsClassOf(def, content)
		}
		return ""
	})
}

func (p *JavaScriptParser) Imports(path string, content []byte) ([]Import, error) {
	rec, err := p.Parse(context.Background(), path, content)
	if err != nil {
		return nil, err
	}
	return rec.Imports, nil
}

func (p *JavaScriptParser) Parse(ctx context.Context, path string, content []byte) (*FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tree, err := p.g.parse(path, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	v := &jsVisitor{content: content, rec: &FileRecord{Path: path, Language: p.lang}}
	v.visit(root, scope{})
	v.rec.Errors = syntaxErrors(root)
	return v.rec, nil
}

var jsClassKinds = set("class_declaration", "abstract_class_declaration", "class")

// jsClassOf returns the name of the class whose body holds a method.
func jsClassOf(method *sitter.Node, content []byte) string {
	body := method.Parent()
	if body == nil || body.Kind() != "class_body" {
		return ""
	}
	if cls := body.Parent(); cls != nil && jsClassKinds[cls.Kind()] {
		return fieldText(cls, "name", content)
	}
	return ""
}

type jsVisitor struct {
	content []byte
	rec     *FileRecord
}

func (v *jsVisitor) visit(n *sitter.Node, sc scope) {
	switch n.Kind() {
	case "function_declaration", "generator_function_declaration":
		v.function(n, n, fieldText(n, "name", v.content), sc)
		return
	case "method_definition":
		v.function(n, n, fieldText(n, "name", v.content), sc)
		return
	case "variable_declarator":
		if val := n.ChildByFieldName("value"); val != nil && (val.Kind() == "arrow_function" || val.Kind() == "function_expression") {
			v.function(n, val, fieldText(n, "name", v.content), sc)
			return
		}
		v.variable(n, sc)
	case "class_declaration", "abstract_class_declaration":
		v.class(n, sc)
		return
	case "interface_declaration":
		v.extension(n, KindInterface, "extends_type_clause")
		return
	case "enum_declaration":
		v.extension(n, KindEnum, "")
		return
	case "type_alias_declaration":
		v.extension(n, KindTypedef, "")
		return
	case "import_statement":
		v.importStatement(n)
		return
	case "call_expression":
		v.call(n, sc)
	case "new_expression":
		if ctor := n.ChildByFieldName("constructor"); ctor != nil && ctor.Kind() == "identifier" {
			name := text(ctor, v.content)
			v.rec.Calls = append(v.rec.Calls, Call{
				Name: name, FullName: name, Line: startLine(n), Caller: sc.fn, CallerLine: sc.fnLine, Class: sc.class,
			})
		}
	}
	for _, c := range children(n) {
		v.visit(c, sc)
	}
}

// function records a function whose identity node is def and whose
// parameters and body live on impl (they differ for arrow functions).
func (v *jsVisitor) function(def, impl *sitter.Node, name string, sc scope) {
	f := Function{
		Name:       name,
		StartLine:  startLine(def),
		EndLine:    endLine(def),
		Source:     text(def, v.content),
		Args:       jsParams(impl, v.content),
		Decorators: jsDecorators(def, v.content),
		Parent:     sc.fn,
		Docstring:  leadingComment(jsCommentAnchor(def), v.content),
		Complexity: complexity(impl, jsDecisions),
	}
	if def.Kind() == "method_definition" {
		f.Class = jsClassOf(def, v.content)
	}
	v.rec.Functions = append(v.rec.Functions, f)

	inner := scope{fn: name, fnLine: f.StartLine, class: sc.class}
	if f.Class != "" {
		inner.class = f.Class
	}
	// arrow function bodies may be a bare expression, so visit the body itself
	if body := impl.ChildByFieldName("body"); body != nil {
		v.visit(body, inner)
	}
}

// jsCommentAnchor is the statement a doc comment would precede.
func jsCommentAnchor(n *sitter.Node) *sitter.Node {
	for p := n.Parent(); p != nil; p = p.Parent() {
		switch p.Kind() {
		case "lexical_declaration", "variable_declaration", "export_statement":
			n = p
		default:
			return n
		}
	}
	return n
}

func jsParams(impl *sitter.Node, content []byte) []string {
	params := impl.ChildByFieldName("parameters")
	if params == nil {
		// single-parameter arrow functions: x => x
		if p := impl.ChildByFieldName("parameter"); p != nil {
			return []string{text(p, content)}
		}
		return nil
	}
	var out []string
	for _, p := range namedChildren(params) {
		switch p.Kind() {
		case "identifier":
			out = append(out, text(p, content))
		case "assignment_pattern":
			out = append(out, fieldText(p, "left", content))
		case "rest_pattern":
			out = append(out, text(p, content))
		case "required_parameter", "optional_parameter":
			out = append(out, fieldText(p, "pattern", content))
		}
	}
	return out
}

// jsDecorators collects decorators attached to n. TypeScript places method
// decorators as preceding siblings inside the class body.
func jsDecorators(n *sitter.Node, content []byte) []string {
	var out []string
	for p := n.PrevSibling(); p != nil && p.Kind() == "decorator"; p = p.PrevSibling() {
		out = append([]string{decoratorName(p, content)}, out...)
	}
	for _, c := range namedChildren(n) {
		if c.Kind() == "decorator" {
			out = append(out, decoratorName(c, content))
		}
	}
	return out
}

func decoratorName(d *sitter.Node, content []byte) string {
	return strings.TrimSpace(strings.TrimPrefix(text(d, content), "@"))
}

func (v *jsVisitor) class(n *sitter.Node, sc scope) {
	name := fieldText(n, "name", v.content)
	c := Class{
		Name:       name,
		StartLine:  startLine(n),
		EndLine:    endLine(n),
		Source:     text(n, v.content),
		Decorators: jsDecorators(n, v.content),
		Abstract:   n.Kind() == "abstract_class_declaration",
		Docstring:  leadingComment(jsCommentAnchor(n), v.content),
	}
	for _, ch := range namedChildren(n) {
		if ch.Kind() != "class_heritage" {
			continue
		}
		for _, h := range namedChildren(ch) {
			switch h.Kind() {
			case "extends_clause":
				for _, b := range namedChildren(h) {
					if b.Kind() != "type_arguments" {
						c.Bases = append(c.Bases, text(b, v.content))
					}
				}
			case "implements_clause":
				for _, b := range namedChildren(h) {
					c.Implements = append(c.Implements, jsTypeName(b, v.content))
				}
			default:
				c.Bases = append(c.Bases, text(h, v.content))
			}
		}
	}
	v.rec.Classes = append(v.rec.Classes, c)

	inner := scope{fn: sc.fn, fnLine: sc.fnLine, class: name}
	for _, ch := range children(n.ChildByFieldName("body")) {
		v.visit(ch, inner)
	}
}

func jsTypeName(t *sitter.Node, content []byte) string {
	if t.Kind() == "generic_type" {
		return fieldText(t, "name", content)
	}
	return text(t, content)
}

func (v *jsVisitor) extension(n *sitter.Node, kind Kind, heritage string) {
	ext := Extension{
		Kind:      kind,
		Name:      fieldText(n, "name", v.content),
		StartLine: startLine(n),
		EndLine:   endLine(n),
		Source:    text(n, v.content),
	}
	if heritage != "" {
		for _, c := range namedChildren(n) {
			if c.Kind() != heritage {
				continue
			}
			for _, b := range namedChildren(c) {
				ext.Bases = append(ext.Bases, jsTypeName(b, v.content))
			}
		}
	}
	v.rec.Extensions = append(v.rec.Extensions, ext)
}

func (v *jsVisitor) importStatement(n *sitter.Node) {
	mod := unquote(fieldText(n, "source", v.content))
	line := startLine(n)
	var clause *sitter.Node
	for _, c := range namedChildren(n) {
		if c.Kind() == "import_clause" {
			clause = c
		}
	}
	if clause == nil {
		v.rec.Imports = append(v.rec.Imports, Import{Name: mod, Module: mod, Line: line})
		return
	}
	for _, c := range namedChildren(clause) {
		switch c.Kind() {
		case "identifier":
			v.rec.Imports = append(v.rec.Imports, Import{Name: "default", Module: mod, Alias: text(c, v.content), Line: line})
		case "namespace_import":
			alias := ""
			if id := c.NamedChild(0); id != nil {
				alias = text(id, v.content)
			}
			v.rec.Imports = append(v.rec.Imports, Import{Name: "*", Module: mod, Alias: alias, Line: line})
		case "named_imports":
			for _, spec := range namedChildren(c) {
				if spec.Kind() != "import_specifier" {
					continue
				}
				v.rec.Imports = append(v.rec.Imports, Import{
					Name:   fieldText(spec, "name", v.content),
					Module: mod,
					Alias:  fieldText(spec, "alias", v.content),
					Line:   line,
				})
			}
		}
	}
}

func (v *jsVisitor) call(n *sitter.Node, sc scope) {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return
	}
	c := Call{Line: startLine(n), Caller: sc.fn, CallerLine: sc.fnLine, Class: sc.class}
	switch fn.Kind() {
	case "identifier":
		c.Name = text(fn, v.content)
		c.FullName = c.Name
	case "member_expression":
		c.Name = fieldText(fn, "property", v.content)
		c.FullName = text(fn, v.content)
	default:
		return
	}
	v.rec.Calls = append(v.rec.Calls, c)
}

func (v *jsVisitor) variable(n *sitter.Node, sc scope) {
	name := n.ChildByFieldName("name")
	if name == nil || name.Kind() != "identifier" {
		return
	}
	val := n.ChildByFieldName("value")
	if mod := requireTarget(val, v.content); mod != "" {
		v.rec.Imports = append(v.rec.Imports, Import{Name: "default", Module: mod, Alias: text(name, v.content), Line: startLine(n)})
	}
	v.rec.Variables = append(v.rec.Variables, Variable{
		Name:      text(name, v.content),
		Line:      startLine(n),
		Scope:     sc.fn,
		ScopeLine: sc.fnLine,
		Class:     sc.class,
		TypeHint:  strings.TrimSpace(strings.TrimPrefix(fieldText(n, "type", v.content), ":")),
		Value:     truncate(text(val, v.content), 200),
	})
}

// requireTarget returns the module of a CommonJS require("x") call.
func requireTarget(val *sitter.Node, content []byte) string {
	if val == nil || val.Kind() != "call_expression" || fieldText(val, "function", content) != "require" {
		return ""
	}
	args := val.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return ""
	}
	if s := args.NamedChild(0); s.Kind() == "string" {
		return unquote(text(s, content))
	}
	return ""
}
