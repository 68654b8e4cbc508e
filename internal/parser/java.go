package parser

import (
	"context"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
)

// JavaParser parses Java sources. Interfaces and enums become extensions;
// classes and records become classes.
type JavaParser struct {
	g *grammar
}

func NewJavaParser() *JavaParser {
	return &JavaParser{g: newGrammar("java", tree_sitter_java.Language())}
}

func (p *JavaParser) Language() string { return "java" }

func (p *JavaParser) Extensions() []string { return []string{".java"} }

func (p *JavaParser) Definitions(path string, content []byte) ([]Definition, error) {
	return p.g.definitions(path, content, func(def *sitter.Node) string {
		switch def.Kind() {
		case "method_declaration", "constructor_declaration":
			return javaClassOf(def, content)
		}
		return ""
	})
}

func (p *JavaParser) Imports(path string, content []byte) ([]Import, error) {
	rec, err := p.Parse(context.Background(), path, content)
	if err != nil {
		return nil, err
	}
	return rec.Imports, nil
}

func (p *JavaParser) Parse(ctx context.Context, path string, content []byte) (*FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tree, err := p.g.parse(path, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	v := &javaVisitor{content: content, rec: &FileRecord{Path: path, Language: p.Language()}}
	v.visit(root, scope{})
	v.rec.Errors = syntaxErrors(root)
	return v.rec, nil
}

var javaTypeKinds = set("class_declaration", "record_declaration", "interface_declaration", "enum_declaration")

// javaClassOf returns the named type whose body declares a member.
// Members of anonymous classes have none.
func javaClassOf(member *sitter.Node, content []byte) string {
	body := member.Parent()
	if body != nil && body.Kind() == "enum_body_declarations" {
		body = body.Parent()
	}
	if body == nil {
		return ""
	}
	switch body.Kind() {
	case "class_body", "interface_body", "enum_body":
	default:
		return ""
	}
	if decl := body.Parent(); decl != nil && javaTypeKinds[decl.Kind()] {
		return fieldText(decl, "name", content)
	}
	return ""
}

var javaDecisions = decisions{
	kinds: set("if_statement", "for_statement", "enhanced_for_statement", "while_statement", "do_statement",
		"catch_clause", "ternary_expression", "switch_block_statement_group", "switch_rule"),
	binary:    set("binary_expression"),
	operators: set("&&", "||"),
}

type javaVisitor struct {
	content []byte
	rec     *FileRecord
}

func (v *javaVisitor) visit(n *sitter.Node, sc scope) {
	switch n.Kind() {
	case "class_declaration", "record_declaration":
		v.class(n, sc)
		return
	case "interface_declaration":
		v.extension(n, KindInterface, sc)
		return
	case "enum_declaration":
		v.extension(n, KindEnum, sc)
		return
	case "method_declaration", "constructor_declaration":
		v.method(n, sc)
		return
	case "import_declaration":
		v.importDeclaration(n)
		return
	case "method_invocation":
		v.call(n, sc)
	case "object_creation_expression":
		if t := n.ChildByFieldName("type"); t != nil {
			full := javaTypeName(t, v.content)
			v.rec.Calls = append(v.rec.Calls, Call{
				Name: lastSegment(full, "."), FullName: full, Line: startLine(n), Caller: sc.fn, CallerLine: sc.fnLine, Class: sc.class,
			})
		}
	case "field_declaration", "constant_declaration", "local_variable_declaration":
		v.variables(n, sc)
	}
	for _, c := range children(n) {
		v.visit(c, sc)
	}
}

// javaTypeName strips type arguments from a type reference.
func javaTypeName(t *sitter.Node, content []byte) string {
	if t == nil {
		return ""
	}
	if t.Kind() == "generic_type" && t.NamedChildCount() > 0 {
		t = t.NamedChild(0)
	}
	return text(t, content)
}

func javaModifiers(n *sitter.Node) *sitter.Node {
	for _, c := range namedChildren(n) {
		if c.Kind() == "modifiers" {
			return c
		}
	}
	return nil
}

func javaAnnotations(n *sitter.Node, content []byte) []string {
	var out []string
	for _, c := range namedChildren(javaModifiers(n)) {
		if c.Kind() == "marker_annotation" || c.Kind() == "annotation" {
			out = append(out, decoratorName(c, content))
		}
	}
	return out
}

func javaHasModifier(n *sitter.Node, modifier string) bool {
	for _, c := range children(javaModifiers(n)) {
		if c.Kind() == modifier {
			return true
		}
	}
	return false
}

func javaTypeList(n *sitter.Node, content []byte) []string {
	var out []string
	for _, c := range namedChildren(n) {
		if c.Kind() == "type_list" {
			out = append(out, javaTypeList(c, content)...)
			continue
		}
		out = append(out, javaTypeName(c, content))
	}
	return out
}

func (v *javaVisitor) class(n *sitter.Node, sc scope) {
	name := fieldText(n, "name", v.content)
	c := Class{
		Name:       name,
		StartLine:  startLine(n),
		EndLine:    endLine(n),
		Source:     text(n, v.content),
		Decorators: javaAnnotations(n, v.content),
		Abstract:   javaHasModifier(n, "abstract"),
		Docstring:  leadingComment(n, v.content),
	}
	c.Bases = javaTypeList(n.ChildByFieldName("superclass"), v.content)
	c.Implements = javaTypeList(n.ChildByFieldName("interfaces"), v.content)
	v.rec.Classes = append(v.rec.Classes, c)
	v.body(n, name, sc)
}

func (v *javaVisitor) extension(n *sitter.Node, kind Kind, sc scope) {
	name := fieldText(n, "name", v.content)
	ext := Extension{
		Kind:      kind,
		Name:      name,
		StartLine: startLine(n),
		EndLine:   endLine(n),
		Source:    text(n, v.content),
	}
	for _, c := range namedChildren(n) {
		if c.Kind() == "extends_interfaces" {
			ext.Bases = javaTypeList(c, v.content)
		}
	}
	v.rec.Extensions = append(v.rec.Extensions, ext)
	v.body(n, name, sc)
}

func (v *javaVisitor) body(n *sitter.Node, class string, sc scope) {
	inner := scope{fn: sc.fn, fnLine: sc.fnLine, class: class}
	for _, c := range children(n.ChildByFieldName("body")) {
		v.visit(c, inner)
	}
}

func (v *javaVisitor) method(n *sitter.Node, sc scope) {
	f := Function{
		Name:       fieldText(n, "name", v.content),
		StartLine:  startLine(n),
		EndLine:    endLine(n),
		Source:     text(n, v.content),
		Decorators: javaAnnotations(n, v.content),
		Class:      javaClassOf(n, v.content),
		Parent:     sc.fn,
		Docstring:  leadingComment(n, v.content),
		Complexity: complexity(n, javaDecisions),
	}
	for _, p := range namedChildren(n.ChildByFieldName("parameters")) {
		switch p.Kind() {
		case "formal_parameter":
			f.Args = append(f.Args, fieldText(p, "name", v.content))
		case "spread_parameter":
			if name := fieldText(p, "name", v.content); name != "" {
				f.Args = append(f.Args, name)
				continue
			}
			for _, d := range namedChildren(p) {
				if d.Kind() == "variable_declarator" {
					f.Args = append(f.Args, fieldText(d, "name", v.content))
				}
			}
		}
	}
	v.rec.Functions = append(v.rec.Functions, f)

	inner := scope{fn: f.Name, fnLine: f.StartLine, class: sc.class}
	for _, c := range children(n.ChildByFieldName("body")) {
		v.visit(c, inner)
	}
}

// importDeclaration records "import a.b.C" as C from module a.b.C so the
// module names the class file, "import static a.b.C.m" as m from a.b.C and
// wildcards as * from the package or class.
func (v *javaVisitor) importDeclaration(n *sitter.Node) {
	var (
		static, wildcard bool
		path             string
	)
	for _, c := range children(n) {
		switch c.Kind() {
		case "static":
			static = true
		case "asterisk":
			wildcard = true
		case "scoped_identifier", "identifier":
			path = text(c, v.content)
		}
	}
	if path == "" {
		return
	}
	imp := Import{Name: lastSegment(path, "."), Module: path, Line: startLine(n)}
	switch {
	case wildcard:
		imp.Name = "*"
	case static:
		if i := strings.LastIndex(path, "."); i > 0 {
			imp.Module = path[:i]
		}
	}
	v.rec.Imports = append(v.rec.Imports, imp)
}

func (v *javaVisitor) call(n *sitter.Node, sc scope) {
	c := Call{
		Name:       fieldText(n, "name", v.content),
		Line:       startLine(n),
		Caller:     sc.fn,
		CallerLine: sc.fnLine,
		Class:      sc.class,
	}
	if c.Name == "" {
		return
	}
	c.FullName = c.Name
	if obj := n.ChildByFieldName("object"); obj != nil {
		c.FullName = text(obj, v.content) + "." + c.Name
	}
	v.rec.Calls = append(v.rec.Calls, c)
}

func (v *javaVisitor) variables(n *sitter.Node, sc scope) {
	typ := javaTypeName(n.ChildByFieldName("type"), v.content)
	for _, d := range namedChildren(n) {
		if d.Kind() != "variable_declarator" {
			continue
		}
		v.rec.Variables = append(v.rec.Variables, Variable{
			Name:      fieldText(d, "name", v.content),
			Line:      startLine(n),
			Scope:     sc.fn,
			ScopeLine: sc.fnLine,
			Class:     sc.class,
			TypeHint:  typ,
			Value:     truncate(fieldText(d, "value", v.content), 200),
		})
	}
}
