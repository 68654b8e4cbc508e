package parser

import (
	"context"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_cpp "github.com/tree-sitter/tree-sitter-cpp/bindings/go"
)

// CppParser parses C++ sources and headers. Plain ".h" headers stay with
// the C parser.
type CppParser struct {
	g *grammar
}

func NewCppParser() *CppParser {
	return &CppParser{g: newGrammar("cpp", tree_sitter_cpp.Language())}
}

func (p *CppParser) Language() string { return "cpp" }

func (p *CppParser) Extensions() []string {
	return []string{".cpp", ".cc", ".cxx", ".c++", ".hpp", ".hh", ".hxx"}
}

func (p *CppParser) Definitions(path string, content []byte) ([]Definition, error) {
	return p.g.definitions(path, content, func(def *sitter.Node) string {
		if def.Kind() == "function_definition" {
			return cppClassOf(def, content)
		}
		return ""
	})
}

func (p *CppParser) Imports(path string, content []byte) ([]Import, error) {
	rec, err := p.Parse(context.Background(), path, content)
	if err != nil {
		return nil, err
	}
	return rec.Imports, nil
}

func (p *CppParser) Parse(ctx context.Context, path string, content []byte) (*FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tree, err := p.g.parse(path, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	v := &cppVisitor{cVisitor{content: content, rec: &FileRecord{Path: path, Language: p.Language()}}}
	v.visit(root, scope{})
	v.rec.Errors = syntaxErrors(root)
	return v.rec, nil
}

// cppVisitor extends the C visitor with classes, namespaces and methods.
type cppVisitor struct {
	cVisitor
}

var cppTypeKinds = set("class_specifier", "struct_specifier", "union_specifier")

func (v *cppVisitor) visit(n *sitter.Node, sc scope) {
	switch n.Kind() {
	case "function_definition":
		v.function(n, sc)
		return
	case "class_specifier":
		if n.ChildByFieldName("name") != nil && n.ChildByFieldName("body") != nil {
			v.class(n, sc)
			return
		}
	case "struct_specifier", "union_specifier":
		if n.ChildByFieldName("name") != nil && n.ChildByFieldName("body") != nil {
			v.aggregate(n, fieldText(n, "name", v.content), n)
			v.members(n, sc)
			return
		}
	case "enum_specifier":
		if n.ChildByFieldName("name") != nil && n.ChildByFieldName("body") != nil {
			v.aggregate(n, fieldText(n, "name", v.content), n)
		}
	case "type_definition":
		v.typedef(n)
		return
	case "alias_declaration":
		v.rec.Extensions = append(v.rec.Extensions, Extension{
			Kind:      KindTypedef,
			Name:      fieldText(n, "name", v.content),
			StartLine: startLine(n),
			EndLine:   endLine(n),
			Source:    text(n, v.content),
		})
		return
	case "preproc_include", "preproc_def", "preproc_function_def":
		v.cVisitor.visit(n, sc)
		return
	case "call_expression":
		v.call(n, sc)
	case "new_expression":
		if t := n.ChildByFieldName("type"); t != nil {
			name := lastSegment(cppTypeName(t, v.content), "::")
			v.rec.Calls = append(v.rec.Calls, Call{
				Name: name, FullName: name, Line: startLine(n), Caller: sc.fn, CallerLine: sc.fnLine, Class: sc.class,
			})
		}
	case "declaration":
		v.declaration(n, sc)
	}
	for _, c := range children(n) {
		v.visit(c, sc)
	}
}

// members visits the body of an aggregate with the aggregate as class.
func (v *cppVisitor) members(n *sitter.Node, sc scope) {
	inner := scope{fn: sc.fn, fnLine: sc.fnLine, class: fieldText(n, "name", v.content)}
	for _, c := range children(n.ChildByFieldName("body")) {
		v.visit(c, inner)
	}
}

// cppClassOf names the class of a method: the enclosing class body for
// inline definitions, the scope of a qualified name for out-of-line ones.
func cppClassOf(fn *sitter.Node, content []byte) string {
	if body := fn.Parent(); body != nil && body.Kind() == "field_declaration_list" {
		if cls := body.Parent(); cls != nil && cppTypeKinds[cls.Kind()] {
			return fieldText(cls, "name", content)
		}
	}
	fd := cppFunctionDeclarator(fn.ChildByFieldName("declarator"))
	if fd == nil {
		return ""
	}
	if q := fd.ChildByFieldName("declarator"); q != nil && q.Kind() == "qualified_identifier" {
		return lastSegment(fieldText(q, "scope", content), "::")
	}
	return ""
}

// cppFunctionDeclarator digs the function_declarator out of pointer and
// reference declarators.
func cppFunctionDeclarator(d *sitter.Node) *sitter.Node {
	for d != nil {
		switch d.Kind() {
		case "function_declarator":
			return d
		case "pointer_declarator", "parenthesized_declarator":
			d = d.ChildByFieldName("declarator")
		case "reference_declarator":
			d = d.NamedChild(0)
		default:
			return nil
		}
	}
	return nil
}

// cppDeclaredName is cDeclaredName for the C++ declarator forms.
func cppDeclaredName(d *sitter.Node, content []byte) string {
	for d != nil {
		switch d.Kind() {
		case "identifier", "field_identifier", "type_identifier", "destructor_name", "operator_name":
			return text(d, content)
		case "qualified_identifier":
			d = d.ChildByFieldName("name")
		case "reference_declarator":
			d = d.NamedChild(0)
		default:
			d = d.ChildByFieldName("declarator")
		}
	}
	return ""
}

func cppTypeName(t *sitter.Node, content []byte) string {
	if t.Kind() == "template_type" {
		return fieldText(t, "name", content)
	}
	return text(t, content)
}

var cppDecisions = decisions{
	kinds: set("if_statement", "for_statement", "for_range_loop", "while_statement", "do_statement",
		"case_statement", "conditional_expression", "catch_clause"),
	binary:    set("binary_expression"),
	operators: set("&&", "||", "and", "or"),
}

func (v *cppVisitor) function(n *sitter.Node, sc scope) {
	fd := cppFunctionDeclarator(n.ChildByFieldName("declarator"))
	if fd == nil {
		return
	}
	f := Function{
		Name:       cppDeclaredName(fd.ChildByFieldName("declarator"), v.content),
		StartLine:  startLine(n),
		EndLine:    endLine(n),
		Source:     text(n, v.content),
		Class:      cppClassOf(n, v.content),
		Parent:     sc.fn,
		Docstring:  leadingComment(cppCommentAnchor(n), v.content),
		Complexity: complexity(n, cppDecisions),
	}
	for _, p := range namedChildren(fd.ChildByFieldName("parameters")) {
		switch p.Kind() {
		case "parameter_declaration", "optional_parameter_declaration", "variadic_parameter_declaration":
			if arg := cppDeclaredName(p.ChildByFieldName("declarator"), v.content); arg != "" {
				f.Args = append(f.Args, arg)
			}
		}
	}
	v.rec.Functions = append(v.rec.Functions, f)

	inner := scope{fn: f.Name, fnLine: f.StartLine, class: f.Class}
	for _, c := range children(n.ChildByFieldName("body")) {
		v.visit(c, inner)
	}
}

func (v *cppVisitor) class(n *sitter.Node, sc scope) {
	name := fieldText(n, "name", v.content)
	c := Class{
		Name:      name,
		StartLine: startLine(n),
		EndLine:   endLine(n),
		Source:    text(n, v.content),
		Docstring: leadingComment(cppCommentAnchor(n), v.content),
	}
	for _, ch := range namedChildren(n) {
		if ch.Kind() != "base_class_clause" {
			continue
		}
		for _, b := range namedChildren(ch) {
			if b.Kind() == "access_specifier" {
				continue
			}
			c.Bases = append(c.Bases, cppTypeName(b, v.content))
		}
	}
	// a pure virtual member, "virtual void f() = 0;", makes the class abstract
	for _, m := range namedChildren(n.ChildByFieldName("body")) {
		if m.Kind() == "field_declaration" && cppPureVirtual(m, v.content) {
			c.Abstract = true
		}
	}
	v.rec.Classes = append(v.rec.Classes, c)
	v.members(n, sc)
}

func cppPureVirtual(m *sitter.Node, content []byte) bool {
	if cppFunctionDeclarator(m.ChildByFieldName("declarator")) == nil {
		return false
	}
	if fieldText(m, "default_value", content) == "0" {
		return true
	}
	for _, c := range namedChildren(m) {
		if c.Kind() == "pure_virtual_clause" {
			return true
		}
	}
	return false
}

// cppCommentAnchor is the declaration a doc comment would precede.
func cppCommentAnchor(n *sitter.Node) *sitter.Node {
	for p := n.Parent(); p != nil; p = p.Parent() {
		switch p.Kind() {
		case "declaration", "template_declaration":
			n = p
		default:
			return n
		}
	}
	return n
}

func (v *cppVisitor) call(n *sitter.Node, sc scope) {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return
	}
	if fn.Kind() == "template_function" {
		fn = fn.ChildByFieldName("name")
		if fn == nil {
			return
		}
	}
	c := Call{Line: startLine(n), Caller: sc.fn, CallerLine: sc.fnLine, Class: sc.class}
	switch fn.Kind() {
	case "identifier":
		c.Name = text(fn, v.content)
		c.FullName = c.Name
	case "field_expression":
		c.Name = cppDeclaredName(fn.ChildByFieldName("field"), v.content)
		c.FullName = text(fn, v.content)
	case "qualified_identifier":
		c.Name = cppDeclaredName(fn, v.content)
		c.FullName = text(fn, v.content)
	default:
		return
	}
	if c.Name == "" {
		return
	}
	v.rec.Calls = append(v.rec.Calls, c)
}

func (v *cppVisitor) declaration(n *sitter.Node, sc scope) {
	typ := fieldText(n, "type", v.content)
	for _, d := range namedChildren(n) {
		var name, val string
		switch d.Kind() {
		case "identifier":
			name = text(d, v.content)
		case "init_declarator":
			name = cppDeclaredName(d.ChildByFieldName("declarator"), v.content)
			val = truncate(fieldText(d, "value", v.content), 200)
		case "pointer_declarator", "array_declarator", "reference_declarator":
			name = cppDeclaredName(d, v.content)
		default:
			continue
		}
		if name == "" {
			continue
		}
		v.rec.Variables = append(v.rec.Variables, Variable{
			Name: name, Line: startLine(n), Scope: sc.fn, ScopeLine: sc.fnLine, Class: sc.class, TypeHint: typ, Value: strings.TrimSpace(val),
		})
	}
}
