package parser

import (
	"fmt"
	"strings"
	"sync"
	"unsafe"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// grammar couples a tree-sitter language with its compiled definition query.
// Parsers are created per call since a sitter.Parser is not safe for
// concurrent use; the query is shared.
type grammar struct {
	name string
	lang *sitter.Language

	once     sync.Once
	query    *sitter.Query
	queryErr error
}

func newGrammar(name string, ptr unsafe.Pointer) *grammar {
	return &grammar{name: name, lang: sitter.NewLanguage(ptr)}
}

func (g *grammar) parse(path string, content []byte) (*sitter.Tree, error) {
	p := sitter.NewParser()
	defer p.Close()

	if err := p.SetLanguage(g.lang); err != nil {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("%w: load %s grammar: %v", ErrParseFailed, g.name, err)}
	}
	tree := p.Parse(content, nil)
	if tree == nil {
		return nil, &ParseError{Path: path, Err: ErrParseFailed}
	}
	return tree, nil
}

func (g *grammar) definitionQuery() (*sitter.Query, error) {
	g.once.Do(func() {
		src, ok := Queries[g.name]
		if !ok {
			g.queryErr = fmt.Errorf("no definition query for %s", g.name)
			return
		}
		q, qerr := sitter.NewQuery(g.lang, src)
		if qerr != nil {
			g.queryErr = fmt.Errorf("compile %s query: %s", g.name, qerr.Error())
			return
		}
		g.query = q
	})
	return g.query, g.queryErr
}

// definitions runs the definition query over content. container names the
// enclosing class (or receiver) of a matched definition node.
func (g *grammar) definitions(path string, content []byte, container func(def *sitter.Node) string) ([]Definition, error) {
	q, err := g.definitionQuery()
	if err != nil {
		return nil, err
	}
	tree, err := g.parse(path, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()

	names := q.CaptureNames()
	matches := qc.Matches(q, tree.RootNode(), content)

	var defs []Definition
	seen := map[uintptr]bool{}
	for {
		m := matches.Next()
		if m == nil {
			break
		}
		var (
			name string
			kind Kind
			def  *sitter.Node
		)
		for _, c := range m.Captures {
			node := c.Node
			switch capture := names[c.Index]; capture {
			case "name":
				name = node.Utf8Text(content)
			default:
				kind = Kind(capture)
				def = &node
			}
		}
		if name == "" || def == nil || seen[def.Id()] {
			continue
		}
		seen[def.Id()] = true
		d := Definition{Name: name, Kind: kind, Line: startLine(def)}
		if container != nil {
			d.Container = container(def)
		}
		defs = append(defs, d)
	}
	return defs, nil
}

func startLine(n *sitter.Node) int { return int(n.StartPosition().Row) + 1 }

func endLine(n *sitter.Node) int { return int(n.EndPosition().Row) + 1 }

func text(n *sitter.Node, content []byte) string {
	if n == nil {
		return ""
	}
	return n.Utf8Text(content)
}

func fieldText(n *sitter.Node, field string, content []byte) string {
	if n == nil {
		return ""
	}
	return text(n.ChildByFieldName(field), content)
}

func children(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	out := make([]*sitter.Node, 0, n.ChildCount())
	for i := uint(0); i < n.ChildCount(); i++ {
		if c := n.Child(i); c != nil {
			out = append(out, c)
		}
	}
	return out
}

func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := uint(0); i < n.NamedChildCount(); i++ {
		if c := n.NamedChild(i); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// walk visits n and its descendants in source order. Returning false from
// visit skips the node's children.
func walk(n *sitter.Node, visit func(*sitter.Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	for _, c := range children(n) {
		walk(c, visit)
	}
}

// ancestor returns the nearest enclosing node of one of the given kinds.
func ancestor(n *sitter.Node, kinds ...string) *sitter.Node {
	for p := n.Parent(); p != nil; p = p.Parent() {
		for _, k := range kinds {
			if p.Kind() == k {
				return p
			}
		}
	}
	return nil
}

// syntaxErrors lists ERROR and missing nodes of a tree.
func syntaxErrors(root *sitter.Node) []string {
	if root == nil || !root.HasError() {
		return nil
	}
	var out []string
	walk(root, func(n *sitter.Node) bool {
		switch {
		case n.IsError():
			out = append(out, fmt.Sprintf("line %d: syntax error", startLine(n)))
			return false
		case n.IsMissing():
			out = append(out, fmt.Sprintf("line %d: missing %s", startLine(n), n.Kind()))
			return false
		}
		return n.HasError()
	})
	return out
}

// leadingComment joins the comment lines directly above n.
func leadingComment(n *sitter.Node, content []byte) string {
	var lines []string
	line := startLine(n)
	for p := n.PrevSibling(); p != nil && isComment(p) && endLine(p) >= line-1; p = p.PrevSibling() {
		lines = append([]string{cleanComment(text(p, content))}, lines...)
		line = startLine(p)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// isComment matches "comment" and the line_comment and block_comment of
// grammars that split them.
func isComment(n *sitter.Node) bool {
	return strings.HasSuffix(n.Kind(), "comment")
}

func cleanComment(c string) string {
	c = strings.TrimSpace(c)
	switch {
	case strings.HasPrefix(c, "//"):
		return strings.TrimSpace(strings.TrimPrefix(c, "//"))
	case strings.HasPrefix(c, "#"):
		return strings.TrimSpace(strings.TrimPrefix(c, "#"))
	case strings.HasPrefix(c, "/*"):
		c = strings.TrimSuffix(strings.TrimPrefix(c, "/*"), "*/")
		var out []string
		for _, l := range strings.Split(c, "\n") {
			l = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), "*"))
			if l != "" {
				out = append(out, l)
			}
		}
		return strings.Join(out, "\n")
	}
	return c
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{`"""`, `'''`, `"`, `'`, "`"} {
		if len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return s[len(q) : len(s)-len(q)]
		}
	}
	return s
}

func lastSegment(name, sep string) string {
	if i := strings.LastIndex(name, sep); i >= 0 {
		return name[i+len(sep):]
	}
	return name
}
