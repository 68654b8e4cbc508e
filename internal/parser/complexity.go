package parser

import sitter "github.com/tree-sitter/go-tree-sitter"

// decisions describes the decision points of one grammar.
type decisions struct {
	// kinds are node kinds that each add one path.
	kinds map[string]bool
	// binary are node kinds whose operator field decides, e.g. binary_expression.
	binary map[string]bool
	// operators are the short-circuit operators counted inside binary kinds.
	operators map[string]bool
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

var (
	goDecisions = decisions{
		kinds:     set("if_statement", "for_statement", "expression_case", "type_case", "communication_case"),
		binary:    set("binary_expression"),
		operators: set("&&", "||"),
	}
	pythonDecisions = decisions{
		kinds: set("if_statement", "elif_clause", "for_statement", "while_statement", "except_clause",
			"conditional_expression", "boolean_operator", "case_clause", "for_in_clause", "if_clause"),
	}
	jsDecisions = decisions{
		kinds: set("if_statement", "for_statement", "for_in_statement", "while_statement", "do_statement",
			"switch_case", "catch_clause", "ternary_expression"),
		binary:    set("binary_expression"),
		operators: set("&&", "||", "??"),
	}
	cDecisions = decisions{
		kinds: set("if_statement", "for_statement", "while_statement", "do_statement", "case_statement",
			"conditional_expression"),
		binary:    set("binary_expression"),
		operators: set("&&", "||"),
	}
)

// complexity returns 1 plus the decision points in fn's sub-tree.
func complexity(fn *sitter.Node, d decisions) int {
	count := 1
	walk(fn, func(n *sitter.Node) bool {
		k := n.Kind()
		if d.kinds[k] {
			count++
		}
		if d.binary[k] {
			if op := n.ChildByFieldName("operator"); op != nil && d.operators[op.Kind()] {
				count++
			}
		}
		return true
	})
	return count
}
