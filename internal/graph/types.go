package graph

import (
	"path/filepath"
	"time"

	"codegraph/util"
)

// Label is the kind of a node in the code graph.
type Label string

const (
	LabelRepository Label = "Repository"
	LabelFile       Label = "File"
	LabelModule     Label = "Module"
	LabelClass      Label = "Class"
	LabelFunction   Label = "Function"
	LabelVariable   Label = "Variable"
	LabelInterface  Label = "Interface"
	LabelStruct     Label = "Struct"
	LabelEnum       Label = "Enum"
	LabelUnion      Label = "Union"
	LabelMacro      Label = "Macro"
	// LabelExternal marks a placeholder for a call target that could not be resolved.
	LabelExternal Label = "External"
)

// EntityLabels are the labels wholly owned by a File.
var EntityLabels = []Label{
	LabelClass, LabelFunction, LabelVariable, LabelInterface,
	LabelStruct, LabelEnum, LabelUnion, LabelMacro,
}

// IsTypeLabel reports whether nodes with this label can be INHERITS/IMPLEMENTS targets.
func IsTypeLabel(l Label) bool {
	return l == LabelClass || l == LabelInterface || l == LabelStruct
}

// RelType is the type of a directed relationship.
type RelType string

const (
	RelContains    RelType = "CONTAINS"
	RelCalls       RelType = "CALLS"
	RelImports     RelType = "IMPORTS"
	RelInherits    RelType = "INHERITS"
	RelImplements  RelType = "IMPLEMENTS"
	RelDefinedIn   RelType = "DEFINED_IN"
	RelHasArgument RelType = "HAS_ARGUMENT"
	RelDeclares    RelType = "DECLARES"
)

// Direction selects which end of a relationship a traversal follows.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

// Props is a node or relationship property map.
type Props map[string]any

// Node is a vertex of the code graph.
type Node struct {
	ID         int64    `json:"id"`
	Label      Label    `json:"label"`
	Key        string   `json:"-"`
	Name       string   `json:"name"`
	FilePath   string   `json:"file_path,omitempty"`
	RepoPath   string   `json:"repo_path,omitempty"`
	StartLine  int      `json:"line_number,omitempty"`
	EndLine    int      `json:"end_line,omitempty"`
	Language   string   `json:"lang,omitempty"`
	Source     string   `json:"source,omitempty"`
	Complexity int      `json:"cyclomatic_complexity,omitempty"`
	Decorators []string `json:"decorators,omitempty"`
	Props      Props    `json:"props,omitempty"`
}

// Edge is a directed relationship between two stored nodes.
type Edge struct {
	Src   int64   `json:"src"`
	Dst   int64   `json:"dst"`
	Type  RelType `json:"type"`
	Props Props   `json:"props,omitempty"`
}

// Neighbor is a node reached over one relationship.
type Neighbor struct {
	From int64 `json:"from"`
	Node Node  `json:"node"`
	Edge Edge  `json:"edge"`
}

// Repository is an indexed source tree.
type Repository struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	IsDependency bool      `json:"is_dependency"`
	IndexedAt    time.Time `json:"indexed_at"`
}

// Definition is a named definition as recorded in the store, used to
// rebuild a symbol table without re-parsing every file.
type Definition struct {
	Name      string
	Label     Label
	FilePath  string
	StartLine int
	Container string
}

// Stats summarises the contents of the store or of one repository.
type Stats struct {
	Nodes map[Label]int   `json:"nodes"`
	Edges map[RelType]int `json:"edges"`
}

// Identity keys. Each label has its own identity tuple; keys are only
// compared within a label.

func RepositoryKey(path string) string { return util.NodeKey(LabelRepository, filepath.Clean(path)) }

func FileKey(path string) string { return util.NodeKey(LabelFile, filepath.Clean(path)) }

// ModuleKey identifies an import target that did not match any repository file.
func ModuleKey(name string) string { return util.NodeKey(LabelModule, name) }

// EntityKey identifies classes, functions and the language extension kinds.
func EntityKey(label Label, name, file string, line int) string {
	return util.NodeKey(label, name, file, line)
}

// VariableKey identifies a variable within its enclosing scope.
func VariableKey(name, file string, line int, scope string) string {
	return util.NodeKey(LabelVariable, name, file, line, scope)
}

func ExternalKey(name string) string { return util.NodeKey(LabelExternal, name) }
