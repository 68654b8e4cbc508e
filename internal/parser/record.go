package parser

// Kind classifies a named definition.
type Kind string

const (
	KindFunction  Kind = "function"
	KindClass     Kind = "class"
	KindInterface Kind = "interface"
	KindStruct    Kind = "struct"
	KindEnum      Kind = "enum"
	KindUnion     Kind = "union"
	KindMacro     Kind = "macro"
	KindTypedef   Kind = "typedef"
)

// Function is a function or method definition.
type Function struct {
	Name       string
	StartLine  int
	EndLine    int
	Source     string
	Args       []string
	Decorators []string
	// Class is the enclosing class (or Go receiver type), empty for free functions.
	Class string
	// Parent is the enclosing function for nested definitions.
	Parent     string
	Docstring  string
	Complexity int
}

// Class is a class-like definition of an object-oriented language.
type Class struct {
	Name       string
	StartLine  int
	EndLine    int
	Source     string
	Bases      []string
	Implements []string
	Decorators []string
	Abstract   bool
	Docstring  string
}

// Variable is a variable, constant or parameter-free binding.
type Variable struct {
	Name string
	Line int
	// Scope is the enclosing function name; empty at module scope.
	Scope     string
	ScopeLine int
	Class     string
	TypeHint  string
	Value     string
}

// Import is one imported symbol or module.
type Import struct {
	// Name is the imported symbol, or the module itself for whole-module imports.
	Name   string
	Module string
	Alias  string
	Line   int
}

// Call is a call site.
type Call struct {
	Name     string
	FullName string
	Line     int
	// Caller is the enclosing function; empty for module-scope calls.
	Caller     string
	CallerLine int
	Class      string
}

// Extension is a language-specific definition kind such as a Go interface
// or a C union.
type Extension struct {
	Kind      Kind
	Name      string
	StartLine int
	EndLine   int
	Source    string
	Bases     []string
}

// FileRecord is everything parsed out of one source file.
type FileRecord struct {
	Path       string
	Language   string
	Functions  []Function
	Classes    []Class
	Variables  []Variable
	Imports    []Import
	Calls      []Call
	Extensions []Extension
	// Errors are non-fatal syntax problems found while parsing.
	Errors []string
}

// Definition is a named definition found by the lightweight first pass.
type Definition struct {
	Name      string
	Kind      Kind
	Line      int
	Container string
}
