// Package resolver maps imports and call sites onto the definitions of a repository.
package resolver

import (
	"path/filepath"
	"sort"

	"codegraph/internal/graph"
	"codegraph/internal/parser"
)

// Definition is a named definition known to the symbol table.
type Definition struct {
	Name      string
	Label     graph.Label
	File      string
	Line      int
	Container string
}

// Key is the graph identity of the definition.
func (d Definition) Key() string { return graph.EntityKey(d.Label, d.Name, d.File, d.Line) }

// LabelFor maps a parser kind onto a graph label. Kinds without a label
// (typedefs) report false.
func LabelFor(k parser.Kind) (graph.Label, bool) {
	switch k {
	case parser.KindFunction:
		return graph.LabelFunction, true
	case parser.KindClass:
		return graph.LabelClass, true
	case parser.KindInterface:
		return graph.LabelInterface, true
	case parser.KindStruct:
		return graph.LabelStruct, true
	case parser.KindEnum:
		return graph.LabelEnum, true
	case parser.KindUnion:
		return graph.LabelUnion, true
	case parser.KindMacro:
		return graph.LabelMacro, true
	}
	return "", false
}

// SymbolTable indexes the definitions and files of one repository. A table
// is filled once and then only read; concurrent reads are safe.
type SymbolTable struct {
	byName map[string][]Definition
	byFile map[string][]Definition
	files  map[string]bool
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		byName: make(map[string][]Definition),
		byFile: make(map[string][]Definition),
		files:  make(map[string]bool),
	}
}

// FromGraph rebuilds a table from definitions already in the store.
func FromGraph(defs []graph.Definition, files []string) *SymbolTable {
	t := NewSymbolTable()
	for _, f := range files {
		t.AddFile(f)
	}
	for _, d := range defs {
		t.Add(Definition{Name: d.Name, Label: d.Label, File: d.FilePath, Line: d.StartLine, Container: d.Container})
	}
	return t
}

// FromParser converts first-pass definitions of path, dropping kinds
// without a graph label.
func FromParser(path string, defs []parser.Definition) []Definition {
	out := make([]Definition, 0, len(defs))
	for _, d := range defs {
		label, ok := LabelFor(d.Kind)
		if !ok {
			continue
		}
		out = append(out, Definition{Name: d.Name, Label: label, File: path, Line: d.Line, Container: d.Container})
	}
	return out
}

// AddFile records that path belongs to the repository.
func (t *SymbolTable) AddFile(path string) {
	t.files[filepath.Clean(path)] = true
}

func (t *SymbolTable) Add(d Definition) {
	d.File = filepath.Clean(d.File)
	t.files[d.File] = true
	t.byName[d.Name] = append(t.byName[d.Name], d)
	t.byFile[d.File] = append(t.byFile[d.File], d)
}

// ReplaceFile swaps the definitions of one file for defs.
func (t *SymbolTable) ReplaceFile(path string, defs []Definition) {
	t.RemoveFile(path)
	t.AddFile(path)
	for _, d := range defs {
		d.File = path
		t.Add(d)
	}
}

// RemoveFile forgets a file and its definitions.
func (t *SymbolTable) RemoveFile(path string) {
	path = filepath.Clean(path)
	for _, d := range t.byFile[path] {
		kept := t.byName[d.Name][:0]
		for _, other := range t.byName[d.Name] {
			if other.File != path {
				kept = append(kept, other)
			}
		}
		if len(kept) == 0 {
			delete(t.byName, d.Name)
		} else {
			t.byName[d.Name] = kept
		}
	}
	delete(t.byFile, path)
	delete(t.files, path)
}

// Lookup returns every definition named name.
func (t *SymbolTable) Lookup(name string) []Definition { return t.byName[name] }

// InFile returns the definitions named name within one file.
func (t *SymbolTable) InFile(path, name string) []Definition {
	var out []Definition
	for _, d := range t.byFile[filepath.Clean(path)] {
		if d.Name == name {
			out = append(out, d)
		}
	}
	return out
}

func (t *SymbolTable) HasFile(path string) bool { return t.files[filepath.Clean(path)] }

// Files lists the repository files in sorted order.
func (t *SymbolTable) Files() []string {
	out := make([]string, 0, len(t.files))
	for f := range t.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Len is the number of definitions in the table.
func (t *SymbolTable) Len() int {
	n := 0
	for _, defs := range t.byFile {
		n += len(defs)
	}
	return n
}
