// Package parser turns source files into graph records using tree-sitter.
package parser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUnsupportedLanguage is returned when no parser handles a file extension.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrParseFailed is the cause of a ParseError when tree-sitter produced no tree.
	ErrParseFailed = errors.New("parse failed")
)

// ParseError reports a file that could not be parsed. It never aborts a batch.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.Path, e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// LanguageParser extracts graph records from one language.
type LanguageParser interface {
	// Language returns the language identifier, e.g. "python".
	Language() string
	// Extensions returns the file extensions handled, including the dot.
	Extensions() []string
	// Parse produces the full record for a file.
	Parse(ctx context.Context, path string, content []byte) (*FileRecord, error)
	// Definitions is the cheap first-pass extraction of named definitions.
	Definitions(path string, content []byte) ([]Definition, error)
	// Imports extracts only the import statements of a file.
	Imports(path string, content []byte) ([]Import, error)
}

var (
	_ LanguageParser = (*GoParser)(nil)
	_ LanguageParser = (*PythonParser)(nil)
	_ LanguageParser = (*JavaScriptParser)(nil)
	_ LanguageParser = (*CParser)(nil)
	_ LanguageParser = (*CppParser)(nil)
	_ LanguageParser = (*JavaParser)(nil)
)

// Registry finds the parser for a file by extension. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	byLanguage  map[string]LanguageParser
	byExtension map[string]LanguageParser
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byLanguage:  make(map[string]LanguageParser),
		byExtension: make(map[string]LanguageParser),
	}
}

// DefaultRegistry returns a registry with every built-in language registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewGoParser())
	r.Register(NewPythonParser())
	r.Register(NewJavaScriptParser())
	r.Register(NewTypeScriptParser())
	r.Register(NewTSXParser())
	r.Register(NewCParser())
	r.Register(NewCppParser())
	r.Register(NewJavaParser())
	return r
}

// Register adds p under its language and extensions, replacing earlier entries.
func (r *Registry) Register(p LanguageParser) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byLanguage[p.Language()] = p
	for _, ext := range p.Extensions() {
		r.byExtension[strings.ToLower(ext)] = p
	}
}

// ForPath returns the parser for path's extension.
func (r *Registry) ForPath(path string) (LanguageParser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byExtension[strings.ToLower(filepath.Ext(path))]
	return p, ok
}

// ForLanguage returns the parser registered under a language name.
func (r *Registry) ForLanguage(lang string) (LanguageParser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byLanguage[lang]
	return p, ok
}

// Supported reports whether some registered parser handles path.
func (r *Registry) Supported(path string) bool {
	_, ok := r.ForPath(path)
	return ok
}

// Languages lists the registered language names in sorted order.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byLanguage))
	for l := range r.byLanguage {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Parse parses path with the matching parser.
func (r *Registry) Parse(ctx context.Context, path string, content []byte) (*FileRecord, error) {
	p, ok := r.ForPath(path)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedLanguage)
	}
	return p.Parse(ctx, path, content)
}
