package builder

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	ignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"
)

// IgnoreFileName is the project-level ignore file, read alongside .gitignore.
const IgnoreFileName = ".codegraphignore"

// DefaultExcludes are always skipped. Patterns are matched against the
// slash-separated path relative to the root, with a leading slash.
var DefaultExcludes = []string{
	"**/.git/**",
	"**/.hg/**",
	"**/.svn/**",
	"**/node_modules/**",
	"**/__pycache__/**",
	"**/.venv/**",
	"**/venv/**",
	"**/.tox/**",
	"**/.mypy_cache/**",
	"**/site-packages/**",
	"**/vendor/**",
	"**/dist/**",
	"**/build/**",
	"**/.idea/**",
	"**/.vscode/**",
	"**/*.min.js",
}

// ErrInvalidPattern is returned when an exclude glob does not compile.
var ErrInvalidPattern = errors.New("invalid exclude pattern")

// Ignore decides which paths under a root are skipped.
type Ignore struct {
	root  string
	globs []glob.Glob
	git   *ignore.GitIgnore
}

// LoadIgnore compiles the default excludes, extra globs and the root's
// .gitignore and .codegraphignore files.
func LoadIgnore(fsys afero.Fs, root string, extra []string) (*Ignore, error) {
	ig := &Ignore{root: filepath.Clean(root)}
	for _, pattern := range append(append([]string{}, DefaultExcludes...), extra...) {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrInvalidPattern, pattern, err)
		}
		ig.globs = append(ig.globs, g)
	}

	var lines []string
	for _, name := range []string{".gitignore", IgnoreFileName} {
		data, err := afero.ReadFile(fsys, filepath.Join(ig.root, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		lines = append(lines, strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")...)
	}
	if len(lines) > 0 {
		ig.git = ignore.CompileIgnoreLines(lines...)
	}
	return ig, nil
}

// Match reports whether path (absolute, under the root) is ignored.
func (ig *Ignore) Match(path string, isDir bool) bool {
	rel, err := filepath.Rel(ig.root, path)
	if err != nil || rel == "." {
		return false
	}
	if strings.HasPrefix(rel, "..") {
		return true
	}
	rel = filepath.ToSlash(rel)
	candidate := "/" + rel
	if isDir {
		candidate += "/"
	}
	for _, g := range ig.globs {
		if g.Match(candidate) {
			return true
		}
	}
	if ig.git != nil {
		if isDir && ig.git.MatchesPath(rel+"/") {
			return true
		}
		if ig.git.MatchesPath(rel) {
			return true
		}
	}
	return false
}
