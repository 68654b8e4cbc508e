// Package pkgresolve locates the installed source of a third-party package so
// it can be indexed as a dependency repository.
package pkgresolve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

var (
	ErrPackageNotFound     = errors.New("package not found")
	ErrUnsupportedLanguage = errors.New("unsupported package language")
)

// CommandFunc runs an external program and returns its trimmed stdout.
type CommandFunc func(ctx context.Context, dir, name string, args ...string) (string, error)

const commandTimeout = 10 * time.Second

// execCommand is the CommandFunc used outside tests.
func execCommand(ctx context.Context, dir, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// pythonLocate prints the file or package directory of the module named by argv[1].
const pythonLocate = `import importlib, sys
m = importlib.import_module(sys.argv[1])
f = getattr(m, "__file__", None)
if f:
    print(f)
else:
    print(list(m.__path__)[0])
`

var defaultIncludeDirs = []string{
	"/usr/include",
	"/usr/local/include",
	"/opt/homebrew/include",
	"/opt/local/include",
}

// Resolver maps (package, language) pairs to a path on disk.
type Resolver struct {
	fs          afero.Fs
	run         CommandFunc
	workDir     string
	includeDirs []string
	log         *slog.Logger
}

type Option func(*Resolver)

// WithCommand replaces the external command runner.
func WithCommand(run CommandFunc) Option {
	return func(r *Resolver) { r.run = run }
}

// WithIncludeDirs replaces the directories searched for C headers.
func WithIncludeDirs(dirs ...string) Option {
	return func(r *Resolver) { r.includeDirs = dirs }
}

// New returns a Resolver that looks for project-local installs under workDir.
func New(fsys afero.Fs, workDir string, opts ...Option) *Resolver {
	r := &Resolver{
		fs:      fsys,
		run:     execCommand,
		workDir: workDir,
		log:     slog.Default().With("component", "pkgresolve"),
	}
	if home, err := os.UserHomeDir(); err == nil {
		r.includeDirs = append(append([]string{}, defaultIncludeDirs...), filepath.Join(home, ".local", "include"))
	} else {
		r.includeDirs = defaultIncludeDirs
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Languages lists the languages Locate accepts.
func Languages() []string {
	return []string{"python", "javascript", "typescript", "go", "c", "cpp"}
}

// Locate returns the absolute path of the installed package. The path is a
// directory except for single-file modules and lone C headers.
func (r *Resolver) Locate(ctx context.Context, name, language string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty package name", ErrPackageNotFound)
	}

	var (
		path string
		err  error
	)
	switch strings.ToLower(language) {
	case "python":
		path, err = r.python(ctx, name)
	case "javascript", "typescript":
		path, err = r.npm(ctx, name)
	case "go":
		path, err = r.golang(ctx, name)
	case "c":
		path, err = r.c(ctx, name, ".h")
	case "cpp", "c++":
		path, err = r.c(ctx, name, ".hpp", ".h")
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
	if err != nil {
		return "", err
	}
	if path == "" || !r.exists(path) {
		return "", fmt.Errorf("%w: %s (%s)", ErrPackageNotFound, name, language)
	}
	r.log.Debug("package located", "package", name, "language", language, "path", path)
	return path, nil
}

func (r *Resolver) exists(path string) bool {
	_, err := r.fs.Stat(path)
	return err == nil
}

func (r *Resolver) python(ctx context.Context, name string) (string, error) {
	var out string
	var err error
	for _, bin := range []string{"python3", "python"} {
		if out, err = r.run(ctx, r.workDir, bin, "-c", pythonLocate, name); err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrPackageNotFound, name, err)
	}
	// packages resolve to their directory, single-file modules to the file itself
	if filepath.Base(out) == "__init__.py" {
		return filepath.Dir(out), nil
	}
	leaf := name[strings.LastIndex(name, ".")+1:]
	if strings.TrimSuffix(filepath.Base(out), filepath.Ext(out)) == leaf {
		return out, nil
	}
	return filepath.Dir(out), nil
}

func (r *Resolver) npm(ctx context.Context, name string) (string, error) {
	local := filepath.Join(r.workDir, "node_modules", filepath.FromSlash(name))
	if r.exists(local) {
		return local, nil
	}
	root, err := r.run(ctx, r.workDir, "npm", "root", "-g")
	if err != nil {
		r.log.Debug("npm root failed", "error", err)
		return "", nil
	}
	return filepath.Join(root, filepath.FromSlash(name)), nil
}

func (r *Resolver) golang(ctx context.Context, name string) (string, error) {
	dir, err := r.run(ctx, r.workDir, "go", "list", "-m", "-f", "{{.Dir}}", name)
	if err == nil && dir != "" {
		return dir, nil
	}
	// packages inside a module are listed with go list, not go list -m
	dir, err = r.run(ctx, r.workDir, "go", "list", "-f", "{{.Dir}}", name)
	if err != nil {
		r.log.Debug("go list failed", "package", name, "error", err)
		return "", nil
	}
	return dir, nil
}

func (r *Resolver) c(ctx context.Context, name string, headerExts ...string) (string, error) {
	if inc, err := r.run(ctx, r.workDir, "pkg-config", "--variable=includedir", name); err == nil && inc != "" {
		if dir := filepath.Join(inc, name); r.exists(dir) {
			return dir, nil
		}
		if r.exists(inc) {
			return inc, nil
		}
	}
	for _, base := range r.includeDirs {
		if dir := filepath.Join(base, name); r.isDir(dir) {
			return dir, nil
		}
		for _, ext := range headerExts {
			if header := filepath.Join(base, name+ext); r.exists(header) {
				return header, nil
			}
		}
	}
	return filepath.Join(r.workDir, name), nil
}

func (r *Resolver) isDir(path string) bool {
	ok, err := afero.IsDir(r.fs, path)
	return err == nil && ok
}
