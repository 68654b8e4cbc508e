package resolver

import (
	"path"
	"path/filepath"
	"sort"
	"strings"
)

type moduleStyle int

const (
	styleUnknown moduleStyle = iota
	stylePython
	styleJS
	styleGo
	styleC
	styleJava
)

func style(file string) moduleStyle {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".py", ".pyi":
		return stylePython
	case ".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx", ".mts", ".cts":
		return styleJS
	case ".go":
		return styleGo
	case ".c", ".h", ".cpp", ".cc", ".cxx", ".c++", ".hpp", ".hh", ".hxx":
		return styleC
	case ".java":
		return styleJava
	}
	return styleUnknown
}

var jsSuffixes = []string{"", ".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs",
	"/index.ts", "/index.tsx", "/index.js", "/index.jsx"}

func joinModule(mod, name string) string {
	if mod == "" || strings.HasSuffix(mod, ".") {
		return mod + name
	}
	return mod + "." + name
}

// moduleFiles returns the repository files an import of module from file
// from refers to, following the module conventions of from's language.
func (r *Resolver) moduleFiles(from, module string) []string {
	if module == "" {
		return nil
	}
	switch style(from) {
	case stylePython:
		return r.pythonModule(from, module)
	case styleJS:
		return r.jsModule(from, module)
	case styleGo:
		return r.goPackage(module)
	case styleC:
		return r.cHeader(from, module)
	case styleJava:
		return r.javaType(module)
	}
	return nil
}

func (r *Resolver) pythonModule(from, module string) []string {
	base := r.root
	rest := module
	if strings.HasPrefix(module, ".") {
		dots := len(module) - len(strings.TrimLeft(module, "."))
		base = filepath.Dir(from)
		for i := 1; i < dots; i++ {
			base = filepath.Dir(base)
		}
		rest = module[dots:]
	}
	rel := filepath.FromSlash(strings.ReplaceAll(rest, ".", "/"))
	var candidates []string
	if rel == "" {
		candidates = []string{filepath.Join(base, "__init__.py")}
	} else {
		candidates = []string{
			filepath.Join(base, rel+".py"),
			filepath.Join(base, rel+".pyi"),
			filepath.Join(base, rel, "__init__.py"),
		}
	}
	for _, c := range candidates {
		if r.table.HasFile(c) {
			return []string{c}
		}
	}
	if strings.HasPrefix(module, ".") || rel == "" {
		return nil
	}
	// src layouts: the package may live below a directory that is not on the import path
	suffix := string(filepath.Separator) + rel
	var out []string
	for _, f := range r.files {
		trimmed := strings.TrimSuffix(f, ".py")
		if strings.HasSuffix(trimmed, suffix) || strings.HasSuffix(f, filepath.Join(suffix, "__init__.py")) {
			out = append(out, f)
		}
	}
	if len(out) == 1 {
		return out
	}
	return nil
}

func (r *Resolver) jsModule(from, module string) []string {
	if !strings.HasPrefix(module, ".") && !strings.HasPrefix(module, "/") {
		return nil
	}
	target := filepath.Join(filepath.Dir(from), filepath.FromSlash(module))
	if strings.HasPrefix(module, "/") {
		target = filepath.Join(r.root, filepath.FromSlash(module))
	}
	// "./b.js" may name a TypeScript source compiled to b.js
	stem := strings.TrimSuffix(target, filepath.Ext(target))
	for _, base := range []string{target, stem} {
		for _, s := range jsSuffixes {
			c := base + filepath.FromSlash(s)
			if r.table.HasFile(c) {
				return []string{c}
			}
		}
	}
	return nil
}

// goPackage matches an import path against package directories by the
// longest suffix of path segments. A single segment must match a directory
// directly under the root.
func (r *Resolver) goPackage(importPath string) []string {
	segs := strings.Split(path.Clean(importPath), "/")
	for k := len(segs); k >= 1; k-- {
		suffix := strings.Join(segs[len(segs)-k:], "/")
		var out []string
		for dir, files := range r.goDirs {
			if dir == suffix || (k > 1 && strings.HasSuffix(dir, "/"+suffix)) {
				out = append(out, files...)
			}
		}
		if len(out) > 0 {
			sort.Strings(out)
			return out
		}
	}
	return nil
}

// indexGoDirs groups non-test Go files by directory relative to the root.
func (r *Resolver) indexGoDirs() map[string][]string {
	byDir := map[string][]string{}
	for _, f := range r.files {
		if style(f) != styleGo || strings.HasSuffix(f, "_test.go") {
			continue
		}
		rel, err := filepath.Rel(r.root, filepath.Dir(f))
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		byDir[rel] = append(byDir[rel], f)
	}
	return byDir
}

var headerExts = map[string]bool{".h": true, ".hpp": true, ".hh": true, ".hxx": true}

// cHeader matches an include against headers, falling back to the source
// file of the same stem.
func (r *Resolver) cHeader(from, module string) []string {
	local := filepath.Join(filepath.Dir(from), filepath.FromSlash(module))
	if r.table.HasFile(local) {
		return []string{local}
	}
	want := []string{module}
	if ext := filepath.Ext(module); headerExts[ext] {
		stem := strings.TrimSuffix(module, ext)
		for _, src := range []string{".c", ".cpp", ".cc", ".cxx"} {
			want = append(want, stem+src)
		}
	}
	for _, w := range want {
		suffix := "/" + w
		var out []string
		for _, f := range r.files {
			slashed := filepath.ToSlash(f)
			if strings.HasSuffix(slashed, suffix) {
				out = append(out, f)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// javaType maps a dotted name to the class file it names, falling back to
// the files of the package directory for wildcard imports.
func (r *Resolver) javaType(module string) []string {
	rel := "/" + strings.ReplaceAll(module, ".", "/")
	var classes, pkg []string
	for _, f := range r.files {
		if style(f) != styleJava {
			continue
		}
		slashed := filepath.ToSlash(f)
		switch {
		case strings.HasSuffix(slashed, rel+".java"):
			classes = append(classes, f)
		case strings.HasSuffix(path.Dir(slashed), rel):
			pkg = append(pkg, f)
		}
	}
	if len(classes) > 0 {
		return classes
	}
	sort.Strings(pkg)
	return pkg
}
