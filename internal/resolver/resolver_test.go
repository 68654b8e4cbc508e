package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/internal/graph"
	"codegraph/internal/parser"
)

func def(name string, label graph.Label, file string, line int) Definition {
	return Definition{Name: name, Label: label, File: file, Line: line}
}

func TestSymbolTableReplaceAndRemove(t *testing.T) {
	tab := NewSymbolTable()
	tab.Add(def("foo", graph.LabelFunction, "/r/a.py", 1))
	tab.Add(def("foo", graph.LabelFunction, "/r/b.py", 3))
	tab.Add(def("bar", graph.LabelFunction, "/r/b.py", 7))
	assert.Len(t, tab.Lookup("foo"), 2)
	assert.Equal(t, 3, tab.Len())

	tab.ReplaceFile("/r/b.py", []Definition{def("baz", graph.LabelFunction, "", 2)})
	assert.Len(t, tab.Lookup("foo"), 1)
	assert.Empty(t, tab.Lookup("bar"))
	require.Len(t, tab.Lookup("baz"), 1)
	assert.Equal(t, "/r/b.py", tab.Lookup("baz")[0].File)

	tab.RemoveFile("/r/a.py")
	assert.Empty(t, tab.Lookup("foo"))
	assert.False(t, tab.HasFile("/r/a.py"))
	assert.Equal(t, []string{"/r/b.py"}, tab.Files())
}

func TestFromParserDropsUnlabelledKinds(t *testing.T) {
	defs := FromParser("/r/a.ts", []parser.Definition{
		{Name: "Shape", Kind: parser.KindInterface, Line: 1},
		{Name: "Alias", Kind: parser.KindTypedef, Line: 5},
		{Name: "area", Kind: parser.KindFunction, Line: 9, Container: "Circle"},
	})
	require.Len(t, defs, 2)
	assert.Equal(t, graph.LabelInterface, defs[0].Label)
	assert.Equal(t, "Circle", defs[1].Container)
	assert.Equal(t, "/r/a.ts", defs[1].File)
}

func TestResolveImport(t *testing.T) {
	tab := NewSymbolTable()
	for _, f := range []string{
		"/r/b.py", "/r/pkg/__init__.py", "/r/pkg/mod.py", "/r/pkg/sub/c.py",
		"/r/web/app.ts", "/r/web/util/index.ts",
		"/r/internal/store/store.go", "/r/internal/store/query.go", "/r/cmd/main.go",
		"/r/src/list.c", "/r/include/list.h",
		"/r/geo/shape.hpp", "/r/geo/shape.cpp", "/r/geo/main.cpp",
		"/r/java/com/shop/Cart.java", "/r/java/com/shop/model/Item.java", "/r/java/com/shop/model/Price.java",
	} {
		tab.AddFile(f)
	}
	tab.Add(def("unique_helper", graph.LabelFunction, "/r/pkg/mod.py", 4))
	r := New("/r", tab)

	tests := []struct {
		name  string
		from  string
		imp   parser.Import
		files []string
		def   string
	}{
		{"python module", "/r/a.py", parser.Import{Name: "bar", Module: "b"}, []string{"/r/b.py"}, ""},
		{"python package", "/r/a.py", parser.Import{Name: "pkg", Module: "pkg"}, []string{"/r/pkg/__init__.py"}, ""},
		{"python relative", "/r/pkg/sub/c.py", parser.Import{Name: "mod", Module: ".."}, []string{"/r/pkg/__init__.py"}, ""},
		{"python relative module", "/r/pkg/sub/c.py", parser.Import{Name: "x", Module: "..mod"}, []string{"/r/pkg/mod.py"}, ""},
		{"python submodule", "/r/a.py", parser.Import{Name: "mod", Module: "pkg.missing"}, nil, ""},
		{"bare name", "/r/a.py", parser.Import{Name: "unique_helper", Module: "elsewhere"}, nil, "unique_helper"},
		{"js index", "/r/web/app.ts", parser.Import{Name: "x", Module: "./util"}, []string{"/r/web/util/index.ts"}, ""},
		{"js package", "/r/web/app.ts", parser.Import{Name: "react", Module: "react"}, nil, ""},
		{"go suffix", "/r/cmd/main.go", parser.Import{Name: "store", Module: "example.com/r/internal/store"},
			[]string{"/r/internal/store/query.go", "/r/internal/store/store.go"}, ""},
		{"go stdlib", "/r/cmd/main.go", parser.Import{Name: "fmt", Module: "fmt"}, nil, ""},
		{"c header", "/r/src/list.c", parser.Import{Name: "list.h", Module: "list.h"}, []string{"/r/include/list.h"}, ""},
		{"c++ header", "/r/geo/main.cpp", parser.Import{Name: "shape.hpp", Module: "shape.hpp"}, []string{"/r/geo/shape.hpp"}, ""},
		{"java class", "/r/java/com/shop/Cart.java", parser.Import{Name: "Item", Module: "com.shop.model.Item"},
			[]string{"/r/java/com/shop/model/Item.java"}, ""},
		{"java wildcard", "/r/java/com/shop/Cart.java", parser.Import{Name: "*", Module: "com.shop.model"},
			[]string{"/r/java/com/shop/model/Item.java", "/r/java/com/shop/model/Price.java"}, ""},
		{"java library", "/r/java/com/shop/Cart.java", parser.Import{Name: "List", Module: "java.util.List"}, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.ResolveImport(tt.from, tt.imp)
			assert.Equal(t, tt.files, got.Files)
			if tt.def == "" {
				assert.Nil(t, got.Definition)
			} else {
				require.NotNil(t, got.Definition)
				assert.Equal(t, tt.def, got.Definition.Name)
			}
			assert.Equal(t, tt.files != nil || tt.def != "", got.Resolved())
		})
	}
}

func TestResolveCallOrder(t *testing.T) {
	tab := NewSymbolTable()
	tab.Add(def("helper", graph.LabelFunction, "/r/a.py", 1))
	tab.Add(def("helper", graph.LabelFunction, "/r/b.py", 1))
	tab.Add(def("bar", graph.LabelFunction, "/r/b.py", 5))
	tab.Add(def("bar", graph.LabelFunction, "/r/c.py", 5))
	tab.Add(def("only", graph.LabelFunction, "/r/c.py", 9))
	tab.Add(def("Widget", graph.LabelClass, "/r/c.py", 12))
	r := New("/r", tab)
	imports := []parser.Import{{Name: "bar", Module: "b"}}

	t.Run("same file wins", func(t *testing.T) {
		got := r.ResolveCall("/r/a.py", parser.Call{Name: "helper", FullName: "helper"}, imports)
		require.True(t, got.Resolved())
		assert.Equal(t, "/r/a.py", got.Definition.File)
		assert.Equal(t, "same_file", got.Via)
	})
	t.Run("import beats ambiguous global", func(t *testing.T) {
		got := r.ResolveCall("/r/a.py", parser.Call{Name: "bar", FullName: "bar"}, imports)
		require.True(t, got.Resolved())
		assert.Equal(t, "/r/b.py", got.Definition.File)
		assert.Equal(t, "import", got.Via)
	})
	t.Run("unique global", func(t *testing.T) {
		got := r.ResolveCall("/r/a.py", parser.Call{Name: "only", FullName: "only"}, nil)
		require.True(t, got.Resolved())
		assert.Equal(t, "global", got.Via)
	})
	t.Run("class instantiation", func(t *testing.T) {
		got := r.ResolveCall("/r/a.py", parser.Call{Name: "Widget", FullName: "Widget"}, nil)
		require.True(t, got.Resolved())
		assert.Equal(t, graph.LabelClass, got.Definition.Label)
	})
	t.Run("ambiguous stays unresolved", func(t *testing.T) {
		got := r.ResolveCall("/r/d.py", parser.Call{Name: "bar", FullName: "bar"}, nil)
		assert.False(t, got.Resolved())
		assert.Equal(t, ReasonAmbiguous, got.Reason)
	})
	t.Run("unknown", func(t *testing.T) {
		got := r.ResolveCall("/r/a.py", parser.Call{Name: "print", FullName: "print"}, nil)
		assert.False(t, got.Resolved())
		assert.Equal(t, ReasonNotFound, got.Reason)
	})
}

func TestResolveCallUsesClassOnlyForReceiver(t *testing.T) {
	tab := NewSymbolTable()
	a := def("run", graph.LabelFunction, "/r/a.py", 3)
	a.Container = "A"
	b := def("run", graph.LabelFunction, "/r/a.py", 9)
	b.Container = "B"
	tab.Add(a)
	tab.Add(b)
	r := New("/r", tab)

	got := r.ResolveCall("/r/a.py", parser.Call{Name: "run", FullName: "self.run", Class: "B"}, nil)
	require.True(t, got.Resolved())
	assert.Equal(t, 9, got.Definition.Line)

	got = r.ResolveCall("/r/a.py", parser.Call{Name: "run", FullName: "run"}, nil)
	assert.Equal(t, ReasonAmbiguous, got.Reason)

	// the caller's class says nothing about the type of x
	got = r.ResolveCall("/r/a.py", parser.Call{Name: "run", FullName: "x.run", Class: "B"}, nil)
	assert.False(t, got.Resolved())
	assert.Equal(t, ReasonAmbiguous, got.Reason)
}

func TestResolveCallLeavesGlobalTiesUnresolved(t *testing.T) {
	tab := NewSymbolTable()
	a := def("run", graph.LabelFunction, "/r/a.py", 3)
	a.Container = "A"
	b := def("run", graph.LabelFunction, "/r/b.py", 3)
	b.Container = "B"
	tab.Add(a)
	tab.Add(b)
	r := New("/r", tab)

	for _, full := range []string{"x.run", "self.run", "run"} {
		got := r.ResolveCall("/r/c.py", parser.Call{Name: "run", FullName: full, Class: "A"}, nil)
		assert.Equal(t, ReasonAmbiguous, got.Reason, full)
	}
}

func TestResolveJavaImports(t *testing.T) {
	tab := NewSymbolTable()
	tab.Add(def("Item", graph.LabelClass, "/r/java/com/shop/model/Item.java", 3))
	tab.Add(def("Item", graph.LabelClass, "/r/java/com/legacy/Item.java", 3))
	tab.Add(def("max", graph.LabelFunction, "/r/java/com/shop/util/MathUtil.java", 7))
	tab.Add(def("max", graph.LabelFunction, "/r/java/com/other/Max.java", 7))
	r := New("/r", tab)

	imports := []parser.Import{
		{Name: "Item", Module: "com.shop.model.Item"},
		{Name: "max", Module: "com.shop.util.MathUtil"},
	}
	from := "/r/java/com/shop/Cart.java"

	got := r.ResolveCall(from, parser.Call{Name: "Item", FullName: "Item"}, imports)
	require.True(t, got.Resolved())
	assert.Equal(t, "/r/java/com/shop/model/Item.java", got.Definition.File)
	assert.Equal(t, "import", got.Via)

	got = r.ResolveCall(from, parser.Call{Name: "max", FullName: "max"}, imports)
	require.True(t, got.Resolved())
	assert.Equal(t, "/r/java/com/shop/util/MathUtil.java", got.Definition.File)

	got = r.ResolveCall(from, parser.Call{Name: "max", FullName: "max"}, nil)
	assert.Equal(t, ReasonAmbiguous, got.Reason)
}

func TestQualifierSeparators(t *testing.T) {
	assert.Equal(t, "this", qualifier("this->log", "log"))
	assert.Equal(t, "std", qualifier("std::printf", "printf"))
	assert.Equal(t, "System.out", qualifier("System.out.println", "println"))
	assert.Empty(t, qualifier("helper", "helper"))
}

func TestResolveQualifiedCallThroughAlias(t *testing.T) {
	tab := NewSymbolTable()
	tab.AddFile("/r/web/util.ts")
	tab.Add(def("format", graph.LabelFunction, "/r/web/util.ts", 2))
	tab.Add(def("format", graph.LabelFunction, "/r/web/other.ts", 2))
	r := New("/r", tab)

	imports := []parser.Import{{Name: "*", Module: "./util", Alias: "u"}}
	got := r.ResolveCall("/r/web/app.ts", parser.Call{Name: "format", FullName: "u.format"}, imports)
	require.True(t, got.Resolved())
	assert.Equal(t, "/r/web/util.ts", got.Definition.File)
}

func TestResolveTypeIgnoresFunctions(t *testing.T) {
	tab := NewSymbolTable()
	tab.Add(def("Base", graph.LabelFunction, "/r/a.py", 1))
	tab.Add(def("Base", graph.LabelClass, "/r/b.py", 1))
	tab.Add(def("Shape", graph.LabelInterface, "/r/s.ts", 1))
	r := New("/r", tab)

	got := r.ResolveType("/r/a.py", "Base", nil)
	require.True(t, got.Resolved())
	assert.Equal(t, graph.LabelClass, got.Definition.Label)

	got = r.ResolveType("/r/c.ts", "models.Shape", nil)
	require.True(t, got.Resolved())
	assert.Equal(t, graph.LabelInterface, got.Definition.Label)

	assert.False(t, r.ResolveType("/r/a.py", "ABC", nil).Resolved())
}
