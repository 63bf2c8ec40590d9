package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractImports_Go(t *testing.T) {
	content := `package foo

import (
	"fmt"
	"github.com/lyy0709/ContextWeaver/internal/store"
)
`
	got := ExtractImports("go", content)
	assert.Equal(t, []string{"fmt", "github.com/lyy0709/ContextWeaver/internal/store"}, got)
}

func TestExtractImports_JS(t *testing.T) {
	content := `import { Foo } from "./foo";
const bar = require('../bar');
import "./side-effect.css";`
	got := ExtractImports("javascript", content)
	assert.Equal(t, []string{"./foo", "./side-effect.css", "../bar"}, got)
}

func TestExtractImports_Python(t *testing.T) {
	content := "from pkg.sub import thing\nimport os\n"
	got := ExtractImports("python", content)
	assert.Equal(t, []string{"pkg.sub", "os"}, got)
}

func TestResolve_GoMatchesDirectoryByLastSegment(t *testing.T) {
	r := New([]string{
		"internal/store/chunkstore.go",
		"internal/store/types.go",
		"cmd/main.go",
	})
	got := r.Resolve("go", "internal/search/engine.go", []string{"github.com/lyy0709/ContextWeaver/internal/store"})
	assert.Equal(t, []string{"internal/store/chunkstore.go"}, got)
}

func TestResolve_JSRelativeProbesExtensions(t *testing.T) {
	r := New([]string{"src/foo.ts", "src/bar.js"})
	got := r.Resolve("javascript", "src/main.ts", []string{"./foo"})
	assert.Equal(t, []string{"src/foo.ts"}, got)
}

func TestResolve_JSBareSpecifierIgnored(t *testing.T) {
	r := New([]string{"src/foo.ts"})
	got := r.Resolve("javascript", "src/main.ts", []string{"react"})
	assert.Empty(t, got)
}

func TestResolve_PythonDottedModule(t *testing.T) {
	r := New([]string{"pkg/sub/thing.py"})
	got := r.Resolve("python", "pkg/main.py", []string{"pkg.sub.thing"})
	assert.Equal(t, []string{"pkg/sub/thing.py"}, got)
}

func TestResolve_JavaPackageQualified(t *testing.T) {
	r := New([]string{"src/main/java/com/foo/Bar.java"})
	got := r.Resolve("java", "src/main/java/com/foo/Baz.java", []string{"com.foo.Bar"})
	assert.Equal(t, []string{"src/main/java/com/foo/Bar.java"}, got)
}

func TestResolve_RustCrateAndSuperPaths(t *testing.T) {
	r := New([]string{"src/util.rs", "src/nested/mod.rs"})
	got := r.Resolve("rust", "src/nested/thing.rs", []string{"crate::util", "super::nested"})
	assert.ElementsMatch(t, []string{"src/util.rs", "src/nested/mod.rs"}, got)
}

func TestResolve_CIncludeRelative(t *testing.T) {
	r := New([]string{"include/foo.h"})
	got := r.Resolve("c", "src/main.c", []string{"../include/foo.h"})
	assert.Equal(t, []string{"include/foo.h"}, got)
}

func TestResolve_UnresolvableSpecifierSkipped(t *testing.T) {
	r := New([]string{"src/foo.ts"})
	got := r.Resolve("javascript", "src/main.ts", []string{"./missing"})
	assert.Empty(t, got)
}
