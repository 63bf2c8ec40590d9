package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		wantLang string
	}{
		{name: "go file", path: "main.go", wantLang: "go"},
		{name: "go nested", path: "pkg/lib/utils.go", wantLang: "go"},
		{name: "typescript", path: "app.ts", wantLang: "typescript"},
		{name: "tsx", path: "Component.tsx", wantLang: "tsx"},
		{name: "javascript", path: "app.js", wantLang: "javascript"},
		{name: "python", path: "script.py", wantLang: "python"},
		{name: "java", path: "Main.java", wantLang: "java"},
		{name: "rust", path: "lib.rs", wantLang: "rust"},
		{name: "c", path: "main.c", wantLang: "c"},
		{name: "cpp", path: "main.cpp", wantLang: "cpp"},
		{name: "csharp", path: "Program.cs", wantLang: "csharp"},
		{name: "unrecognized extension", path: "README.md", wantLang: ""},
		{name: "no extension", path: "Makefile", wantLang: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantLang, DetectLanguage(tt.path))
		})
	}
}

func TestMatchSegmentWise(t *testing.T) {
	tests := []struct {
		name    string
		relPath string
		pattern string
		want    bool
	}{
		{name: "bare pattern matches any component", relPath: "a/node_modules/b.js", pattern: "node_modules", want: true},
		{name: "bare pattern no match", relPath: "a/b/c.go", pattern: "node_modules", want: false},
		{name: "separator pattern glob", relPath: "docs/bugs/BUG-01.md", pattern: "docs/bugs/*.md", want: true},
		{name: "separator pattern prefix", relPath: "vendor/sub/file.go", pattern: "vendor", want: true},
		{name: "extension glob bare", relPath: "a/b/style.min.css", pattern: "*.min.css", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchSegmentWise(tt.relPath, tt.pattern))
		})
	}
}

func TestScanner_Scan_SkipsDefaultExcludes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "x.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644))

	s, err := New()
	require.NoError(t, err)

	results, err := s.Scan(context.Background(), &Options{RootDir: dir})
	require.NoError(t, err)

	var paths []string
	for r := range results {
		require.NoError(t, r.Error)
		paths = append(paths, r.File.Path)
	}

	assert.Contains(t, paths, "main.go")
	assert.NotContains(t, paths, "node_modules/x.js")
}

func TestScanner_Scan_CustomExcludePattern(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_test.go"), []byte("package a"), 0o644))

	s, err := New()
	require.NoError(t, err)

	results, err := s.Scan(context.Background(), &Options{RootDir: dir, ExcludePatterns: []string{"*_test.go"}})
	require.NoError(t, err)

	var paths []string
	for r := range results {
		require.NoError(t, r.Error)
		paths = append(paths, r.File.Path)
	}

	assert.Contains(t, paths, "a.go")
	assert.NotContains(t, paths, "a_test.go")
}

func TestScanner_Scan_SkipsBinaryFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin.dat"), []byte{0x00, 0x01, 0x02}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "text.go"), []byte("package main"), 0o644))

	s, err := New()
	require.NoError(t, err)

	results, err := s.Scan(context.Background(), &Options{RootDir: dir})
	require.NoError(t, err)

	var paths []string
	for r := range results {
		require.NoError(t, r.Error)
		paths = append(paths, r.File.Path)
	}

	assert.Contains(t, paths, "text.go")
	assert.NotContains(t, paths, "bin.dat")
}
