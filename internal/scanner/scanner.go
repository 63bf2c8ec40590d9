package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lyy0709/ContextWeaver/internal/gitignore"
)

// gitignoreCacheSize bounds the number of parsed gitignore matchers kept
// in memory across a scan of a large monorepo.
const gitignoreCacheSize = 1000

// Scanner discovers indexable files under a repository root.
type Scanner struct {
	gitignoreCache *lru.Cache[string, *gitignore.Matcher]
	cacheMu        sync.RWMutex
}

// New creates a Scanner.
func New() (*Scanner, error) {
	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitignore cache: %w", err)
	}
	return &Scanner{gitignoreCache: cache}, nil
}

// Scan walks opts.RootDir and streams discovered files on the returned
// channel. The channel is closed when the walk completes. Symlinks are
// never followed out of the repository root (spec.md §4.1).
func (s *Scanner) Scan(ctx context.Context, opts *Options) (<-chan Result, error) {
	if opts == nil {
		opts = &Options{}
	}

	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}

	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root directory: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", absRoot)
	}

	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make(chan Result, workers*10)

	go func() {
		defer close(results)
		s.walk(ctx, absRoot, opts, maxFileSize, results)
	}()

	return results, nil
}

func (s *Scanner) walk(ctx context.Context, absRoot string, opts *Options, maxFileSize int64, results chan<- Result) {
	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return nil // unreadable entries are skipped, not fatal (spec.md §7 IOError)
		}

		relPath, relErr := filepath.Rel(absRoot, path)
		if relErr != nil || relPath == "." {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if s.shouldExcludeDir(relPath, opts) {
				return filepath.SkipDir
			}
			return nil
		}

		// Never follow symlinks out of the repository root.
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		if s.shouldExcludeFile(relPath, absRoot, opts) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		if info.Size() > maxFileSize {
			return nil
		}
		if isBinaryFile(path) {
			return nil
		}

		fileInfo := &FileInfo{
			Path:     relPath,
			AbsPath:  path,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Language: DetectLanguage(relPath),
		}

		select {
		case results <- Result{File: fileInfo}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && err != context.Canceled {
		select {
		case results <- Result{Error: err}:
		case <-ctx.Done():
		}
	}
}

// shouldExcludeDir reports whether relPath is a directory that must not be
// descended into.
func (s *Scanner) shouldExcludeDir(relPath string, opts *Options) bool {
	for _, pattern := range defaultExcludeDirs {
		if matchSegmentWise(relPath, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchSegmentWise(relPath, pattern) {
			return true
		}
	}
	return false
}

// shouldExcludeFile reports whether relPath must not be yielded as a
// candidate file.
func (s *Scanner) shouldExcludeFile(relPath, absRoot string, opts *Options) bool {
	for _, pattern := range defaultExcludeFiles {
		if matchSegmentWise(relPath, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchSegmentWise(relPath, pattern) {
			return true
		}
	}
	if opts.RespectGitignore && s.isGitignored(relPath, absRoot) {
		return true
	}
	return false
}

// matchSegmentWise implements spec.md §4.1's matching rule: a pattern
// without a path separator matches if any path component equals it
// (glob-style); a pattern with a separator matches as a glob against the
// repo-relative path.
func matchSegmentWise(relPath, pattern string) bool {
	if !strings.Contains(pattern, "/") {
		for _, part := range strings.Split(relPath, "/") {
			if ok, _ := filepath.Match(pattern, part); ok {
				return true
			}
		}
		return false
	}
	if ok, _ := filepath.Match(pattern, relPath); ok {
		return true
	}
	// Directory-prefix convenience: "dir/pattern" also matches anything
	// nested under "dir/pattern/...".
	return strings.HasPrefix(relPath, pattern+"/")
}

// defaultExcludeDirs is the fixed baseline of dependency directories,
// VCS/IDE directories, and caches (spec.md §4.1).
var defaultExcludeDirs = []string{
	"node_modules",
	".git",
	"vendor",
	"__pycache__",
	"dist",
	"build",
	"target",
	".venv",
	"venv",
	".idea",
	".vscode",
	".cache",
	"bin",
	"obj",
}

// defaultExcludeFiles is the fixed baseline of lockfiles, build outputs,
// and binary/media extensions (spec.md §4.1).
var defaultExcludeFiles = []string{
	"*.min.js",
	"*.min.css",
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"go.sum",
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.ico", "*.svg", "*.webp",
	"*.woff", "*.woff2", "*.ttf", "*.eot",
	"*.mp4", "*.mp3", "*.wav", "*.avi",
	"*.zip", "*.tar", "*.gz", "*.7z",
	"*.exe", "*.dll", "*.so", "*.dylib", "*.o", "*.a",
	"*.pdf",
	"*.pyc", "*.pyo",
	"*.log",
	"*.snap",
	"*_test.snap",
}

// isBinaryFile sniffs the first 512 bytes of path for a NUL byte.
func isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return false
	}
	return bytes.Contains(buf[:n], []byte{0})
}

// isGitignored consults (and caches) the nearest enclosing .gitignore chain.
func (s *Scanner) isGitignored(relPath, absRoot string) bool {
	dir := filepath.Dir(relPath)
	s.cacheMu.RLock()
	matcher, ok := s.gitignoreCache.Get(dir)
	s.cacheMu.RUnlock()
	if !ok {
		var err error
		matcher, err = gitignore.LoadChain(absRoot, dir)
		if err != nil {
			return false
		}
		s.cacheMu.Lock()
		s.gitignoreCache.Add(dir, matcher)
		s.cacheMu.Unlock()
	}
	return matcher.Match(relPath, false)
}
