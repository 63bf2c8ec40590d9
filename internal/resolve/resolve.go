package resolve

import (
	"path"
	"sort"
	"strings"
)

// Resolver maps raw import specifiers to repo-relative file paths
// (spec.md §4.8), given the fixed set of paths currently tracked by
// the index. It holds no filesystem handle: membership is decided
// purely against the tracked-path set, so a resolver can be rebuilt
// cheaply whenever the file set changes (internal/index.Indexer does
// this once per Scan).
type Resolver struct {
	paths  []string // sorted, for prefix/suffix scans
	exists map[string]bool
}

// New builds a Resolver over the given repo-relative paths.
func New(paths []string) *Resolver {
	r := &Resolver{
		paths:  append([]string(nil), paths...),
		exists: make(map[string]bool, len(paths)),
	}
	sort.Strings(r.paths)
	for _, p := range r.paths {
		r.exists[p] = true
	}
	return r
}

// Resolve resolves raw import specifiers found in fromFile (a
// repo-relative path) to repo-relative file paths, one per specifier
// that could be resolved, in the order given. Unresolvable specifiers
// (bare JS/TS module names, external packages, etc.) are silently
// skipped, per spec.md §4.8.
func (r *Resolver) Resolve(language, fromFile string, raw []string) []string {
	dir := path.Dir(fromFile)
	var out []string
	for _, imp := range raw {
		if resolved, ok := r.resolveOne(language, dir, imp); ok {
			out = append(out, resolved)
		}
	}
	return out
}

func (r *Resolver) resolveOne(language, dir, imp string) (string, bool) {
	switch language {
	case "javascript", "typescript", "jsx", "tsx":
		return r.firstExisting(jsCandidates(dir, imp))
	case "python":
		return r.firstExisting(pythonCandidates(imp))
	case "go":
		return r.goCandidate(imp)
	case "java":
		return r.suffixCandidate(javaSuffix(imp))
	case "rust":
		return r.firstExisting(rustCandidates(dir, imp))
	case "c", "cpp", "c++":
		return r.firstExisting(cCandidates(dir, imp))
	case "csharp", "c#":
		return r.suffixCandidate(javaSuffix(imp)) // same dotted-namespace shape
	default:
		return "", false
	}
}

func (r *Resolver) firstExisting(candidates []string) (string, bool) {
	for _, c := range candidates {
		if r.exists[c] {
			return c, true
		}
	}
	return "", false
}

// goCandidate implements "last segment of the import path matched
// against directory names under the repo" (spec.md §4.8): find a
// tracked .go file whose directory's base name equals the import's
// last path segment, preferring a file named after the package.
func (r *Resolver) goCandidate(imp string) (string, bool) {
	last := path.Base(imp)
	var best string
	for _, p := range r.paths {
		if path.Ext(p) != ".go" || strings.HasSuffix(p, "_test.go") {
			continue
		}
		if path.Base(path.Dir(p)) != last {
			continue
		}
		if best == "" {
			best = p
		}
		if path.Base(p) == last+".go" {
			return p, true
		}
	}
	return best, best != ""
}

// suffixCandidate finds a tracked path ending in suffix, used for
// Java/C# package- or namespace-qualified type names where the
// resolver has no configured source roots to join against directly.
func (r *Resolver) suffixCandidate(suffix string) (string, bool) {
	for _, p := range r.paths {
		if strings.HasSuffix(p, suffix) {
			return p, true
		}
	}
	return "", false
}

func jsCandidates(dir, imp string) []string {
	if !strings.HasPrefix(imp, ".") {
		return nil // bare specifiers are external modules, not resolved
	}
	base := path.Clean(path.Join(dir, imp))
	exts := []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"}
	var out []string
	if path.Ext(base) != "" {
		out = append(out, base)
	}
	for _, ext := range exts {
		out = append(out, base+ext)
	}
	for _, ext := range exts {
		out = append(out, path.Join(base, "index"+ext))
	}
	return out
}

func pythonCandidates(imp string) []string {
	p := strings.ReplaceAll(imp, ".", "/")
	return []string{
		p + ".py",
		path.Join(p, "__init__.py"),
		"src/" + p + ".py",
		path.Join("src", p, "__init__.py"),
	}
}

func javaSuffix(imp string) string {
	return strings.ReplaceAll(imp, ".", "/") + ".java"
}

func rustCandidates(dir, imp string) []string {
	base := dir
	rest := imp
	switch {
	case strings.HasPrefix(imp, "crate::"):
		base = "src" // crate root is conventionally src/lib.rs or src/main.rs
		rest = strings.TrimPrefix(imp, "crate::")
	case strings.HasPrefix(imp, "super::"):
		base = path.Dir(dir)
		rest = strings.TrimPrefix(imp, "super::")
	}
	rel := strings.ReplaceAll(rest, "::", "/")
	p := path.Clean(path.Join(base, rel))
	return []string{p + ".rs", path.Join(p, "mod.rs")}
}

func cCandidates(dir, imp string) []string {
	return []string{path.Clean(path.Join(dir, imp)), path.Clean(imp)}
}
