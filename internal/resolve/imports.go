// Package resolve implements the Import Resolvers (spec.md §4.8): per
// language extraction of textual import statements and resolution of
// those statements to repo-relative file paths.
package resolve

import "regexp"

var (
	reGoImport     = regexp.MustCompile(`"([^"]+)"`)
	reGoBlock      = regexp.MustCompile(`(?s)import\s*\(([^)]*)\)`)
	reGoSingle     = regexp.MustCompile(`import\s+"([^"]+)"`)
	reJSImport     = regexp.MustCompile(`(?m)import\s+(?:[\w*{}\s,]+from\s+)?['"]([^'"]+)['"]`)
	reJSRequire    = regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`)
	rePyFrom       = regexp.MustCompile(`(?m)^\s*from\s+(\S+)\s+import`)
	rePyImport     = regexp.MustCompile(`(?m)^\s*import\s+([\w.]+)`)
	reJavaImport   = regexp.MustCompile(`(?m)import\s+(?:static\s+)?([\w.]+)\s*;`)
	reRustUse      = regexp.MustCompile(`(?m)use\s+([\w:]+)`)
	reCInclude     = regexp.MustCompile(`#include\s*"([^"]+)"`)
	reCSharpUsing  = regexp.MustCompile(`(?m)using\s+([\w.]+)\s*;`)
)

// ExtractImports returns the raw import specifiers found in content for
// the given language, in source order, duplicates removed. The caller
// is expected to cache the result per file (spec.md §4.10 E3).
func ExtractImports(language, content string) []string {
	switch language {
	case "go":
		return dedup(extractGo(content))
	case "javascript", "typescript", "jsx", "tsx":
		return dedup(append(matches(reJSImport, content), matches(reJSRequire, content)...))
	case "python":
		return dedup(append(matches(rePyFrom, content), matches(rePyImport, content)...))
	case "java":
		return dedup(matches(reJavaImport, content))
	case "rust":
		return dedup(matches(reRustUse, content))
	case "c", "cpp", "c++":
		return dedup(matches(reCInclude, content))
	case "csharp", "c#":
		return dedup(matches(reCSharpUsing, content))
	default:
		return nil
	}
}

func extractGo(content string) []string {
	var out []string
	if block := reGoBlock.FindStringSubmatch(content); block != nil {
		out = append(out, matches(reGoImport, block[1])...)
	}
	out = append(out, matches(reGoSingle, content)...)
	return out
}

func matches(re *regexp.Regexp, s string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		out = append(out, m[1])
	}
	return out
}

func dedup(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
