package gitignore

import (
	"os"
	"path/filepath"
	"strings"
)

// LoadChain builds a Matcher from every .gitignore found between root and
// root/dir (inclusive), so nested .gitignore files layer correctly over
// the ones above them.
func LoadChain(root, dir string) (*Matcher, error) {
	m := New()

	dir = filepath.ToSlash(dir)
	if dir == "." {
		dir = ""
	}

	var segments []string
	if dir != "" {
		segments = strings.Split(dir, "/")
	}

	current := ""
	loadOne := func(base string) {
		candidate := filepath.Join(root, filepath.FromSlash(base), ".gitignore")
		if _, err := os.Stat(candidate); err == nil {
			_ = m.AddFromFile(candidate, base)
		}
	}

	loadOne(current)
	for _, seg := range segments {
		if current == "" {
			current = seg
		} else {
			current = current + "/" + seg
		}
		loadOne(current)
	}

	return m, nil
}
