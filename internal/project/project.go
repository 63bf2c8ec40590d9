// Package project resolves a repository root to its stable, per-project
// state directory (spec.md §3, §6).
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Project identifies a repository root and its persistent state location.
type Project struct {
	ID       string // stable id derived from the canonical repository path
	RootPath string // canonical, absolute repository root
	DataDir  string // <user-config-dir>/contextweaver/<ID>/
}

// Open resolves root to its Project, creating DataDir if it does not
// already exist.
func Open(root string) (*Project, error) {
	canonical, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(canonical); err == nil {
		canonical = resolved
	}

	id := stableID(canonical)

	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user config dir: %w", err)
	}
	dataDir := filepath.Join(configDir, "contextweaver", id)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create project data dir: %w", err)
	}

	return &Project{ID: id, RootPath: canonical, DataDir: dataDir}, nil
}

// stableID derives a project id from the canonical repository path.
//
// spec.md §3 also folds in the repository directory's creation
// timestamp, so a path reused by an unrelated repository (deleted and
// recreated) gets a fresh id. Go has no portable, CGO-free way to read
// a directory's birth time (only mtime/ctime, which change on every
// write), so this identifies a project by canonical path alone; see
// DESIGN.md.
func stableID(canonical string) string {
	h := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(h[:])[:16]
}

// LockPath returns the path to the project's advisory scan lock
// (spec.md §5): a single per-project lock serializes scans while
// leaving queries free to run concurrently.
func (p *Project) LockPath() string {
	return filepath.Join(p.DataDir, ".contextweaver.lock")
}

// MetadataPath returns the path to the metadata store's database file.
func (p *Project) MetadataPath() string {
	return filepath.Join(p.DataDir, "index.db")
}

// VectorsDir returns the directory holding vector store files.
func (p *Project) VectorsDir() string {
	return filepath.Join(p.DataDir, "vectors")
}

// VectorsPath returns the path to the vector store's ANN graph file.
func (p *Project) VectorsPath() string {
	return filepath.Join(p.VectorsDir(), "vectors.hnsw")
}
