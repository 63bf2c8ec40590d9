package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FormatBytes renders n as a human-readable size, for `contextweaver
// index info` output.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.1f %s", float64(n)/float64(div), units[exp])
}

// FormatTime renders t for display, or "unknown" for the zero value.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// containsAny reports whether s contains any of substrings.
func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// inferBackendFromModel guesses an embedder backend from its model
// name/path, for index-info display when the backend wasn't recorded
// explicitly.
func inferBackendFromModel(model string) string {
	if strings.HasPrefix(model, "static") {
		return "static"
	}
	if strings.HasPrefix(model, "/") || containsAny(model, []string{"mlx-community/", "mlx-", "/mlx/"}) {
		return "mlx"
	}
	return "ollama"
}

// getDirSize returns the total size in bytes of all regular files
// under dir, or 0 if dir does not exist.
func getDirSize(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// BuildIndexInfo assembles an IndexInfo from the store's recorded
// state and on-disk size, for `contextweaver index info`.
func BuildIndexInfo(ctx context.Context, dataDir, projectRoot string, meta MetadataStore, vectors *ChunkVectorStore, currentModel, currentBackend string, currentDimensions int) (*IndexInfo, error) {
	model, _, err := meta.GetState(ctx, StateKeyIndexModel)
	if err != nil {
		return nil, fmt.Errorf("read index model: %w", err)
	}
	dimStr, _, err := meta.GetState(ctx, StateKeyIndexDimension)
	if err != nil {
		return nil, fmt.Errorf("read index dimension: %w", err)
	}
	var dims int
	if dimStr != "" {
		fmt.Sscanf(dimStr, "%d", &dims)
	}

	info := &IndexInfo{
		Location:          dataDir,
		ProjectRoot:       projectRoot,
		IndexModel:        model,
		IndexBackend:      inferBackendFromModel(model),
		IndexDimensions:   dims,
		CurrentModel:      currentModel,
		CurrentBackend:    currentBackend,
		CurrentDimensions: currentDimensions,
		Compatible:        dims == 0 || dims == currentDimensions,
		IndexSizeBytes:    getDirSize(dataDir),
	}
	if vectors != nil {
		info.ChunkCount = vectors.Count()
	}
	return info, nil
}
