package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/lyy0709/ContextWeaver/internal/store"
)

// InconsistencyType categorizes a detected cross-store issue.
type InconsistencyType int

const (
	// InconsistencyOrphanBM25 is an FTS row with no matching vector chunk.
	InconsistencyOrphanBM25 InconsistencyType = iota
	// InconsistencyDirtyFile is a file record whose vector_index_hash
	// disagrees with content_hash (spec.md §4.5): the file is "dirty"
	// and its chunks may be stale or missing.
	InconsistencyDirtyFile
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanBM25:
		return "orphan_bm25"
	case InconsistencyDirtyFile:
		return "dirty_file"
	default:
		return "unknown"
	}
}

// Inconsistency represents a single detected issue.
type Inconsistency struct {
	Type    InconsistencyType
	ID      string // chunk ID or relative path, depending on Type
	Details string
}

// CheckResult is the outcome of a consistency check.
type CheckResult struct {
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// ConsistencyChecker detects the two ways the vector store, FTS index,
// and metadata store can disagree: an FTS row surviving after its
// vector chunk was removed, and a file record left "dirty" (its
// vector_index_hash stale) by a crash mid-scan. The vector store is
// authoritative (spec.md §7 StoreError policy); dirty files converge
// the next time Indexer.Scan's self-healing pass runs them.
type ConsistencyChecker struct {
	metadata store.MetadataStore
	bm25     store.BM25Index
	vector   *store.ChunkVectorStore
}

// NewConsistencyChecker creates a checker over the given stores.
func NewConsistencyChecker(metadata store.MetadataStore, bm25 store.BM25Index, vector *store.ChunkVectorStore) *ConsistencyChecker {
	return &ConsistencyChecker{metadata: metadata, bm25: bm25, vector: vector}
}

// Check scans all stores for inconsistencies. O(n) in the total number
// of chunks plus tracked files.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	var issues []Inconsistency

	vectorIDs := c.vector.AllIDs()
	vectorSet := make(map[string]bool, len(vectorIDs))
	for _, id := range vectorIDs {
		vectorSet[id] = true
	}

	bm25IDs, err := c.bm25.AllIDs()
	if err != nil {
		slog.Warn("consistency_check_bm25_ids_failed", slog.String("error", err.Error()))
	}
	for _, id := range bm25IDs {
		if !vectorSet[id] {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyOrphanBM25,
				ID:      id,
				Details: "FTS row has no matching vector chunk",
			})
		}
	}

	dirty, err := c.metadata.NeedsReindex(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range dirty {
		issues = append(issues, Inconsistency{
			Type:    InconsistencyDirtyFile,
			ID:      f.RelativePath,
			Details: "vector_index_hash does not match content_hash",
		})
	}

	return &CheckResult{
		Checked:         len(vectorIDs) + len(dirty),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// Repair deletes orphaned FTS rows (best-effort). Dirty files are not
// repaired here: they converge through Indexer.Scan's ordinary
// heal path, which recomputes their chunks from current content.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) error {
	var orphanBM25 []string
	var dirtyCount int

	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphanBM25:
			orphanBM25 = append(orphanBM25, issue.ID)
		case InconsistencyDirtyFile:
			dirtyCount++
		}
	}

	if len(orphanBM25) > 0 {
		if err := c.bm25.Delete(ctx, orphanBM25); err != nil {
			slog.Warn("consistency_repair_bm25_delete_failed",
				slog.Int("count", len(orphanBM25)), slog.String("error", err.Error()))
		} else {
			slog.Info("consistency_repair_deleted_orphans", slog.Int("count", len(orphanBM25)))
		}
	}

	if dirtyCount > 0 {
		slog.Info("consistency_dirty_files_pending_scan", slog.Int("count", dirtyCount))
	}

	return nil
}

// QuickCheck reports whether the vector store's chunk count and the
// FTS index's document count agree, without resolving individual IDs.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (bool, error) {
	vectorCount := c.vector.Count()

	bm25Stats := c.bm25.Stats()
	bm25Count := 0
	if bm25Stats != nil {
		bm25Count = bm25Stats.DocumentCount
	}

	consistent := vectorCount == bm25Count
	if !consistent {
		slog.Debug("index_counts_mismatch", slog.Int("vector", vectorCount), slog.Int("bm25", bm25Count))
	}
	return consistent, nil
}
