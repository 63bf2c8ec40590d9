package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyy0709/ContextWeaver/internal/store"
)

// fakeBM25 is a minimal in-memory store.BM25Index for consistency tests.
type fakeBM25 struct {
	docs map[string]string
}

func newFakeBM25() *fakeBM25 { return &fakeBM25{docs: make(map[string]string)} }

func (f *fakeBM25) Index(ctx context.Context, docs []*store.Document) error {
	for _, d := range docs {
		f.docs[d.ID] = d.Content
	}
	return nil
}
func (f *fakeBM25) Search(ctx context.Context, query string, limit int) ([]*store.BM25Result, error) {
	return nil, nil
}
func (f *fakeBM25) Delete(ctx context.Context, docIDs []string) error {
	for _, id := range docIDs {
		delete(f.docs, id)
	}
	return nil
}
func (f *fakeBM25) AllIDs() ([]string, error) {
	ids := make([]string, 0, len(f.docs))
	for id := range f.docs {
		ids = append(ids, id)
	}
	return ids, nil
}
func (f *fakeBM25) Stats() *store.IndexStats {
	return &store.IndexStats{DocumentCount: len(f.docs)}
}
func (f *fakeBM25) Save(path string) error { return nil }
func (f *fakeBM25) Load(path string) error { return nil }
func (f *fakeBM25) Close() error           { return nil }

func newTestVectorStore(t *testing.T) *store.ChunkVectorStore {
	t.Helper()
	vs, err := store.NewChunkVectorStore(store.VectorStoreConfig{Dimensions: 4, Metric: "cos"})
	require.NoError(t, err)
	return vs
}

func vector4(seed float32) []float32 { return []float32{seed, seed + 1, seed + 2, seed + 3} }

func TestConsistencyChecker_Check_FindsOrphanBM25(t *testing.T) {
	ctx := context.Background()
	meta := newTestMetadataStore(t)
	vector := newTestVectorStore(t)
	bm25 := newFakeBM25()

	require.NoError(t, bm25.Index(ctx, []*store.Document{{ID: "a.go#h#0", Content: "func f"}}))

	checker := NewConsistencyChecker(meta, bm25, vector)
	result, err := checker.Check(ctx)
	require.NoError(t, err)

	require.Len(t, result.Inconsistencies, 1)
	assert.Equal(t, InconsistencyOrphanBM25, result.Inconsistencies[0].Type)
	assert.Equal(t, "a.go#h#0", result.Inconsistencies[0].ID)
}

func TestConsistencyChecker_Check_FindsDirtyFile(t *testing.T) {
	ctx := context.Background()
	meta := newTestMetadataStore(t)
	vector := newTestVectorStore(t)
	bm25 := newFakeBM25()

	require.NoError(t, meta.UpsertFiles(ctx, []*store.File{
		{RelativePath: "a.go", ContentHash: "h2", VectorIndexHash: "h1"},
	}))

	checker := NewConsistencyChecker(meta, bm25, vector)
	result, err := checker.Check(ctx)
	require.NoError(t, err)

	require.Len(t, result.Inconsistencies, 1)
	assert.Equal(t, InconsistencyDirtyFile, result.Inconsistencies[0].Type)
	assert.Equal(t, "a.go", result.Inconsistencies[0].ID)
}

func TestConsistencyChecker_Check_ConsistentStateHasNoIssues(t *testing.T) {
	ctx := context.Background()
	meta := newTestMetadataStore(t)
	vector := newTestVectorStore(t)
	bm25 := newFakeBM25()

	require.NoError(t, meta.UpsertFiles(ctx, []*store.File{
		{RelativePath: "a.go", ContentHash: "h1", VectorIndexHash: "h1"},
	}))
	require.NoError(t, vector.BatchUpsertFiles(ctx, []*store.ChunkBatch{{
		RelativePath: "a.go",
		Chunks:       []*store.Chunk{{ID: "a.go#h1#0", RelativePath: "a.go"}},
		Vectors:      [][]float32{vector4(0)},
	}}))
	require.NoError(t, bm25.Index(ctx, []*store.Document{{ID: "a.go#h1#0", Content: "func f"}}))

	checker := NewConsistencyChecker(meta, bm25, vector)
	result, err := checker.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Inconsistencies)
}

func TestConsistencyChecker_Repair_DeletesOrphans(t *testing.T) {
	ctx := context.Background()
	meta := newTestMetadataStore(t)
	vector := newTestVectorStore(t)
	bm25 := newFakeBM25()
	require.NoError(t, bm25.Index(ctx, []*store.Document{{ID: "orphan#h#0", Content: "x"}}))

	checker := NewConsistencyChecker(meta, bm25, vector)
	result, err := checker.Check(ctx)
	require.NoError(t, err)
	require.NoError(t, checker.Repair(ctx, result.Inconsistencies))

	ids, err := bm25.AllIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestConsistencyChecker_QuickCheck(t *testing.T) {
	ctx := context.Background()
	meta := newTestMetadataStore(t)
	vector := newTestVectorStore(t)
	bm25 := newFakeBM25()

	checker := NewConsistencyChecker(meta, bm25, vector)
	ok, err := checker.QuickCheck(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "both stores empty should be consistent")

	require.NoError(t, bm25.Index(ctx, []*store.Document{{ID: "x", Content: "y"}}))
	ok, err = checker.QuickCheck(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "bm25 has a doc the vector store doesn't")
}
