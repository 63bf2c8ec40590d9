package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyy0709/ContextWeaver/internal/resolve"
	"github.com/lyy0709/ContextWeaver/internal/search"
	"github.com/lyy0709/ContextWeaver/internal/store"
)

func seedStore(t *testing.T) *store.ChunkVectorStore {
	t.Helper()
	vs, err := store.NewChunkVectorStore(store.VectorStoreConfig{Dimensions: 2, Metric: "cos"})
	require.NoError(t, err)

	mk := func(idx int, breadcrumb, display string) *store.Chunk {
		return &store.Chunk{
			ID: "a.go#h#" + string(rune('0'+idx)), RelativePath: "a.go",
			ChunkIndex: idx, Breadcrumb: breadcrumb, DisplayCode: display, Language: "go",
		}
	}
	batch := &store.ChunkBatch{
		RelativePath: "a.go",
		Chunks: []*store.Chunk{
			mk(0, "", `import "fmt"`),
			mk(1, "TypeA", "func (t TypeA) Foo() {}"),
			mk(2, "TypeA > Foo", "helper body"),
			mk(3, "TypeB", "func (t TypeB) Bar() { return TypeA{} }"),
			mk(4, "TypeB > Bar", "more body"),
		},
		Vectors: [][]float32{{0, 0}, {1, 1}, {2, 2}, {3, 3}, {4, 4}},
	}
	require.NoError(t, vs.BatchUpsertFiles(context.Background(), []*store.ChunkBatch{batch}))
	return vs
}

func seedOf(vs *store.ChunkVectorStore, id string, score float64) *search.Seed {
	c, _ := vs.GetByID(id)
	return &search.Seed{Chunk: c, Score: score}
}

func TestExpand_IncludesAllSeeds(t *testing.T) {
	vs := seedStore(t)
	ex := New(vs, nil, DefaultConfig())
	seeds := []*search.Seed{seedOf(vs, "a.go#h#1", 0.9)}

	out := ex.Expand(context.Background(), seeds)

	var sawSeed bool
	for _, e := range out {
		if e.Chunk.ID == "a.go#h#1" && e.Source == SourceSeed {
			sawSeed = true
		}
	}
	assert.True(t, sawSeed)
}

func TestNeighbors_E1_IncludesAdjacentChunksWithDecay(t *testing.T) {
	vs := seedStore(t)
	cfg := DefaultConfig()
	cfg.NeighborHops = 1
	ex := New(vs, nil, cfg)
	seeds := []*search.Seed{seedOf(vs, "a.go#h#2", 1.0)}

	out := ex.Expand(context.Background(), seeds)

	byID := map[string]*Expanded{}
	for _, e := range out {
		byID[e.Chunk.ID] = e
	}
	n1, ok := byID["a.go#h#1"]
	require.True(t, ok, "immediate neighbor should be included")
	assert.Equal(t, SourceNeighbor, n1.Source)
	assert.InDelta(t, 1.0*cfg.NeighborDecay, n1.Score, 1e-9)

	n3, ok := byID["a.go#h#3"]
	require.True(t, ok)
	assert.InDelta(t, 1.0*cfg.NeighborDecay, n3.Score, 1e-9)

	_, hasFar := byID["a.go#h#4"]
	assert.False(t, hasFar, "beyond neighbor_hops=1 should not be included")
}

func TestBreadcrumbSiblings_E2_SharesCommonPrefix(t *testing.T) {
	vs := seedStore(t)
	// E1 runs first and would otherwise claim chunk 2 as a neighbor.
	cfg := DefaultConfig()
	cfg.NeighborHops = 0
	ex := New(vs, nil, cfg)
	seeds := []*search.Seed{seedOf(vs, "a.go#h#1", 1.0)} // breadcrumb "TypeA"

	out := ex.Expand(context.Background(), seeds)

	var sawSibling bool
	for _, e := range out {
		if e.Chunk.ID == "a.go#h#2" && e.Source == SourceBreadcrumb {
			sawSibling = true
		}
	}
	assert.True(t, sawSibling, "TypeA > Foo shares the TypeA prefix with the seed")
}

func TestImports_E3_NoopWhenImportFilesPerSeedIsZero(t *testing.T) {
	vs := seedStore(t)
	cfg := DefaultConfig() // ImportFilesPerSeed defaults to 0
	ex := New(vs, resolve.New([]string{"a.go"}), cfg)
	seeds := []*search.Seed{seedOf(vs, "a.go#h#1", 1.0)}

	out := ex.Expand(context.Background(), seeds)
	for _, e := range out {
		assert.NotEqual(t, SourceImport, e.Source)
	}
}

func TestImports_E3_NoopWithoutResolver(t *testing.T) {
	vs := seedStore(t)
	cfg := DefaultConfig()
	cfg.ImportFilesPerSeed = 3
	ex := New(vs, nil, cfg)
	seeds := []*search.Seed{seedOf(vs, "a.go#h#1", 1.0)}

	out := ex.Expand(context.Background(), seeds)
	for _, e := range out {
		assert.NotEqual(t, SourceImport, e.Source)
	}
}

func TestExpand_DeduplicatesAgainstSeeds(t *testing.T) {
	vs := seedStore(t)
	cfg := DefaultConfig()
	cfg.NeighborHops = 1
	ex := New(vs, nil, cfg)
	// Both chunk 1 and chunk 2 are seeds; chunk 2 would otherwise be a
	// neighbor-expansion of chunk 1.
	seeds := []*search.Seed{seedOf(vs, "a.go#h#1", 1.0), seedOf(vs, "a.go#h#2", 0.9)}

	out := ex.Expand(context.Background(), seeds)

	count := 0
	for _, e := range out {
		if e.Chunk.ID == "a.go#h#2" {
			count++
		}
	}
	assert.Equal(t, 1, count, "a chunk that is already a seed must not also appear as an expansion")
}
