package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/lyy0709/ContextWeaver/internal/embed"
	"github.com/lyy0709/ContextWeaver/internal/rerank"
	"github.com/lyy0709/ContextWeaver/internal/store"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Engine implements SearchService.BuildContextPack (spec.md §4.9):
// embed the query, recall via vector and lexical streams in parallel,
// fuse with RRF, rerank, and cut to a seed set with Smart-TopK.
type Engine struct {
	vector   *store.ChunkVectorStore
	bm25     store.BM25Index
	embedder embed.Embedder
	reranker rerank.Reranker
	cfg      Config
}

// New creates an Engine. reranker may be nil, in which case reranking
// is skipped and Smart-TopK runs directly on fused RRF scores.
func New(vector *store.ChunkVectorStore, bm25 store.BM25Index, embedder embed.Embedder, reranker rerank.Reranker, cfg Config) (*Engine, error) {
	if vector == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if bm25 == nil {
		return nil, fmt.Errorf("%w: bm25 index is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if reranker == nil {
		reranker = rerank.NoOp{}
	}
	return &Engine{vector: vector, bm25: bm25, embedder: embedder, reranker: reranker, cfg: cfg}, nil
}

// Search runs spec.md §4.9 steps 1 through 6 and returns the seed set.
func (e *Engine) Search(ctx context.Context, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &Result{Query: query}, nil
	}

	// Step 1/2/3: embed the query once, then recall vector and lexical
	// hits in parallel.
	var vecIDs []string
	var lexIDs []string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vecIDs, err = e.vectorRecall(gctx, query)
		if err != nil {
			slog.Warn("vector_recall_failed", slog.String("error", err.Error()))
			vecIDs = nil
			return nil // degrade to lexical-only, not a hard failure
		}
		return nil
	})
	g.Go(func() error {
		var err error
		lexIDs, err = e.lexicalRecall(gctx, query)
		if err != nil {
			slog.Warn("lexical_recall_failed", slog.String("error", err.Error()))
			lexIDs = nil
			return nil
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Step 4: RRF fusion.
	fused := RRF(vecIDs, lexIDs, e.cfg.K0, e.cfg.WVec, e.cfg.WLex, e.cfg.FusedTopM)
	if len(fused) == 0 {
		return &Result{Query: query, VectorHits: len(vecIDs), LexHits: len(lexIDs)}, nil
	}

	chunks := make([]*store.Chunk, 0, len(fused))
	for _, f := range fused {
		c, ok := e.vector.GetByID(f.ChunkID)
		if !ok {
			continue // evicted between recall and fusion
		}
		chunks = append(chunks, c)
	}

	// Step 5: rerank.
	passages := make([]string, len(chunks))
	for i, c := range chunks {
		passages[i] = truncate(c.DisplayCode, e.cfg.MaxRerankChars)
	}
	scores := make([]float64, len(chunks))
	rerankApplied := false
	if e.reranker.Available(ctx) {
		results, err := e.reranker.Rerank(ctx, query, passages, 0)
		if err != nil {
			slog.Warn("rerank_failed_using_fusion_order", slog.String("error", err.Error()))
		} else {
			rerankApplied = true
			for _, r := range results {
				if r.Index >= 0 && r.Index < len(scores) {
					scores[r.Index] = r.Score
				}
			}
		}
	}
	if !rerankApplied {
		for i, f := range fused {
			scores[i] = f.RRFScore
		}
	}

	order := make([]int, len(chunks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })

	// Step 6: Smart-TopK cutoff.
	keep := smartTopK(scores, order, e.cfg)

	seeds := make([]*Seed, 0, len(keep))
	for _, idx := range keep {
		f := fused[idx]
		source := RecallVector
		switch {
		case f.RankVec > 0 && f.RankLex > 0:
			source = RecallBoth
		case f.RankLex > 0:
			source = RecallLex
		}
		seeds = append(seeds, &Seed{
			Chunk:   chunks[idx],
			Score:   scores[idx],
			RRF:     f,
			Sources: source,
		})
	}

	return &Result{
		Query:         query,
		Seeds:         seeds,
		VectorHits:    len(vecIDs),
		LexHits:       len(lexIDs),
		FusedCount:    len(fused),
		RerankApplied: rerankApplied,
	}, nil
}

// vectorRecall embeds the query and performs step 2's ANN search.
func (e *Engine) vectorRecall(ctx context.Context, query string) ([]string, error) {
	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := e.vector.Search(ctx, vector, e.cfg.VectorTopK, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.Chunk.ID
	}
	return ids, nil
}

// lexicalRecall implements step 3: tokenize, query the FTS index, cap
// at lex_chunks_per_file, cap the total at lex_total_chunks.
func (e *Engine) lexicalRecall(ctx context.Context, query string) ([]string, error) {
	tokens := store.TokenizeQuery(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	results, err := e.bm25.Search(ctx, strings.Join(tokens, " "), e.cfg.LexTotalChunks*4)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}

	perFile := make(map[string]int)
	ids := make([]string, 0, len(results))
	for _, r := range results {
		c, ok := e.vector.GetByID(r.DocID)
		if !ok {
			continue
		}
		if perFile[c.RelativePath] >= e.cfg.LexChunksPerFile {
			continue
		}
		perFile[c.RelativePath]++
		ids = append(ids, r.DocID)
		if len(ids) >= e.cfg.LexTotalChunks {
			break
		}
	}
	return ids, nil
}

// smartTopK implements spec.md §4.9 step 6. scores is indexed by the
// original chunk position; order lists those positions sorted by score
// descending. Returns the kept positions, in order.
func smartTopK(scores []float64, order []int, cfg Config) []int {
	if len(order) == 0 {
		return nil
	}

	s1 := scores[order[0]]
	tauAbs := cfg.SmartMinScore
	tauDyn := s1 * cfg.SmartTopScoreRatio

	if len(order) > 1 {
		s2 := scores[order[1]]
		if s1 > 0 && s2 < s1*cfg.DeltaGuardRatio {
			tauDyn = s2 * cfg.SmartTopScoreRatio
		}
	}

	var kept []int
	for i, idx := range order {
		if len(kept) >= cfg.SmartMaxK {
			break
		}
		s := scores[idx]
		if i < cfg.SmartMinK {
			if s >= tauAbs {
				kept = append(kept, idx)
			}
			continue
		}
		threshold := tauDyn
		if tauAbs > threshold {
			threshold = tauAbs
		}
		if s >= threshold {
			kept = append(kept, idx)
		}
	}
	return kept
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

// Stats reports the engine's underlying store sizes.
type Stats struct {
	ChunkCount int
	BM25Stats  *store.IndexStats
}

func (e *Engine) Stats() *Stats {
	return &Stats{ChunkCount: e.vector.Count(), BM25Stats: e.bm25.Stats()}
}
