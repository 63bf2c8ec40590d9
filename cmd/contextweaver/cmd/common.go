// Package cmd provides the CLI commands for ContextWeaver.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lyy0709/ContextWeaver/internal/chunk"
	"github.com/lyy0709/ContextWeaver/internal/config"
	"github.com/lyy0709/ContextWeaver/internal/embed"
	"github.com/lyy0709/ContextWeaver/internal/graph"
	"github.com/lyy0709/ContextWeaver/internal/project"
	"github.com/lyy0709/ContextWeaver/internal/rerank"
	"github.com/lyy0709/ContextWeaver/internal/resolve"
	"github.com/lyy0709/ContextWeaver/internal/search"
	"github.com/lyy0709/ContextWeaver/internal/store"
)

// stack bundles the stores and services every subcommand needs, opened
// against one project root. Callers must call Close when done.
type stack struct {
	proj     *project.Project
	cfg      *config.Config
	metadata store.MetadataStore
	bm25     store.BM25Index
	vector   *store.ChunkVectorStore
	embedder embed.Embedder
	chunker  chunk.Chunker
	engine   *search.Engine
	expander *graph.Expander
}

// openStack resolves root to its Project, loads project config, and
// constructs every store/service a scan or retrieve needs (spec.md §3,
// §4.3-§4.10) the way the teacher's preflight/serve commands build their
// dependency graph before handing it to the index/search packages.
func openStack(ctx context.Context, root string) (*stack, error) {
	proj, err := project.Open(root)
	if err != nil {
		return nil, fmt.Errorf("open project: %w", err)
	}

	cfg, err := config.Load(proj.RootPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	metadata, err := store.NewSQLiteStore(proj.MetadataPath())
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	bm25Path := filepath.Join(proj.DataDir, "bm25")
	bm25, err := store.NewBM25IndexWithBackend(bm25Path, store.DefaultBM25Config(), cfg.Search.BM25Backend)
	if err != nil {
		_ = metadata.Close()
		return nil, fmt.Errorf("open bm25 index: %w", err)
	}

	embedder, err := embed.NewEmbedder(ctx, embed.ParseProvider(cfg.Embeddings.Provider), cfg.Embeddings.Model)
	if err != nil {
		_ = metadata.Close()
		_ = bm25.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	dims := cfg.Embeddings.Dimensions
	if dims <= 0 {
		dims = embedder.Dimensions()
	}
	vecCfg := store.DefaultVectorStoreConfig(dims)
	vector, err := store.NewChunkVectorStore(vecCfg)
	if err != nil {
		_ = metadata.Close()
		_ = bm25.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	if _, err := os.Stat(proj.VectorsPath()); err == nil {
		if loadErr := vector.Load(proj.VectorsPath()); loadErr != nil {
			slog.Warn("vector_load_failed", slog.String("error", loadErr.Error()))
		}
	}

	registry := chunk.NewLanguageRegistry()
	pool := chunk.NewParserPool(registry, 4)
	chunker := chunk.NewCodeChunker(registry, pool)

	reranker := rerank.Reranker(rerank.NoOp{})
	if cfg.Rerank.TopN > 0 {
		reranker = rerank.NewCircuitBreaking("reranker", rerank.NoOp{})
	}

	engine, err := search.New(vector, bm25, embedder, reranker, cfg.SearchEngineConfig())
	if err != nil {
		_ = metadata.Close()
		_ = bm25.Close()
		_ = embedder.Close()
		_ = vector.Close()
		return nil, fmt.Errorf("build search engine: %w", err)
	}

	resolver := resolve.New(cfg.Paths.Include)
	expander := graph.New(vector, resolver, cfg.GraphConfig())

	return &stack{
		proj:     proj,
		cfg:      cfg,
		metadata: metadata,
		bm25:     bm25,
		vector:   vector,
		embedder: embedder,
		chunker:  chunker,
		engine:   engine,
		expander: expander,
	}, nil
}

// Close releases every resource openStack acquired, collecting rather
// than short-circuiting on the first failure so one stuck resource
// doesn't leak the rest.
func (s *stack) Close() error {
	var errs []error
	if err := s.vector.Save(s.proj.VectorsPath()); err != nil {
		errs = append(errs, fmt.Errorf("save vector store: %w", err))
	}
	if err := s.vector.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.bm25.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.embedder.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.metadata.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
