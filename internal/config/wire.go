package config

import (
	"github.com/lyy0709/ContextWeaver/internal/graph"
	"github.com/lyy0709/ContextWeaver/internal/pack"
	"github.com/lyy0709/ContextWeaver/internal/search"
)

// SearchEngineConfig builds an internal/search.Config from the loaded
// configuration. Fields spec.md §4.9 does not expose through
// SearchConfig fall back to search.DefaultConfig()'s pinned defaults.
func (c *Config) SearchEngineConfig() search.Config {
	cfg := search.DefaultConfig()
	if c.Search.RRFConstant > 0 {
		cfg.K0 = c.Search.RRFConstant
	}
	if c.Search.MaxResults > 0 {
		cfg.SmartMaxK = c.Search.MaxResults
	}
	return cfg
}

// GraphConfig builds an internal/graph.Config. SPEC_FULL.md's
// GraphExpander tunables are not part of spec.md §6's core option table,
// so this project carries no dedicated section for them yet; callers get
// graph.DefaultConfig()'s values until one is added.
func (c *Config) GraphConfig() graph.Config {
	return graph.DefaultConfig()
}

// PackConfig builds an internal/pack.Config from the loaded
// configuration, honoring PerformanceConfig's memory-adjacent knobs where
// they map onto packing (currently none do — this exists for parity with
// SearchEngineConfig/GraphConfig and to give future pack-specific options
// a home).
func (c *Config) PackConfig() pack.Config {
	return pack.DefaultConfig()
}

// EmbeddingsMaxConcurrency returns the configured concurrency ceiling for
// the embedding rate-limit controller (spec.md §6 EMBEDDINGS_MAX_CONCURRENCY),
// falling back to the spec's stated default of 10.
func (c *Config) EmbeddingsMaxConcurrency() int {
	if c.Embeddings.MaxConcurrency > 0 {
		return c.Embeddings.MaxConcurrency
	}
	return 10
}

// RerankTopN returns the configured reranker top-N (spec.md §6
// RERANK_TOP_N), falling back to the spec's stated default of 20.
func (c *Config) RerankTopN() int {
	if c.Rerank.TopN > 0 {
		return c.Rerank.TopN
	}
	return 20
}
