// Package rerank defines the Reranker Client interface (spec.md §4.4):
// cross-encoder rescoring of (query, passage) pairs. Only the relative
// ordering of the returned scores matters downstream; Smart-TopK
// consumes them as-is.
package rerank

import (
	"context"

	cwerrors "github.com/lyy0709/ContextWeaver/internal/errors"
)

// Result is one reranked passage.
type Result struct {
	// Index is the passage's position in the input slice.
	Index int
	// Score is the reranker's relevance score, higher is more relevant.
	Score float64
}

// Reranker scores (query, passage) pairs with a cross-encoder.
type Reranker interface {
	// Rerank scores documents against query and returns them sorted by
	// score descending. topN truncates the result; 0 means return all.
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error)

	Available(ctx context.Context) bool
	Close() error
}

// NoOp returns documents in their original order with decreasing
// synthetic scores. Used when no reranker is configured, and as the
// degraded behavior spec.md §7 requires when RerankError occurs: the
// query still completes, just in post-fusion order.
type NoOp struct{}

func (NoOp) Rerank(_ context.Context, _ string, documents []string, topN int) ([]Result, error) {
	out := make([]Result, len(documents))
	for i := range documents {
		out[i] = Result{Index: i, Score: 1.0 - float64(i)*0.001}
	}
	if topN > 0 && topN < len(out) {
		out = out[:topN]
	}
	return out, nil
}

func (NoOp) Available(context.Context) bool { return true }
func (NoOp) Close() error                    { return nil }

var _ Reranker = NoOp{}

// CircuitBreaking wraps a Reranker with a circuit breaker (supplemented
// feature, see DESIGN.md): a persistently failing remote reranker trips
// the breaker and falls back to NoOp ordering rather than retrying a
// dead endpoint on every query.
type CircuitBreaking struct {
	inner   Reranker
	breaker *cwerrors.CircuitBreaker
	fallback Reranker
}

// NewCircuitBreaking wraps inner with a circuit breaker named for logging.
func NewCircuitBreaking(name string, inner Reranker, opts ...cwerrors.CircuitBreakerOption) *CircuitBreaking {
	return &CircuitBreaking{
		inner:    inner,
		breaker:  cwerrors.NewCircuitBreaker(name, opts...),
		fallback: NoOp{},
	}
}

func (c *CircuitBreaking) Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	if !c.breaker.Allow() {
		return c.fallback.Rerank(ctx, query, documents, topN)
	}
	results, err := c.inner.Rerank(ctx, query, documents, topN)
	if err != nil {
		c.breaker.RecordFailure()
		return c.fallback.Rerank(ctx, query, documents, topN)
	}
	c.breaker.RecordSuccess()
	return results, nil
}

func (c *CircuitBreaking) Available(ctx context.Context) bool {
	return c.breaker.Allow() && c.inner.Available(ctx)
}

func (c *CircuitBreaking) Close() error { return c.inner.Close() }

var _ Reranker = (*CircuitBreaking)(nil)
