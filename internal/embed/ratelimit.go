package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Rate-limit controller tuning constants (spec.md 4.3, pinned exactly).
const (
	rateLimitInitialBackoff = 5 * time.Second
	rateLimitMaxBackoff     = 60 * time.Second
	rateLimitGrowEveryK     = 3                    // K: consecutive successes per +1 concurrency slot
	rateLimitHalveEvery     = 10 * rateLimitGrowEveryK // 10K: consecutive successes before halving backoff

	networkErrorMaxRetries = 3
	networkErrorBaseDelay  = 1 * time.Second
)

// RateLimitController is the process-wide, shared adaptive concurrency and
// backoff governor described in spec.md 4.3. A single instance is injected
// into every RateLimitedEmbedder built from the same embedding
// configuration (spec.md 5: "process-wide, shared by all embedding
// clients") rather than each client keeping its own state.
type RateLimitController struct {
	mu   sync.Mutex
	wake chan struct{}

	maxConcurrency int
	effective      int
	inUse          int

	paused               bool
	backoff              time.Duration
	consecutiveSuccesses int
}

// NewRateLimitController creates a controller allowing up to maxConcurrency
// concurrent embedding requests once fully warmed up.
func NewRateLimitController(maxConcurrency int) *RateLimitController {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &RateLimitController{
		maxConcurrency: maxConcurrency,
		effective:      maxConcurrency,
		wake:           make(chan struct{}),
	}
}

// wakeAllLocked releases every goroutine blocked in Acquire so it can
// re-check the (now changed) pause/concurrency state. Must hold c.mu.
func (c *RateLimitController) wakeAllLocked() {
	close(c.wake)
	c.wake = make(chan struct{})
}

// Acquire blocks until a concurrency slot is free and the controller is not
// paused for rate-limit backoff, or ctx is done.
func (c *RateLimitController) Acquire(ctx context.Context) error {
	for {
		c.mu.Lock()
		if !c.paused && c.inUse < c.effective {
			c.inUse++
			c.mu.Unlock()
			return nil
		}
		wake := c.wake
		c.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release returns a concurrency slot to the pool.
func (c *RateLimitController) Release() {
	c.mu.Lock()
	c.inUse--
	c.wakeAllLocked()
	c.mu.Unlock()
}

// OnRateLimited pauses all acquisition, resets effective concurrency to 1,
// and schedules a resume after an exponentially growing backoff (initial
// 5s, doubling, capped at 60s).
func (c *RateLimitController) OnRateLimited() {
	c.mu.Lock()
	if c.backoff == 0 {
		c.backoff = rateLimitInitialBackoff
	} else {
		c.backoff *= 2
		if c.backoff > rateLimitMaxBackoff {
			c.backoff = rateLimitMaxBackoff
		}
	}
	wait := c.backoff
	c.paused = true
	c.effective = 1
	c.consecutiveSuccesses = 0
	c.wakeAllLocked()
	c.mu.Unlock()

	slog.Warn("embed_rate_limited", slog.Duration("backoff", wait))

	time.AfterFunc(wait, func() {
		c.mu.Lock()
		c.paused = false
		c.wakeAllLocked()
		c.mu.Unlock()
	})
}

// OnSuccess records a successful request. Effective concurrency re-grows by
// one slot per K=3 consecutive successes up to maxConcurrency; after 10K
// consecutive successes the backoff halves back toward the initial value.
func (c *RateLimitController) OnSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveSuccesses++
	if c.consecutiveSuccesses%rateLimitGrowEveryK == 0 && c.effective < c.maxConcurrency {
		c.effective++
		c.wakeAllLocked()
	}
	if c.consecutiveSuccesses%rateLimitHalveEvery == 0 && c.backoff > rateLimitInitialBackoff {
		c.backoff /= 2
		if c.backoff < rateLimitInitialBackoff {
			c.backoff = rateLimitInitialBackoff
		}
	}
}

// RateLimitedEmbedder wraps an Embedder with the adaptive rate control and
// concurrency governor of spec.md 4.3. Multiple RateLimitedEmbedders may
// share one *RateLimitController so a pause triggered by any of them
// applies process-wide.
type RateLimitedEmbedder struct {
	inner      Embedder
	controller *RateLimitController
}

var _ Embedder = (*RateLimitedEmbedder)(nil)

// NewRateLimitedEmbedder wraps inner with controller.
func NewRateLimitedEmbedder(inner Embedder, controller *RateLimitController) *RateLimitedEmbedder {
	return &RateLimitedEmbedder{inner: inner, controller: controller}
}

// Embed embeds a single text.
func (e *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts through the controller's concurrency gate,
// classifying failures per spec.md 4.3/7: rate-limited errors pause and
// retry indefinitely, network-class errors retry up to
// networkErrorMaxRetries times with exponential backoff, and any other
// error surfaces immediately.
func (e *RateLimitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	networkAttempts := 0
	for {
		if err := e.controller.Acquire(ctx); err != nil {
			return nil, err
		}
		vecs, err := e.inner.EmbedBatch(ctx, texts)
		e.controller.Release()

		if err == nil {
			e.controller.OnSuccess()
			return vecs, nil
		}

		switch classifyEmbeddingError(err) {
		case embedErrRateLimited:
			e.controller.OnRateLimited()
			// retried indefinitely with backoff per spec.md 4.3
			continue

		case embedErrNetwork:
			networkAttempts++
			if networkAttempts > networkErrorMaxRetries {
				return nil, fmt.Errorf("embedding batch failed after %d network retries: %w", networkErrorMaxRetries, err)
			}
			delay := networkErrorBaseDelay << uint(networkAttempts-1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue

		default:
			return nil, err
		}
	}
}

// Dimensions passes through to inner.
func (e *RateLimitedEmbedder) Dimensions() int { return e.inner.Dimensions() }

// ModelName passes through to inner.
func (e *RateLimitedEmbedder) ModelName() string { return e.inner.ModelName() }

// Available passes through to inner.
func (e *RateLimitedEmbedder) Available(ctx context.Context) bool { return e.inner.Available(ctx) }

// Close passes through to inner.
func (e *RateLimitedEmbedder) Close() error { return e.inner.Close() }

// Inner returns the underlying embedder, mirroring CachedEmbedder.Inner().
func (e *RateLimitedEmbedder) Inner() Embedder { return e.inner }
