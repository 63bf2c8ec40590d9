package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestClassifyEmbeddingError_429IsRateLimited(t *testing.T) {
	err := &httpStatusError{StatusCode: http.StatusTooManyRequests, Body: "slow down"}
	if got := classifyEmbeddingError(err); got != embedErrRateLimited {
		t.Fatalf("got %v, want embedErrRateLimited", got)
	}
}

func TestClassifyEmbeddingError_5xxWithRateWordIsRateLimited(t *testing.T) {
	err := &httpStatusError{StatusCode: http.StatusServiceUnavailable, Body: "Rate limit exceeded, try later"}
	if got := classifyEmbeddingError(err); got != embedErrRateLimited {
		t.Fatalf("got %v, want embedErrRateLimited", got)
	}
}

func TestClassifyEmbeddingError_5xxWithoutRateWordIsNetwork(t *testing.T) {
	err := &httpStatusError{StatusCode: http.StatusBadGateway, Body: "upstream down"}
	if got := classifyEmbeddingError(err); got != embedErrNetwork {
		t.Fatalf("got %v, want embedErrNetwork", got)
	}
}

func TestClassifyEmbeddingError_4xxOtherIsPermanent(t *testing.T) {
	err := &httpStatusError{StatusCode: http.StatusUnauthorized, Body: "bad key"}
	if got := classifyEmbeddingError(err); got != embedErrPermanent {
		t.Fatalf("got %v, want embedErrPermanent", got)
	}
}

func TestClassifyEmbeddingError_ConnectionRefusedIsNetwork(t *testing.T) {
	err := errors.New("dial tcp: connection refused")
	if got := classifyEmbeddingError(err); got != embedErrNetwork {
		t.Fatalf("got %v, want embedErrNetwork", got)
	}
}

func TestClassifyEmbeddingError_DeadlineExceededIsNetwork(t *testing.T) {
	if got := classifyEmbeddingError(context.DeadlineExceeded); got != embedErrNetwork {
		t.Fatalf("got %v, want embedErrNetwork", got)
	}
}

func TestController_AcquireRelease_RespectsMaxConcurrency(t *testing.T) {
	c := NewRateLimitController(2)
	ctx := context.Background()

	if err := c.Acquire(ctx); err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if err := c.Acquire(ctx); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		_ = c.Acquire(ctx)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should have blocked at max concurrency 2")
	case <-time.After(50 * time.Millisecond):
	}

	c.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("third acquire should have unblocked after a release")
	}
}

func TestController_OnRateLimited_PausesAndResetsConcurrency(t *testing.T) {
	c := NewRateLimitController(10)
	c.effective = 10

	c.OnRateLimited()

	c.mu.Lock()
	paused := c.paused
	effective := c.effective
	backoff := c.backoff
	c.mu.Unlock()

	if !paused {
		t.Fatal("expected controller to be paused immediately after rate limit")
	}
	if effective != 1 {
		t.Fatalf("effective concurrency = %d, want 1", effective)
	}
	if backoff != rateLimitInitialBackoff {
		t.Fatalf("backoff = %v, want initial %v", backoff, rateLimitInitialBackoff)
	}
}

func TestController_OnRateLimited_DoublesBackoffUpToCap(t *testing.T) {
	c := NewRateLimitController(1)
	c.backoff = 40 * time.Second

	c.OnRateLimited()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backoff != rateLimitMaxBackoff {
		t.Fatalf("backoff = %v, want capped at %v", c.backoff, rateLimitMaxBackoff)
	}
}

func TestController_Acquire_BlocksWhilePaused(t *testing.T) {
	c := NewRateLimitController(5)
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Acquire(ctx)
	if err == nil {
		t.Fatal("expected Acquire to block and time out while paused")
	}
}

func TestController_OnSuccess_RegrowsConcurrencyByOnePerK(t *testing.T) {
	c := NewRateLimitController(5)
	c.effective = 1

	for i := 0; i < rateLimitGrowEveryK-1; i++ {
		c.OnSuccess()
	}
	if c.effective != 1 {
		t.Fatalf("effective = %d before K successes, want still 1", c.effective)
	}

	c.OnSuccess() // Kth success
	if c.effective != 2 {
		t.Fatalf("effective = %d after K successes, want 2", c.effective)
	}
}

func TestController_OnSuccess_HalvesBackoffAfter10K(t *testing.T) {
	c := NewRateLimitController(1)
	c.backoff = 20 * time.Second
	c.consecutiveSuccesses = rateLimitHalveEvery - 1

	c.OnSuccess()

	if c.backoff != 10*time.Second {
		t.Fatalf("backoff = %v after 10K successes, want halved to 10s", c.backoff)
	}
}

func TestController_OnSuccess_NeverGrowsBeyondMax(t *testing.T) {
	c := NewRateLimitController(2)
	c.effective = 2

	for i := 0; i < rateLimitGrowEveryK*3; i++ {
		c.OnSuccess()
	}
	if c.effective != 2 {
		t.Fatalf("effective = %d, should never exceed maxConcurrency 2", c.effective)
	}
}

// countingEmbedder returns a scripted sequence of results, one per call to
// EmbedBatch, and counts invocations for assertions.
type countingEmbedder struct {
	mu      sync.Mutex
	results []error
	calls   int32
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&e.calls, 1)

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.results) == 0 {
		return nil, fmt.Errorf("countingEmbedder: no scripted result left")
	}
	err := e.results[0]
	e.results = e.results[1:]
	if err != nil {
		return nil, err
	}
	vecs := make([][]float32, len(texts))
	for i := range vecs {
		vecs[i] = []float32{1, 2, 3}
	}
	return vecs, nil
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *countingEmbedder) Dimensions() int                  { return 3 }
func (e *countingEmbedder) ModelName() string                { return "counting" }
func (e *countingEmbedder) Available(_ context.Context) bool { return true }
func (e *countingEmbedder) Close() error                     { return nil }

func TestRateLimitedEmbedder_NetworkErrorRetriesThenSucceeds(t *testing.T) {
	inner := &countingEmbedder{results: []error{
		errors.New("dial tcp: connection refused"),
		errors.New("dial tcp: connection refused"),
		nil,
	}}
	e := NewRateLimitedEmbedder(inner, NewRateLimitController(1))

	vecs, err := e.EmbedBatch(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 1 {
		t.Fatalf("got %d vectors, want 1", len(vecs))
	}
	if inner.calls != 3 {
		t.Fatalf("calls = %d, want 3 (2 failed + 1 success)", inner.calls)
	}
}

func TestRateLimitedEmbedder_NetworkErrorFailsAfterMaxRetries(t *testing.T) {
	inner := &countingEmbedder{results: []error{
		errors.New("connection reset"),
		errors.New("connection reset"),
		errors.New("connection reset"),
		errors.New("connection reset"),
	}}
	e := NewRateLimitedEmbedder(inner, NewRateLimitController(1))

	_, err := e.EmbedBatch(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected failure after exceeding network retry budget")
	}
	if inner.calls != networkErrorMaxRetries+1 {
		t.Fatalf("calls = %d, want %d", inner.calls, networkErrorMaxRetries+1)
	}
}

func TestRateLimitedEmbedder_PermanentErrorSurfacesImmediately(t *testing.T) {
	inner := &countingEmbedder{results: []error{
		&httpStatusError{StatusCode: http.StatusUnauthorized, Body: "bad key"},
	}}
	e := NewRateLimitedEmbedder(inner, NewRateLimitController(1))

	_, err := e.EmbedBatch(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected permanent error to surface")
	}
	if inner.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry for permanent errors)", inner.calls)
	}
}

func TestRateLimitedEmbedder_EmptyInputShortCircuits(t *testing.T) {
	inner := &countingEmbedder{}
	e := NewRateLimitedEmbedder(inner, NewRateLimitController(1))

	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 0 {
		t.Fatalf("got %d vectors, want 0", len(vecs))
	}
	if inner.calls != 0 {
		t.Fatalf("inner embedder should not be called for empty input")
	}
}
