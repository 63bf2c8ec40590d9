package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

// HTTP embedding endpoint defaults (spec.md 4.3/6).
const (
	// DefaultHTTPEmbedDimensions is the vector width D used when the
	// provider config does not pin a dimension.
	DefaultHTTPEmbedDimensions = 1024

	// DefaultHTTPEmbedTimeout is the per-request timeout for the remote
	// embedding endpoint.
	DefaultHTTPEmbedTimeout = 90 * time.Second

	// DefaultHTTPEmbedModel names the model sent in the request body when
	// none is configured.
	DefaultHTTPEmbedModel = "text-embedding-3-large"
)

// HTTPEmbedderConfig configures HTTPEmbedder.
type HTTPEmbedderConfig struct {
	// Endpoint is the full URL of the embeddings endpoint.
	Endpoint string

	// APIKey is sent as a Bearer token. May be empty for unauthenticated
	// endpoints (e.g. a local proxy).
	APIKey string

	// Model is the model identifier sent in the request body.
	Model string

	// Dimensions is the expected vector width D (spec.md 4.3). A mismatch
	// against the store's recorded dimension triggers a full reindex, not
	// something this client itself decides.
	Dimensions int

	// Timeout bounds a single HTTP request (spec.md 5: default 90s).
	Timeout time.Duration

	// BatchSize caps how many texts are sent in a single request body
	// (spec.md 4.3: embed_batch chunks large inputs rather than sending
	// them all in one round-trip).
	BatchSize int

	// ProgressFunc, if set, is called after each batch completes with the
	// number of texts embedded so far and the total (spec.md 4.3's
	// on_progress).
	ProgressFunc func(completed, total int)
}

// DefaultHTTPEmbedderConfig returns the spec-pinned defaults, honoring the
// EMBEDDINGS_DIMENSIONS environment override when present.
func DefaultHTTPEmbedderConfig() HTTPEmbedderConfig {
	dims := DefaultHTTPEmbedDimensions
	if v := os.Getenv("EMBEDDINGS_DIMENSIONS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			dims = parsed
		}
	}
	return HTTPEmbedderConfig{
		Model:      DefaultHTTPEmbedModel,
		Dimensions: dims,
		Timeout:    DefaultHTTPEmbedTimeout,
	}
}

// httpEmbedRequest matches spec.md 6's embedding endpoint contract.
type httpEmbedRequest struct {
	Model          string `json:"model"`
	Input          any    `json:"input"` // string or []string
	EncodingFormat string `json:"encoding_format"`
}

type httpEmbedDatum struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type httpEmbedUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type httpEmbedResponse struct {
	Data  []httpEmbedDatum `json:"data"`
	Usage *httpEmbedUsage  `json:"usage,omitempty"`
}

// httpStatusError carries the response status and body so callers up the
// stack (the rate-limit controller) can classify it without re-parsing.
type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("embedding endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// HTTPEmbedder calls a remote embeddings endpoint honoring the
// request/response shape defined in spec.md 6 (Bearer-auth, OpenAI-style
// batch embeddings). It implements no retry or backoff policy of its own —
// that is the job of RateLimitedEmbedder, which wraps it in NewEmbedder.
type HTTPEmbedder struct {
	client *http.Client
	cfg    HTTPEmbedderConfig

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*HTTPEmbedder)(nil)

// NewHTTPEmbedder creates an HTTPEmbedder from cfg, applying defaults for
// any zero-valued fields.
func NewHTTPEmbedder(cfg HTTPEmbedderConfig) (*HTTPEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("http embedder: endpoint is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultHTTPEmbedModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultHTTPEmbedDimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPEmbedTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &HTTPEmbedder{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}, nil
}

// SetProgressFunc sets the callback invoked after each batch completes
// during EmbedBatch (spec.md 4.3's on_progress).
func (e *HTTPEmbedder) SetProgressFunc(fn func(completed, total int)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.ProgressFunc = fn
}

// Embed embeds a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in input order per spec.md 4.3, chunking large
// inputs into cfg.BatchSize-sized HTTP requests and reporting progress
// through cfg.ProgressFunc after each one completes.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	batchSize := e.cfg.BatchSize
	progress := e.cfg.ProgressFunc
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	results := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := e.doEmbedRequest(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		copy(results[start:end], vectors)

		if progress != nil {
			progress(end, len(texts))
		}
	}
	return results, nil
}

// doEmbedRequest sends a single HTTP round-trip for texts, returning
// vectors in input order.
func (e *HTTPEmbedder) doEmbedRequest(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	reqBody := httpEmbedRequest{
		Model:          e.cfg.Model,
		Input:          input,
		EncodingFormat: "float",
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed httpEmbedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		if len(d.Embedding) != e.cfg.Dimensions {
			return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(d.Embedding), e.cfg.Dimensions)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("embedding response missing vector for index %d", i)
		}
	}
	return vectors, nil
}

// Dimensions returns the configured vector width D.
func (e *HTTPEmbedder) Dimensions() int {
	return e.cfg.Dimensions
}

// ModelName returns the configured model identifier.
func (e *HTTPEmbedder) ModelName() string {
	return e.cfg.Model
}

// Available reports whether the endpoint is configured. It performs no
// network call; readiness is discovered on first use.
func (e *HTTPEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed && e.cfg.Endpoint != ""
}

// Close marks the embedder closed. The underlying *http.Client's idle
// connections are reclaimed by its transport's own idle timeout.
func (e *HTTPEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
