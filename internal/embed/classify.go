package embed

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// embeddingErrorClass is the outcome of classifying an error returned by an
// inner Embedder, per spec.md 4.3/7's EmbeddingError taxonomy.
type embeddingErrorClass int

const (
	// embedErrPermanent fails the batch outright; the caller marks the
	// batch's files dirty so a later scan retries them.
	embedErrPermanent embeddingErrorClass = iota

	// embedErrRateLimited triggers the adaptive backoff pathway and is
	// retried indefinitely.
	embedErrRateLimited

	// embedErrNetwork is retried up to networkErrorMaxRetries times with
	// exponential backoff.
	embedErrNetwork
)

// classifyEmbeddingError implements spec.md 6's classification rule: HTTP
// 429 always triggers the rate-limit pathway; a 5xx response whose body
// mentions "rate" does too. Anything that looks like a transport-level
// failure (timeout, connection refused, DNS failure, EOF) is network-class.
// Everything else is permanent.
func classifyEmbeddingError(err error) embeddingErrorClass {
	if err == nil {
		return embedErrPermanent
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests {
			return embedErrRateLimited
		}
		if statusErr.StatusCode >= 500 && strings.Contains(strings.ToLower(statusErr.Body), "rate") {
			return embedErrRateLimited
		}
		if statusErr.StatusCode >= 500 {
			return embedErrNetwork
		}
		return embedErrPermanent
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") {
		return embedErrRateLimited
	}
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate-limit") {
		return embedErrRateLimited
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return embedErrNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return embedErrNetwork
	}
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "timeout") {
		return embedErrNetwork
	}

	return embedErrPermanent
}
