// Package resilience composes the outbound call policy for AI providers:
// a FIFO concurrency limiter, retry with exponential backoff, a per-attempt
// timeout, and a sampling circuit breaker.
package resilience

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/sashabaranov/go-openai"
)

// Retry triggers on these statuses. 429 and 503 additionally feed the
// circuit breaker.
var transientStatuses = map[int]bool{
	408: true,
	429: true,
	502: true,
	503: true,
	504: true,
}

// StatusOf returns the HTTP status carried by an OpenAI-compatible API
// error, or 0 when the error has none.
func StatusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// Transient reports whether err warrants another attempt. User-initiated
// cancellation is the caller's signal to stop, so context.Canceled is
// never transient; an expired per-attempt deadline is.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if transientStatuses[StatusOf(err)] {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return false
}

// TripsBreaker reports whether err counts as a failure sample for the
// circuit breaker. Only rate-limit and unavailability responses do; other
// failures retry without opening the circuit.
func TripsBreaker(err error) bool {
	status := StatusOf(err)
	return status == 429 || status == 503
}

// RateLimited reports whether err is an HTTP 429.
func RateLimited(err error) bool {
	return StatusOf(err) == 429
}
