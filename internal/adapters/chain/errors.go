package chain

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"
)

// Sentinel errors for explorer calls.
var (
	ErrUnknownNetwork    = errors.New("unknown network")
	ErrExplorer          = errors.New("explorer error")
	ErrRateLimited       = errors.New("explorer rate limited")
	ErrMalformedResponse = errors.New("malformed explorer response")
	ErrCircuitOpen       = errors.New("explorer circuit open")
)

// StatusError reports a non-200 HTTP response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("explorer returned HTTP %d", e.Code)
}

// IsRetryable reports whether a failed call may succeed if repeated.
// Client errors other than 429, unknown networks, an open breaker and
// cancellation are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrUnknownNetwork) ||
		errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= http.StatusInternalServerError
	}
	return true
}

func wrapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}
