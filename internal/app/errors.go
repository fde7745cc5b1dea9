package service

import (
	"errors"
	"fmt"

	"github.com/okian/traderscore/internal/adapters/repository"
)

// Sentinel errors returned by the service.
var (
	ErrNotStarted   = errors.New("service not started")
	ErrInvalidInput = errors.New("invalid validation input")
	ErrInvalidLimit = errors.New("invalid ranking limit")
	// ErrPersistence marks a failed repository write. Nothing was committed
	// and the caller may retry the validation.
	ErrPersistence = errors.New("persisting trader metrics failed")
	ErrNotFound    = repository.ErrNotFound
	// ErrInFlight rejects a validation of a trader that is already being
	// validated by another call.
	ErrInFlight = errors.New("trader validation already in progress")
	// ErrDuplicateTrader rejects repeated traders within one batch.
	ErrDuplicateTrader = fmt.Errorf("%w: duplicate trader in batch", ErrInvalidInput)
)

// IsRetryable reports whether a failed validation may succeed if repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrInFlight)
}
