package worker

import "errors"

// ErrPoolStopped is returned when submitting to a pool that has shut down.
var ErrPoolStopped = errors.New("worker pool stopped")
