package queue

import "errors"

// ErrQueueClosed is returned when enqueueing into a closed queue.
var ErrQueueClosed = errors.New("queue closed")
