package queue

import "errors"

// Sentinel errors returned by the queue.
var (
	ErrQueueSaturated = errors.New("queue saturated")
	ErrQueueClosed    = errors.New("queue closed")
	ErrTaskNotFound   = errors.New("task not found")
	ErrInvalidTask    = errors.New("invalid task")
)
