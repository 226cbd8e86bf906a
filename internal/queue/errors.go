package queue

import "errors"

var (
	// ErrInvalidInput rejects an enqueue request before it reaches the queue.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound reports a cancel or forget of an unknown or already finished id.
	ErrNotFound = errors.New("job not found")
	// ErrRejectedActive reports an attempt to cancel the in-flight job.
	ErrRejectedActive = errors.New("cannot cancel active job")
	// ErrPersistence marks store read or write failures.
	ErrPersistence = errors.New("queue persistence failure")
)
