package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConcurrencyConflict indicates a lost update or serialization failure
	// detected by the storage layer. The whole operation may be retried a
	// bounded number of times.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)
