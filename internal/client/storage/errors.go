package storage

import "errors"

// Common client storage errors
var (
	// ErrRecordNotFound indicates that the record is not cached
	ErrRecordNotFound = errors.New("record not cached")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
