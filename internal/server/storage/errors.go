package storage

import "errors"

// Common storage errors
var (
	// ErrRecordNotFound indicates that record was not found in storage
	ErrRecordNotFound = errors.New("record not found")

	// ErrRecordExists indicates that record with this ID already exists
	ErrRecordExists = errors.New("record already exists")

	// ErrEntryNotFound indicates that change log entry was not found
	ErrEntryNotFound = errors.New("change log entry not found")

	// ErrFieldNotInEntry indicates that a restore named a field the entry did not touch
	ErrFieldNotInEntry = errors.New("field not documented by change log entry")

	// ErrInvalidEntry indicates that entry is malformed (missing record or action)
	ErrInvalidEntry = errors.New("invalid change log entry")
)
