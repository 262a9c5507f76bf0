package models

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError is a local rejection of a malformed edit.
// It is returned before any flush is scheduled.
type ValidationError struct {
	Value  any
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Reason)
}

// PersistenceError reports a failed flush or restore write.
// The affected drafts stay dirty and the operation may be retried.
type PersistenceError struct {
	Err      error
	RecordID string
	Op       string // "flush" | "restore"
	Reason   string
	Fields   []string
}

func (e *PersistenceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s of record %s failed", e.Op, e.RecordID)
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " (fields: %s)", strings.Join(e.Fields, ", "))
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// AuditError reports that a change log append failed after the primary write
// committed. It never reverts the write; only the trail entry is missing.
type AuditError struct {
	Err      error
	RecordID string
	EntryID  string
}

func (e *AuditError) Error() string {
	return fmt.Sprintf("audit entry %s for record %s was not written: %v", e.EntryID, e.RecordID, e.Err)
}

func (e *AuditError) Unwrap() error {
	return e.Err
}

// ConflictWarning is raised when a field was edited locally and changed
// remotely in the same window. Nothing is merged: the later commit wins.
// Kept is true when the local edit is the value that stands.
type ConflictWarning struct {
	Local    any
	Remote   any
	RecordID string
	Field    string
	Kept     bool
}

func (w *ConflictWarning) Error() string {
	if w.Kept {
		return fmt.Sprintf("field %q of record %s was changed remotely to %v while a local edit %v was pending; local edit kept",
			w.Field, w.RecordID, w.Remote, w.Local)
	}
	return fmt.Sprintf("local edit %v of field %q of record %s was overwritten by a later remote change to %v",
		w.Local, w.Field, w.RecordID, w.Remote)
}

// IsRetryable reports whether err is a persistence failure the caller may retry.
func IsRetryable(err error) bool {
	var perr *PersistenceError
	return errors.As(err, &perr)
}
