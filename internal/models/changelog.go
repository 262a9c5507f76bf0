package models

import (
	"time"
)

// ActionType describes what kind of mutation a change log entry documents.
type ActionType string

// ActionType values written to the change log.
const (
	ActionFieldUpdate  ActionType = "field_update"
	ActionStatusChange ActionType = "status_change"
	ActionRestore      ActionType = "restore"
)

// Valid reports whether a is one of the known action types.
func (a ActionType) Valid() bool {
	switch a {
	case ActionFieldUpdate, ActionStatusChange, ActionRestore:
		return true
	}
	return false
}

// Correlation metadata keys.
const (
	// MetaWriteID links an entry to the coalesced flush that produced it.
	MetaWriteID = "write_id"
	// MetaRestoredFrom holds the id of the entry a restore was taken from.
	MetaRestoredFrom = "restored_from"
)

// ChangeLogEntry is an immutable record of one committed mutation.
// Once appended it is never updated or deleted; a restore appends a new entry.
//
// Before and After hold values of every field the mutation touched, so one
// coalesced flush of several fields produces exactly one entry.
type ChangeLogEntry struct {
	CreatedAt     time.Time         `json:"created_at"`
	Before        map[string]any    `json:"before"`
	After         map[string]any    `json:"after"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	ID            string            `json:"id"`
	RecordID      string            `json:"record_id"`
	ActorID       string            `json:"actor_id"`
	ActionType    ActionType        `json:"action_type"`
	RecordVersion int64             `json:"record_version"` // RecordVersion версия записи после фиксации
	Seq           int64             `json:"seq"`            // Seq порядковый номер, назначается хранилищем при добавлении
}

// Fields returns the names of the fields the entry touched, in lexical order.
func (e *ChangeLogEntry) Fields() []string {
	seen := make(map[string]struct{}, len(e.After)+len(e.Before))
	for k := range e.After {
		seen[k] = struct{}{}
	}
	for k := range e.Before {
		seen[k] = struct{}{}
	}
	return SortedKeys(seen)
}

// Touches reports whether the entry documents a change of field.
func (e *ChangeLogEntry) Touches(field string) bool {
	if _, ok := e.After[field]; ok {
		return true
	}
	_, ok := e.Before[field]
	return ok
}

// RestoredFrom returns the source entry id for restore entries.
func (e *ChangeLogEntry) RestoredFrom() string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[MetaRestoredFrom]
}

// IsNewerThan orders entries of one record by commit: record version first,
// then append sequence.
func (e *ChangeLogEntry) IsNewerThan(other *ChangeLogEntry) bool {
	if e.RecordVersion != other.RecordVersion {
		return e.RecordVersion > other.RecordVersion
	}
	return e.Seq > other.Seq
}

// Clone создает глубокую копию записи журнала
func (e *ChangeLogEntry) Clone() *ChangeLogEntry {
	var meta map[string]string
	if e.Metadata != nil {
		meta = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			meta[k] = v
		}
	}

	return &ChangeLogEntry{
		ID:            e.ID,
		RecordID:      e.RecordID,
		ActionType:    e.ActionType,
		Before:        CloneFields(e.Before),
		After:         CloneFields(e.After),
		ActorID:       e.ActorID,
		CreatedAt:     e.CreatedAt,
		RecordVersion: e.RecordVersion,
		Seq:           e.Seq,
		Metadata:      meta,
	}
}

// HistoryCursor points just past the last entry of a history page.
// The zero cursor means "start from the most recent entry".
type HistoryCursor struct {
	RecordVersion int64 `json:"record_version"`
	Seq           int64 `json:"seq"`
}

// IsZero reports whether the cursor is unset.
func (c HistoryCursor) IsZero() bool {
	return c.RecordVersion == 0 && c.Seq == 0
}

// CursorAfter returns the cursor continuing after entry e.
func CursorAfter(e *ChangeLogEntry) HistoryCursor {
	return HistoryCursor{RecordVersion: e.RecordVersion, Seq: e.Seq}
}

// Admits reports whether entry e lies strictly after the cursor in
// most-recent-first order.
func (c HistoryCursor) Admits(e *ChangeLogEntry) bool {
	if c.IsZero() {
		return true
	}
	if e.RecordVersion != c.RecordVersion {
		return e.RecordVersion < c.RecordVersion
	}
	return e.Seq < c.Seq
}

// HistoryQuery selects a page of one record's change log, most recent first.
type HistoryQuery struct {
	RecordID string
	Before   HistoryCursor
	Limit    int
}

// DefaultHistoryLimit is used when a query does not set Limit.
const DefaultHistoryLimit = 50
