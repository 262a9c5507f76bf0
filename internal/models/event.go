package models

import (
	"slices"
	"time"
)

// ChangeEvent is one notification on the Record Store change feed.
// Delivery is at-least-once: consumers must tolerate duplicates and use
// Version to drop stale ones.
type ChangeEvent struct {
	At            time.Time      `json:"at"`
	ChangedFields map[string]any `json:"changed_fields"`
	RecordID      string         `json:"record_id"`
	ActorID       string         `json:"actor_id"`
	Action        ActionType     `json:"action,omitempty"`
	SourceEntryID string         `json:"source_entry_id,omitempty"` // для restore: запись журнала-источник
	Version       int64          `json:"version"`
}

// Predicate selects which records a feed subscriber is interested in.
type Predicate func(recordID string) bool

// AllRecords matches every record.
func AllRecords(string) bool { return true }

// RecordIn matches only the listed records.
func RecordIn(ids ...string) Predicate {
	set := slices.Clone(ids)
	return func(recordID string) bool {
		return slices.Contains(set, recordID)
	}
}

// EventFromUpdate builds the feed notification for a committed patch.
func EventFromUpdate(res *UpdateResult, fields []string, action ActionType) ChangeEvent {
	return ChangeEvent{
		RecordID:      res.Record.ID,
		Version:       res.Record.Version,
		ChangedFields: res.After(fields),
		ActorID:       res.Record.LastModifiedBy,
		Action:        action,
		At:            res.Record.LastModifiedAt,
	}
}
