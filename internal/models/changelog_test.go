package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeLogEntry_IsNewerThan(t *testing.T) {
	tests := []struct {
		self     *ChangeLogEntry
		other    *ChangeLogEntry
		name     string
		expected bool
	}{
		{
			name:     "higher record version wins",
			self:     &ChangeLogEntry{RecordVersion: 3, Seq: 1},
			other:    &ChangeLogEntry{RecordVersion: 2, Seq: 9},
			expected: true,
		},
		{
			name:     "lower record version loses",
			self:     &ChangeLogEntry{RecordVersion: 1, Seq: 9},
			other:    &ChangeLogEntry{RecordVersion: 2, Seq: 1},
			expected: false,
		},
		{
			name:     "equal versions fall back to seq",
			self:     &ChangeLogEntry{RecordVersion: 2, Seq: 5},
			other:    &ChangeLogEntry{RecordVersion: 2, Seq: 4},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.self.IsNewerThan(tt.other))
		})
	}
}

func TestChangeLogEntry_FieldsAndClone(t *testing.T) {
	e := &ChangeLogEntry{
		ID:         "01J",
		RecordID:   "P1",
		ActionType: ActionFieldUpdate,
		Before:     map[string]any{"call_status": "대기중", "memo": nil},
		After:      map[string]any{"call_status": "응답(참석)", "memo": "late"},
		Metadata:   map[string]string{MetaWriteID: "w1"},
		CreatedAt:  time.Now(),
	}

	assert.Equal(t, []string{"call_status", "memo"}, e.Fields())
	assert.True(t, e.Touches("memo"))
	assert.False(t, e.Touches("name"))

	c := e.Clone()
	c.Metadata[MetaWriteID] = "w2"
	c.After["memo"] = "early"
	assert.Equal(t, "w1", e.Metadata[MetaWriteID])
	assert.Equal(t, "late", e.After["memo"])
}

func TestHistoryCursor_Admits(t *testing.T) {
	cur := CursorAfter(&ChangeLogEntry{RecordVersion: 5, Seq: 10})

	assert.True(t, HistoryCursor{}.Admits(&ChangeLogEntry{RecordVersion: 99}))
	assert.True(t, cur.Admits(&ChangeLogEntry{RecordVersion: 4, Seq: 20}))
	assert.True(t, cur.Admits(&ChangeLogEntry{RecordVersion: 5, Seq: 9}))
	assert.False(t, cur.Admits(&ChangeLogEntry{RecordVersion: 5, Seq: 10}))
	assert.False(t, cur.Admits(&ChangeLogEntry{RecordVersion: 6, Seq: 1}))
}

func TestActionType_Valid(t *testing.T) {
	assert.True(t, ActionFieldUpdate.Valid())
	assert.True(t, ActionStatusChange.Valid())
	assert.True(t, ActionRestore.Valid())
	assert.False(t, ActionType("delete").Valid())
}

func TestRestoreTarget(t *testing.T) {
	entry := &ChangeLogEntry{
		ID:     "src",
		Before: map[string]any{"call_status": "대기중", "memo": "a"},
		After:  map[string]any{"call_status": "응답(참석)", "memo": "b"},
	}

	values, missing := RestoreTarget(entry, nil)
	assert.Empty(t, missing)
	assert.Equal(t, map[string]any{"call_status": "대기중", "memo": "a"}, values)

	values, missing = RestoreTarget(entry, []string{"call_status", "phone"})
	assert.Equal(t, []string{"phone"}, missing)
	assert.Equal(t, map[string]any{"call_status": "대기중"}, values)
}

func TestNewRestoreEntry(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	source := &ChangeLogEntry{ID: "src"}
	res := &UpdateResult{
		Record: &Record{
			ID:             "P1",
			Fields:         map[string]any{"call_status": "대기중"},
			Version:        3,
			LastModifiedBy: "op-2",
			LastModifiedAt: now,
		},
		Previous: map[string]any{"call_status": "응답(참석)"},
	}

	entry := NewRestoreEntry("new", source, res, []string{"call_status"})
	require.NotNil(t, entry)
	assert.Equal(t, ActionRestore, entry.ActionType)
	assert.Equal(t, "응답(참석)", entry.Before["call_status"])
	assert.Equal(t, "대기중", entry.After["call_status"])
	assert.Equal(t, "src", entry.RestoredFrom())
	assert.Equal(t, int64(3), entry.RecordVersion)
	assert.Equal(t, "op-2", entry.ActorID)
}
