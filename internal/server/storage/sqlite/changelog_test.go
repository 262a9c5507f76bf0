package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/rollcall/internal/models"
	"github.com/iudanet/rollcall/internal/server/storage"
)

func testEntry(id, recordID string, version int64, before, after any) *models.ChangeLogEntry {
	return &models.ChangeLogEntry{
		ID:            id,
		RecordID:      recordID,
		ActionType:    models.ActionStatusChange,
		Before:        map[string]any{"call_status": before},
		After:         map[string]any{"call_status": after},
		ActorID:       "editor-1",
		CreatedAt:     testEpoch.Add(time.Duration(version) * time.Second),
		RecordVersion: version,
		Metadata:      map[string]string{models.MetaWriteID: "w-" + id},
	}
}

func TestChangeLogStorage_AppendEntry(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	createTestRecord(t, ctx, s, "P1", map[string]any{"call_status": "대기중"})

	tests := []struct {
		wantError error
		entry     *models.ChangeLogEntry
		name      string
	}{
		{
			name:  "append status change",
			entry: testEntry("e1", "P1", 2, "대기중", "응답(참석)"),
		},
		{
			name:      "missing id",
			entry:     testEntry("", "P1", 2, "a", "b"),
			wantError: storage.ErrInvalidEntry,
		},
		{
			name:      "missing record",
			entry:     testEntry("e2", "", 2, "a", "b"),
			wantError: storage.ErrInvalidEntry,
		},
		{
			name: "unknown action",
			entry: func() *models.ChangeLogEntry {
				e := testEntry("e3", "P1", 2, "a", "b")
				e.ActionType = "delete"
				return e
			}(),
			wantError: storage.ErrInvalidEntry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored, err := s.AppendEntry(ctx, tt.entry)
			if tt.wantError != nil {
				assert.ErrorIs(t, err, tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.Positive(t, stored.Seq)

			got, err := s.GetEntry(ctx, tt.entry.ID)
			require.NoError(t, err)
			assert.Equal(t, stored.Seq, got.Seq)
			assert.Equal(t, tt.entry.Before, got.Before)
			assert.Equal(t, tt.entry.After, got.After)
			assert.Equal(t, tt.entry.Metadata, got.Metadata)
			assert.Equal(t, tt.entry.ActionType, got.ActionType)
			assert.True(t, tt.entry.CreatedAt.Equal(got.CreatedAt))
		})
	}
}

func TestChangeLogStorage_AppendEntry_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	createTestRecord(t, ctx, s, "P1", nil)

	first, err := s.AppendEntry(ctx, testEntry("e1", "P1", 2, "a", "b"))
	require.NoError(t, err)

	// Повторная отправка той же записи не создает дубликат
	again, err := s.AppendEntry(ctx, testEntry("e1", "P1", 2, "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, first.Seq, again.Seq)

	entries, err := s.ListEntries(ctx, models.HistoryQuery{RecordID: "P1"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestChangeLogStorage_GetEntry_NotFound(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	_, err := s.GetEntry(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrEntryNotFound)
}

func TestChangeLogStorage_ListEntries_Order(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	createTestRecord(t, ctx, s, "P1", nil)
	createTestRecord(t, ctx, s, "P2", nil)

	// Порядок добавления не совпадает с порядком фиксации
	for _, e := range []*models.ChangeLogEntry{
		testEntry("v3", "P1", 3, "b", "c"),
		testEntry("v2", "P1", 2, "a", "b"),
		testEntry("v4", "P1", 4, "c", "d"),
		testEntry("other", "P2", 9, "x", "y"),
	} {
		_, err := s.AppendEntry(ctx, e)
		require.NoError(t, err)
	}

	entries, err := s.ListEntries(ctx, models.HistoryQuery{RecordID: "P1"})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "v4", entries[0].ID)
	assert.Equal(t, "v3", entries[1].ID)
	assert.Equal(t, "v2", entries[2].ID)
}

func TestChangeLogStorage_ListEntries_Paging(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	createTestRecord(t, ctx, s, "P1", nil)
	for v := int64(2); v <= 8; v++ {
		_, err := s.AppendEntry(ctx, testEntry(fmt.Sprintf("e%d", v), "P1", v, v-1, v))
		require.NoError(t, err)
	}

	var ids []string
	q := models.HistoryQuery{RecordID: "P1", Limit: 3}
	for {
		page, err := s.ListEntries(ctx, q)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			ids = append(ids, e.ID)
		}
		q.Before = models.CursorAfter(page[len(page)-1])
	}

	assert.Equal(t, []string{"e8", "e7", "e6", "e5", "e4", "e3", "e2"}, ids)
}

func TestChangeLogStorage_AppendOnly(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	createTestRecord(t, ctx, s, "P1", nil)
	_, err := s.AppendEntry(ctx, testEntry("e1", "P1", 2, "a", "b"))
	require.NoError(t, err)

	_, err = s.DB().ExecContext(ctx, `UPDATE change_log SET actor_id = 'mallory' WHERE id = 'e1'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = s.DB().ExecContext(ctx, `DELETE FROM change_log WHERE id = 'e1'`)
	require.Error(t, err)

	got, err := s.GetEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "editor-1", got.ActorID)
}
