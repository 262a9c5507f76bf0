package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/rollcall/internal/models"
	"github.com/iudanet/rollcall/internal/server/storage"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func setupTestStorage(t *testing.T) (*Storage, func()) {
	ctx := context.Background()

	// Используем in-memory database для тестов
	s, err := New(ctx, ":memory:")
	require.NoError(t, err)

	cleanup := func() {
		_ = s.Close()
	}

	return s, cleanup
}

func createTestRecord(t *testing.T, ctx context.Context, s *Storage, id string, fields map[string]any) *models.Record {
	rec := &models.Record{
		ID:             id,
		Fields:         fields,
		LastModifiedBy: "seed",
		LastModifiedAt: testEpoch,
	}
	require.NoError(t, s.CreateRecord(ctx, rec))
	return rec
}

func TestRecordStorage_CreateRecord(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	tests := []struct {
		wantError error
		record    *models.Record
		name      string
	}{
		{
			name: "create participant",
			record: &models.Record{
				ID:             "P1",
				Fields:         map[string]any{"call_status": "대기중", "name": "Kim"},
				LastModifiedBy: "admin",
				LastModifiedAt: testEpoch,
			},
		},
		{
			name: "create record with nested object",
			record: &models.Record{
				ID:             "P2",
				Fields:         map[string]any{"seat": map[string]any{"row": "A", "number": float64(3)}},
				LastModifiedBy: "admin",
				LastModifiedAt: testEpoch,
			},
		},
		{
			name: "duplicate id",
			record: &models.Record{
				ID:             "P1",
				Fields:         map[string]any{},
				LastModifiedBy: "admin",
				LastModifiedAt: testEpoch,
			},
			wantError: storage.ErrRecordExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CreateRecord(ctx, tt.record)
			if tt.wantError != nil {
				assert.ErrorIs(t, err, tt.wantError)
				return
			}
			require.NoError(t, err)

			got, err := s.GetRecord(ctx, tt.record.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(1), got.Version)
			assert.Equal(t, tt.record.Fields, got.Fields)
			assert.Equal(t, tt.record.LastModifiedBy, got.LastModifiedBy)
			assert.True(t, tt.record.LastModifiedAt.Equal(got.LastModifiedAt))
		})
	}
}

func TestRecordStorage_GetRecord_NotFound(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	_, err := s.GetRecord(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func TestRecordStorage_UpdateRecord(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	createTestRecord(t, ctx, s, "P1", map[string]any{"call_status": "대기중", "memo": "first"})

	at := testEpoch.Add(time.Minute)
	res, err := s.UpdateRecord(ctx, "P1", models.Patch{
		Fields:  map[string]any{"call_status": "응답(참석)", "attendance": true},
		ActorID: "editor-1",
	}, at)
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Record.Version)
	assert.Equal(t, "editor-1", res.Record.LastModifiedBy)
	assert.True(t, at.Equal(res.Record.LastModifiedAt))
	assert.Equal(t, map[string]any{"call_status": "대기중", "attendance": nil}, res.Previous)

	got, err := s.GetRecord(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"call_status": "응답(참석)",
		"attendance":  true,
		"memo":        "first",
	}, got.Fields)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "editor-1", got.LastModifiedBy)
}

func TestRecordStorage_UpdateRecord_NotFound(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	_, err := s.UpdateRecord(ctx, "ghost", models.Patch{Fields: map[string]any{"memo": "x"}}, testEpoch)
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func TestRecordStorage_ListRecords(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	for _, id := range []string{"P3", "P1", "P2"} {
		createTestRecord(t, ctx, s, id, map[string]any{"name": id})
	}

	all, err := s.ListRecords(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "P1", all[0].ID)
	assert.Equal(t, "P2", all[1].ID)
	assert.Equal(t, "P3", all[2].ID)

	limited, err := s.ListRecords(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
