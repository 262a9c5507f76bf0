package draft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/rollcall/internal/models"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func openRecord(t *testing.T, fields map[string]any) *Buffer {
	t.Helper()
	b := New()
	b.Open(&models.Record{ID: "P1", Fields: fields, Version: 1, LastModifiedAt: testEpoch})
	require.True(t, b.IsOpen("P1"))
	return b
}

// committed builds the store result of writing fields on top of base.
func committed(base map[string]any, version int64, fields map[string]any) *models.UpdateResult {
	rec := &models.Record{ID: "P1", Fields: models.CloneFields(base), Version: version - 1}
	return models.ApplyPatch(rec, models.Patch{Fields: fields, ActorID: "editor-1"}, testEpoch)
}

func TestBuffer_SetGet(t *testing.T) {
	b := openRecord(t, map[string]any{"call_status": "대기중", "memo": "first call"})

	v, ok := b.Get("P1", "call_status")
	require.True(t, ok)
	assert.Equal(t, "대기중", v)
	assert.False(t, b.HasDirty("P1"))

	b.Set("P1", "call_status", "응답(참석)")

	v, _ = b.Get("P1", "call_status")
	assert.Equal(t, "응답(참석)", v)
	assert.Equal(t, []string{"call_status"}, b.Dirty("P1"))

	e, ok := b.Entry("P1", "call_status")
	require.True(t, ok)
	assert.True(t, e.Dirty)
	assert.Equal(t, ResultPending, e.Result.Kind)
	assert.Equal(t, "대기중", e.Confirmed)

	_, ok = b.Get("P1", "unknown")
	assert.False(t, ok)
	_, ok = b.Get("P2", "call_status")
	assert.False(t, ok)

	assert.Equal(t, map[string]any{"call_status": "응답(참석)", "memo": "first call"}, b.Fields("P1"))
}

func TestBuffer_FlushCoalescesFields(t *testing.T) {
	b := openRecord(t, map[string]any{"call_status": "대기중"})

	b.Set("P1", "memo", "a")
	b.Set("P1", "memo", "ab")
	b.Set("P1", "call_status", "부재중")

	f, ok := b.BeginFlush("P1", "w1")
	require.True(t, ok)
	assert.Equal(t, []string{"call_status", "memo"}, f.Names())
	assert.Equal(t, "ab", f.Fields["memo"])

	e, _ := b.Entry("P1", "memo")
	assert.Equal(t, "w1", e.PendingWriteID)
	assert.Equal(t, ResultPending, e.Result.Kind)

	conflicts := b.CompleteFlush(f, committed(map[string]any{"call_status": "대기중"}, 2, f.Fields))
	assert.Empty(t, conflicts)
	assert.False(t, b.HasDirty("P1"))
	assert.Equal(t, int64(2), b.Version("P1"))

	e, _ = b.Entry("P1", "memo")
	assert.Equal(t, ResultOK, e.Result.Kind)
	assert.Equal(t, "ab", e.Result.Confirmed)
	assert.Empty(t, e.PendingWriteID)
}

func TestBuffer_FlushNothingDirty(t *testing.T) {
	b := openRecord(t, map[string]any{"call_status": "대기중"})

	_, ok := b.BeginFlush("P1", "w1")
	assert.False(t, ok)

	_, ok = b.BeginFlush("ghost", "w1")
	assert.False(t, ok)
}

func TestBuffer_EditBackToConfirmedIsCleanedWithoutWrite(t *testing.T) {
	b := openRecord(t, map[string]any{"call_status": "대기중"})

	b.Set("P1", "call_status", "부재중")
	b.Set("P1", "call_status", "대기중")

	_, ok := b.BeginFlush("P1", "w1")
	assert.False(t, ok)
	assert.False(t, b.HasDirty("P1"))
}

func TestBuffer_EditBackAfterRemoteChange(t *testing.T) {
	t.Run("back to the stale confirmed value is written", func(t *testing.T) {
		b := openRecord(t, map[string]any{"memo": ""})
		b.Set("P1", "memo", "draft")
		b.ApplyRemote(models.ChangeEvent{RecordID: "P1", Version: 2, ChangedFields: map[string]any{"memo": "alice's note"}})

		b.Set("P1", "memo", "")

		f, ok := b.BeginFlush("P1", "w1")
		require.True(t, ok)
		assert.Equal(t, map[string]any{"memo": ""}, f.Fields)

		conflicts := b.CompleteFlush(f, committed(map[string]any{"memo": "alice's note"}, 3, f.Fields))
		require.Len(t, conflicts, 1)
		assert.True(t, conflicts[0].Kept)
		assert.Equal(t, "alice's note", conflicts[0].Remote)

		v, _ := b.Get("P1", "memo")
		assert.Equal(t, "", v)
	})

	t.Run("equal to the remote value is cleaned", func(t *testing.T) {
		b := openRecord(t, map[string]any{"memo": ""})
		b.Set("P1", "memo", "draft")
		b.ApplyRemote(models.ChangeEvent{RecordID: "P1", Version: 2, ChangedFields: map[string]any{"memo": "same"}})

		b.Set("P1", "memo", "same")

		_, ok := b.BeginFlush("P1", "w1")
		assert.False(t, ok)
		assert.False(t, b.HasDirty("P1"))

		e, _ := b.Entry("P1", "memo")
		assert.Equal(t, "same", e.Confirmed)
		assert.Equal(t, ResultOK, e.Result.Kind)
	})
}

func TestBuffer_EditDuringFlushStaysDirty(t *testing.T) {
	b := openRecord(t, map[string]any{"memo": ""})

	b.Set("P1", "memo", "a")
	f, ok := b.BeginFlush("P1", "w1")
	require.True(t, ok)

	// Новая правка того же поля, пока flush в полете
	b.Set("P1", "memo", "ab")

	b.CompleteFlush(f, committed(map[string]any{"memo": ""}, 2, f.Fields))

	assert.True(t, b.HasDirty("P1"))
	v, _ := b.Get("P1", "memo")
	assert.Equal(t, "ab", v)

	e, _ := b.Entry("P1", "memo")
	assert.Equal(t, "a", e.Confirmed)

	f2, ok := b.BeginFlush("P1", "w2")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"memo": "ab"}, f2.Fields)
}

func TestBuffer_FailFlushKeepsDraft(t *testing.T) {
	b := openRecord(t, map[string]any{"memo": ""})

	b.Set("P1", "memo", "hello")
	f, ok := b.BeginFlush("P1", "w1")
	require.True(t, ok)

	b.FailFlush(f, "connection refused")

	assert.True(t, b.HasDirty("P1"))
	e, _ := b.Entry("P1", "memo")
	assert.Equal(t, ResultFailed, e.Result.Kind)
	assert.Equal(t, "connection refused", e.Result.Reason)
	assert.Equal(t, "hello", e.Value)

	f2, ok := b.BeginFlush("P1", "w2")
	require.True(t, ok)
	assert.Equal(t, "hello", f2.Fields["memo"])
}

func TestBuffer_ApplyRemote(t *testing.T) {
	t.Run("clean field is overwritten", func(t *testing.T) {
		b := openRecord(t, map[string]any{"call_status": "대기중"})

		applied := b.ApplyRemote(models.ChangeEvent{
			RecordID:      "P1",
			Version:       2,
			ChangedFields: map[string]any{"call_status": "부재중"},
		})
		assert.Equal(t, []string{"call_status"}, applied.Overwritten)

		v, _ := b.Get("P1", "call_status")
		assert.Equal(t, "부재중", v)
	})

	t.Run("dirty field keeps draft", func(t *testing.T) {
		b := openRecord(t, map[string]any{"memo": "x"})
		b.Set("P1", "memo", "local")

		applied := b.ApplyRemote(models.ChangeEvent{
			RecordID:      "P1",
			Version:       2,
			ChangedFields: map[string]any{"memo": "remote"},
		})
		assert.Equal(t, []string{"memo"}, applied.Kept)

		v, _ := b.Get("P1", "memo")
		assert.Equal(t, "local", v)
	})

	t.Run("stale and duplicate events are dropped", func(t *testing.T) {
		b := openRecord(t, map[string]any{"memo": "x"})
		ev := models.ChangeEvent{RecordID: "P1", Version: 2, ChangedFields: map[string]any{"memo": "y"}}

		assert.False(t, b.ApplyRemote(ev).Stale)
		assert.True(t, b.ApplyRemote(ev).Stale)

		ev.Version = 1
		ev.ChangedFields = map[string]any{"memo": "old"}
		assert.True(t, b.ApplyRemote(ev).Stale)

		v, _ := b.Get("P1", "memo")
		assert.Equal(t, "y", v)
	})

	t.Run("closed record is ignored", func(t *testing.T) {
		b := New()
		assert.True(t, b.ApplyRemote(models.ChangeEvent{RecordID: "P9", Version: 5}).Ignored)
	})
}

func TestBuffer_ConflictAfterFlush(t *testing.T) {
	t.Run("remote before local commit", func(t *testing.T) {
		b := openRecord(t, map[string]any{"memo": "x"})
		b.Set("P1", "memo", "local")

		b.ApplyRemote(models.ChangeEvent{RecordID: "P1", Version: 2, ChangedFields: map[string]any{"memo": "remote"}})

		f, ok := b.BeginFlush("P1", "w1")
		require.True(t, ok)
		conflicts := b.CompleteFlush(f, committed(map[string]any{"memo": "remote"}, 3, f.Fields))

		require.Len(t, conflicts, 1)
		assert.Equal(t, "memo", conflicts[0].Field)
		assert.Equal(t, "local", conflicts[0].Local)
		assert.Equal(t, "remote", conflicts[0].Remote)
		assert.True(t, conflicts[0].Kept)

		v, _ := b.Get("P1", "memo")
		assert.Equal(t, "local", v)
	})

	t.Run("remote after local commit", func(t *testing.T) {
		b := openRecord(t, map[string]any{"memo": "x"})
		b.Set("P1", "memo", "local")

		f, ok := b.BeginFlush("P1", "w1")
		require.True(t, ok)

		// Внешняя запись зафиксирована позже нашей, событие пришло раньше ответа
		b.ApplyRemote(models.ChangeEvent{RecordID: "P1", Version: 3, ChangedFields: map[string]any{"memo": "remote"}})

		conflicts := b.CompleteFlush(f, committed(map[string]any{"memo": "x"}, 2, f.Fields))
		require.Len(t, conflicts, 1)
		assert.False(t, conflicts[0].Kept)

		v, _ := b.Get("P1", "memo")
		assert.Equal(t, "remote", v)
		assert.Equal(t, int64(3), b.Version("P1"))
	})

	t.Run("own echo is not a conflict", func(t *testing.T) {
		b := openRecord(t, map[string]any{"memo": "x"})
		b.Set("P1", "memo", "local")

		f, ok := b.BeginFlush("P1", "w1")
		require.True(t, ok)

		b.ApplyRemote(models.ChangeEvent{RecordID: "P1", Version: 2, ChangedFields: map[string]any{"memo": "local"}})

		assert.Empty(t, b.CompleteFlush(f, committed(map[string]any{"memo": "x"}, 2, f.Fields)))
		assert.False(t, b.HasDirty("P1"))
	})
}

func TestBuffer_CompleteFlushRefreshesOtherFields(t *testing.T) {
	b := openRecord(t, map[string]any{"memo": "x", "phone": "010"})
	b.Set("P1", "memo", "y")

	f, ok := b.BeginFlush("P1", "w1")
	require.True(t, ok)

	// Версия 2 от другого редактора не дошла по ленте
	b.CompleteFlush(f, committed(map[string]any{"memo": "x", "phone": "011"}, 3, f.Fields))

	v, _ := b.Get("P1", "phone")
	assert.Equal(t, "011", v)
	assert.Equal(t, int64(3), b.Version("P1"))
}

func TestBuffer_Refresh(t *testing.T) {
	b := openRecord(t, map[string]any{"memo": "x", "phone": "010"})
	b.Set("P1", "memo", "local")

	applied := b.Refresh(&models.Record{ID: "P1", Version: 4, Fields: map[string]any{"memo": "remote", "phone": "011"}})
	assert.Equal(t, []string{"phone"}, applied.Overwritten)
	assert.Equal(t, []string{"memo"}, applied.Kept)

	assert.True(t, b.Refresh(&models.Record{ID: "P1", Version: 4}).Stale)

	v, _ := b.Get("P1", "memo")
	assert.Equal(t, "local", v)
}

func TestBuffer_Discard(t *testing.T) {
	b := openRecord(t, map[string]any{"memo": "x", "call_status": "대기중"})
	b.Set("P1", "memo", "draft")
	b.Set("P1", "call_status", "부재중")

	dropped := b.Discard("P1", "memo")
	assert.Equal(t, map[string]any{"memo": "draft"}, dropped)

	v, _ := b.Get("P1", "memo")
	assert.Equal(t, "x", v)
	assert.Equal(t, []string{"call_status"}, b.Dirty("P1"))

	dropped = b.Discard("P1")
	assert.Equal(t, map[string]any{"call_status": "부재중"}, dropped)
	assert.False(t, b.HasDirty("P1"))

	assert.Nil(t, b.Discard("ghost"))
}

func TestBuffer_DiscardDuringFlush(t *testing.T) {
	b := openRecord(t, map[string]any{"memo": "x"})
	b.Set("P1", "memo", "draft")

	f, ok := b.BeginFlush("P1", "w1")
	require.True(t, ok)
	b.Discard("P1")

	b.CompleteFlush(f, committed(map[string]any{"memo": "x"}, 2, f.Fields))

	assert.False(t, b.HasDirty("P1"))
	e, _ := b.Entry("P1", "memo")
	assert.Equal(t, ResultOK, e.Result.Kind)
	assert.Equal(t, "draft", e.Value)
}

func TestBuffer_Close(t *testing.T) {
	b := openRecord(t, map[string]any{"memo": "x"})
	b.Open(&models.Record{ID: "P2", Version: 1})

	assert.Equal(t, []string{"P1", "P2"}, b.OpenRecords())

	b.Close("P1")
	assert.False(t, b.IsOpen("P1"))
	assert.Equal(t, []string{"P2"}, b.Records())
}

func TestBuffer_CloseDuringFlush(t *testing.T) {
	b := openRecord(t, map[string]any{"memo": "x"})
	b.Set("P1", "memo", "draft")
	f, ok := b.BeginFlush("P1", "w1")
	require.True(t, ok)

	b.Discard("P1")
	b.Close("P1")

	assert.Empty(t, b.CompleteFlush(f, committed(map[string]any{"memo": "x"}, 2, f.Fields)))
	assert.Empty(t, b.Records())
	assert.False(t, b.IsOpen("P1"))

	b.FailFlush(f, "boom")
	assert.Empty(t, b.Records())
}

func TestBuffer_ValuesAreCopied(t *testing.T) {
	b := openRecord(t, nil)
	seat := map[string]any{"row": "A", "no": float64(3)}

	b.Set("P1", "seat", seat)
	seat["row"] = "B"

	v, _ := b.Get("P1", "seat")
	assert.Equal(t, "A", v.(map[string]any)["row"])
}
