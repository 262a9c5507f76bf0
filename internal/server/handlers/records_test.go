package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/rollcall/internal/clock"
	"github.com/iudanet/rollcall/internal/server/feed"
	"github.com/iudanet/rollcall/internal/server/service"
	"github.com/iudanet/rollcall/internal/server/storage/memory"
	"github.com/iudanet/rollcall/internal/validation"
	"github.com/iudanet/rollcall/pkg/api"
)

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors in tests
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

type testServer struct {
	mux *http.ServeMux
	hub *feed.Hub
	svc service.Service
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := setupTestLogger()
	hub := feed.NewHub(logger, 16, nil)
	t.Cleanup(hub.Close)

	svc := service.NewService(memory.New(), hub, clock.NewMock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		validation.ParticipantSchema(), nil, logger)

	mux := http.NewServeMux()
	rt := &Router{
		Records: NewRecordsHandler(logger, svc),
		Feed:    NewFeedHandler(logger, svc, time.Second),
		Health:  NewHealthHandler(logger, nil, "test"),
	}
	rt.Register(mux, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if actor := r.Header.Get("X-Actor-ID"); actor != "" {
				r = r.WithContext(WithActorID(r.Context(), actor))
			}
			next.ServeHTTP(w, r)
		})
	})

	return &testServer{mux: mux, hub: hub, svc: svc}
}

func (s *testServer) do(t *testing.T, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestRecordsHandler_CreateGetList(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/records", "admin", api.CreateRecordRequest{
		ID:     "P1",
		Fields: map[string]any{"call_status": "대기중", "name": "Kim"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[api.Record](t, w)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, "admin", created.LastModifiedBy)

	w = s.do(t, http.MethodPost, "/api/v1/records", "admin", api.CreateRecordRequest{ID: "P1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, api.CodeAlreadyExists, decode[api.ErrorResponse](t, w).Code)

	w = s.do(t, http.MethodGet, "/api/v1/records/P1", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "대기중", decode[api.Record](t, w).Fields["call_status"])

	w = s.do(t, http.MethodGet, "/api/v1/records/ghost", "admin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/records?limit=10", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[api.ListRecordsResponse](t, w).Records, 1)

	w = s.do(t, http.MethodGet, "/api/v1/records?limit=abc", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordsHandler_Unauthorized(t *testing.T) {
	s := setupTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/records"},
		{http.MethodPatch, "/api/v1/records/P1"},
		{http.MethodPost, "/api/v1/records/P1/history"},
		{http.MethodPost, "/api/v1/restore"},
	} {
		w := s.do(t, tc.method, tc.path, "", map[string]any{})
		assert.Equal(t, http.StatusUnauthorized, w.Code, tc.path)
	}
}

func TestRecordsHandler_Update(t *testing.T) {
	s := setupTestServer(t)
	_, err := s.svc.CreateRecord(context.Background(), "P1", map[string]any{"call_status": "대기중"}, "admin")
	require.NoError(t, err)

	w := s.do(t, http.MethodPatch, "/api/v1/records/P1", "editor-1", api.UpdateRecordRequest{
		Fields: map[string]any{"call_status": "응답(참석)"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[api.UpdateRecordResponse](t, w)
	assert.Equal(t, int64(2), resp.Record.Version)
	assert.Equal(t, "editor-1", resp.Record.LastModifiedBy)
	assert.Equal(t, "대기중", resp.Previous["call_status"])

	w = s.do(t, http.MethodPatch, "/api/v1/records/P1", "editor-1", api.UpdateRecordRequest{
		Fields: map[string]any{"call_status": "nope"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	errResp := decode[api.ErrorResponse](t, w)
	assert.Equal(t, api.CodeValidation, errResp.Code)
	assert.Equal(t, "call_status", errResp.Field)

	w = s.do(t, http.MethodPatch, "/api/v1/records/ghost", "editor-1", api.UpdateRecordRequest{
		Fields: map[string]any{"memo": "x"},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecordsHandler_HistoryAndRestore(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	_, err := s.svc.CreateRecord(ctx, "P1", map[string]any{"call_status": "대기중"}, "admin")
	require.NoError(t, err)

	w := s.do(t, http.MethodPatch, "/api/v1/records/P1", "editor-1", api.UpdateRecordRequest{
		Fields: map[string]any{"call_status": "응답(참석)"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	upd := decode[api.UpdateRecordResponse](t, w)

	// Клиент пишет аудит после подтвержденного flush
	w = s.do(t, http.MethodPost, "/api/v1/records/P1/history", "editor-1", api.ChangeLogEntry{
		ID:            "01J00000000000000000000001",
		ActionType:    "status_change",
		Before:        upd.Previous,
		After:         map[string]any{"call_status": "응답(참석)"},
		ActorID:       "spoofed",
		RecordVersion: upd.Record.Version,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	entry := decode[api.ChangeLogEntry](t, w)
	assert.Equal(t, "editor-1", entry.ActorID)
	assert.Equal(t, "P1", entry.RecordID)

	w = s.do(t, http.MethodGet, "/api/v1/history/"+entry.ID, "editor-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/restore", "editor-2", api.RestoreRequest{TargetLogEntryID: entry.ID})
	require.Equal(t, http.StatusOK, w.Code)
	restored := decode[api.RestoreResponse](t, w)
	assert.Equal(t, "success", restored.Status)
	assert.Equal(t, []string{"call_status"}, restored.RestoredFields)
	require.NotNil(t, restored.Record)
	assert.Equal(t, "대기중", restored.Record.Fields["call_status"])
	require.NotNil(t, restored.Entry)
	assert.Equal(t, "restore", restored.Entry.ActionType)

	w = s.do(t, http.MethodGet, "/api/v1/records/P1/history?limit=1", "editor-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[api.HistoryResponse](t, w)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "restore", page.Entries[0].ActionType)
	require.NotNil(t, page.NextCursor)

	next := fmt.Sprintf("/api/v1/records/P1/history?limit=1&before_version=%d&before_seq=%d",
		page.NextCursor.RecordVersion, page.NextCursor.Seq)
	w = s.do(t, http.MethodGet, next, "editor-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[api.HistoryResponse](t, w)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, entry.ID, page.Entries[0].ID)

	w = s.do(t, http.MethodGet, "/api/v1/records/ghost/history", "editor-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/restore", "editor-2", api.RestoreRequest{
		TargetLogEntryID: entry.ID,
		Fields:           []string{"memo"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, api.CodeFieldNotInEntry, decode[api.ErrorResponse](t, w).Code)

	w = s.do(t, http.MethodPost, "/api/v1/restore", "editor-2", api.RestoreRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
