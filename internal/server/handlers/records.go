package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iudanet/rollcall/internal/models"
	"github.com/iudanet/rollcall/internal/server/service"
	"github.com/iudanet/rollcall/pkg/api"
)

// RecordsHandler обрабатывает запросы к записям, журналу и восстановлению
type RecordsHandler struct {
	logger  *slog.Logger
	service service.Service
}

// NewRecordsHandler creates a new records handler
func NewRecordsHandler(logger *slog.Logger, svc service.Service) *RecordsHandler {
	return &RecordsHandler{
		logger:  logger,
		service: svc,
	}
}

// Create обрабатывает POST /api/v1/records
func (h *RecordsHandler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, ok := GetActorID(r.Context())
	if !ok {
		WriteError(w, h.logger, http.StatusUnauthorized, api.CodeUnauthorized, "")
		return
	}

	var req api.CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode create request", "error", err)
		WriteError(w, h.logger, http.StatusBadRequest, api.CodeBadRequest, "invalid request body")
		return
	}

	rec, err := h.service.CreateRecord(r.Context(), req.ID, req.Fields, actorID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, toAPIRecord(rec))
}

// List обрабатывает GET /api/v1/records?limit=N
func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.intParam(w, r, "limit")
	if !ok {
		return
	}

	recs, err := h.service.ListRecords(r.Context(), int(limit))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	resp := api.ListRecordsResponse{Records: make([]api.Record, 0, len(recs))}
	for _, rec := range recs {
		resp.Records = append(resp.Records, toAPIRecord(rec))
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

// Get обрабатывает GET /api/v1/records/{id}
func (h *RecordsHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.GetRecord(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toAPIRecord(rec))
}

// Update обрабатывает PATCH /api/v1/records/{id}
// Один запрос - один объединенный flush сессии
func (h *RecordsHandler) Update(w http.ResponseWriter, r *http.Request) {
	actorID, ok := GetActorID(r.Context())
	if !ok {
		WriteError(w, h.logger, http.StatusUnauthorized, api.CodeUnauthorized, "")
		return
	}

	var req api.UpdateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode update request", "error", err)
		WriteError(w, h.logger, http.StatusBadRequest, api.CodeBadRequest, "invalid request body")
		return
	}

	res, err := h.service.UpdateRecord(r.Context(), r.PathValue("id"), models.Patch{Fields: req.Fields, ActorID: actorID})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, api.UpdateRecordResponse{
		Record:   toAPIRecord(res.Record),
		Previous: res.Previous,
	})
}

// History обрабатывает GET /api/v1/records/{id}/history
// Параметры: limit, before_version, before_seq (курсор предыдущей страницы)
func (h *RecordsHandler) History(w http.ResponseWriter, r *http.Request) {
	q := models.HistoryQuery{RecordID: r.PathValue("id")}

	limit, ok := h.intParam(w, r, "limit")
	if !ok {
		return
	}
	q.Limit = int(limit)
	if q.Before.RecordVersion, ok = h.intParam(w, r, "before_version"); !ok {
		return
	}
	if q.Before.Seq, ok = h.intParam(w, r, "before_seq"); !ok {
		return
	}

	if _, err := h.service.GetRecord(r.Context(), q.RecordID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	entries, err := h.service.ListEntries(r.Context(), q)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	resp := api.HistoryResponse{Entries: make([]api.ChangeLogEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, toAPIEntry(e))
	}

	pageSize := q.Limit
	if pageSize <= 0 {
		pageSize = models.DefaultHistoryLimit
	}
	if len(entries) == pageSize {
		c := models.CursorAfter(entries[len(entries)-1])
		resp.NextCursor = &api.HistoryCursor{RecordVersion: c.RecordVersion, Seq: c.Seq}
	}

	writeJSON(w, h.logger, http.StatusOK, resp)
}

// AppendHistory обрабатывает POST /api/v1/records/{id}/history
// Аудит пишется сессией после подтвержденного flush; actor берется из токена
func (h *RecordsHandler) AppendHistory(w http.ResponseWriter, r *http.Request) {
	actorID, ok := GetActorID(r.Context())
	if !ok {
		WriteError(w, h.logger, http.StatusUnauthorized, api.CodeUnauthorized, "")
		return
	}

	var req api.ChangeLogEntry
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode change log entry", "error", err)
		WriteError(w, h.logger, http.StatusBadRequest, api.CodeBadRequest, "invalid request body")
		return
	}

	entry := fromAPIEntry(req)
	entry.RecordID = r.PathValue("id")
	entry.ActorID = actorID
	entry.Seq = 0

	stored, err := h.service.AppendEntry(r.Context(), entry)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, toAPIEntry(stored))
}

// GetEntry обрабатывает GET /api/v1/history/{entryID}
func (h *RecordsHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.GetEntry(r.Context(), r.PathValue("entryID"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toAPIEntry(entry))
}

// Restore обрабатывает POST /api/v1/restore
// Неудачное восстановление ничего не меняет; причина возвращается в ErrorResponse
func (h *RecordsHandler) Restore(w http.ResponseWriter, r *http.Request) {
	actorID, ok := GetActorID(r.Context())
	if !ok {
		WriteError(w, h.logger, http.StatusUnauthorized, api.CodeUnauthorized, "")
		return
	}

	var req api.RestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TargetLogEntryID == "" {
		WriteError(w, h.logger, http.StatusBadRequest, api.CodeBadRequest, "target_log_entry_id is required")
		return
	}

	res, err := h.service.RestoreFromLog(r.Context(), models.RestoreRequest{
		TargetLogEntryID: req.TargetLogEntryID,
		ActorID:          actorID,
		EntryID:          req.EntryID,
		Fields:           req.Fields,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, toAPIRestore(res))
}

func (h *RecordsHandler) intParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		h.logger.Warn("Invalid query parameter", "name", name, "value", raw)
		WriteError(w, h.logger, http.StatusBadRequest, api.CodeBadRequest, "invalid "+name+" parameter")
		return 0, false
	}
	return v, true
}
