package api

import "time"

// Record представляет запись в API
type Record struct {
	LastModifiedAt time.Time      `json:"last_modified_at"`
	Fields         map[string]any `json:"fields"`
	ID             string         `json:"id"`
	LastModifiedBy string         `json:"last_modified_by"`
	Version        int64          `json:"version"`
}

// CreateRecordRequest представляет запрос на создание записи
// Пустой ID означает, что сервер сгенерирует UUID
type CreateRecordRequest struct {
	Fields map[string]any `json:"fields"`
	ID     string         `json:"id,omitempty"`
}

// UpdateRecordRequest представляет один объединенный патч записи.
// Актор берется из токена, а не из тела запроса.
type UpdateRecordRequest struct {
	Fields map[string]any `json:"fields"`
}

// UpdateRecordResponse содержит зафиксированную запись и прежние значения полей патча
type UpdateRecordResponse struct {
	Previous map[string]any `json:"previous"`
	Record   Record         `json:"record"`
}

// ListRecordsResponse представляет ответ со списком записей
type ListRecordsResponse struct {
	Records []Record `json:"records"`
}

// ChangeLogEntry представляет запись журнала изменений
type ChangeLogEntry struct {
	CreatedAt     time.Time         `json:"created_at"`
	Before        map[string]any    `json:"before"`
	After         map[string]any    `json:"after"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	ID            string            `json:"id"`
	RecordID      string            `json:"record_id"`
	ActorID       string            `json:"actor_id"`
	ActionType    string            `json:"action_type"`
	RecordVersion int64             `json:"record_version"`
	Seq           int64             `json:"seq"`
}

// HistoryCursor указывает на последнюю запись страницы истории
type HistoryCursor struct {
	RecordVersion int64 `json:"record_version"`
	Seq           int64 `json:"seq"`
}

// HistoryResponse представляет страницу истории записи, новые записи первыми.
// NextCursor == nil означает, что страниц больше нет.
type HistoryResponse struct {
	NextCursor *HistoryCursor   `json:"next_cursor,omitempty"`
	Entries    []ChangeLogEntry `json:"entries"`
}

// RestoreRequest представляет запрос на восстановление из журнала
type RestoreRequest struct {
	TargetLogEntryID string   `json:"target_log_entry_id"`
	EntryID          string   `json:"entry_id,omitempty"` // для идемпотентных повторов
	Fields           []string `json:"fields,omitempty"`
}

// RestoreResponse представляет результат восстановления
type RestoreResponse struct {
	Record         *Record         `json:"record,omitempty"`
	Entry          *ChangeLogEntry `json:"entry,omitempty"`
	NewValues      map[string]any  `json:"new_values,omitempty"`
	Status         string          `json:"status"`
	Reason         string          `json:"reason,omitempty"`
	RestoredFields []string        `json:"restored_fields,omitempty"`
	Replayed       bool            `json:"replayed,omitempty"`
}

// ChangeEvent представляет одно уведомление ленты изменений (websocket)
type ChangeEvent struct {
	At            time.Time      `json:"at"`
	ChangedFields map[string]any `json:"changed_fields"`
	RecordID      string         `json:"record_id"`
	ActorID       string         `json:"actor_id"`
	Action        string         `json:"action,omitempty"`
	SourceEntryID string         `json:"source_entry_id,omitempty"`
	Version       int64          `json:"version"`
}

// HealthResponse представляет ответ health check
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
