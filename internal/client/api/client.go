// Package api is the HTTP and websocket client of the record server.
// Client satisfies session.Backend, so a session runs unchanged against a
// remote server or the in-process record service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/iudanet/rollcall/internal/models"
	"github.com/iudanet/rollcall/pkg/api"
)

const defaultTimeout = 30 * time.Second

var (
	// ErrNotFound is returned when the server has no such record or entry
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a record ID is taken
	ErrAlreadyExists = errors.New("already exists")

	// ErrFieldNotInEntry is returned when a restore names a field the entry did not change
	ErrFieldNotInEntry = errors.New("field not documented by change log entry")

	// ErrUnauthorized is returned when the server rejects the credentials
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusError is a non-2xx response the client could not map to a
// domain error.
type StatusError struct {
	Code       string
	Message    string
	StatusCode int
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server error (%d %s)", e.StatusCode, e.Code)
}

// Options configures a Client.
type Options struct {
	// Token is sent as a bearer token. Empty means no Authorization header.
	Token string
	// ActorID is sent as X-Actor-ID for servers running without tokens.
	ActorID string
	Timeout time.Duration
}

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	token      string
	actorID    string
}

// NewClient создает новый API клиент
func NewClient(baseURL string, opts Options, logger *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		token:   opts.Token,
		actorID: opts.ActorID,
		logger:  logger,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки авторизации при редиректе
				if len(via) > 0 {
					for _, h := range []string{"Authorization", "X-Actor-ID"} {
						if v := via[0].Header.Get(h); v != "" {
							req.Header.Set(h, v)
						}
					}
				}
				return nil
			},
		},
	}
}

// CreateRecord создает запись; пустой id означает, что сервер сгенерирует его
func (c *Client) CreateRecord(ctx context.Context, id string, fields map[string]any) (*models.Record, error) {
	var resp api.Record
	req := api.CreateRecordRequest{ID: id, Fields: fields}
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/records", req, &resp); err != nil {
		return nil, fmt.Errorf("create record request failed: %w", err)
	}
	return fromAPIRecord(resp), nil
}

// GetRecord получает запись по ID
func (c *Client) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	var resp api.Record
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/records/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, fmt.Errorf("get record request failed: %w", err)
	}
	return fromAPIRecord(resp), nil
}

// ListRecords получает записи, упорядоченные по ID
func (c *Client) ListRecords(ctx context.Context, limit int) ([]*models.Record, error) {
	path := "/api/v1/records"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var resp api.ListRecordsResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list records request failed: %w", err)
	}

	out := make([]*models.Record, 0, len(resp.Records))
	for _, r := range resp.Records {
		out = append(out, fromAPIRecord(r))
	}
	return out, nil
}

// UpdateRecord отправляет один объединенный патч.
// Актор определяется сервером по токену, patch.ActorID не передается.
func (c *Client) UpdateRecord(ctx context.Context, id string, patch models.Patch) (*models.UpdateResult, error) {
	var resp api.UpdateRecordResponse
	req := api.UpdateRecordRequest{Fields: patch.Fields}
	if err := c.doRequest(ctx, http.MethodPatch, "/api/v1/records/"+url.PathEscape(id), req, &resp); err != nil {
		return nil, fmt.Errorf("update record request failed: %w", err)
	}
	return &models.UpdateResult{Record: fromAPIRecord(resp.Record), Previous: resp.Previous}, nil
}

// AppendEntry пишет запись журнала. Повтор с тем же ID возвращает сохраненную запись.
func (c *Client) AppendEntry(ctx context.Context, entry *models.ChangeLogEntry) (*models.ChangeLogEntry, error) {
	var resp api.ChangeLogEntry
	path := "/api/v1/records/" + url.PathEscape(entry.RecordID) + "/history"
	if err := c.doRequest(ctx, http.MethodPost, path, toAPIEntry(entry), &resp); err != nil {
		return nil, fmt.Errorf("append entry request failed: %w", err)
	}
	return fromAPIEntry(resp), nil
}

// GetEntry получает запись журнала по ID
func (c *Client) GetEntry(ctx context.Context, id string) (*models.ChangeLogEntry, error) {
	var resp api.ChangeLogEntry
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/history/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, fmt.Errorf("get entry request failed: %w", err)
	}
	return fromAPIEntry(resp), nil
}

// ListEntries получает одну страницу истории записи, новые первыми
func (c *Client) ListEntries(ctx context.Context, q models.HistoryQuery) ([]*models.ChangeLogEntry, error) {
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if !q.Before.IsZero() {
		params.Set("before_version", strconv.FormatInt(q.Before.RecordVersion, 10))
		params.Set("before_seq", strconv.FormatInt(q.Before.Seq, 10))
	}

	path := "/api/v1/records/" + url.PathEscape(q.RecordID) + "/history"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp api.HistoryResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list entries request failed: %w", err)
	}

	out := make([]*models.ChangeLogEntry, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		out = append(out, fromAPIEntry(e))
	}
	return out, nil
}

// RestoreFromLog запрашивает восстановление полей из записи журнала
func (c *Client) RestoreFromLog(ctx context.Context, req models.RestoreRequest) (*models.RestoreResult, error) {
	var resp api.RestoreResponse
	body := api.RestoreRequest{
		TargetLogEntryID: req.TargetLogEntryID,
		EntryID:          req.EntryID,
		Fields:           req.Fields,
	}
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/restore", body, &resp); err != nil {
		return nil, fmt.Errorf("restore request failed: %w", err)
	}
	return fromAPIRestore(resp), nil
}

// Health проверяет доступность сервера
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, &resp); err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	return &resp, nil
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	if c.actorID != "" {
		h.Set("X-Actor-ID", c.actorID)
	}
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// decodeError переводит ErrorResponse обратно в доменные ошибки
func decodeError(status int, body []byte) error {
	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Code == "" {
		return &StatusError{StatusCode: status, Message: string(body)}
	}

	switch errResp.Code {
	case api.CodeValidation:
		return &models.ValidationError{Field: errResp.Field, Reason: errResp.Message}
	case api.CodeNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, errResp.Message)
	case api.CodeAlreadyExists:
		return fmt.Errorf("%w: %s", ErrAlreadyExists, errResp.Message)
	case api.CodeFieldNotInEntry:
		return fmt.Errorf("%w: %s", ErrFieldNotInEntry, errResp.Message)
	case api.CodeUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, errResp.Message)
	default:
		return &StatusError{StatusCode: status, Code: errResp.Code, Message: errResp.Message}
	}
}
