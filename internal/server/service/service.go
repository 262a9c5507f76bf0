// Package service is the record service: the single write path to the record
// store and the change log on the server side. Every committed write is
// published on the change feed.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/iudanet/rollcall/internal/clock"
	"github.com/iudanet/rollcall/internal/ids"
	"github.com/iudanet/rollcall/internal/models"
	"github.com/iudanet/rollcall/internal/server/feed"
	"github.com/iudanet/rollcall/internal/server/metrics"
	"github.com/iudanet/rollcall/internal/server/storage"
	"github.com/iudanet/rollcall/internal/validation"
)

//go:generate moq -out service_mock.go . Service

// Service определяет интерфейс серверного сервиса записей
type Service interface {
	CreateRecord(ctx context.Context, id string, fields map[string]any, actorID string) (*models.Record, error)
	GetRecord(ctx context.Context, id string) (*models.Record, error)
	ListRecords(ctx context.Context, limit int) ([]*models.Record, error)
	UpdateRecord(ctx context.Context, id string, patch models.Patch) (*models.UpdateResult, error)

	AppendEntry(ctx context.Context, entry *models.ChangeLogEntry) (*models.ChangeLogEntry, error)
	GetEntry(ctx context.Context, id string) (*models.ChangeLogEntry, error)
	ListEntries(ctx context.Context, q models.HistoryQuery) ([]*models.ChangeLogEntry, error)

	RestoreFromLog(ctx context.Context, req models.RestoreRequest) (*models.RestoreResult, error)

	Subscribe(ctx context.Context, predicate models.Predicate) (<-chan models.ChangeEvent, error)
}

type service struct {
	storage storage.Storage
	hub     *feed.Hub
	clock   clock.Clock
	metrics *metrics.Metrics
	schema  *validation.Schema
	logger  *slog.Logger
}

// NewService creates the record service. schema and m may be nil.
func NewService(
	st storage.Storage,
	hub *feed.Hub,
	clk clock.Clock,
	schema *validation.Schema,
	m *metrics.Metrics,
	logger *slog.Logger,
) Service {
	return &service{
		storage: st,
		hub:     hub,
		clock:   clk,
		metrics: m,
		schema:  schema,
		logger:  logger,
	}
}

// CreateRecord creates a record at version 1 and announces it on the feed
func (s *service) CreateRecord(ctx context.Context, id string, fields map[string]any, actorID string) (*models.Record, error) {
	if id == "" {
		id = ids.NewRecordID()
	}
	if err := validation.ValidateRecordID(id); err != nil {
		return nil, &models.ValidationError{Value: id, Reason: err.Error()}
	}

	normalized := make(map[string]any, len(fields))
	if len(fields) > 0 {
		var err error
		if normalized, err = s.validate(fields); err != nil {
			return nil, err
		}
	}

	rec := &models.Record{
		ID:             id,
		Fields:         normalized,
		Version:        1,
		LastModifiedBy: actorID,
		LastModifiedAt: s.clock.Now().UTC(),
	}
	if err := s.storage.CreateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}

	s.logger.Info("Record created", "record_id", id, "actor_id", actorID, "fields", len(normalized))

	s.hub.Publish(models.ChangeEvent{
		RecordID:      rec.ID,
		Version:       rec.Version,
		ChangedFields: models.CloneFields(rec.Fields),
		ActorID:       actorID,
		Action:        models.ActionFieldUpdate,
		At:            rec.LastModifiedAt,
	})

	return rec, nil
}

func (s *service) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	rec, err := s.storage.GetRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

func (s *service) ListRecords(ctx context.Context, limit int) ([]*models.Record, error) {
	recs, err := s.storage.ListRecords(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return recs, nil
}

// UpdateRecord validates and commits one coalesced patch
func (s *service) UpdateRecord(ctx context.Context, id string, patch models.Patch) (*models.UpdateResult, error) {
	fields, err := s.validate(patch.Fields)
	if err != nil {
		return nil, err
	}
	patch.Fields = fields

	res, err := s.storage.UpdateRecord(ctx, id, patch, s.clock.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}

	names := models.SortedKeys(fields)
	action := s.schema.Classify(names)
	if s.metrics != nil {
		s.metrics.RecordWrites.WithLabelValues(string(action)).Inc()
	}

	s.logger.Debug("Record updated",
		"record_id", id,
		"version", res.Record.Version,
		"actor_id", patch.ActorID,
		"fields", names)

	s.hub.Publish(models.EventFromUpdate(res, names, action))

	return res, nil
}

// AppendEntry fills in ID and CreatedAt when the caller left them empty
func (s *service) AppendEntry(ctx context.Context, entry *models.ChangeLogEntry) (*models.ChangeLogEntry, error) {
	now := s.clock.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.ID == "" {
		entry.ID = ids.NewEntryID(entry.CreatedAt)
	}

	stored, err := s.storage.AppendEntry(ctx, entry)
	if err != nil {
		s.countAppend("error")
		return nil, fmt.Errorf("failed to append change log entry: %w", err)
	}
	s.countAppend("ok")

	return stored, nil
}

func (s *service) GetEntry(ctx context.Context, id string) (*models.ChangeLogEntry, error) {
	entry, err := s.storage.GetEntry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get change log entry: %w", err)
	}
	return entry, nil
}

func (s *service) ListEntries(ctx context.Context, q models.HistoryQuery) ([]*models.ChangeLogEntry, error) {
	entries, err := s.storage.ListEntries(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list change log: %w", err)
	}
	return entries, nil
}

// RestoreFromLog applies a restore atomically and publishes the restore event.
// Dependent subsystems react to that event; the service does not call them.
func (s *service) RestoreFromLog(ctx context.Context, req models.RestoreRequest) (*models.RestoreResult, error) {
	now := s.clock.Now().UTC()
	entryID := req.EntryID
	if entryID == "" {
		entryID = ids.NewEntryID(now)
	}

	res, err := s.storage.RestoreFromLog(ctx, req, entryID, now)
	if err != nil {
		s.countRestore(models.RestoreError)
		s.logger.Warn("Restore failed",
			"target_entry_id", req.TargetLogEntryID,
			"actor_id", req.ActorID,
			"error", err)
		return nil, fmt.Errorf("failed to restore from %s: %w", req.TargetLogEntryID, err)
	}
	if res.Replayed {
		// Повтор уже примененного восстановления: событие и счетчики уже были
		s.logger.Debug("Restore replayed",
			"record_id", res.Record.ID,
			"restore_entry_id", res.Entry.ID)
		return res, nil
	}

	s.countRestore(models.RestoreSuccess)
	s.countAppend("ok")

	s.logger.Info("Record restored",
		"record_id", res.Record.ID,
		"target_entry_id", req.TargetLogEntryID,
		"restore_entry_id", res.Entry.ID,
		"fields", res.RestoredFields,
		"version", res.Record.Version)

	s.hub.Publish(models.ChangeEvent{
		RecordID:      res.Record.ID,
		Version:       res.Record.Version,
		ChangedFields: models.CloneFields(res.NewValues),
		ActorID:       res.Entry.ActorID,
		Action:        models.ActionRestore,
		SourceEntryID: res.Entry.RestoredFrom(),
		At:            res.Entry.CreatedAt,
	})

	return res, nil
}

func (s *service) Subscribe(ctx context.Context, predicate models.Predicate) (<-chan models.ChangeEvent, error) {
	return s.hub.Subscribe(ctx, predicate)
}

func (s *service) validate(fields map[string]any) (map[string]any, error) {
	for name := range fields {
		if err := validation.ValidateFieldName(name); err != nil {
			return nil, &models.ValidationError{Field: name, Reason: err.Error()}
		}
	}
	return s.schema.ValidatePatch(fields)
}

func (s *service) countAppend(result string) {
	if s.metrics != nil {
		s.metrics.LogAppends.WithLabelValues(result).Inc()
	}
}

func (s *service) countRestore(status models.RestoreStatus) {
	if s.metrics != nil {
		s.metrics.Restores.WithLabelValues(string(status)).Inc()
	}
}

// IsNotFound reports whether err means the record or entry does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrRecordNotFound) || errors.Is(err, storage.ErrEntryNotFound)
}
