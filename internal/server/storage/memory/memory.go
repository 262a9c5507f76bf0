// Package memory implements the record and change log stores in process
// memory. It backs the server when no database path is configured and is
// used by tests that need a real store without SQLite.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iudanet/rollcall/internal/models"
	"github.com/iudanet/rollcall/internal/server/storage"
)

// Storage is a mutex-guarded map store.
// Every value that goes in or out is deep-copied.
type Storage struct {
	records map[string]*models.Record
	entries map[string]*models.ChangeLogEntry
	byRec   map[string][]*models.ChangeLogEntry
	mu      sync.RWMutex
	seq     int64
}

var _ storage.Storage = (*Storage)(nil)

// New creates an empty in-memory storage
func New() *Storage {
	return &Storage{
		records: make(map[string]*models.Record),
		entries: make(map[string]*models.ChangeLogEntry),
		byRec:   make(map[string][]*models.ChangeLogEntry),
	}
}

// Close is a no-op
func (s *Storage) Close() error {
	return nil
}

func (s *Storage) CreateRecord(_ context.Context, rec *models.Record) error {
	fields, err := normalizeFields(rec.Fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return storage.ErrRecordExists
	}

	if rec.Version == 0 {
		rec.Version = 1
	}

	stored := rec.Clone()
	stored.Fields = fields
	stored.LastModifiedAt = rec.LastModifiedAt.UTC()
	s.records[rec.ID] = stored

	return nil
}

func (s *Storage) GetRecord(_ context.Context, id string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, storage.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (s *Storage) ListRecords(_ context.Context, limit int) ([]*models.Record, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := models.SortedKeys(s.records)
	if len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]*models.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.records[id].Clone())
	}
	return out, nil
}

func (s *Storage) UpdateRecord(_ context.Context, id string, patch models.Patch, at time.Time) (*models.UpdateResult, error) {
	fields, err := normalizeFields(patch.Fields)
	if err != nil {
		return nil, err
	}
	patch.Fields = fields

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(id, patch, at)
}

func (s *Storage) update(id string, patch models.Patch, at time.Time) (*models.UpdateResult, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, storage.ErrRecordNotFound
	}

	res := models.ApplyPatch(rec, patch, at.UTC())
	s.records[id] = res.Record.Clone()
	return res, nil
}

// AppendEntry appends an entry; a known ID returns the stored entry
func (s *Storage) AppendEntry(_ context.Context, entry *models.ChangeLogEntry) (*models.ChangeLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.append(entry)
}

func (s *Storage) append(entry *models.ChangeLogEntry) (*models.ChangeLogEntry, error) {
	if entry.ID == "" || entry.RecordID == "" || !entry.ActionType.Valid() {
		return nil, storage.ErrInvalidEntry
	}
	if existing, ok := s.entries[entry.ID]; ok {
		return existing.Clone(), nil
	}
	if _, ok := s.records[entry.RecordID]; !ok {
		return nil, storage.ErrRecordNotFound
	}

	s.seq++
	stored := entry.Clone()
	stored.Seq = s.seq
	stored.CreatedAt = entry.CreatedAt.UTC()
	if stored.Before == nil {
		stored.Before = map[string]any{}
	}
	if stored.After == nil {
		stored.After = map[string]any{}
	}

	s.entries[stored.ID] = stored
	s.byRec[stored.RecordID] = append(s.byRec[stored.RecordID], stored)

	return stored.Clone(), nil
}

func (s *Storage) GetEntry(_ context.Context, id string) (*models.ChangeLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, storage.ErrEntryNotFound
	}
	return entry.Clone(), nil
}

// ListEntries returns entries ordered by record version, then append sequence,
// most recent first
func (s *Storage) ListEntries(_ context.Context, q models.HistoryQuery) ([]*models.ChangeLogEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = models.DefaultHistoryLimit
	}

	s.mu.RLock()
	all := make([]*models.ChangeLogEntry, 0, len(s.byRec[q.RecordID]))
	for _, e := range s.byRec[q.RecordID] {
		if q.Before.Admits(e) {
			all = append(all, e.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].IsNewerThan(all[j])
	})

	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// RestoreFromLog runs the whole restore under the write lock
func (s *Storage) RestoreFromLog(_ context.Context, req models.RestoreRequest, entryID string, at time.Time) (*models.RestoreResult, error) {
	if entryID == "" {
		return nil, storage.ErrInvalidEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if done, ok := s.entries[entryID]; ok {
		return models.ReplayedRestore(done.Clone(), s.records[done.RecordID].Clone()), nil
	}

	source, ok := s.entries[req.TargetLogEntryID]
	if !ok {
		return nil, storage.ErrEntryNotFound
	}

	values, missing := models.RestoreTarget(source, req.Fields)
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", storage.ErrFieldNotInEntry, missing)
	}

	updated, err := s.update(source.RecordID, models.Patch{Fields: values, ActorID: req.ActorID}, at)
	if err != nil {
		return nil, err
	}

	fields := models.SortedKeys(values)
	entry, err := s.append(models.NewRestoreEntry(entryID, source, updated, fields))
	if err != nil {
		return nil, err
	}

	return &models.RestoreResult{
		Status:         models.RestoreSuccess,
		Record:         updated.Record,
		Entry:          entry,
		NewValues:      values,
		RestoredFields: fields,
	}, nil
}

func normalizeFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		n, err := models.NormalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}
