package storage

import (
	"context"
	"time"

	"github.com/iudanet/rollcall/internal/models"
)

// RecordStorage defines interface for current-state record persistence
type RecordStorage interface {
	// CreateRecord inserts a new record at version 1
	// Returns ErrRecordExists if a record with this ID already exists
	CreateRecord(ctx context.Context, rec *models.Record) error

	// GetRecord retrieves a record by ID
	// Returns ErrRecordNotFound if record doesn't exist
	GetRecord(ctx context.Context, id string) (*models.Record, error)

	// ListRecords returns records ordered by ID, at most limit of them
	ListRecords(ctx context.Context, limit int) ([]*models.Record, error)

	// UpdateRecord applies patch atomically: fields, version, last_modified_by
	// and last_modified_at change together or not at all.
	// Returns ErrRecordNotFound if record doesn't exist
	UpdateRecord(ctx context.Context, id string, patch models.Patch, at time.Time) (*models.UpdateResult, error)
}

// ChangeLogStorage defines interface for the append-only change log
type ChangeLogStorage interface {
	// AppendEntry appends an entry and assigns its Seq.
	// Appending an entry whose ID already exists is a no-op that returns the
	// stored entry, so retried appends never duplicate history.
	AppendEntry(ctx context.Context, entry *models.ChangeLogEntry) (*models.ChangeLogEntry, error)

	// GetEntry retrieves a single entry by ID
	// Returns ErrEntryNotFound if entry doesn't exist
	GetEntry(ctx context.Context, id string) (*models.ChangeLogEntry, error)

	// ListEntries returns a page of one record's entries, most recent first
	ListEntries(ctx context.Context, q models.HistoryQuery) ([]*models.ChangeLogEntry, error)
}

// RestoreStorage applies a restore as one atomic unit: read the target entry,
// write its "before" values to the record, append the restore entry.
type RestoreStorage interface {
	// RestoreFromLog returns ErrEntryNotFound if the target entry doesn't exist
	// and ErrFieldNotInEntry if req.Fields names a field the entry did not touch
	RestoreFromLog(ctx context.Context, req models.RestoreRequest, entryID string, at time.Time) (*models.RestoreResult, error)
}

// Storage is everything the record service needs from a backend
type Storage interface {
	RecordStorage
	ChangeLogStorage
	RestoreStorage
	Close() error
}
