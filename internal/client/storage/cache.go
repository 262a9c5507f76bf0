// Package storage defines the client's passive record cache.
//
// The cache mirrors the change feed for list views. It is never read by
// the sync engine: open records live in the draft buffer.
package storage

import (
	"context"
	"time"

	"github.com/iudanet/rollcall/internal/models"
)

//go:generate moq -out cache_mock.go . RecordCache

// RecordCache is a local copy of recently seen records
type RecordCache interface {
	// PutRecord stores a full record unless a newer version is cached
	PutRecord(ctx context.Context, rec *models.Record) error

	// ApplyEvent merges a feed event into the cached record.
	// Events not newer than the cached version are ignored.
	ApplyEvent(ctx context.Context, ev models.ChangeEvent) error

	// GetRecord returns a cached record or ErrRecordNotFound
	GetRecord(ctx context.Context, id string) (*models.Record, error)

	// ListRecords returns cached records ordered by ID
	ListRecords(ctx context.Context) ([]*models.Record, error)

	// DeleteRecord drops a record from the cache
	DeleteRecord(ctx context.Context, id string) error

	// LastEventAt returns the commit time of the newest applied event,
	// zero if none was applied yet
	LastEventAt(ctx context.Context) (time.Time, error)
}
