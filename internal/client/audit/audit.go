// Package audit appends change log entries for committed writes and reads
// a record's history back page by page.
package audit

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/iudanet/rollcall/internal/client/scheduler"
	"github.com/iudanet/rollcall/internal/clock"
	"github.com/iudanet/rollcall/internal/ids"
	"github.com/iudanet/rollcall/internal/models"
)

// Log is the change log store as seen by the writer.
type Log interface {
	AppendEntry(ctx context.Context, entry *models.ChangeLogEntry) (*models.ChangeLogEntry, error)
	ListEntries(ctx context.Context, q models.HistoryQuery) ([]*models.ChangeLogEntry, error)
}

// Classifier picks the action type of a committed set of fields.
type Classifier interface {
	Classify(fields []string) models.ActionType
}

// Options configures a Writer.
type Options struct {
	// Retries is how many times a failed append is retried. Appends are
	// idempotent by entry id, so a retry never duplicates an entry.
	Retries uint64
	// Backoff is the first retry delay; it doubles per retry.
	Backoff time.Duration
	// PageSize is the history page size.
	PageSize int
}

// Writer writes the audit trail of one session.
type Writer struct {
	log        Log
	classifier Classifier
	clock      clock.Clock
	logger     *slog.Logger
	opts       Options
}

// NewWriter creates an audit writer. classifier may be nil, in which case
// every flush is logged as a field update.
func NewWriter(log Log, classifier Classifier, clk clock.Clock, opts Options, logger *slog.Logger) *Writer {
	if opts.Backoff <= 0 {
		opts.Backoff = 100 * time.Millisecond
	}
	if opts.PageSize <= 0 {
		opts.PageSize = models.DefaultHistoryLimit
	}
	return &Writer{
		log:        log,
		classifier: classifier,
		clock:      clk,
		logger:     logger,
		opts:       opts,
	}
}

// RecordChange appends one entry for a write that the record store already
// confirmed. A failure is returned as *models.AuditError; the write stands.
func (w *Writer) RecordChange(
	ctx context.Context,
	recordID string,
	action models.ActionType,
	before, after map[string]any,
	actorID string,
	recordVersion int64,
	metadata map[string]string,
) (*models.ChangeLogEntry, error) {
	now := w.clock.Now().UTC()
	entry := &models.ChangeLogEntry{
		ID:            ids.NewEntryID(now),
		RecordID:      recordID,
		ActionType:    action,
		Before:        models.CloneFields(before),
		After:         models.CloneFields(after),
		ActorID:       actorID,
		CreatedAt:     now,
		RecordVersion: recordVersion,
		Metadata:      metadata,
	}

	var stored *models.ChangeLogEntry
	b := retry.WithMaxRetries(w.opts.Retries, retry.NewExponential(w.opts.Backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var err error
		stored, err = w.log.AppendEntry(ctx, entry)
		if err != nil {
			w.logger.Debug("Change log append failed", "entry_id", entry.ID, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		w.logger.Error("Change log entry lost, record write stands",
			"record_id", recordID,
			"entry_id", entry.ID,
			"version", recordVersion,
			"error", err)
		return nil, &models.AuditError{RecordID: recordID, EntryID: entry.ID, Err: err}
	}

	return stored, nil
}

// Committed is a scheduler.AuditFunc: one compound entry per flush.
func (w *Writer) Committed(ctx context.Context, c scheduler.Commit) (*models.ChangeLogEntry, error) {
	names := c.Flush.Names()
	action := models.ActionFieldUpdate
	if w.classifier != nil {
		action = w.classifier.Classify(names)
	}

	before := make(map[string]any, len(names))
	for _, name := range names {
		before[name] = c.Result.Previous[name]
	}

	return w.RecordChange(ctx,
		c.Flush.RecordID,
		action,
		before,
		c.Result.After(names),
		c.ActorID,
		c.Result.Record.Version,
		map[string]string{models.MetaWriteID: c.Flush.WriteID},
	)
}

// History iterates a record's change log, most recent first. Pages are
// fetched lazily as the caller ranges; breaking out stops fetching. Every
// range starts again from the newest entry.
func (w *Writer) History(ctx context.Context, recordID string) iter.Seq2[*models.ChangeLogEntry, error] {
	return func(yield func(*models.ChangeLogEntry, error) bool) {
		q := models.HistoryQuery{RecordID: recordID, Limit: w.opts.PageSize}
		for {
			page, err := w.log.ListEntries(ctx, q)
			if err != nil {
				yield(nil, fmt.Errorf("failed to read history of %s: %w", recordID, err))
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if len(page) < q.Limit {
				return
			}
			q.Before = models.CursorAfter(page[len(page)-1])
		}
	}
}
