// Package session is the boundary between a UI and the sync engine.
//
// A Session owns the drafts, the flush scheduler, the audit writer, the
// feed subscriber and the restore engine of one editor. Nothing is global:
// two sessions in one process share no state.
package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/rollcall/internal/client/audit"
	"github.com/iudanet/rollcall/internal/client/draft"
	"github.com/iudanet/rollcall/internal/client/reconcile"
	"github.com/iudanet/rollcall/internal/client/restore"
	"github.com/iudanet/rollcall/internal/client/scheduler"
	"github.com/iudanet/rollcall/internal/clock"
	"github.com/iudanet/rollcall/internal/models"
	"github.com/iudanet/rollcall/internal/validation"
)

// DefaultNoticeBuffer is the capacity of the notices channel
const DefaultNoticeBuffer = 64

var (
	// ErrNotOpen is returned for records without an open view
	ErrNotOpen = errors.New("record is not open")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("session closed")
)

// Backend is the record store, change log and feed the session talks to.
// Both the HTTP client and the in-process record service satisfy it.
type Backend interface {
	scheduler.Writer
	audit.Log
	restore.Store
	reconcile.Source
}

// Notice is a non-fatal event surfaced to the UI: *models.AuditError,
// *models.ConflictWarning, or *models.PersistenceError of a background flush.
type Notice struct {
	Err      error
	RecordID string
}

// Options configures a Session.
type Options struct {
	// Schema validates edits. nil accepts any well-named field.
	Schema *validation.Schema
	// Cache is the passive list cache. May be nil.
	Cache reconcile.Cache
	// OnPhase observes restore phases. May be nil.
	OnPhase      func(recordID string, p restore.Phase)
	ActorID      string
	Quiet        time.Duration
	AuditRetries uint64
	NoticeBuffer int
}

// Session is one editor's view of the shared records.
type Session struct {
	backend    Backend
	buffer     *draft.Buffer
	scheduler  *scheduler.Scheduler
	audit      *audit.Writer
	subscriber *reconcile.Subscriber
	restorer   *restore.Engine
	schema     *validation.Schema
	logger     *slog.Logger
	notices    chan Notice
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	drained    bool // канал notices закрыт
}

// New creates a session. Call Start to follow the change feed.
func New(backend Backend, clk clock.Clock, opts Options, logger *slog.Logger) *Session {
	if opts.NoticeBuffer <= 0 {
		opts.NoticeBuffer = DefaultNoticeBuffer
	}

	s := &Session{
		backend: backend,
		buffer:  draft.New(),
		schema:  opts.Schema,
		logger:  logger.With("actor_id", opts.ActorID),
		notices: make(chan Notice, opts.NoticeBuffer),
	}

	var classifier audit.Classifier
	if opts.Schema != nil {
		classifier = opts.Schema
	}
	s.audit = audit.NewWriter(backend, classifier, clk, audit.Options{Retries: opts.AuditRetries}, s.logger)

	s.scheduler = scheduler.New(s.buffer, backend, clk, scheduler.Options{
		Quiet:   opts.Quiet,
		ActorID: opts.ActorID,
		Audit:   s.audit.Committed,
		OnFlush: func(res *scheduler.FlushResult, err error) {
			s.report(res, err, true)
		},
	}, s.logger)

	s.subscriber = reconcile.New(s.buffer, backend, opts.Cache, reconcile.Options{}, s.logger)

	s.restorer = restore.NewEngine(backend, s.scheduler, s.buffer, clk, restore.Options{
		ActorID: opts.ActorID,
		OnPhase: opts.OnPhase,
	}, s.logger)

	return s
}

// Start follows the change feed in the background until Close.
func (s *Session) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.subscriber.Run(ctx); err != nil {
			s.logger.Error("Change feed stopped", "error", err)
		}
	}()
}

// OpenRecord loads a record and opens a view of it. Reopening keeps drafts.
func (s *Session) OpenRecord(ctx context.Context, recordID string) (*models.Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	rec, err := s.backend.GetRecord(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to open record %s: %w", recordID, err)
	}
	s.buffer.Open(rec)

	view := rec.Clone()
	view.Fields = s.buffer.Fields(recordID)
	return view, nil
}

// Edit records a field change and schedules a flush. Only validation
// errors are returned; write failures arrive later as notices.
func (s *Session) Edit(recordID, field string, value any) error {
	v, err := s.prepare(recordID, field, value)
	if err != nil {
		return err
	}
	s.buffer.Set(recordID, field, v)
	s.scheduler.Schedule(recordID)
	return nil
}

// SetStatus changes a status field and flushes right away, without the
// quiet window.
func (s *Session) SetStatus(ctx context.Context, recordID, field, value string) (*scheduler.FlushResult, error) {
	if s.schema != nil && !s.schema.IsStatus(field) {
		return nil, &models.ValidationError{Field: field, Value: value, Reason: "field is not a status"}
	}
	v, err := s.prepare(recordID, field, value)
	if err != nil {
		return nil, err
	}
	s.buffer.Set(recordID, field, v)

	res, err := s.scheduler.FlushNow(ctx, recordID)
	s.report(res, err, false)
	return res, err
}

// CurrentValue returns the dirty local value, or the last confirmed one.
func (s *Session) CurrentValue(recordID, field string) (any, bool) {
	return s.buffer.Get(recordID, field)
}

// Status returns the draft state of a field.
func (s *Session) Status(recordID, field string) (draft.Entry, bool) {
	return s.buffer.Entry(recordID, field)
}

// Fields returns the current view of an open record.
func (s *Session) Fields(recordID string) map[string]any {
	return s.buffer.Fields(recordID)
}

// ChangeHistory iterates the record's change log, most recent first.
func (s *Session) ChangeHistory(ctx context.Context, recordID string) iter.Seq2[*models.ChangeLogEntry, error] {
	return s.audit.History(ctx, recordID)
}

// RequestRestore restores the fields of a change log entry.
func (s *Session) RequestRestore(ctx context.Context, req restore.Request) (*restore.Outcome, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	out, err := s.restorer.Restore(ctx, req)
	if out != nil && out.Flushed != nil {
		s.report(out.Flushed, nil, false)
	}
	return out, err
}

// Retry flushes the record's dirty drafts now, e.g. after a failed flush.
func (s *Session) Retry(ctx context.Context, recordID string) (*scheduler.FlushResult, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	res, err := s.scheduler.FlushNow(ctx, recordID)
	s.report(res, err, false)
	return res, err
}

// CloseRecord flushes the record's drafts and tears its view down. When the
// flush fails the view stays open and the drafts are kept.
func (s *Session) CloseRecord(ctx context.Context, recordID string) error {
	if s.buffer.HasDirty(recordID) {
		res, err := s.scheduler.FlushNow(ctx, recordID)
		s.report(res, err, false)
		if err != nil {
			return err
		}
	}
	s.scheduler.Forget(recordID)
	s.buffer.Close(recordID)
	return nil
}

// DiscardRecord tears the view down without writing and returns the
// drafts that were dropped.
func (s *Session) DiscardRecord(recordID string) map[string]any {
	s.scheduler.Cancel(recordID)
	dropped := s.buffer.Discard(recordID)
	s.scheduler.Forget(recordID)
	s.buffer.Close(recordID)

	if len(dropped) > 0 {
		s.logger.Info("Discarded pending edits", "record_id", recordID, "fields", models.SortedKeys(dropped))
	}
	return dropped
}

// Notices delivers non-fatal errors. The channel is closed by Close.
func (s *Session) Notices() <-chan Notice {
	return s.notices
}

// Close flushes every dirty draft, stops following the feed and closes
// the notices channel. Audit errors and conflicts of the final flush are
// delivered as notices before the channel closes.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	results, err := s.scheduler.Close(ctx)
	for _, res := range results {
		s.report(res, nil, false)
	}

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.drained = true
	close(s.notices)
	s.mu.Unlock()

	return err
}

func (s *Session) prepare(recordID, field string, value any) (any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if !s.buffer.IsOpen(recordID) {
		return nil, fmt.Errorf("%w: %s", ErrNotOpen, recordID)
	}
	return s.schema.ValidateField(field, value)
}

func (s *Session) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// report turns a flush outcome into notices. Persistence errors of
// synchronous calls are returned to the caller instead.
func (s *Session) report(res *scheduler.FlushResult, err error, background bool) {
	if err != nil {
		if background {
			var perr *models.PersistenceError
			recordID := ""
			if errors.As(err, &perr) {
				recordID = perr.RecordID
			}
			s.notify(Notice{RecordID: recordID, Err: err})
		}
		return
	}
	if res == nil {
		return
	}
	if res.AuditErr != nil {
		s.notify(Notice{RecordID: res.RecordID, Err: res.AuditErr})
	}
	for _, c := range res.Conflicts {
		s.logger.Warn("Conflicting edit", "record_id", c.RecordID, "field", c.Field, "kept", c.Kept)
		s.notify(Notice{RecordID: res.RecordID, Err: c})
	}
}

func (s *Session) notify(n Notice) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.drained {
		return
	}
	select {
	case s.notices <- n:
	default:
		s.logger.Warn("Notice dropped, channel full", "record_id", n.RecordID, "error", n.Err)
	}
}
