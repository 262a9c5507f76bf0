// Package scheduler coalesces draft edits into one record store write per
// record after a quiet period.
//
// Each record moves through an explicit state machine:
//
//	Idle -> Dirty -> Flushing -> Idle | Dirty
//	any  -> Held (restore in progress) -> Idle | Dirty
//
// Flushes of one record are serialized; different records flush
// independently.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/rollcall/internal/client/draft"
	"github.com/iudanet/rollcall/internal/clock"
	"github.com/iudanet/rollcall/internal/ids"
	"github.com/iudanet/rollcall/internal/models"
)

//go:generate moq -out writer_mock.go . Writer

// DefaultQuiet is the debounce window used when Options.Quiet is zero.
const DefaultQuiet = 800 * time.Millisecond

var (
	// ErrHeld is returned when a record is held by a restore
	ErrHeld = errors.New("record is held by a restore")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("scheduler closed")
)

// State is the scheduling state of one record.
type State int

// State values.
const (
	Idle State = iota
	Dirty
	Flushing
	Held
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dirty:
		return "dirty"
	case Flushing:
		return "flushing"
	case Held:
		return "held"
	}
	return "unknown"
}

// Writer commits a coalesced patch to the record store.
type Writer interface {
	UpdateRecord(ctx context.Context, id string, patch models.Patch) (*models.UpdateResult, error)
}

// Commit is a confirmed flush handed to the audit hook.
type Commit struct {
	Flush   *draft.Flush
	Result  *models.UpdateResult
	ActorID string
}

// AuditFunc appends the change log entry for a commit. Its error never
// reverts the write.
type AuditFunc func(ctx context.Context, c Commit) (*models.ChangeLogEntry, error)

// FlushResult describes one flush attempt.
type FlushResult struct {
	Record    *models.Record
	Entry     *models.ChangeLogEntry
	AuditErr  error
	RecordID  string
	WriteID   string
	Fields    []string
	Conflicts []*models.ConflictWarning
	NoOp      bool // нечего было писать
}

// Options configures a Scheduler.
type Options struct {
	// Audit is called after every committed flush. May be nil.
	Audit AuditFunc
	// OnFlush receives the outcome of timer-driven flushes, which have no
	// caller to return to. May be nil.
	OnFlush func(res *FlushResult, err error)
	ActorID string
	Quiet   time.Duration
}

type recordState struct {
	timer    clock.Timer
	done     chan struct{} // закрывается по окончании текущего flush
	state    State
	timerGen uint64
	trailing bool // правка пришла во время flush или удержания
}

// Scheduler debounces and serializes flushes per record.
type Scheduler struct {
	ctx     context.Context
	writer  Writer
	clock   clock.Clock
	buffer  *draft.Buffer
	logger  *slog.Logger
	records map[string]*recordState
	cancel  context.CancelFunc
	opts    Options
	mu      sync.Mutex
	closed  bool
}

// New creates a scheduler over buf.
func New(buf *draft.Buffer, w Writer, clk clock.Clock, opts Options, logger *slog.Logger) *Scheduler {
	if opts.Quiet <= 0 {
		opts.Quiet = DefaultQuiet
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ctx:     ctx,
		writer:  w,
		clock:   clk,
		buffer:  buf,
		logger:  logger,
		records: make(map[string]*recordState),
		cancel:  cancel,
		opts:    opts,
	}
}

// State returns the scheduling state of a record.
func (s *Scheduler) State(recordID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.records[recordID]; ok {
		return st.state
	}
	return Idle
}

// Schedule (re)starts the quiet window of a record after an edit.
func (s *Scheduler) Schedule(recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	st := s.record(recordID)
	switch st.state {
	case Flushing, Held:
		st.trailing = true
	default:
		st.state = Dirty
		s.armLocked(recordID, st)
	}
}

// FlushNow writes the record's dirty drafts immediately, waiting for an
// in-flight flush first. Flushing a record with nothing dirty is a no-op.
func (s *Scheduler) FlushNow(ctx context.Context, recordID string) (*FlushResult, error) {
	if err := s.acquire(ctx, recordID); err != nil {
		return nil, err
	}
	res, err := s.flush(ctx, recordID)
	s.finish(recordID, err != nil)
	return res, err
}

// Cancel stops a pending timer. Drafts stay in the buffer.
func (s *Scheduler) Cancel(recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.records[recordID]
	if !ok {
		return
	}
	s.stopLocked(st)
	if st.state == Dirty {
		st.state = Idle
	}
}

// Forget drops the state of a record whose view was torn down.
func (s *Scheduler) Forget(recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.records[recordID]; ok && st.state != Flushing && st.state != Held {
		s.stopLocked(st)
		delete(s.records, recordID)
	}
}

// HoldOptions controls what happens to pending drafts when a record is held.
type HoldOptions struct {
	// Discard lists fields whose drafts are dropped instead of flushed
	Discard []string
	// DiscardAll drops every pending draft of the record
	DiscardAll bool
}

// Hold is an exclusive hold on a record taken for a restore.
type Hold struct {
	Flushed   *FlushResult
	Discarded map[string]any
	release   func()
	once      sync.Once
}

// Release ends the hold. Edits made meanwhile are scheduled normally.
// Safe to call more than once.
func (h *Hold) Release() {
	h.once.Do(h.release)
}

// Hold cancels the record's pending timer, waits for an in-flight flush,
// flushes (or discards) the remaining drafts and then keeps every other flush
// of the record out until Release. A failed pre-flush returns the error and
// leaves the record unheld.
func (s *Scheduler) Hold(ctx context.Context, recordID string, opts HoldOptions) (*Hold, error) {
	if err := s.acquire(ctx, recordID); err != nil {
		return nil, err
	}

	h := &Hold{}
	switch {
	case opts.DiscardAll:
		h.Discarded = s.buffer.Discard(recordID)
	case len(opts.Discard) > 0:
		h.Discarded = s.buffer.Discard(recordID, opts.Discard...)
	}
	if len(h.Discarded) > 0 {
		s.logger.Info("Discarded pending edits before restore",
			"record_id", recordID,
			"fields", models.SortedKeys(h.Discarded))
	}

	res, err := s.flush(ctx, recordID)
	if err != nil {
		s.finish(recordID, true)
		return nil, err
	}
	h.Flushed = res

	s.mu.Lock()
	st := s.record(recordID)
	st.state = Held
	s.closeDoneLocked(st)
	s.mu.Unlock()

	h.release = func() { s.release(recordID) }
	return h, nil
}

// Close flushes every record with dirty drafts and stops all timers.
// The results of those final flushes are returned so audit errors and
// conflicts can still be reported.
func (s *Scheduler) Close(ctx context.Context) ([]*FlushResult, error) {
	var (
		results []*FlushResult
		errs    []error
	)
	for _, id := range s.buffer.Records() {
		if !s.buffer.HasDirty(id) {
			continue
		}
		res, err := s.FlushNow(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res != nil {
			results = append(results, res)
		}
	}

	s.mu.Lock()
	s.closed = true
	for _, st := range s.records {
		s.stopLocked(st)
	}
	s.mu.Unlock()
	s.cancel()

	return results, errors.Join(errs...)
}

// acquire waits until the record can be flushed and marks it Flushing.
func (s *Scheduler) acquire(ctx context.Context, recordID string) error {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		st := s.record(recordID)
		switch st.state {
		case Held:
			s.mu.Unlock()
			return ErrHeld
		case Flushing:
			done := st.done
			s.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		s.stopLocked(st)
		st.state = Flushing
		st.trailing = false
		st.done = make(chan struct{})
		s.mu.Unlock()
		return nil
	}
}

// flush performs one write. The caller holds the record in Flushing.
func (s *Scheduler) flush(ctx context.Context, recordID string) (*FlushResult, error) {
	f, ok := s.buffer.BeginFlush(recordID, ids.NewWriteID())
	if !ok {
		return &FlushResult{RecordID: recordID, NoOp: true}, nil
	}

	names := f.Names()
	res, err := s.writer.UpdateRecord(ctx, recordID, models.Patch{Fields: f.Fields, ActorID: s.opts.ActorID})
	if err != nil {
		s.buffer.FailFlush(f, err.Error())
		s.logger.Warn("Flush failed, drafts kept",
			"record_id", recordID,
			"write_id", f.WriteID,
			"fields", names,
			"error", err)
		return nil, &models.PersistenceError{
			Op:       "flush",
			RecordID: recordID,
			Fields:   names,
			Err:      err,
		}
	}

	out := &FlushResult{
		RecordID:  recordID,
		WriteID:   f.WriteID,
		Fields:    names,
		Record:    res.Record,
		Conflicts: s.buffer.CompleteFlush(f, res),
	}

	s.logger.Debug("Flush committed",
		"record_id", recordID,
		"write_id", f.WriteID,
		"version", res.Record.Version,
		"fields", names)

	if s.opts.Audit != nil {
		entry, err := s.opts.Audit(ctx, Commit{Flush: f, Result: res, ActorID: s.opts.ActorID})
		if err != nil {
			out.AuditErr = err
		}
		out.Entry = entry
	}

	return out, nil
}

// finish leaves the Flushing state and re-arms the timer if drafts remain.
func (s *Scheduler) finish(recordID string, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.record(recordID)
	s.closeDoneLocked(st)

	switch {
	case s.closed:
		st.state = Idle
	case failed && !st.trailing:
		// Повтор по следующей правке, Retry или FlushNow
		st.state = Dirty
	case s.buffer.HasDirty(recordID):
		st.state = Dirty
		s.armLocked(recordID, st)
	default:
		st.state = Idle
	}
	st.trailing = false
}

func (s *Scheduler) release(recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.record(recordID)
	if st.state != Held {
		return
	}
	st.trailing = false
	if !s.closed && s.buffer.HasDirty(recordID) {
		st.state = Dirty
		s.armLocked(recordID, st)
		return
	}
	st.state = Idle
}

func (s *Scheduler) fire(recordID string, gen uint64) {
	s.mu.Lock()
	st, ok := s.records[recordID]
	if !ok || s.closed || st.timerGen != gen || st.state != Dirty {
		s.mu.Unlock()
		return
	}
	st.timer = nil
	st.state = Flushing
	st.trailing = false
	st.done = make(chan struct{})
	s.mu.Unlock()

	res, err := s.flush(s.ctx, recordID)
	s.finish(recordID, err != nil)

	if s.opts.OnFlush != nil {
		s.opts.OnFlush(res, err)
	}
}

func (s *Scheduler) armLocked(recordID string, st *recordState) {
	s.stopLocked(st)
	st.timerGen++
	gen := st.timerGen
	st.timer = s.clock.AfterFunc(s.opts.Quiet, func() { s.fire(recordID, gen) })
}

func (s *Scheduler) stopLocked(st *recordState) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}

func (s *Scheduler) closeDoneLocked(st *recordState) {
	if st.done != nil {
		close(st.done)
		st.done = nil
	}
}

func (s *Scheduler) record(id string) *recordState {
	st, ok := s.records[id]
	if !ok {
		st = &recordState{}
		s.records[id] = st
	}
	return st
}

// String is used in logs.
func (r *FlushResult) String() string {
	if r == nil {
		return "<nil>"
	}
	if r.NoOp {
		return fmt.Sprintf("flush %s: nothing to write", r.RecordID)
	}
	return fmt.Sprintf("flush %s (%s): %v at version %d", r.RecordID, r.WriteID, r.Fields, r.Record.Version)
}
