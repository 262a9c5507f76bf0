// Package restore reverts fields of a record to the values a change log
// entry documents as "before", and logs the revert as a new entry.
//
// Pending local edits of the record are never silently lost: they are
// flushed first, or dropped only when the caller asks for it, and the
// record is held so that no scheduled flush lands between the pre-flush
// and the restore write.
package restore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iudanet/rollcall/internal/client/draft"
	"github.com/iudanet/rollcall/internal/client/scheduler"
	"github.com/iudanet/rollcall/internal/clock"
	"github.com/iudanet/rollcall/internal/ids"
	"github.com/iudanet/rollcall/internal/models"
)

// Phase is a step of one restore.
type Phase int

// Phase values.
const (
	Idle Phase = iota
	Requested
	Flushing
	Applying
	Committed
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Requested:
		return "requested"
	case Flushing:
		return "flushing"
	case Applying:
		return "applying"
	case Committed:
		return "committed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Store reads the target entry and applies the restore atomically.
type Store interface {
	GetEntry(ctx context.Context, id string) (*models.ChangeLogEntry, error)
	RestoreFromLog(ctx context.Context, req models.RestoreRequest) (*models.RestoreResult, error)
}

// Holder takes the exclusive pre-restore hold on a record.
type Holder interface {
	Hold(ctx context.Context, recordID string, opts scheduler.HoldOptions) (*scheduler.Hold, error)
}

// Request asks to restore the fields of one change log entry.
type Request struct {
	TargetLogEntryID string
	// EntryID fixes the id of the restore entry. Retrying with the same
	// EntryID never applies the restore twice. Empty means a new id.
	EntryID string
	// Fields narrows a compound entry; empty means every field it touched.
	Fields []string
	// DiscardPending drops pending drafts of the restored fields instead of
	// flushing them first.
	DiscardPending bool
}

// Outcome describes a finished restore.
type Outcome struct {
	Result    *models.RestoreResult
	Flushed   *scheduler.FlushResult
	Discarded map[string]any
	Request   Request
	RecordID  string
	Reason    string
	Phase     Phase
}

// Options configures an Engine.
type Options struct {
	// OnPhase observes phase transitions. May be nil.
	OnPhase func(recordID string, p Phase)
	ActorID string
}

// Engine runs restores for one session.
type Engine struct {
	store  Store
	holder Holder
	buffer *draft.Buffer
	clock  clock.Clock
	logger *slog.Logger
	opts   Options
}

// NewEngine creates a restore engine.
func NewEngine(store Store, holder Holder, buf *draft.Buffer, clk clock.Clock, opts Options, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		holder: holder,
		buffer: buf,
		clock:  clk,
		logger: logger,
		opts:   opts,
	}
}

// Restore runs one restore to Committed or Failed. On failure the record is
// unchanged and the error carries a human-readable reason.
func (e *Engine) Restore(ctx context.Context, req Request) (*Outcome, error) {
	if req.EntryID == "" {
		req.EntryID = ids.NewEntryID(e.clock.Now())
	}
	out := &Outcome{Request: req}

	e.phase(out, Requested)

	target, err := e.store.GetEntry(ctx, req.TargetLogEntryID)
	if err != nil {
		return e.fail(out, fmt.Sprintf("cannot read change log entry %s", req.TargetLogEntryID), err)
	}
	out.RecordID = target.RecordID

	_, missing := models.RestoreTarget(target, req.Fields)
	if len(missing) > 0 {
		return e.fail(out, fmt.Sprintf("entry %s did not change %s", target.ID, strings.Join(missing, ", ")), nil)
	}
	fields := req.Fields
	if len(fields) == 0 {
		fields = target.Fields()
	}

	e.phase(out, Flushing)

	var opts scheduler.HoldOptions
	if req.DiscardPending {
		opts.Discard = fields
	}
	hold, err := e.holder.Hold(ctx, target.RecordID, opts)
	if err != nil {
		return e.fail(out, "pending edits could not be saved before the restore", err)
	}
	defer hold.Release()

	out.Flushed = hold.Flushed
	out.Discarded = hold.Discarded

	e.phase(out, Applying)

	res, err := e.store.RestoreFromLog(ctx, models.RestoreRequest{
		TargetLogEntryID: target.ID,
		ActorID:          e.opts.ActorID,
		EntryID:          req.EntryID,
		Fields:           req.Fields,
	})
	if err != nil {
		return e.fail(out, "restore was not applied", err)
	}
	out.Result = res

	// Восстановленные значения становятся подтвержденными
	e.buffer.Refresh(res.Record)

	e.logger.Info("Restore committed",
		"record_id", out.RecordID,
		"target_entry_id", target.ID,
		"restore_entry_id", res.Entry.ID,
		"fields", res.RestoredFields,
		"version", res.Record.Version)

	e.phase(out, Committed)
	return out, nil
}

func (e *Engine) fail(out *Outcome, reason string, cause error) (*Outcome, error) {
	if cause != nil {
		out.Reason = fmt.Sprintf("%s: %v", reason, cause)
	} else {
		out.Reason = reason
	}
	out.Result = &models.RestoreResult{Status: models.RestoreError, Reason: out.Reason}

	e.logger.Warn("Restore failed",
		"record_id", out.RecordID,
		"target_entry_id", out.Request.TargetLogEntryID,
		"reason", out.Reason)

	e.phase(out, Failed)
	return out, &models.PersistenceError{
		Op:       "restore",
		RecordID: out.RecordID,
		Fields:   out.Request.Fields,
		Reason:   reason,
		Err:      cause,
	}
}

func (e *Engine) phase(out *Outcome, p Phase) {
	out.Phase = p
	if e.opts.OnPhase != nil {
		e.opts.OnPhase(out.RecordID, p)
	}
}
