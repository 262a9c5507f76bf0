// Package reconcile merges changes made by other sessions into the local
// drafts without clobbering fields that are being edited.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/iudanet/rollcall/internal/client/draft"
	"github.com/iudanet/rollcall/internal/models"
)

// Source is the record store feed plus point reads for resync.
type Source interface {
	GetRecord(ctx context.Context, id string) (*models.Record, error)
	Subscribe(ctx context.Context, predicate models.Predicate) (<-chan models.ChangeEvent, error)
}

// Cache is the passive list cache. It sees every event, including those of
// records with no open view.
type Cache interface {
	ApplyEvent(ctx context.Context, ev models.ChangeEvent) error
	PutRecord(ctx context.Context, rec *models.Record) error
}

// Options configures a Subscriber.
type Options struct {
	// OnApplied is called for every event merged into an open record. May be nil.
	OnApplied func(ev models.ChangeEvent, applied draft.Applied)
	// Backoff is the first reconnect delay; it doubles up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Subscriber consumes the change feed of one session.
type Subscriber struct {
	buffer *draft.Buffer
	source Source
	cache  Cache
	logger *slog.Logger
	opts   Options
}

// New creates a subscriber. cache may be nil.
func New(buf *draft.Buffer, src Source, cache Cache, opts Options, logger *slog.Logger) *Subscriber {
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.MaxBackoff < opts.Backoff {
		opts.MaxBackoff = 30 * time.Second
	}
	return &Subscriber{
		buffer: buf,
		source: src,
		cache:  cache,
		logger: logger,
		opts:   opts,
	}
}

// Run consumes the feed until ctx is done. A dropped feed is resubscribed
// with capped exponential backoff, then open records are resynced so that
// notifications missed while disconnected are not lost. The backoff also
// applies between reconnects and resets once a feed delivers an event.
func (s *Subscriber) Run(ctx context.Context) error {
	reconnect := s.backoff()
	for {
		events, err := s.subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := s.Resync(ctx); err != nil {
			s.logger.Warn("Resync after subscribe incomplete", "error", err)
		}

		done, received := s.consume(ctx, events)
		if done {
			return nil
		}
		if received {
			reconnect = s.backoff()
		}

		delay, _ := reconnect.Next()
		s.logger.Info("Change feed disconnected, resubscribing", "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// consume handles events until the feed closes. done is true when ctx is
// done; received is true if at least one event arrived.
func (s *Subscriber) consume(ctx context.Context, events <-chan models.ChangeEvent) (done, received bool) {
	for {
		select {
		case <-ctx.Done():
			return true, received
		case ev, ok := <-events:
			if !ok {
				return ctx.Err() != nil, received
			}
			received = true
			s.Handle(ctx, ev)
		}
	}
}

func (s *Subscriber) backoff() retry.Backoff {
	return retry.WithCappedDuration(s.opts.MaxBackoff, retry.NewExponential(s.opts.Backoff))
}

func (s *Subscriber) subscribe(ctx context.Context) (<-chan models.ChangeEvent, error) {
	var events <-chan models.ChangeEvent

	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		ch, err := s.source.Subscribe(ctx, models.AllRecords)
		if err != nil {
			s.logger.Warn("Failed to subscribe to change feed", "error", err)
			return retry.RetryableError(err)
		}
		events = ch
		return nil
	})

	return events, err
}

// Handle merges one event. Duplicate and stale events are dropped.
func (s *Subscriber) Handle(ctx context.Context, ev models.ChangeEvent) draft.Applied {
	if s.cache != nil {
		if err := s.cache.ApplyEvent(ctx, ev); err != nil {
			s.logger.Warn("Failed to update list cache", "record_id", ev.RecordID, "error", err)
		}
	}

	applied := s.buffer.ApplyRemote(ev)
	switch {
	case applied.Ignored:
		return applied
	case applied.Stale:
		s.logger.Debug("Dropped stale change event", "record_id", ev.RecordID, "version", ev.Version)
		return applied
	}

	if len(applied.Kept) > 0 {
		s.logger.Info("Remote change to fields with pending edits",
			"record_id", ev.RecordID,
			"version", ev.Version,
			"actor_id", ev.ActorID,
			"fields", applied.Kept)
	}
	if s.opts.OnApplied != nil {
		s.opts.OnApplied(ev, applied)
	}
	return applied
}

// Resync reloads every open record from the store.
func (s *Subscriber) Resync(ctx context.Context) error {
	var errs []error
	for _, id := range s.buffer.OpenRecords() {
		rec, err := s.source.GetRecord(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if s.cache != nil {
			if err := s.cache.PutRecord(ctx, rec); err != nil {
				s.logger.Warn("Failed to update list cache", "record_id", id, "error", err)
			}
		}
		applied := s.buffer.Refresh(rec)
		if !applied.Stale && !applied.Ignored && s.opts.OnApplied != nil {
			s.opts.OnApplied(models.ChangeEvent{
				RecordID:      rec.ID,
				Version:       rec.Version,
				ActorID:       rec.LastModifiedBy,
				At:            rec.LastModifiedAt,
				ChangedFields: pick(rec.Fields, applied.Overwritten),
			}, applied)
		}
	}
	return errors.Join(errs...)
}

func pick(fields map[string]any, names []string) map[string]any {
	out := make(map[string]any, len(names))
	for _, n := range names {
		out[n] = models.CloneValue(fields[n])
	}
	return out
}
