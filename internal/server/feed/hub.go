// Package feed fans committed record changes out to subscribers.
//
// Delivery is at-least-once from the consumer's point of view: a subscriber
// that falls behind is disconnected instead of blocking writers, and is
// expected to resubscribe and resync from the record store.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/iudanet/rollcall/internal/models"
)

// DefaultBuffer is the per-subscriber channel capacity
const DefaultBuffer = 64

// ErrClosed is returned by Subscribe after the hub was closed
var ErrClosed = errors.New("feed hub closed")

// Observer receives hub lifecycle notifications (metrics)
type Observer interface {
	Published()
	Dropped()
	Subscribers(n int)
}

type subscriber struct {
	ch    chan models.ChangeEvent
	match models.Predicate
}

// Hub is an in-process change feed
type Hub struct {
	observer Observer
	logger   *slog.Logger
	subs     map[uint64]*subscriber
	mu       sync.Mutex
	buffer   int
	next     uint64
	closed   bool
}

// NewHub creates a hub. observer may be nil.
func NewHub(logger *slog.Logger, buffer int, observer Observer) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		observer: observer,
		logger:   logger,
		subs:     make(map[uint64]*subscriber),
		buffer:   buffer,
	}
}

// Subscribe returns a channel of events for records matching predicate.
// The channel is closed when ctx is done, when the hub closes, or when the
// subscriber falls behind.
func (h *Hub) Subscribe(ctx context.Context, predicate models.Predicate) (<-chan models.ChangeEvent, error) {
	if predicate == nil {
		predicate = models.AllRecords
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.next++
	id := h.next
	sub := &subscriber{ch: make(chan models.ChangeEvent, h.buffer), match: predicate}
	h.subs[id] = sub
	h.notifySubscribers()
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		h.remove(id)
		h.mu.Unlock()
	}()

	return sub.ch, nil
}

// Publish delivers ev to every matching subscriber without blocking
func (h *Hub) Publish(ev models.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	if h.observer != nil {
		h.observer.Published()
	}

	for id, sub := range h.subs {
		if !sub.match(ev.RecordID) {
			continue
		}
		select {
		case sub.ch <- cloneEvent(ev):
		default:
			h.logger.Warn("Feed subscriber fell behind, disconnecting",
				"subscriber", id,
				"record_id", ev.RecordID,
				"version", ev.Version)
			h.remove(id)
			if h.observer != nil {
				h.observer.Dropped()
			}
		}
	}
}

// Close disconnects all subscribers
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id := range h.subs {
		h.remove(id)
	}
}

// Len returns the number of connected subscribers
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// remove must be called with mu held
func (h *Hub) remove(id uint64) {
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.ch)
	h.notifySubscribers()
}

func (h *Hub) notifySubscribers() {
	if h.observer != nil {
		h.observer.Subscribers(len(h.subs))
	}
}

func cloneEvent(ev models.ChangeEvent) models.ChangeEvent {
	ev.ChangedFields = models.CloneFields(ev.ChangedFields)
	return ev
}
