package feed

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/rollcall/internal/models"
)

type countingObserver struct {
	published, dropped, subscribers int
}

func (o *countingObserver) Published()        { o.published++ }
func (o *countingObserver) Dropped()          { o.dropped++ }
func (o *countingObserver) Subscribers(n int) { o.subscribers = n }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, ch <-chan models.ChangeEvent) models.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	return models.ChangeEvent{}
}

func TestHub_PublishMatchesPredicate(t *testing.T) {
	h := NewHub(testLogger(), 4, nil)
	ctx := context.Background()

	all, err := h.Subscribe(ctx, nil)
	require.NoError(t, err)
	onlyP2, err := h.Subscribe(ctx, models.RecordIn("P2"))
	require.NoError(t, err)

	h.Publish(models.ChangeEvent{RecordID: "P1", Version: 2, ChangedFields: map[string]any{"memo": "a"}})
	h.Publish(models.ChangeEvent{RecordID: "P2", Version: 5})

	assert.Equal(t, "P1", receive(t, all).RecordID)
	assert.Equal(t, "P2", receive(t, all).RecordID)
	assert.Equal(t, "P2", receive(t, onlyP2).RecordID)

	select {
	case ev := <-onlyP2:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestHub_EventsAreCopied(t *testing.T) {
	h := NewHub(testLogger(), 4, nil)

	a, err := h.Subscribe(context.Background(), nil)
	require.NoError(t, err)
	b, err := h.Subscribe(context.Background(), nil)
	require.NoError(t, err)

	h.Publish(models.ChangeEvent{RecordID: "P1", ChangedFields: map[string]any{"memo": "a"}})

	evA := receive(t, a)
	evA.ChangedFields["memo"] = "mutated"
	assert.Equal(t, "a", receive(t, b).ChangedFields["memo"])
}

func TestHub_UnsubscribeOnContextDone(t *testing.T) {
	obs := &countingObserver{}
	h := NewHub(testLogger(), 4, obs)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := h.Subscribe(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Len())

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}
	assert.Equal(t, 0, h.Len())
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	obs := &countingObserver{}
	h := NewHub(testLogger(), 1, obs)

	slow, err := h.Subscribe(context.Background(), nil)
	require.NoError(t, err)

	// Второе событие не помещается в буфер
	h.Publish(models.ChangeEvent{RecordID: "P1", Version: 2})
	h.Publish(models.ChangeEvent{RecordID: "P1", Version: 3})

	ev, ok := <-slow
	require.True(t, ok)
	assert.Equal(t, int64(2), ev.Version)

	_, ok = <-slow
	assert.False(t, ok)
	assert.Equal(t, 1, obs.dropped)
	assert.Equal(t, 2, obs.published)
	assert.Equal(t, 0, obs.subscribers)
}

func TestHub_Close(t *testing.T) {
	h := NewHub(testLogger(), 1, nil)

	ch, err := h.Subscribe(context.Background(), nil)
	require.NoError(t, err)

	h.Close()
	h.Close()

	_, ok := <-ch
	assert.False(t, ok)

	_, err = h.Subscribe(context.Background(), nil)
	assert.ErrorIs(t, err, ErrClosed)

	// Публикация после закрытия игнорируется
	h.Publish(models.ChangeEvent{RecordID: "P1"})
}
