package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/rollcall/internal/models"
)

// Subscriber is the part of the record service the feed needs
type Subscriber interface {
	Subscribe(ctx context.Context, predicate models.Predicate) (<-chan models.ChangeEvent, error)
}

// FeedHandler streams change events over a websocket, one JSON text frame
// per event
type FeedHandler struct {
	logger       *slog.Logger
	subscriber   Subscriber
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	writeTimeout time.Duration
}

// NewFeedHandler creates a feed handler
func NewFeedHandler(logger *slog.Logger, subscriber Subscriber, pingInterval time.Duration) *FeedHandler {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &FeedHandler{
		logger:     logger,
		subscriber: subscriber,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		pingInterval: pingInterval,
		writeTimeout: 10 * time.Second,
	}
}

// Feed обрабатывает GET /api/v1/feed?record=P1&record=P2
// Без параметров record клиент получает события всех записей
func (h *FeedHandler) Feed(w http.ResponseWriter, r *http.Request) {
	predicate := models.AllRecords
	if ids := r.URL.Query()["record"]; len(ids) > 0 {
		predicate = models.RecordIn(ids...)
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader уже ответил клиенту
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := h.subscriber.Subscribe(ctx, predicate)
	if err != nil {
		h.logger.Error("Failed to subscribe to feed", "error", err)
		h.close(conn, websocket.CloseTryAgainLater, "feed unavailable")
		return
	}

	actorID, _ := GetActorID(r.Context())
	h.logger.Info("Feed subscriber connected", "actor_id", actorID, "remote_addr", r.RemoteAddr)

	// Входящие сообщения не ожидаются; чтение нужно, чтобы заметить закрытие
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Feed subscriber disconnected", "actor_id", actorID)
			return

		case ev, ok := <-events:
			if !ok {
				// Подписчик отстал; клиент переподключится и выполнит resync
				h.close(conn, websocket.CloseTryAgainLater, "subscriber fell behind")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteJSON(ToAPIEvent(ev)); err != nil {
				h.logger.Warn("Failed to write feed event", "error", err, "record_id", ev.RecordID)
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *FeedHandler) close(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.writeTimeout))
}
