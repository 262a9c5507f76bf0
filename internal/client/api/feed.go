package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/rollcall/internal/models"
	"github.com/iudanet/rollcall/pkg/api"
)

const feedBuffer = 64

// Subscribe opens the change feed for every record and filters events with
// predicate locally. The channel is closed when ctx is done or the
// connection drops; the caller reconnects and resyncs.
func (c *Client) Subscribe(ctx context.Context, predicate models.Predicate) (<-chan models.ChangeEvent, error) {
	return c.subscribe(ctx, nil, predicate)
}

// SubscribeRecords opens the change feed filtered by the server to ids.
func (c *Client) SubscribeRecords(ctx context.Context, ids ...string) (<-chan models.ChangeEvent, error) {
	return c.subscribe(ctx, ids, models.AllRecords)
}

func (c *Client) subscribe(ctx context.Context, ids []string, predicate models.Predicate) (<-chan models.ChangeEvent, error) {
	if predicate == nil {
		predicate = models.AllRecords
	}

	feedURL, err := c.feedURL(ids)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	c.authorize(header)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, feedURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to open change feed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to open change feed: %w", err)
	}

	events := make(chan models.ChangeEvent, feedBuffer)
	done := make(chan struct{})

	// Закрываем соединение при отмене контекста, чтобы разблокировать чтение
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(events)
		defer close(done)
		defer func() {
			_ = conn.Close()
		}()

		for {
			var ev api.ChangeEvent
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("Change feed closed", "error", err)
				}
				return
			}
			if !predicate(ev.RecordID) {
				continue
			}
			select {
			case events <- fromAPIEvent(ev):
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

func (c *Client) feedURL(ids []string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server address: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/feed"

	q := url.Values{}
	for _, id := range ids {
		q.Add("record", id)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
