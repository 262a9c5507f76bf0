package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/iudanet/rollcall/pkg/api"
)

// contextKey тип для ключей контекста
type contextKey string

// ActorIDKey ключ для хранения actor_id в контексте
const ActorIDKey contextKey = "actor_id"

// WithActorID returns a context carrying the authenticated actor
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, ActorIDKey, actorID)
}

// GetActorID извлекает actor_id из контекста запроса
func GetActorID(ctx context.Context) (string, bool) {
	actorID, ok := ctx.Value(ActorIDKey).(string)
	return actorID, ok && actorID != ""
}

// WriteError пишет ErrorResponse в формате JSON
func WriteError(w http.ResponseWriter, logger *slog.Logger, status int, code, message string) {
	writeJSON(w, logger, status, api.ErrorResponse{Error: http.StatusText(status), Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}
