package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/iudanet/rollcall/internal/server/handlers"
	"github.com/iudanet/rollcall/internal/server/jwt"
	"github.com/iudanet/rollcall/pkg/api"
)

// TokenValidator verifies an actor token
type TokenValidator interface {
	Validate(token string) (*jwt.Claims, error)
}

// AuthMiddleware создает middleware для проверки JWT токена
// Токен берется из заголовка Authorization, а для websocket - из параметра access_token
func AuthMiddleware(logger *slog.Logger, validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				logger.Warn("Missing or malformed access token", "path", r.URL.Path)
				handlers.WriteError(w, logger, http.StatusUnauthorized, api.CodeUnauthorized, "missing token")
				return
			}

			claims, err := validator.Validate(tokenString)
			if err != nil {
				logger.Warn("Invalid access token", "error", err)
				handlers.WriteError(w, logger, http.StatusUnauthorized, api.CodeUnauthorized, "invalid token")
				return
			}

			logger.Debug("Actor authenticated", "actor_id", claims.ActorID)

			next.ServeHTTP(w, r.WithContext(handlers.WithActorID(r.Context(), claims.ActorID)))
		})
	}
}

// ActorHeaderMiddleware trusts the X-Actor-ID header. It is used when the
// server runs without a token secret (local development).
func ActorHeaderMiddleware(defaultActor string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := r.Header.Get("X-Actor-ID")
			if actor == "" {
				actor = defaultActor
			}
			next.ServeHTTP(w, r.WithContext(handlers.WithActorID(r.Context(), actor)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		// Браузерный websocket не умеет передавать заголовки
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, true
		}
		return "", false
	}

	// Ожидаем формат: "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
