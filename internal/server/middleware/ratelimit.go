package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/iudanet/rollcall/internal/clock"
	"github.com/iudanet/rollcall/internal/server/handlers"
	"github.com/iudanet/rollcall/pkg/api"
)

// WriteLimiter ограничивает число записей одного актора за окно времени.
// Сессии сами объединяют правки, поэтому лимит защищает только от
// неисправных или чужих клиентов.
type WriteLimiter struct {
	clock   clock.Clock
	buckets map[string]*bucket
	logger  *slog.Logger
	window  time.Duration
	rate    int
	calls   int
	mu      sync.Mutex
}

// bucket представляет окно для конкретного актора
type bucket struct {
	windowStart time.Time
	tokens      int
}

// NewWriteLimiter создает limiter: rate записей на window
func NewWriteLimiter(rate int, window time.Duration, clk clock.Clock, logger *slog.Logger) *WriteLimiter {
	return &WriteLimiter{
		clock:   clk,
		buckets: make(map[string]*bucket),
		logger:  logger,
		window:  window,
		rate:    rate,
	}
}

// Allow проверяет, разрешена ли запись для данного ключа
func (l *WriteLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()

	l.calls++
	if l.calls%1024 == 0 {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= l.window {
		b = &bucket{windowStart: now, tokens: l.rate}
		l.buckets[key] = b
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// sweep удаляет окна, которые давно закончились
func (l *WriteLimiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.windowStart) > l.window*2 {
			delete(l.buckets, key)
		}
	}
}

// Len returns the number of tracked keys
func (l *WriteLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Middleware ограничивает только изменяющие методы; чтение и лента не лимитируются
func (l *WriteLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		key, ok := handlers.GetActorID(r.Context())
		if !ok {
			key = getClientIP(r)
		}

		if !l.Allow(key) {
			l.logger.Warn("Write rate limit exceeded",
				"key", key,
				"method", r.Method,
				"path", r.URL.Path,
			)
			w.Header().Set("Retry-After", "1")
			handlers.WriteError(w, l.logger, http.StatusTooManyRequests, api.CodeRateLimited, "too many writes, retry later")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getClientIP извлекает IP адрес клиента из запроса
// Проверяет заголовки X-Forwarded-For и X-Real-IP для прокси
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Берем первый IP из списка (реальный клиент)
		for idx := 0; idx < len(xff); idx++ {
			if xff[idx] == ',' {
				return xff[:idx]
			}
		}
		return xff
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return r.RemoteAddr
}
