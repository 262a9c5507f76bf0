package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iudanet/rollcall/internal/clock"
	"github.com/iudanet/rollcall/internal/config"
	"github.com/iudanet/rollcall/internal/server/feed"
	"github.com/iudanet/rollcall/internal/server/handlers"
	"github.com/iudanet/rollcall/internal/server/jwt"
	"github.com/iudanet/rollcall/internal/server/metrics"
	"github.com/iudanet/rollcall/internal/server/middleware"
	"github.com/iudanet/rollcall/internal/server/service"
	"github.com/iudanet/rollcall/internal/server/storage"
	"github.com/iudanet/rollcall/internal/server/storage/memory"
	"github.com/iudanet/rollcall/internal/server/storage/sqlite"
	"github.com/iudanet/rollcall/internal/validation"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the change feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func newLogger(level string) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})), nil
}

func openStorage(ctx context.Context, cfg *config.Server) (storage.Storage, handlers.Pinger, error) {
	if cfg.Storage == config.StorageMemory {
		return memory.New(), nil, nil
	}

	st, err := sqlite.New(ctx, cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return st, st, nil
}

// serve runs the server until ctx is cancelled, then shuts it down gracefully
func serve(ctx context.Context, cfg *config.Server, logger *slog.Logger) error {
	logger.Info("Rollcall server starting",
		"version", Version,
		"addr", cfg.Addr,
		"storage", cfg.Storage,
	)

	schema := validation.ParticipantSchema()
	if cfg.SchemaPath != "" {
		var err error
		if schema, err = validation.LoadSchema(cfg.SchemaPath); err != nil {
			return err
		}
	}

	st, pinger, err := openStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Failed to close storage", "error", err)
		}
	}()

	m := metrics.New()
	hub := feed.NewHub(logger, cfg.FeedBuffer, m)
	clk := clock.New()
	svc := service.NewService(st, hub, clk, schema, m, logger)

	// С секретом актор берется из токена, без него из заголовка X-Actor-ID
	var auth func(http.Handler) http.Handler
	if cfg.JWTSecret != "" {
		auth = middleware.AuthMiddleware(logger, jwt.NewService(cfg.JWTSecret, cfg.TokenTTL))
	} else {
		logger.Warn("No jwt secret configured, trusting the X-Actor-ID header")
		auth = middleware.ActorHeaderMiddleware("")
	}
	if cfg.RateLimit > 0 {
		limiter := middleware.NewWriteLimiter(cfg.RateLimit, cfg.RateWindow, clk, logger)
		actor := auth
		auth = func(next http.Handler) http.Handler {
			return actor(limiter.Middleware(next))
		}
	}

	mux := http.NewServeMux()
	router := &handlers.Router{
		Records: handlers.NewRecordsHandler(logger, svc),
		Feed:    handlers.NewFeedHandler(logger, svc, cfg.PingInterval),
		Health:  handlers.NewHealthHandler(logger, pinger, Version),
		Metrics: m.Handler(),
	}
	router.Register(mux, auth)

	var handler http.Handler = mux
	handler = middleware.LoggingWithSkip(logger, m, []string{"/api/v1/health", "/metrics"})(handler)
	handler = middleware.RecoveryMiddleware(logger)(handler)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")

		// Лента держит соединения открытыми, закрываем подписки до Shutdown
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("Server stopped")
	return nil
}
