// Command server starts the ScholarSift compatibility scoring HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scholarsift/scholarsift/internal/adapter/ai/real"
	"github.com/scholarsift/scholarsift/internal/adapter/ai/stub"
	rediscache "github.com/scholarsift/scholarsift/internal/adapter/cache/redis"
	httpserver "github.com/scholarsift/scholarsift/internal/adapter/httpserver"
	"github.com/scholarsift/scholarsift/internal/adapter/observability"
	"github.com/scholarsift/scholarsift/internal/app"
	"github.com/scholarsift/scholarsift/internal/config"
	"github.com/scholarsift/scholarsift/internal/domain"
	"github.com/scholarsift/scholarsift/internal/service/throttle"
	"github.com/scholarsift/scholarsift/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	// Score cache is optional; the service works without Redis.
	var cache domain.ScoreCache
	var cacheCheck func(ctx context.Context) error
	if cfg.RedisURL != "" {
		rc, err := rediscache.New(ctx, cfg.RedisURL, cfg.ScoreCacheTTL)
		if err != nil {
			slog.Error("redis connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = rc.Close() }()
		cache = rc
		cacheCheck = rc.Ping
		slog.Info("score cache enabled", slog.Duration("ttl", cfg.ScoreCacheTTL))
	} else {
		slog.Info("score cache disabled, REDIS_URL not set")
	}

	// Without an API key fall back to the deterministic stub so local
	// development works offline.
	var gen domain.TextGenerator
	if cfg.LLMAPIKey == "" {
		gen = stub.New()
	} else {
		gen = real.New(cfg)
		slog.Info("text generator initialized",
			slog.String("model", cfg.LLMModel),
			slog.String("base_url", cfg.LLMBaseURL))
	}

	throttler := throttle.New(throttle.Options{
		MaxConcurrent: cfg.ThrottleMaxConcurrent,
		QueueTimeout:  cfg.ThrottleQueueTimeout,
		Pacing:        cfg.ThrottlePacing,
		MaxRetries:    cfg.ThrottleMaxRetries,
		RetryBase:     cfg.ThrottleRetryBase,
		RetryCap:      cfg.ThrottleRetryCap,
	})

	scoreSvc := usecase.NewScoreService(gen, throttler, cache, cfg.LLMMaxTokens)
	srv := httpserver.NewServer(cfg, scoreSvc, cacheCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
