package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/imageship/internal/api"
	"github.com/dunamismax/imageship/internal/config"
	"github.com/dunamismax/imageship/internal/provider"
	"github.com/dunamismax/imageship/internal/queue"
	"github.com/dunamismax/imageship/internal/ratelimit"
	"github.com/dunamismax/imageship/internal/store"
	"github.com/dunamismax/imageship/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imageship-api",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	jobStore, ledger := openStores(ctx, cfg, logger)

	opts := []api.Option{
		api.WithTracer(otel.Tracer("imageship/api")),
	}
	if limiter := buildRateLimiter(cfg, logger); limiter != nil {
		opts = append(opts, api.WithRateLimiter(limiter, "X-User-ID"))
	}
	if uploader, err := provider.New(cfg, logger); err != nil {
		logger.Printf("delete and stats routes disabled: %v", err)
	} else {
		opts = append(opts, api.WithProvider(uploader))
	}

	app := api.NewServer(logger, queueClient, jobStore, ledger, cfg.Optimize, opts...)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func openStores(ctx context.Context, cfg config.Config, logger *log.Logger) (store.JobStore, store.UploadLedger) {
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres connect failed: %v", err)
		}
		logger.Printf("using postgres store")
		return pg, pg
	}

	ledger, err := store.OpenFileLedger(cfg.Database.LedgerPath)
	if err != nil {
		logger.Fatalf("open upload ledger failed: %v", err)
	}
	logger.Printf("using in-memory job store with file ledger path=%s", cfg.Database.LedgerPath)
	return store.NewMemoryStore(), ledger
}

func buildRateLimiter(cfg config.Config, logger *log.Logger) api.RateLimiter {
	if cfg.API.RateLimit <= 0 {
		return nil
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.API.RateLimit, cfg.API.RateLimitWindow, "")
	if err != nil {
		logger.Printf("rate limiter disabled: %v", err)
		return nil
	}
	return limiter
}
