package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/imageship/internal/alttext"
	"github.com/dunamismax/imageship/internal/config"
	"github.com/dunamismax/imageship/internal/optimize"
	"github.com/dunamismax/imageship/internal/provider"
	"github.com/dunamismax/imageship/internal/store"
	"github.com/dunamismax/imageship/internal/telemetry"
	"github.com/dunamismax/imageship/internal/webhook"
	"github.com/dunamismax/imageship/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imageship-worker",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := optimize.Startup(); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer optimize.Shutdown()

	uploader, err := provider.New(cfg, logger)
	if err != nil {
		logger.Fatalf("storage provider setup failed: %v", err)
	}
	if err := uploader.TestConnection(ctx); err != nil {
		logger.Fatalf("storage provider %s unreachable: %v", uploader.Name(), err)
	}
	logger.Printf("storage provider ready name=%s", uploader.Name())

	var altClient *alttext.Client
	if cfg.AltText.APIKey != "" {
		altClient = alttext.NewClient(
			cfg.AltText.APIKey,
			alttext.WithBaseURL(cfg.AltText.BaseURL),
			alttext.WithKeywords(cfg.AltText.Keywords),
			alttext.WithWebhookURL(cfg.AltText.WebhookURL),
		)
		if err := altClient.TestConnection(ctx); err != nil {
			logger.Printf("alt text service check failed, continuing without it: %v", err)
			altClient = nil
		}
	}

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret: cfg.Webhook.SigningSecret,
	})

	jobStore, ledger := openStores(ctx, cfg, logger)

	srv, err := worker.NewServer(
		logger,
		cfg.Queue,
		cfg.Worker,
		uploader,
		optimize.New(logger),
		webhookClient,
		altClient,
		jobStore,
		ledger,
	)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	go func() {
		metricsServer := &http.Server{
			Addr:         cfg.Worker.MetricsAddr,
			Handler:      metricsMux(srv),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)
	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}

func metricsMux(srv *worker.Server) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", srv.MetricsHandler())
	return mux
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
