package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/logomark/internal/app"
	"github.com/dunamismax/logomark/internal/config"
	"github.com/dunamismax/logomark/internal/metrics"
	"github.com/dunamismax/logomark/internal/pipeline"
	"github.com/dunamismax/logomark/internal/telemetry"
	"github.com/dunamismax/logomark/internal/webhook"
	"github.com/dunamismax/logomark/internal/worker"
	"go.opentelemetry.io/otel/attribute"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	rasterizer, err := pipeline.Startup(cfg.Rasterizer)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer pipeline.Shutdown()

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "logomark-worker",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
		Attributes:   []attribute.KeyValue{attribute.String("logomark.rasterizer", rasterizer.Name())},
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	runs, closeRuns, err := app.OpenRunStore(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer func() {
		if err := closeRuns(); err != nil {
			logger.Printf("run store close error: %v", err)
		}
	}()

	emitters, err := app.Emitters(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("object storage unavailable: %v", err)
	}

	m := metrics.New()
	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, worker.Deps{
		Rasterizer: rasterizer,
		Processor:  pipeline.NewProcessor(logger, m, emitters...),
		RunStore:   runs,
		Webhook: webhook.NewClient(webhook.Config{
			SigningSecret: cfg.Webhook.SigningSecret,
			MaxAttempts:   cfg.Webhook.MaxAttempts,
		}),
		Metrics: m,
	})
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	if cfg.Metrics.Addr != "" {
		metricsServer := &http.Server{
			Addr:         cfg.Metrics.Addr,
			Handler:      srv.MetricsHandler(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.Printf("metrics listening on %s", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics server failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Printf("metrics shutdown failed: %v", err)
			}
		}()
	}

	logger.Printf(
		"starting worker concurrency=%d queue=%s redis=%s rasterizer=%s",
		cfg.Worker.Concurrency,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		rasterizer.Name(),
	)

	// asynq handles SIGINT/SIGTERM itself and returns once in-flight runs drain.
	if err := srv.Run(); err != nil {
		logger.Printf("worker failed: %v", err)
	}
}
