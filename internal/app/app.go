package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dunamismax/logomark/internal/config"
	"github.com/dunamismax/logomark/internal/domain"
	"github.com/dunamismax/logomark/internal/metrics"
	"github.com/dunamismax/logomark/internal/pipeline"
	"github.com/dunamismax/logomark/internal/storage"
	"github.com/dunamismax/logomark/internal/store"
)

// OpenRunStore returns the Postgres ledger when a DSN is configured and an
// in-memory one otherwise. The returned close func is never nil.
func OpenRunStore(ctx context.Context, cfg config.DatabaseConfig) (store.RunStore, func() error, error) {
	if cfg.DSN == "" {
		return store.NewMemoryRunStore(), func() error { return nil }, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pg, err := store.NewPostgresRunStore(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open run store: %w", err)
	}
	return pg, pg.Close, nil
}

// Emitters builds the optional bucket mirror. With no bucket configured it
// returns nothing and outputs only land in the output directory.
func Emitters(ctx context.Context, cfg config.StorageConfig, logger *log.Logger) ([]pipeline.Emitter, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	client, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Endpoint,
		Access:   cfg.AccessKey,
		Secret:   cfg.SecretKey,
		Bucket:   cfg.Bucket,
		Region:   cfg.Region,
		UseSSL:   cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	logger.Printf("mirroring outputs to bucket=%s prefix=%s", client.Bucket(), cfg.Prefix)
	return []pipeline.Emitter{pipeline.ObjectStoreEmitter{Storage: client, OutputPrefix: cfg.Prefix}}, nil
}

type notifier interface {
	NotifyRun(ctx context.Context, endpoint string, run domain.Run, outputs any) error
}

// Batch runs one folder synchronously and records it in the ledger.
type Batch struct {
	Logger     *log.Logger
	Processor  *pipeline.Processor
	Runs       store.RunStore
	Metrics    *metrics.Metrics
	Webhook    notifier
	WebhookURL string
}

// Run expects r to come from pipeline.Startup, so a missing rasterizer has
// already aborted the batch before this point.
func (b *Batch) Run(ctx context.Context, runID string, r pipeline.Rasterizer, cfg domain.WatermarkConfig) (pipeline.Result, error) {
	startedAt := time.Now()
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return pipeline.Result{}, err
	}

	now := startedAt.UTC()
	if err := b.Runs.Create(ctx, domain.Run{
		ID:        runID,
		Status:    domain.RunStatusRunning,
		InputDir:  cfg.InputDir,
		OutputDir: cfg.OutputDir,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return pipeline.Result{}, fmt.Errorf("record run: %w", err)
	}

	result, err := b.process(ctx, runID, r, cfg)

	status := domain.RunStatusSucceeded
	summary := result.Summary()
	if err != nil {
		status = domain.RunStatusFailed
		summary.Error = err.Error()
	}
	b.Metrics.ObserveRun(status, time.Since(startedAt))

	run, finishErr := b.Runs.Finish(ctx, runID, status, summary)
	if finishErr != nil {
		b.Logger.Printf("run finish failed run_id=%s err=%v", runID, finishErr)
	} else if b.Webhook != nil && b.WebhookURL != "" {
		if hookErr := b.Webhook.NotifyRun(ctx, b.WebhookURL, run, result.Outputs); hookErr != nil {
			b.Logger.Printf("webhook delivery failed run_id=%s err=%v", runID, hookErr)
		}
	}

	return result, err
}

func (b *Batch) process(ctx context.Context, runID string, r pipeline.Rasterizer, cfg domain.WatermarkConfig) (pipeline.Result, error) {
	logo, err := pipeline.RasterizeLogo(ctx, r, cfg.LogoPath, cfg.LogoRasterWidth)
	if err != nil {
		return pipeline.Result{}, err
	}
	lb := logo.Bounds()
	b.Logger.Printf("logo ready path=%s size=%dx%d rasterizer=%s", cfg.LogoPath, lb.Dx(), lb.Dy(), r.Name())

	return b.Processor.ProcessFolder(ctx, pipeline.Request{RunID: runID, Config: cfg}, logo)
}
