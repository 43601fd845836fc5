package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dunamismax/logomark/internal/app"
	"github.com/dunamismax/logomark/internal/config"
	"github.com/dunamismax/logomark/internal/id"
	"github.com/dunamismax/logomark/internal/metrics"
	"github.com/dunamismax/logomark/internal/pipeline"
	"github.com/dunamismax/logomark/internal/queue"
	"github.com/dunamismax/logomark/internal/telemetry"
	"github.com/dunamismax/logomark/internal/webhook"
	"go.opentelemetry.io/otel/attribute"
)

// go run ./cmd/watermark -in posts/ -out posts_with_logo/ -logo logo.svg
// go run ./cmd/watermark -shape rounded_rect -radius 20 -naming preserve
// go run ./cmd/watermark -enqueue

func main() {
	cfg := config.Load()
	wm := &cfg.Watermark

	flag.StringVar(&wm.InputDir, "in", wm.InputDir, "Input folder with .jpg/.jpeg/.png images")
	flag.StringVar(&wm.OutputDir, "out", wm.OutputDir, "Output folder (created if missing)")
	flag.StringVar(&wm.LogoPath, "logo", wm.LogoPath, "Logo file (svg, png or jpg)")
	flag.Float64Var(&wm.SizeRatio, "ratio", wm.SizeRatio, "Logo width as a fraction of image width")
	flag.Float64Var(&wm.Opacity, "opacity", wm.Opacity, "Watermark opacity (0.0 to 1.0)")
	flag.IntVar(&wm.MarginPx, "margin", wm.MarginPx, "Offset from the bottom-right edges in pixels")
	flag.IntVar(&wm.CornerRadiusPx, "radius", wm.CornerRadiusPx, "Corner radius for -shape rounded_rect")
	flag.StringVar(&wm.MaskShape, "shape", wm.MaskShape, "Mask shape: circle or rounded_rect")
	flag.StringVar(&wm.Naming, "naming", wm.Naming, "Output naming: png (force .png) or preserve")
	flag.IntVar(&wm.JPEGQuality, "quality", wm.JPEGQuality, "JPEG quality when -naming preserve writes .jpg")
	flag.IntVar(&wm.LogoRasterWidth, "logo-width", wm.LogoRasterWidth, "Rasterize the logo at this width (0 = intrinsic size)")
	flag.BoolVar(&wm.KeepLogoAlpha, "keep-logo-alpha", wm.KeepLogoAlpha, "Combine the mask with the logo's own transparency")
	flag.BoolVar(&wm.ContinueOnError, "keep-going", wm.ContinueOnError, "Skip and report files that fail instead of aborting")
	flag.StringVar(&cfg.Rasterizer, "rasterizer", cfg.Rasterizer, "SVG rasterizer: oksvg or vips")
	enqueue := flag.Bool("enqueue", false, "Submit the batch to the worker queue instead of running it here")
	flag.Parse()

	logger := log.New(os.Stdout, "[watermark] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	*wm = wm.Normalize()
	if err := wm.Validate(); err != nil {
		logger.Fatalf("%v", err)
	}

	runID := id.NewRun()
	if *enqueue {
		if err := submit(ctx, logger, cfg, runID); err != nil {
			logger.Fatalf("enqueue failed: %v", err)
		}
		return
	}

	rasterizer, err := pipeline.Startup(cfg.Rasterizer)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer pipeline.Shutdown()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "logomark-cli",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
		Attributes:   []attribute.KeyValue{attribute.String("logomark.rasterizer", rasterizer.Name())},
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	runs, closeRuns, err := app.OpenRunStore(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	emitters, err := app.Emitters(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("object storage unavailable: %v", err)
	}

	m := metrics.New()
	batch := &app.Batch{
		Logger:    logger,
		Processor: pipeline.NewProcessor(logger, m, emitters...),
		Runs:      runs,
		Metrics:   m,
		Webhook: webhook.NewClient(webhook.Config{
			SigningSecret: cfg.Webhook.SigningSecret,
			MaxAttempts:   cfg.Webhook.MaxAttempts,
		}),
		WebhookURL: cfg.Webhook.URL,
	}

	_, runErr := batch.Run(ctx, runID, rasterizer, *wm)

	if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		logger.Printf("metrics textfile write failed path=%s err=%v", cfg.Metrics.Textfile, err)
	}
	if err := closeRuns(); err != nil {
		logger.Printf("run store close error: %v", err)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		logger.Printf("tracing shutdown error: %v", err)
	}

	if runErr != nil {
		logger.Printf("run_id=%s failed: %v", runID, runErr)
		pipeline.Shutdown()
		os.Exit(1)
	}
}

// submit hands the batch to the worker. Paths are made absolute because the
// worker resolves them from its own working directory.
func submit(ctx context.Context, logger *log.Logger, cfg config.Config, runID string) error {
	wm := cfg.Watermark
	for _, p := range []*string{&wm.InputDir, &wm.OutputDir, &wm.LogoPath} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", *p, err)
		}
		*p = abs
	}

	client := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := client.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	info, err := client.EnqueueWatermarkFolder(ctx, queue.WatermarkFolderPayload{
		RunID:       runID,
		WebhookURL:  cfg.Webhook.URL,
		Rasterizer:  cfg.Rasterizer,
		Watermark:   wm,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	logger.Printf("enqueued run_id=%s task_id=%s queue=%s", runID, info.ID, info.Queue)
	return nil
}
