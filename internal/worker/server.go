package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/logomark/internal/config"
	"github.com/dunamismax/logomark/internal/domain"
	"github.com/dunamismax/logomark/internal/metrics"
	"github.com/dunamismax/logomark/internal/pipeline"
	"github.com/dunamismax/logomark/internal/queue"
	"github.com/dunamismax/logomark/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	rasterizer    pipeline.Rasterizer
	processor     *pipeline.Processor
	runStore      store.RunStore
	webhookClient webhookSender
	metrics       *metrics.Metrics
	tracer        trace.Tracer
}

type webhookSender interface {
	NotifyRun(ctx context.Context, endpoint string, run domain.Run, outputs any) error
}

type Deps struct {
	Rasterizer pipeline.Rasterizer
	Processor  *pipeline.Processor
	RunStore   store.RunStore
	Webhook    webhookSender
	Metrics    *metrics.Metrics
}

func NewServer(logger *log.Logger, queueCfg config.QueueConfig, workerCfg config.WorkerConfig, deps Deps) (*Server, error) {
	if deps.Rasterizer == nil {
		return nil, fmt.Errorf("rasterizer is required")
	}
	if deps.Processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if deps.RunStore == nil {
		deps.RunStore = store.NewMemoryRunStore()
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: max(1, workerCfg.Concurrency),
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				ShutdownTimeout: workerCfg.ShutdownTimeout,
				LogLevel:        asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		rasterizer:    deps.Rasterizer,
		processor:     deps.Processor,
		runStore:      deps.RunStore,
		webhookClient: deps.Webhook,
		metrics:       deps.Metrics,
		tracer:        otel.Tracer("logomark/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeWatermarkFolder, s.handleWatermarkFolder)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleWatermarkFolder(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	status := domain.RunStatusFailed

	payload, err := queue.ParseWatermarkFolderPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.watermark_folder", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("run.id", payload.RunID),
		attribute.String("run.input_dir", payload.Watermark.InputDir),
		attribute.String("run.logo", payload.Watermark.LogoPath),
	)
	defer span.End()
	defer func() {
		s.metrics.ObserveRun(status, time.Since(startedAt))
	}()

	cfg := payload.Watermark.Normalize()
	if err := cfg.Validate(); err != nil {
		s.finish(ctx, payload, domain.RunStatusFailed, pipeline.Result{}, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	s.logger.Printf("Working... run_id=%s input_dir=%s output_dir=%s", payload.RunID, cfg.InputDir, cfg.OutputDir)
	s.ensureRun(ctx, payload, cfg)

	rasterizer, err := s.rasterizerFor(payload.Rasterizer)
	if err != nil {
		s.finish(ctx, payload, domain.RunStatusFailed, pipeline.Result{}, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "rasterizer unavailable")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	logo, err := pipeline.RasterizeLogo(ctx, rasterizer, cfg.LogoPath, cfg.LogoRasterWidth)
	if err != nil {
		s.finish(ctx, payload, domain.RunStatusFailed, pipeline.Result{}, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "rasterize logo")
		return withoutRetry(fmt.Errorf("rasterize logo: %w", err))
	}

	result, err := s.processor.ProcessFolder(ctx, pipeline.Request{RunID: payload.RunID, Config: cfg}, logo)
	if err != nil {
		s.finish(ctx, payload, domain.RunStatusFailed, result, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "process folder")
		return withoutRetry(fmt.Errorf("process folder: %w", err))
	}

	status = domain.RunStatusSucceeded
	s.logger.Printf("Processed run_id=%s outputs=%d skipped=%d", payload.RunID, len(result.Outputs), result.Skipped)
	s.finish(ctx, payload, status, result, nil)
	span.SetStatus(codes.Ok, "processed")
	return nil
}

// withoutRetry marks err as final. A batch is a single pass; rerunning it
// would rewrite outputs and resend the failure webhook. Only an interrupted
// run (worker shutdown or task timeout) is left to asynq to retry.
func withoutRetry(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

func (s *Server) rasterizerFor(backend string) (pipeline.Rasterizer, error) {
	backend = strings.TrimSpace(backend)
	if backend == "" || strings.EqualFold(backend, s.rasterizer.Name()) {
		return s.rasterizer, nil
	}
	return pipeline.Startup(backend)
}

// ensureRun registers runs enqueued by another process whose ledger this
// worker does not share, then marks the run as running.
func (s *Server) ensureRun(ctx context.Context, payload queue.WatermarkFolderPayload, cfg domain.WatermarkConfig) {
	_, ok, err := s.runStore.Get(ctx, payload.RunID)
	if err != nil {
		s.logger.Printf("run lookup failed run_id=%s err=%v", payload.RunID, err)
		return
	}
	if !ok {
		now := time.Now().UTC()
		if err := s.runStore.Create(ctx, domain.Run{
			ID:        payload.RunID,
			Status:    domain.RunStatusQueued,
			InputDir:  cfg.InputDir,
			OutputDir: cfg.OutputDir,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			s.logger.Printf("run create failed run_id=%s err=%v", payload.RunID, err)
			return
		}
	}
	if _, err := s.runStore.UpdateStatus(ctx, payload.RunID, domain.RunStatusRunning); err != nil {
		s.logger.Printf("run status update failed run_id=%s err=%v", payload.RunID, err)
	}
}

func (s *Server) finish(ctx context.Context, payload queue.WatermarkFolderPayload, status string, result pipeline.Result, runErr error) {
	summary := result.Summary()
	if runErr != nil {
		summary.Error = runErr.Error()
	}

	run, err := s.runStore.Finish(ctx, payload.RunID, status, summary)
	if err != nil {
		if !errors.Is(err, store.ErrRunNotFound) {
			s.logger.Printf("run finish failed run_id=%s err=%v", payload.RunID, err)
		}
		run = domain.Run{
			ID:        payload.RunID,
			Status:    status,
			InputDir:  payload.Watermark.InputDir,
			OutputDir: payload.Watermark.OutputDir,
			Processed: summary.Processed,
			Skipped:   summary.Skipped,
			Failed:    summary.Failed,
			Error:     summary.Error,
			UpdatedAt: time.Now().UTC(),
		}
	}

	if payload.WebhookURL == "" || s.webhookClient == nil {
		return
	}
	if err := s.webhookClient.NotifyRun(ctx, payload.WebhookURL, run, result.Outputs); err != nil {
		s.logger.Printf("webhook delivery failed run_id=%s err=%v", payload.RunID, err)
	}
}
