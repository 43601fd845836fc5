package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/logomark/internal/domain"
	"github.com/dunamismax/logomark/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrOutputCollision means two inputs map to the same output name, e.g.
// a.jpg and a.png under png naming.
var ErrOutputCollision = errors.New("output name collision")

type Request struct {
	RunID  string
	Config domain.WatermarkConfig
}

type Output struct {
	Source string `json:"source"`
	Name   string `json:"name"`
	Format string `json:"format"`
	Path   string `json:"path"`
	Bytes  int    `json:"bytes"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// FileError ties a per-file failure to the input it came from.
type FileError struct {
	Name string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("process %s: %v", e.Name, e.Err)
}

func (e FileError) Unwrap() error {
	return e.Err
}

type Result struct {
	Outputs []Output
	Skipped int
	Failed  []FileError
}

func (r Result) Summary() domain.RunSummary {
	return domain.RunSummary{
		Processed: len(r.Outputs),
		Skipped:   r.Skipped,
		Failed:    len(r.Failed),
	}
}

type Fetcher interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, name string, data []byte, format string, width, height int) (Output, error)
}

type Processor struct {
	logger   *log.Logger
	fetcher  Fetcher
	emitters []Emitter
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// NewProcessor writes to the request's output directory and then to every
// extra emitter, in order.
func NewProcessor(logger *log.Logger, m *metrics.Metrics, extra ...Emitter) *Processor {
	emitters := append([]Emitter{LocalDirEmitter{}}, extra...)
	return &Processor{
		logger:   logger,
		fetcher:  LocalFileFetcher{},
		emitters: emitters,
		metrics:  m,
		tracer:   otel.Tracer("logomark/pipeline"),
	}
}

// ProcessFolder watermarks every .jpg, .jpeg and .png file in the input
// directory with logo. Other entries are skipped silently. Inputs whose
// output names clash (a.jpg and a.png under png naming) fail with
// ErrOutputCollision rather than overwrite each other. By default the first
// failure aborts the batch, and a clash aborts it before anything is
// written; with ContinueOnError failures are collected and returned joined
// once every file has been tried.
func (p *Processor) ProcessFolder(ctx context.Context, req Request, logo *image.NRGBA) (Result, error) {
	cfg := req.Config.Normalize()
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if logo == nil {
		return Result{}, errors.New("logo is required")
	}
	req.Config = cfg

	ctx, span := p.tracer.Start(ctx, "pipeline.process_folder")
	span.SetAttributes(
		attribute.String("run.id", req.RunID),
		attribute.String("run.input_dir", cfg.InputDir),
		attribute.String("run.output_dir", cfg.OutputDir),
		attribute.String("run.mask_shape", cfg.MaskShape),
	)
	defer span.End()

	names, skipped, err := listImages(cfg.InputDir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list input")
		return Result{}, err
	}

	collisions := outputCollisions(names, cfg.Naming)
	if len(collisions) > 0 && !cfg.ContinueOnError {
		first := collisionError(names, collisions)
		span.RecordError(first)
		span.SetStatus(codes.Error, "output name collision")
		return Result{}, first
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create output dir")
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}

	out := Result{Outputs: make([]Output, 0, len(names)), Skipped: skipped}
	for i := 0; i < skipped; i++ {
		p.metrics.ObserveFile(metrics.OutcomeSkipped, 0, 0, 0)
	}

	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			p.logger.Printf(
				"Interrupted before %s processed=%d skipped=%d failed=%d err=%v",
				name, len(out.Outputs), out.Skipped, len(out.Failed), err,
			)
			recordCounts(span, out)
			span.RecordError(err)
			span.SetStatus(codes.Error, "interrupted")
			return out, err
		}

		if earlier, ok := collisions[name]; ok {
			fileErr := FileError{Name: name, Err: fmt.Errorf("%w: %s already written by %s", ErrOutputCollision, OutputName(name, cfg.Naming), earlier)}
			p.metrics.ObserveFile(metrics.OutcomeFailed, 0, 0, 0)
			p.logger.Printf("skipping file=%s err=%v", name, fileErr.Err)
			out.Failed = append(out.Failed, fileErr)
			errs = append(errs, fileErr)
			continue
		}

		p.logger.Printf("Processing %s...", name)
		startedAt := time.Now()

		written, pixels, err := p.processFile(ctx, req, logo, name)
		if err != nil {
			p.metrics.ObserveFile(metrics.OutcomeFailed, time.Since(startedAt), 0, 0)
			fileErr := FileError{Name: name, Err: err}
			if !cfg.ContinueOnError {
				recordCounts(span, out)
				span.RecordError(fileErr)
				span.SetStatus(codes.Error, "file failed")
				return out, fileErr
			}
			p.logger.Printf("skipping file=%s err=%v", name, err)
			out.Failed = append(out.Failed, fileErr)
			errs = append(errs, fileErr)
			continue
		}

		var total int
		for _, o := range written {
			total += o.Bytes
		}
		p.metrics.ObserveFile(metrics.OutcomeSucceeded, time.Since(startedAt), pixels, total)
		out.Outputs = append(out.Outputs, written[0])
	}

	p.logger.Printf(
		"All images have been processed and saved in %s processed=%d skipped=%d failed=%d",
		cfg.OutputDir, len(out.Outputs), out.Skipped, len(out.Failed),
	)

	recordCounts(span, out)
	if len(errs) > 0 {
		span.SetStatus(codes.Error, "some files failed")
		return out, errors.Join(errs...)
	}
	span.SetStatus(codes.Ok, "processed")
	return out, nil
}

// processFile returns one Output per emitter, local directory first.
func (p *Processor) processFile(ctx context.Context, req Request, logo *image.NRGBA, name string) ([]Output, int, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.process_file")
	span.SetAttributes(attribute.String("file.name", name))
	defer span.End()

	cfg := req.Config
	data, err := p.fetcher.Fetch(ctx, filepath.Join(cfg.InputDir, name))
	if err != nil {
		span.RecordError(err)
		return nil, 0, err
	}

	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("decode: %w", err)
	}

	marked, err := ApplyWatermark(src, logo, cfg)
	if err != nil {
		span.RecordError(err)
		return nil, 0, err
	}

	format := OutputFormat(name, cfg.Naming)
	encoded, err := encodeImage(marked, format, cfg.JPEGQuality)
	if err != nil {
		span.RecordError(err)
		return nil, 0, err
	}

	b := marked.Bounds()
	outName := OutputName(name, cfg.Naming)
	outputs := make([]Output, 0, len(p.emitters))
	for _, e := range p.emitters {
		o, err := e.Emit(ctx, req, outName, encoded, formatName(format), b.Dx(), b.Dy())
		if err != nil {
			span.RecordError(err)
			return nil, 0, fmt.Errorf("emit: %w", err)
		}
		o.Source = name
		outputs = append(outputs, o)
	}

	span.SetAttributes(
		attribute.Int("image.width", b.Dx()),
		attribute.Int("image.height", b.Dy()),
		attribute.Int("output.bytes", len(encoded)),
	)
	return outputs, b.Dx() * b.Dy(), nil
}

// listImages returns qualifying files in lexical order plus the
// number of entries that were passed over.
func listImages(dir string) ([]string, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("read input dir %s: %w", dir, err)
	}

	var (
		names   []string
		skipped int
	)
	for _, entry := range entries {
		if entry.IsDir() || !isImageFile(entry.Name()) {
			skipped++
			continue
		}
		if entry.Type()&fs.ModeSymlink != 0 {
			// Follow links; ones that dangle or point at directories are
			// not images.
			info, err := os.Stat(filepath.Join(dir, entry.Name()))
			if err != nil || info.IsDir() {
				skipped++
				continue
			}
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, skipped, nil
}

// outputCollisions maps each input whose output name was already claimed by
// an earlier input (in processing order) to that earlier input.
func outputCollisions(names []string, naming string) map[string]string {
	claimed := make(map[string]string, len(names))
	collisions := map[string]string{}
	for _, name := range names {
		out := OutputName(name, naming)
		if earlier, ok := claimed[out]; ok {
			collisions[name] = earlier
			continue
		}
		claimed[out] = name
	}
	return collisions
}

func collisionError(names []string, collisions map[string]string) FileError {
	for _, name := range names {
		if earlier, ok := collisions[name]; ok {
			return FileError{Name: name, Err: fmt.Errorf("%w: %s and %s", ErrOutputCollision, earlier, name)}
		}
	}
	return FileError{}
}

func recordCounts(span trace.Span, out Result) {
	span.SetAttributes(
		attribute.Int("run.processed", len(out.Outputs)),
		attribute.Int("run.skipped", out.Skipped),
		attribute.Int("run.failed", len(out.Failed)),
	)
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", path, err)
	}
	return data, nil
}

// LocalDirEmitter writes outputs into the request's output directory.
type LocalDirEmitter struct{}

func (LocalDirEmitter) Emit(_ context.Context, req Request, name string, data []byte, format string, width, height int) (Output, error) {
	if strings.TrimSpace(req.Config.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}

	fullPath := filepath.Join(req.Config.OutputDir, name)
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return Output{
		Name:   name,
		Format: format,
		Path:   fullPath,
		Bytes:  len(data),
		Width:  width,
		Height: height,
	}, nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
