package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/logomark/internal/domain"
	"github.com/dunamismax/logomark/internal/metrics"
)

func TestProcessFolderWatermarksImagesOnly(t *testing.T) {
	tmp := t.TempDir()
	inputDir := filepath.Join(tmp, "posts")
	outputDir := filepath.Join(tmp, "posts_with_logo", "nested")
	mustMkdir(t, inputDir)

	srcBytes := buildTestPNG(t, 400, 200)
	writeTestFile(t, filepath.Join(inputDir, "a.png"), srcBytes)
	writeTestFile(t, filepath.Join(inputDir, "B.JPG"), buildTestJPEG(t, 300, 150))
	writeTestFile(t, filepath.Join(inputDir, "notes.txt"), []byte("not an image"))
	mustMkdir(t, filepath.Join(inputDir, "drafts.png"))

	m := metrics.New()
	processor := NewProcessor(discardLogger(), m)
	result, err := processor.ProcessFolder(context.Background(), Request{
		RunID:  "run-local-1",
		Config: testConfig(inputDir, outputDir),
	}, redLogo())
	if err != nil {
		t.Fatalf("process folder: %v", err)
	}

	if len(result.Outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(result.Outputs))
	}
	if result.Skipped != 2 {
		t.Fatalf("expected 2 skipped entries, got %d", result.Skipped)
	}

	// Lexical order: upper case sorts first.
	if result.Outputs[0].Source != "B.JPG" || result.Outputs[0].Name != "B.png" {
		t.Fatalf("unexpected first output %+v", result.Outputs[0])
	}
	if result.Outputs[1].Source != "a.png" || result.Outputs[1].Name != "a.png" {
		t.Fatalf("unexpected second output %+v", result.Outputs[1])
	}

	for _, o := range result.Outputs {
		if o.Format != "png" {
			t.Fatalf("expected png output, got %s", o.Format)
		}
		verifyDecodes(t, o.Path, "png", o.Width, o.Height)
	}

	if _, err := os.Stat(filepath.Join(outputDir, "notes.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected non-image file to be ignored, stat err=%v", err)
	}

	outBytes, err := os.ReadFile(filepath.Join(outputDir, "a.png"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if bytes.Equal(srcBytes, outBytes) {
		t.Fatal("expected watermarked output to differ from source")
	}

	summary := result.Summary()
	if summary.Processed != 2 || summary.Skipped != 2 || summary.Failed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestProcessFolderPreserveNaming(t *testing.T) {
	tmp := t.TempDir()
	inputDir := filepath.Join(tmp, "in")
	outputDir := filepath.Join(tmp, "out")
	mustMkdir(t, inputDir)
	writeTestFile(t, filepath.Join(inputDir, "photo.JPG"), buildTestJPEG(t, 300, 150))

	cfg := testConfig(inputDir, outputDir)
	cfg.Naming = domain.NamingPreserve

	result, err := NewProcessor(discardLogger(), nil).ProcessFolder(context.Background(), Request{RunID: "run-preserve", Config: cfg}, redLogo())
	if err != nil {
		t.Fatalf("process folder: %v", err)
	}
	if len(result.Outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(result.Outputs))
	}

	o := result.Outputs[0]
	if o.Name != "photo.JPG" || o.Format != "jpeg" {
		t.Fatalf("unexpected output %+v", o)
	}
	verifyDecodes(t, filepath.Join(outputDir, "photo.JPG"), "jpeg", 300, 150)
}

func TestProcessFolderIsDeterministic(t *testing.T) {
	tmp := t.TempDir()
	inputDir := filepath.Join(tmp, "in")
	mustMkdir(t, inputDir)
	writeTestFile(t, filepath.Join(inputDir, "a.png"), buildTestPNG(t, 320, 240))

	processor := NewProcessor(discardLogger(), nil)
	var outputs [][]byte
	for _, dir := range []string{"first", "second"} {
		outputDir := filepath.Join(tmp, dir)
		if _, err := processor.ProcessFolder(context.Background(), Request{RunID: dir, Config: testConfig(inputDir, outputDir)}, redLogo()); err != nil {
			t.Fatalf("process folder into %s: %v", dir, err)
		}
		data, err := os.ReadFile(filepath.Join(outputDir, "a.png"))
		if err != nil {
			t.Fatalf("read output: %v", err)
		}
		outputs = append(outputs, data)
	}

	if !bytes.Equal(outputs[0], outputs[1]) {
		t.Fatal("expected identical bytes across runs")
	}
}

func TestProcessFolderFailsFastByDefault(t *testing.T) {
	tmp := t.TempDir()
	inputDir := filepath.Join(tmp, "in")
	outputDir := filepath.Join(tmp, "out")
	mustMkdir(t, inputDir)
	writeTestFile(t, filepath.Join(inputDir, "a_broken.png"), []byte("definitely not a png"))
	writeTestFile(t, filepath.Join(inputDir, "b.png"), buildTestPNG(t, 200, 100))

	result, err := NewProcessor(discardLogger(), nil).ProcessFolder(context.Background(), Request{RunID: "run-fail", Config: testConfig(inputDir, outputDir)}, redLogo())

	var fileErr FileError
	if !errors.As(err, &fileErr) || fileErr.Name != "a_broken.png" {
		t.Fatalf("expected FileError for a_broken.png, got %v", err)
	}
	if len(result.Outputs) != 0 {
		t.Fatalf("expected no outputs after abort, got %d", len(result.Outputs))
	}
	if _, err := os.Stat(filepath.Join(outputDir, "b.png")); !os.IsNotExist(err) {
		t.Fatalf("expected later files untouched, stat err=%v", err)
	}
}

func TestProcessFolderContinueOnError(t *testing.T) {
	tmp := t.TempDir()
	inputDir := filepath.Join(tmp, "in")
	outputDir := filepath.Join(tmp, "out")
	mustMkdir(t, inputDir)
	writeTestFile(t, filepath.Join(inputDir, "a_broken.png"), []byte("definitely not a png"))
	writeTestFile(t, filepath.Join(inputDir, "b.png"), buildTestPNG(t, 200, 100))

	cfg := testConfig(inputDir, outputDir)
	cfg.ContinueOnError = true

	result, err := NewProcessor(discardLogger(), nil).ProcessFolder(context.Background(), Request{RunID: "run-keep-going", Config: cfg}, redLogo())
	if err == nil {
		t.Fatal("expected joined error for broken file")
	}
	if len(result.Failed) != 1 || result.Failed[0].Name != "a_broken.png" {
		t.Fatalf("unexpected failures %+v", result.Failed)
	}
	if len(result.Outputs) != 1 || result.Outputs[0].Name != "b.png" {
		t.Fatalf("expected b.png to be processed, got %+v", result.Outputs)
	}
	if summary := result.Summary(); summary.Failed != 1 || summary.Processed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestProcessFolderRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t.TempDir(), t.TempDir())
	cfg.Opacity = 1.5

	_, err := NewProcessor(discardLogger(), nil).ProcessFolder(context.Background(), Request{Config: cfg}, redLogo())
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestProcessFolderMissingInputDir(t *testing.T) {
	tmp := t.TempDir()
	cfg := testConfig(filepath.Join(tmp, "missing"), filepath.Join(tmp, "out"))

	_, err := NewProcessor(discardLogger(), nil).ProcessFolder(context.Background(), Request{Config: cfg}, redLogo())
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestProcessFolderMirrorsToExtraEmitters(t *testing.T) {
	tmp := t.TempDir()
	inputDir := filepath.Join(tmp, "in")
	mustMkdir(t, inputDir)
	writeTestFile(t, filepath.Join(inputDir, "a.png"), buildTestPNG(t, 200, 100))

	writer := &recordingWriter{}
	processor := NewProcessor(discardLogger(), nil, ObjectStoreEmitter{Storage: writer, OutputPrefix: "/marked/"})
	result, err := processor.ProcessFolder(context.Background(), Request{
		RunID:  "run/1",
		Config: testConfig(inputDir, filepath.Join(tmp, "out")),
	}, redLogo())
	if err != nil {
		t.Fatalf("process folder: %v", err)
	}

	if result.Outputs[0].Path != filepath.Join(tmp, "out", "a.png") {
		t.Fatalf("expected local path first, got %s", result.Outputs[0].Path)
	}
	if len(writer.keys) != 1 || writer.keys[0] != "marked/run_1/a.png" {
		t.Fatalf("unexpected object keys %v", writer.keys)
	}
	if writer.contentTypes[0] != "image/png" {
		t.Fatalf("unexpected content type %s", writer.contentTypes[0])
	}
	if writer.meta[0]["run-id"] != "run/1" || writer.meta[0]["width"] != "200" {
		t.Fatalf("unexpected object metadata %v", writer.meta[0])
	}
}

func TestProcessFolderRejectsOutputNameCollision(t *testing.T) {
	tmp := t.TempDir()
	inputDir := filepath.Join(tmp, "in")
	outputDir := filepath.Join(tmp, "out")
	mustMkdir(t, inputDir)
	writeTestFile(t, filepath.Join(inputDir, "a.jpg"), buildTestJPEG(t, 200, 100))
	writeTestFile(t, filepath.Join(inputDir, "a.png"), buildTestPNG(t, 200, 100))

	result, err := NewProcessor(discardLogger(), nil).ProcessFolder(context.Background(), Request{RunID: "run-clash", Config: testConfig(inputDir, outputDir)}, redLogo())
	if !errors.Is(err, ErrOutputCollision) {
		t.Fatalf("expected ErrOutputCollision, got %v", err)
	}
	var fileErr FileError
	if !errors.As(err, &fileErr) || fileErr.Name != "a.png" {
		t.Fatalf("expected FileError for a.png, got %v", err)
	}
	if len(result.Outputs) != 0 {
		t.Fatalf("expected no outputs, got %+v", result.Outputs)
	}
	if _, err := os.Stat(outputDir); !os.IsNotExist(err) {
		t.Fatalf("expected nothing written before the clash is reported, stat err=%v", err)
	}
}

func TestProcessFolderCollisionWithContinueOnError(t *testing.T) {
	tmp := t.TempDir()
	inputDir := filepath.Join(tmp, "in")
	outputDir := filepath.Join(tmp, "out")
	mustMkdir(t, inputDir)
	writeTestFile(t, filepath.Join(inputDir, "a.jpg"), buildTestJPEG(t, 200, 100))
	writeTestFile(t, filepath.Join(inputDir, "a.png"), buildTestPNG(t, 300, 100))

	cfg := testConfig(inputDir, outputDir)
	cfg.ContinueOnError = true

	result, err := NewProcessor(discardLogger(), nil).ProcessFolder(context.Background(), Request{RunID: "run-clash", Config: cfg}, redLogo())
	if !errors.Is(err, ErrOutputCollision) {
		t.Fatalf("expected ErrOutputCollision, got %v", err)
	}
	if len(result.Outputs) != 1 || result.Outputs[0].Source != "a.jpg" {
		t.Fatalf("expected only a.jpg to be written, got %+v", result.Outputs)
	}
	if len(result.Failed) != 1 || result.Failed[0].Name != "a.png" {
		t.Fatalf("unexpected failures %+v", result.Failed)
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one output file, got %d", len(entries))
	}
	verifyDecodes(t, filepath.Join(outputDir, "a.png"), "png", 200, 100)
}

func TestProcessFolderPreserveNamingHasNoCollision(t *testing.T) {
	tmp := t.TempDir()
	inputDir := filepath.Join(tmp, "in")
	outputDir := filepath.Join(tmp, "out")
	mustMkdir(t, inputDir)
	writeTestFile(t, filepath.Join(inputDir, "a.jpg"), buildTestJPEG(t, 200, 100))
	writeTestFile(t, filepath.Join(inputDir, "a.png"), buildTestPNG(t, 200, 100))

	cfg := testConfig(inputDir, outputDir)
	cfg.Naming = domain.NamingPreserve

	result, err := NewProcessor(discardLogger(), nil).ProcessFolder(context.Background(), Request{RunID: "run-preserve", Config: cfg}, redLogo())
	if err != nil {
		t.Fatalf("process folder: %v", err)
	}
	if len(result.Outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(result.Outputs))
	}
}

func TestProcessFolderFollowsSymlinks(t *testing.T) {
	tmp := t.TempDir()
	inputDir := filepath.Join(tmp, "in")
	outputDir := filepath.Join(tmp, "out")
	mustMkdir(t, inputDir)
	mustMkdir(t, filepath.Join(tmp, "elsewhere"))
	writeTestFile(t, filepath.Join(tmp, "real.png"), buildTestPNG(t, 200, 100))

	for link, target := range map[string]string{
		"alias.png":    filepath.Join(tmp, "real.png"),
		"folder.png":   filepath.Join(tmp, "elsewhere"),
		"dangling.png": filepath.Join(tmp, "gone.png"),
	} {
		if err := os.Symlink(target, filepath.Join(inputDir, link)); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
	}

	result, err := NewProcessor(discardLogger(), nil).ProcessFolder(context.Background(), Request{RunID: "run-links", Config: testConfig(inputDir, outputDir)}, redLogo())
	if err != nil {
		t.Fatalf("process folder: %v", err)
	}
	if len(result.Outputs) != 1 || result.Outputs[0].Source != "alias.png" {
		t.Fatalf("expected only alias.png to be processed, got %+v", result.Outputs)
	}
	if result.Skipped != 2 {
		t.Fatalf("expected linked directory and dangling link to be skipped, got %d", result.Skipped)
	}
}

func TestProcessFolderStopsWhenCancelled(t *testing.T) {
	tmp := t.TempDir()
	inputDir := filepath.Join(tmp, "in")
	outputDir := filepath.Join(tmp, "out")
	mustMkdir(t, inputDir)
	writeTestFile(t, filepath.Join(inputDir, "a.png"), buildTestPNG(t, 200, 100))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewProcessor(discardLogger(), nil).ProcessFolder(ctx, Request{RunID: "run-cancel", Config: testConfig(inputDir, outputDir)}, redLogo())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(result.Outputs) != 0 {
		t.Fatalf("expected no outputs, got %+v", result.Outputs)
	}
	if _, err := os.Stat(filepath.Join(outputDir, "a.png")); !os.IsNotExist(err) {
		t.Fatalf("expected no output after cancel, stat err=%v", err)
	}
}

func testConfig(inputDir, outputDir string) domain.WatermarkConfig {
	return domain.WatermarkConfig{
		InputDir:  inputDir,
		OutputDir: outputDir,
		LogoPath:  "logo.svg",
		SizeRatio: 0.1,
		Opacity:   0.7,
		MarginPx:  20,
	}
}

func redLogo() *image.NRGBA {
	return solidLogo(64, 64, color.NRGBA{R: 255, A: 255})
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type recordingWriter struct {
	keys         []string
	contentTypes []string
	meta         []map[string]string
}

func (w *recordingWriter) WriteObject(_ context.Context, key string, _ []byte, contentType string, meta map[string]string) error {
	w.keys = append(w.keys, key)
	w.contentTypes = append(w.contentTypes, contentType)
	w.meta = append(w.meta, meta)
	return nil
}

func mustMkdir(t testing.TB, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create dir %s: %v", dir, err)
	}
}

func writeTestFile(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func verifyDecodes(t *testing.T, path, wantFormat string, wantW, wantH int) {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output image: %v", err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode output image config: %v", err)
	}
	if format != wantFormat {
		t.Fatalf("expected %s output, got %s", wantFormat, format)
	}
	if cfg.Width != wantW || cfg.Height != wantH {
		t.Fatalf("expected %dx%d output, got %dx%d", wantW, wantH, cfg.Width, cfg.Height)
	}
}

func buildTestImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}
	return img
}

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, buildTestImage(w, h)); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func buildTestJPEG(t testing.TB, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, buildTestImage(w, h), &jpeg.Options{Quality: 85}); err != nil {
		t.Fatalf("encode source jpeg: %v", err)
	}
	return buf.Bytes()
}
