package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	BackendOKSVG = "oksvg"
	BackendVips  = "vips"
)

var (
	ErrMissingDependency = errors.New("missing rasterization dependency")
	ErrUnknownBackend    = errors.New("unknown rasterizer backend")
)

// Rasterizer turns an SVG document into an NRGBA bitmap. A width of zero
// renders at the document's intrinsic size.
type Rasterizer interface {
	Name() string
	Rasterize(ctx context.Context, svg []byte, width int) (*image.NRGBA, error)
}

// Startup resolves a rasterizer backend. It must run before any file is
// touched so that a missing capability aborts the batch up front.
func Startup(backend string) (Rasterizer, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendOKSVG:
		return oksvgRasterizer{}, nil
	case BackendVips:
		return startVips()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// RasterizeLogo loads the logo at path. SVG files go through r; PNG and JPEG
// logos are decoded as-is, scaled to width when width > 0.
func RasterizeLogo(ctx context.Context, r Rasterizer, path string, width int) (*image.NRGBA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read logo %s: %w", path, err)
	}

	var logo *image.NRGBA
	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		if r == nil {
			return nil, fmt.Errorf("%w: no rasterizer configured for %s", ErrMissingDependency, path)
		}
		logo, err = r.Rasterize(ctx, data, width)
		if err != nil {
			return nil, fmt.Errorf("rasterize logo with %s: %w", r.Name(), err)
		}
	case ".png", ".jpg", ".jpeg":
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode logo %s: %w", path, err)
		}
		if width > 0 && width != img.Bounds().Dx() {
			logo = imaging.Resize(img, width, 0, imaging.Lanczos)
		} else {
			logo = imaging.Clone(img)
		}
	default:
		return nil, fmt.Errorf("unsupported logo format %q", filepath.Ext(path))
	}

	if b := logo.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("logo %s rasterized to an empty bitmap", path)
	}
	return logo, nil
}

func scaledHeight(width int, vbW, vbH float64) int {
	h := int(float64(width)*vbH/vbW + 0.5)
	if h < 1 {
		h = 1
	}
	return h
}
