//go:build govips && cgo

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
	xdraw "golang.org/x/image/draw"
)

type vipsRasterizer struct{}

func (vipsRasterizer) Name() string {
	return BackendVips
}

func (vipsRasterizer) Rasterize(ctx context.Context, svg []byte, width int) (*image.NRGBA, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(svg)
	if err != nil {
		return nil, fmt.Errorf("load svg: %w", err)
	}
	defer img.Close()

	if width > 0 && img.Width() > 0 && width != img.Width() {
		scale := float64(width) / float64(img.Width())
		if err := img.Resize(scale, vips.KernelLanczos3); err != nil {
			return nil, fmt.Errorf("resize svg raster: %w", err)
		}
	}

	data, _, err := img.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode vips output: %w", err)
	}

	b := decoded.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(out, out.Bounds(), decoded, b.Min, xdraw.Src)
	return out, nil
}
