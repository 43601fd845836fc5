package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	xdraw "golang.org/x/image/draw"
)

const fallbackRasterSize = 512

type oksvgRasterizer struct{}

func (oksvgRasterizer) Name() string {
	return BackendOKSVG
}

func (oksvgRasterizer) Rasterize(ctx context.Context, svg []byte, width int) (*image.NRGBA, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	icon, err := oksvg.ReadIconStream(bytes.NewReader(svg), oksvg.WarnErrorMode)
	if err != nil {
		return nil, fmt.Errorf("parse svg: %w", err)
	}

	vbW, vbH := icon.ViewBox.W, icon.ViewBox.H
	if vbW <= 0 || vbH <= 0 {
		vbW, vbH = fallbackRasterSize, fallbackRasterSize
	}

	w := int(vbW + 0.5)
	h := int(vbH + 0.5)
	if width > 0 {
		w = width
		h = scaledHeight(width, vbW, vbH)
	}
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("svg has invalid size %dx%d", w, h)
	}

	icon.SetTarget(0, 0, float64(w), float64(h))

	// rasterx paints premultiplied RGBA; the compositor works in NRGBA.
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)

	out := image.NewNRGBA(rgba.Bounds())
	xdraw.Draw(out, out.Bounds(), rgba, image.Point{}, xdraw.Src)
	return out, nil
}
