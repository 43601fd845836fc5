package pipeline

import (
	"image"

	"github.com/dunamismax/logomark/internal/domain"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/vector"
)

// kappa places cubic control points so four segments approximate a circle.
const kappa = 0.5522847498

// BuildMask renders an anti-aliased single-channel mask of size w x h.
// Circle masks use radius min(w,h)/2 centred at (w/2, h/2); rounded
// rectangles span the whole bitmap with the corner radius clamped to
// min(w,h)/2.
func BuildMask(shape string, w, h, cornerRadius int) *image.Alpha {
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	if w <= 0 || h <= 0 {
		return mask
	}

	z := vector.NewRasterizer(w, h)
	z.DrawOp = xdraw.Src

	switch shape {
	case domain.MaskShapeRoundedRect:
		r := cornerRadius
		if limit := min(w, h) / 2; r > limit {
			r = limit
		}
		roundedRectPath(z, float32(w), float32(h), float32(r))
	default:
		r := min(w, h) / 2
		circlePath(z, float32(w/2), float32(h/2), float32(r))
	}

	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	return mask
}

func circlePath(z *vector.Rasterizer, cx, cy, r float32) {
	k := float32(kappa) * r
	z.MoveTo(cx+r, cy)
	z.CubeTo(cx+r, cy+k, cx+k, cy+r, cx, cy+r)
	z.CubeTo(cx-k, cy+r, cx-r, cy+k, cx-r, cy)
	z.CubeTo(cx-r, cy-k, cx-k, cy-r, cx, cy-r)
	z.CubeTo(cx+k, cy-r, cx+r, cy-k, cx+r, cy)
	z.ClosePath()
}

func roundedRectPath(z *vector.Rasterizer, w, h, r float32) {
	if r <= 0 {
		z.MoveTo(0, 0)
		z.LineTo(w, 0)
		z.LineTo(w, h)
		z.LineTo(0, h)
		z.ClosePath()
		return
	}

	k := float32(kappa) * r
	z.MoveTo(r, 0)
	z.LineTo(w-r, 0)
	z.CubeTo(w-r+k, 0, w, r-k, w, r)
	z.LineTo(w, h-r)
	z.CubeTo(w, h-r+k, w-r+k, h, w-r, h)
	z.LineTo(r, h)
	z.CubeTo(r-k, h, 0, h-r+k, 0, h-r)
	z.LineTo(0, r)
	z.CubeTo(0, r-k, r-k, 0, r, 0)
	z.ClosePath()
}
