package pipeline

import (
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
)

// ApplyMask replaces the logo's alpha with mask scaled by opacity. When
// keepAlpha is set the mask is first multiplied by the logo's own alpha.
// Values are truncated, so a full mask at opacity 0.7 yields 178.
func ApplyMask(logo *image.NRGBA, mask *image.Alpha, opacity float64, keepAlpha bool) {
	b := logo.Bounds()
	mb := mask.Bounds()

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			off := logo.PixOffset(b.Min.X+x, b.Min.Y+y)

			var m uint32
			if x < mb.Dx() && y < mb.Dy() {
				m = uint32(mask.Pix[mask.PixOffset(mb.Min.X+x, mb.Min.Y+y)])
			}
			if keepAlpha {
				m = m * uint32(logo.Pix[off+3]) / 0xff
			}

			logo.Pix[off+3] = uint8(float64(m) * opacity)
		}
	}
}

// Composite blends logo over dst with its top-left corner at at. The
// footprint is clipped to dst; pixels outside it are left untouched.
func Composite(dst *image.NRGBA, logo *image.NRGBA, at image.Point) {
	lb := logo.Bounds()
	area := image.Rect(at.X, at.Y, at.X+lb.Dx(), at.Y+lb.Dy()).Intersect(dst.Bounds())
	if area.Empty() {
		return
	}

	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			s := logo.PixOffset(lb.Min.X+x-at.X, lb.Min.Y+y-at.Y)
			la := float64(logo.Pix[s+3])
			if la == 0 {
				continue
			}
			a := la / 0xff

			d := dst.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				v := float64(logo.Pix[s+c])*a + float64(dst.Pix[d+c])*(1-a)
				dst.Pix[d+c] = uint8(math.Round(v))
			}
			dst.Pix[d+3] = uint8(math.Round(la + float64(dst.Pix[d+3])*(1-a)))
		}
	}
}

// cloneToNRGBA copies src into a fresh NRGBA buffer anchored at the origin.
func cloneToNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), src, b.Min, xdraw.Src)
	return dst
}
