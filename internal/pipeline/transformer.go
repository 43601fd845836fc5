package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/logomark/internal/domain"
)

var ErrLogoTooSmall = errors.New("target logo size is below one pixel")

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

func isImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// TargetSize scales the logo to ratio of the image width, keeping the logo's
// aspect ratio. Both results are floored.
func TargetSize(imgW, logoW, logoH int, ratio float64) (int, int) {
	if logoW <= 0 || logoH <= 0 {
		return 0, 0
	}
	w := int(float64(imgW) * ratio)
	aspect := float64(logoH) / float64(logoW)
	return w, int(float64(w) * aspect)
}

// Placement anchors a w x h logo to the bottom-right corner, margin pixels in.
func Placement(imgW, imgH, w, h, margin int) image.Point {
	return image.Pt(imgW-w-margin, imgH-h-margin)
}

// ApplyWatermark resizes, masks and fades logo, then blends it onto a copy of
// img. img itself is not modified.
func ApplyWatermark(img image.Image, logo *image.NRGBA, cfg domain.WatermarkConfig) (*image.NRGBA, error) {
	if img == nil || logo == nil {
		return nil, errors.New("image and logo are required")
	}

	// Comparisons are written so NaN fails them.
	if !(cfg.SizeRatio > 0 && cfg.SizeRatio <= 1) || !(cfg.Opacity >= 0 && cfg.Opacity <= 1) {
		return nil, fmt.Errorf("%w: size_ratio=%v opacity=%v", domain.ErrInvalidConfig, cfg.SizeRatio, cfg.Opacity)
	}

	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, errors.New("source image has invalid dimensions")
	}

	lb := logo.Bounds()
	w, h := TargetSize(bounds.Dx(), lb.Dx(), lb.Dy(), cfg.SizeRatio)
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("%w: %dx%d for image %dx%d", ErrLogoTooSmall, w, h, bounds.Dx(), bounds.Dy())
	}

	resized := imaging.Resize(logo, w, h, imaging.Lanczos)
	mask := BuildMask(cfg.MaskShape, w, h, cfg.CornerRadiusPx)
	ApplyMask(resized, mask, cfg.Opacity, cfg.KeepLogoAlpha)

	dst := cloneToNRGBA(img)
	Composite(dst, resized, Placement(bounds.Dx(), bounds.Dy(), w, h, cfg.MarginPx))
	return dst, nil
}

// OutputName maps an input file name to its output name under naming.
func OutputName(name, naming string) string {
	if naming == domain.NamingPreserve {
		return name
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + ".png"
}

// OutputFormat picks the encoder for an input file name under naming.
func OutputFormat(name, naming string) imaging.Format {
	if naming == domain.NamingPreserve {
		if f, err := imaging.FormatFromFilename(name); err == nil && f == imaging.JPEG {
			return imaging.JPEG
		}
	}
	return imaging.PNG
}

func formatName(f imaging.Format) string {
	if f == imaging.JPEG {
		return "jpeg"
	}
	return "png"
}

func encodeImage(img image.Image, format imaging.Format, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode %s: %w", formatName(format), err)
	}
	return buf.Bytes(), nil
}
