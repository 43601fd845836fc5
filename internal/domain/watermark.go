package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	MaskShapeCircle      = "circle"
	MaskShapeRoundedRect = "rounded_rect"

	NamingPNG      = "png"
	NamingPreserve = "preserve"

	DefaultJPEGQuality = 90
)

var ErrInvalidConfig = errors.New("invalid watermark config")

// WatermarkConfig carries everything one batch needs. It travels inside
// queue payloads, so it keeps JSON tags.
type WatermarkConfig struct {
	InputDir        string  `json:"input_dir"`
	OutputDir       string  `json:"output_dir"`
	LogoPath        string  `json:"logo_path"`
	SizeRatio       float64 `json:"size_ratio"`
	Opacity         float64 `json:"opacity"`
	MarginPx        int     `json:"margin_px"`
	CornerRadiusPx  int     `json:"corner_radius_px,omitempty"`
	MaskShape       string  `json:"mask_shape"`
	Naming          string  `json:"naming"`
	JPEGQuality     int     `json:"jpeg_quality,omitempty"`
	LogoRasterWidth int     `json:"logo_raster_width,omitempty"`
	KeepLogoAlpha   bool    `json:"keep_logo_alpha,omitempty"`
	ContinueOnError bool    `json:"continue_on_error,omitempty"`
}

// Normalize lower-cases enum fields and fills defaults for empty ones.
func (c WatermarkConfig) Normalize() WatermarkConfig {
	c.MaskShape = strings.ToLower(strings.TrimSpace(c.MaskShape))
	if c.MaskShape == "" {
		c.MaskShape = MaskShapeCircle
	}
	c.Naming = strings.ToLower(strings.TrimSpace(c.Naming))
	if c.Naming == "" {
		c.Naming = NamingPNG
	}
	if c.JPEGQuality == 0 {
		c.JPEGQuality = DefaultJPEGQuality
	}
	return c
}

func (c WatermarkConfig) Validate() error {
	if strings.TrimSpace(c.InputDir) == "" {
		return fmt.Errorf("%w: input_dir is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("%w: output_dir is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.LogoPath) == "" {
		return fmt.Errorf("%w: logo_path is required", ErrInvalidConfig)
	}
	if !finite(c.SizeRatio) || c.SizeRatio <= 0 || c.SizeRatio > 1 {
		return fmt.Errorf("%w: size_ratio must be in (0,1], got %v", ErrInvalidConfig, c.SizeRatio)
	}
	if !finite(c.Opacity) || c.Opacity < 0 || c.Opacity > 1 {
		return fmt.Errorf("%w: opacity must be in [0,1], got %v", ErrInvalidConfig, c.Opacity)
	}
	if c.MarginPx < 0 {
		return fmt.Errorf("%w: margin_px must be >= 0", ErrInvalidConfig)
	}
	if c.CornerRadiusPx < 0 {
		return fmt.Errorf("%w: corner_radius_px must be >= 0", ErrInvalidConfig)
	}
	switch c.MaskShape {
	case MaskShapeCircle, MaskShapeRoundedRect:
	default:
		return fmt.Errorf("%w: unsupported mask_shape %q", ErrInvalidConfig, c.MaskShape)
	}
	switch c.Naming {
	case NamingPNG, NamingPreserve:
	default:
		return fmt.Errorf("%w: unsupported naming %q", ErrInvalidConfig, c.Naming)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("%w: jpeg_quality must be in [1,100], got %d", ErrInvalidConfig, c.JPEGQuality)
	}
	if c.LogoRasterWidth < 0 {
		return fmt.Errorf("%w: logo_raster_width must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// finite rejects NaN, which slips through ordered comparisons, and ±Inf.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
