//go:build govips && cgo

package pipeline

import (
	"fmt"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func startVips() (Rasterizer, error) {
	startupOnce.Do(func() {
		vips.LoggingSettings(nil, vips.LogLevelWarning)
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   64 * 1024 * 1024,
			MaxCacheSize:  16,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})

	if !vips.IsTypeSupported(vips.ImageTypeSVG) {
		return nil, fmt.Errorf(
			"%w: libvips was built without SVG support (librsvg).\n"+
				"Install a libvips with librsvg, e.g. on macOS:\n"+
				"    brew install librsvg vips\n"+
				"or on Debian/Ubuntu:\n"+
				"    apt-get install librsvg2-dev libvips-dev",
			ErrMissingDependency,
		)
	}
	return vipsRasterizer{}, nil
}

// Shutdown releases libvips if it was started.
func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}
