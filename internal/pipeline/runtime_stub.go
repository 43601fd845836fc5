//go:build !govips || !cgo

package pipeline

import "fmt"

func startVips() (Rasterizer, error) {
	return nil, fmt.Errorf(
		"%w: the vips rasterizer is not compiled into this binary.\n"+
			"Install libvips with SVG support and rebuild with the govips tag:\n"+
			"    brew install vips            # macOS\n"+
			"    apt-get install libvips-dev  # Debian/Ubuntu\n"+
			"    CGO_ENABLED=1 go build -tags govips ./cmd/...\n"+
			"or use the built-in rasterizer: -rasterizer=%s",
		ErrMissingDependency,
		BackendOKSVG,
	)
}

func Shutdown() {}
