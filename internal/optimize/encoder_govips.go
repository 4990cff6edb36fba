//go:build govips && cgo

package optimize

import (
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func newEncoder() Encoder {
	return govipsEncoder{}
}

type govipsEncoder struct{}

func (govipsEncoder) Encode(w io.Writer, src image.Image, format string, quality int) error {
	nrgba := toNRGBA(src)
	bounds := nrgba.Bounds()

	img, err := vips.NewImageFromMemory(nrgba.Pix, bounds.Dx(), bounds.Dy(), 4)
	if err != nil {
		return fmt.Errorf("import raster: %w", err)
	}
	defer img.Close()

	var data []byte
	switch format {
	case FormatJPEG:
		params := vips.NewJpegExportParams()
		params.Quality = quality
		data, _, err = img.ExportJpeg(params)
	case FormatPNG:
		params := vips.NewPngExportParams()
		params.Compression = 9
		data, _, err = img.ExportPng(params)
	case FormatWEBP:
		params := vips.NewWebpExportParams()
		params.Quality = quality
		data, _, err = img.ExportWebp(params)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", format, err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write encoded %s: %w", format, err)
	}
	return nil
}
