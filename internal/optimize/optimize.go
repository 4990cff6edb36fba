package optimize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// DefaultQuality is used when the caller supplies a quality outside 1..100.
const DefaultQuality = 82

var (
	// ErrDecode means the input bytes could not be parsed as an image.
	// No candidate encodings are attempted.
	ErrDecode = errors.New("undecodable source image")

	// ErrResize means the resampling step failed. Fatal for the call;
	// the original file is left untouched.
	ErrResize = errors.New("resize failed")

	// ErrAllEncodingsFailed means every candidate format failed to encode.
	// The original file is left untouched.
	ErrAllEncodingsFailed = errors.New("no candidate encoding succeeded")
)

// candidateOrder is the fixed evaluation order for smart format search.
// Ties in byte size are won by the earlier format.
var candidateOrder = []string{FormatJPEG, FormatPNG, FormatWEBP}

// Params controls one optimizer invocation.
type Params struct {
	// Quality is passed verbatim to the JPEG and WebP encoders. PNG always
	// uses maximal lossless compression instead.
	Quality int
	// SmartFormat enables the multi-format search; when false the image is
	// re-encoded once in its extension-implied format.
	SmartFormat bool
	// MaxWidth, when positive, caps the image width before any encoding.
	MaxWidth int
}

// Result describes the optimized file now resident on disk.
type Result struct {
	Path          string
	Format        string
	ByteSize      int64
	Width         int
	Height        int
	FormatChanged bool
}

// Optimizer re-encodes a single image file in place, optionally searching
// JPEG/PNG/WebP for the smallest viable representation. It is synchronous
// and owns no state across calls.
type Optimizer struct {
	enc    Encoder
	logger *log.Logger
}

func New(logger *log.Logger) *Optimizer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Optimizer{
		enc:    newEncoder(),
		logger: logger,
	}
}

// Optimize rewrites the image at path according to params and returns where
// the optimized bytes ended up. On any fatal error the file at path is left
// unchanged.
func (o *Optimizer) Optimize(ctx context.Context, path string, params Params) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	if params.Quality < 1 || params.Quality > 100 {
		params.Quality = DefaultQuality
	}

	originalFormat := FormatFromExtension(path)

	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("stat source image: %w", err)
	}

	// GIFs pass through untouched so animation survives.
	if originalFormat == FormatGIF {
		return Result{
			Path:     path,
			Format:   FormatGIF,
			ByteSize: info.Size(),
		}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read source image: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if params.MaxWidth > 0 && width > params.MaxWidth {
		// Truncating division keeps the original aspect ratio.
		newHeight := height * params.MaxWidth / width
		if newHeight < 1 {
			return Result{}, fmt.Errorf("%w: %dx%d to width %d leaves no height", ErrResize, width, height, params.MaxWidth)
		}
		img = imaging.Resize(img, params.MaxWidth, newHeight, imaging.Lanczos)
		o.logger.Printf("resized %s from %dx%d to %dx%d", filepath.Base(path), width, height, params.MaxWidth, newHeight)
		width = params.MaxWidth
		height = newHeight
	}

	if params.SmartFormat {
		return o.bestFormat(path, img, originalFormat, params.Quality, width, height)
	}
	return o.reencode(path, img, originalFormat, params.Quality, width, height)
}

type candidate struct {
	format string
	path   string
	size   int64
}

// bestFormat encodes img in each viable candidate format inside a scratch
// directory, keeps the smallest, and installs it at path (with the winning
// extension). The scratch directory is removed on every exit path.
func (o *Optimizer) bestFormat(path string, img image.Image, originalFormat string, quality, width, height int) (Result, error) {
	tempDir, err := os.MkdirTemp("", "imageship-fmt-")
	if err != nil {
		return Result{}, fmt.Errorf("create format scratch dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	transparent := hasTransparency(img)

	var best *candidate
	for _, format := range candidateOrder {
		// JPEG cannot represent transparency.
		if format == FormatJPEG && transparent {
			continue
		}

		working := img
		if format == FormatJPEG {
			working = flattenForJPEG(img)
		}

		candidatePath := filepath.Join(tempDir, "test"+ExtensionForFormat(format))
		size, err := o.encodeToFile(candidatePath, working, format, quality)
		if err != nil {
			o.logger.Printf("candidate format=%s not viable: %v", format, err)
			continue
		}
		o.logger.Printf("candidate format=%s bytes=%d", format, size)

		if best == nil || size < best.size {
			best = &candidate{format: format, path: candidatePath, size: size}
		}
	}

	if best == nil {
		return Result{}, ErrAllEncodingsFailed
	}

	winning, err := os.ReadFile(best.path)
	if err != nil {
		return Result{}, fmt.Errorf("read winning candidate: %w", err)
	}

	// Stage next to the destination and rename, so a failed write never
	// leaves a half-written file where the original was.
	finalPath := replaceExtension(path, ExtensionForFormat(best.format))
	stagePath := finalPath + ".tmp"
	if err := os.WriteFile(stagePath, winning, 0o644); err != nil {
		_ = os.Remove(stagePath)
		return Result{}, fmt.Errorf("write optimized file: %w", err)
	}
	if err := os.Rename(stagePath, finalPath); err != nil {
		_ = os.Remove(stagePath)
		return Result{}, fmt.Errorf("install optimized file: %w", err)
	}

	// Never remove the original before the replacement is safely written.
	if finalPath != path {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			o.logger.Printf("remove superseded file %s: %v", path, err)
		}
	}

	return Result{
		Path:          finalPath,
		Format:        best.format,
		ByteSize:      best.size,
		Width:         width,
		Height:        height,
		FormatChanged: best.format != originalFormat,
	}, nil
}

// reencode writes a single encoding of img in its declared format back to
// path, via a temp file so a failed encode leaves the original intact.
func (o *Optimizer) reencode(path string, img image.Image, format string, quality, width, height int) (Result, error) {
	working := img
	if format == FormatJPEG {
		working = flattenForJPEG(img)
	}

	tmpPath := path + ".tmp"
	size, err := o.encodeToFile(tmpPath, working, format, quality)
	if err != nil {
		_ = os.Remove(tmpPath)
		return Result{}, fmt.Errorf("%w: %s: %v", ErrAllEncodingsFailed, format, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return Result{}, fmt.Errorf("replace original file: %w", err)
	}

	return Result{
		Path:     path,
		Format:   format,
		ByteSize: size,
		Width:    width,
		Height:   height,
	}, nil
}

func (o *Optimizer) encodeToFile(path string, img image.Image, format string, quality int) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create encode target: %w", err)
	}

	if err := o.enc.Encode(f, img, format, quality); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("flush encode target: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat encode target: %w", err)
	}
	return info.Size(), nil
}

func replaceExtension(path, ext string) string {
	return path[:len(path)-len(filepath.Ext(path))] + ext
}
