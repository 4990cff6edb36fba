package optimize

import (
	"image"
	"image/color"
	"image/draw"
	"path/filepath"
	"strings"
)

const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatGIF  = "gif"
	FormatWEBP = "webp"
)

// FormatFromExtension maps a file extension to its image format.
// Unrecognized extensions default to JPEG, matching the upload pipeline's
// historical behavior for extensionless CDN assets.
func FormatFromExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG
	case ".png":
		return FormatPNG
	case ".gif":
		return FormatGIF
	case ".webp":
		return FormatWEBP
	default:
		return FormatJPEG
	}
}

func ExtensionForFormat(format string) string {
	switch format {
	case FormatPNG:
		return ".png"
	case FormatGIF:
		return ".gif"
	case FormatWEBP:
		return ".webp"
	default:
		return ".jpg"
	}
}

func ContentTypeForFormat(format string) string {
	switch format {
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatWEBP:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// hasTransparency reports whether the decoded image can carry alpha that is
// actually in use: straight/premultiplied alpha rasters with any pixel below
// full opacity, or a palette containing translucent entries.
func hasTransparency(img image.Image) bool {
	type opaquer interface{ Opaque() bool }
	if o, ok := img.(opaquer); ok {
		return !o.Opaque()
	}
	return false
}

// flattenForJPEG returns a fully opaque copy suitable for JPEG encoding.
// Alpha is composited over a white background; palette and luminance+alpha
// rasters become plain RGB. Never mutates src.
func flattenForJPEG(src image.Image) image.Image {
	switch src.(type) {
	case *image.YCbCr, *image.Gray, *image.CMYK:
		return src
	}

	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

// toNRGBA normalizes any decoded raster into straight-alpha NRGBA.
func toNRGBA(src image.Image) *image.NRGBA {
	if img, ok := src.(*image.NRGBA); ok {
		return img
	}
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}
