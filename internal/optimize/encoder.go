package optimize

import (
	"image"
	"io"
)

// Encoder writes img to w in the requested format. Quality applies to the
// lossy formats; PNG implementations always use their strongest lossless
// setting. Implementations are selected at build time (stdlib/chai2010 by
// default, libvips behind the govips tag).
type Encoder interface {
	Encode(w io.Writer, img image.Image, format string, quality int) error
}
