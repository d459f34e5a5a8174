// Package imaging prepares the child's photo for the image providers: it
// reads the EXIF orientation, rotates the pixels upright, shrinks the image
// to a bounded edge and re-encodes it as JPEG.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultMaxEdge is the longest edge a prepared photo may have.
const DefaultMaxEdge = 1536

// jpegQuality for re-encoded photos.
const jpegQuality = 90

// ErrNotImage is returned when the bytes are not a supported image.
var ErrNotImage = errors.New("not a supported image")

// Info describes an image without decoding its pixels.
type Info struct {
	Width  int
	Height int
	Format string // "jpeg", "png" or "webp"
}

// Probe reads the image header.
func Probe(data []byte) (Info, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	return Info{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// Orientation returns the EXIF orientation tag (1-8). Images without EXIF,
// or with an unreadable block, report 1.
func Orientation(data []byte) int {
	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Msg("No EXIF orientation, assuming upright")
		return 1
	}
	o := int(exifData.Orientation)
	if o < 1 || o > 8 {
		return 1
	}
	return o
}

// Normalize decodes data, applies its EXIF orientation, scales it so neither
// edge exceeds maxEdge and encodes the result as JPEG.
func Normalize(data []byte, maxEdge int) ([]byte, Info, error) {
	if maxEdge <= 0 {
		maxEdge = DefaultMaxEdge
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Info{}, fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	orientation := 1
	if format == "jpeg" {
		orientation = Orientation(data)
	}
	img = applyOrientation(img, orientation)

	b := img.Bounds()
	w, h := fitWithin(b.Dx(), b.Dy(), maxEdge)
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, Info{}, fmt.Errorf("encode jpeg: %w", err)
	}

	log.Debug().
		Str("sourceFormat", format).
		Int("orientation", orientation).
		Int("origWidth", b.Dx()).
		Int("origHeight", b.Dy()).
		Int("width", w).
		Int("height", h).
		Int("bytes", buf.Len()).
		Msg("Photo normalized")

	return buf.Bytes(), Info{Width: w, Height: h, Format: "jpeg"}, nil
}

// fitWithin scales (w, h) down so the longer edge is at most maxEdge, keeping the
// aspect ratio. Images already within bounds are unchanged.
func fitWithin(w, h, maxEdge int) (int, int) {
	if w <= maxEdge && h <= maxEdge {
		return w, h
	}
	if w >= h {
		return maxEdge, max(1, h*maxEdge/w)
	}
	return max(1, w*maxEdge/h), maxEdge
}
