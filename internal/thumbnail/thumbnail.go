// Package thumbnail decodes uploaded images and produces bounded, recompressed
// JPEG previews.
package thumbnail

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxDimension = 200
	DefaultQuality      = 70

	// MaxPixels bounds the decoded canvas. Checked against the header
	// before any pixel data is allocated.
	MaxPixels = 50_000_000
)

// ErrDecodeFailure is returned when the payload is not a decodable image.
var ErrDecodeFailure = errors.New("image decode failed")

// Dimensions is a pixel size.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Generator produces thumbnails bounded by MaxDimension, encoded at Quality.
type Generator struct {
	MaxDimension int
	Quality      int
}

func NewGenerator(maxDimension, quality int) *Generator {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Generator{MaxDimension: maxDimension, Quality: quality}
}

// Decode parses data as JPEG, PNG, GIF or WebP, applying EXIF orientation.
// Images above MaxPixels fail with ErrDecodeFailure without being decoded.
func Decode(data []byte) (image.Image, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecodeFailure, cfg.Width, cfg.Height, MaxPixels)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}
	return img, format, nil
}

// Fit scales (w, h) so the longer side equals max, preserving aspect ratio.
// Sizes already within max are returned unchanged. The shorter side is
// rounded to nearest and never drops below 1.
func Fit(w, h, max int) (int, int) {
	if w <= max && h <= max {
		return w, h
	}
	if w >= h {
		return max, scaleSide(h, max, w)
	}
	return scaleSide(w, max, h), max
}

func scaleSide(side, max, longer int) int {
	s := (side*max + longer/2) / longer
	if s < 1 {
		return 1
	}
	return s
}

// Make resizes img to fit MaxDimension and re-encodes it as JPEG. Images that
// already fit are still re-encoded so every thumbnail shares one compression level.
func (g *Generator) Make(img image.Image) ([]byte, Dimensions, error) {
	b := img.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), g.MaxDimension)

	out := img
	if w != b.Dx() || h != b.Dy() {
		out = imaging.Resize(img, w, h, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(g.Quality)); err != nil {
		return nil, Dimensions{}, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), Dimensions{Width: w, Height: h}, nil
}
