// Package media loads images from disk in a form that can be handed to a
// vision model: raw bytes plus a content type, kept under the size and
// dimension limits of the model API.
package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io/fs"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxSize      = 5 << 20 // bytes, per image
	DefaultMaxDimension = 8000    // pixels, longest edge

	jpegQuality = 85
)

var (
	ErrNotFound    = errors.New("image not found")
	ErrTooLarge    = errors.New("image too large")
	ErrUnsupported = errors.New("unsupported image format")
)

// The formats every supported backend accepts.
var supported = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

type Image struct {
	Data      []byte
	MediaType string

	Width, Height int
}

// Base64 returns the standard base64 encoding of the image bytes.
func (im Image) Base64() string {
	return base64.StdEncoding.EncodeToString(im.Data)
}

// DataURL returns the image as a data: URL, the form OpenAI-compatible
// servers expect.
func (im Image) DataURL() string {
	return "data:" + im.MediaType + ";base64," + im.Base64()
}

// Loader applies a fixed set of limits to every image it loads. The zero
// value uses the package defaults.
type Loader struct {
	MaxSize      int
	MaxDimension int
}

func (l Loader) Load(path string) (Image, error) {
	maxSize, maxDim := l.MaxSize, l.MaxDimension
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}
	return Load(path, maxSize, maxDim)
}

// Load reads the image at path. Images over maxSize bytes or with an edge
// longer than maxDimension are downscaled and re-encoded as JPEG; if the
// result still exceeds the limits ErrTooLarge is returned.
func Load(path string, maxSize, maxDimension int) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Image{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Image{}, err
	}

	mt := mimetype.Detect(data)
	if !supported[mt.String()] {
		return Image{}, fmt.Errorf("%w: %s is %s", ErrUnsupported, path, mt.String())
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("decoding %s: %w", path, err)
	}

	im := Image{Data: data, MediaType: mt.String(), Width: cfg.Width, Height: cfg.Height}
	if len(data) <= maxSize && max(cfg.Width, cfg.Height) <= maxDimension {
		return im, nil
	}

	return shrink(im, maxSize, maxDimension)
}

// shrink scales the image down until it fits inside both limits. Each pass
// that is still over the byte limit reduces the edge length by a quarter.
func shrink(im Image, maxSize, maxDimension int) (Image, error) {
	src, _, err := image.Decode(bytes.NewReader(im.Data))
	if err != nil {
		return Image{}, err
	}

	scale := 1.0
	if longest := max(im.Width, im.Height); longest > maxDimension {
		scale = float64(maxDimension) / float64(longest)
	}

	for {
		w := max(1, int(float64(im.Width)*scale))
		h := max(1, int(float64(im.Height)*scale))

		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

		buf := new(bytes.Buffer)
		if err := jpeg.Encode(buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return Image{}, err
		}
		if buf.Len() <= maxSize {
			return Image{Data: buf.Bytes(), MediaType: "image/jpeg", Width: w, Height: h}, nil
		}
		if w == 1 && h == 1 {
			return Image{}, fmt.Errorf("%w: %d bytes after resizing, limit %d", ErrTooLarge, buf.Len(), maxSize)
		}
		scale *= 0.75
	}
}
