// Package imaging converts captured PNG bytes into the formats and sizes
// callers ask for. Backends always hand back PNG; conversion happens at the
// edge (CLI, HTTP API).
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
)

// Format is an output image encoding
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
	BMP  Format = "bmp"
	TIFF Format = "tiff"
)

// DefaultQuality is the JPEG quality used when none is given
const DefaultQuality = 85

// ErrEmptyCrop is returned when the crop rectangle misses the image
var ErrEmptyCrop = errors.New("crop rectangle does not intersect image")

// ParseFormat accepts png, jpeg/jpg, bmp and tiff/tif, case-insensitively
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return PNG, nil
	case "jpeg", "jpg":
		return JPEG, nil
	case "bmp":
		return BMP, nil
	case "tiff", "tif":
		return TIFF, nil
	default:
		return "", fmt.Errorf("unsupported image format %q", s)
	}
}

// ContentType returns the MIME type for f
func (f Format) ContentType() string {
	switch f {
	case JPEG:
		return "image/jpeg"
	case BMP:
		return "image/bmp"
	case TIFF:
		return "image/tiff"
	default:
		return "image/png"
	}
}

// Extension returns the conventional file extension, with the dot
func (f Format) Extension() string {
	if f == JPEG {
		return ".jpg"
	}
	if f == "" {
		return ".png"
	}
	return "." + string(f)
}

// Options controls Convert
type Options struct {
	Format Format
	// Quality is the JPEG quality, 1-100; 0 means DefaultQuality
	Quality int
	// MaxWidth and MaxHeight bound the output size, preserving aspect ratio; 0 means unbounded
	MaxWidth  int
	MaxHeight int
	// Label is drawn in the bottom-left corner after scaling
	Label string
}

func (o Options) passthrough() bool {
	return (o.Format == "" || o.Format == PNG) && o.MaxWidth <= 0 && o.MaxHeight <= 0 && o.Label == ""
}

// Convert re-encodes image data according to opts. PNG input with no
// scaling requested is returned unchanged.
func Convert(data []byte, opts Options) ([]byte, error) {
	if opts.passthrough() && isPNG(data) {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	img = Fit(img, opts.MaxWidth, opts.MaxHeight)
	img = Annotate(img, opts.Label)

	var buf bytes.Buffer
	if err := Encode(&buf, img, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes img to w in the requested format
func Encode(w io.Writer, img image.Image, opts Options) error {
	var err error
	switch opts.Format {
	case "", PNG:
		err = png.Encode(w, img)
	case JPEG:
		quality := opts.Quality
		if quality <= 0 {
			quality = DefaultQuality
		}
		if quality > 100 {
			quality = 100
		}
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case BMP:
		err = bmp.Encode(w, img)
	case TIFF:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("unsupported image format %q", opts.Format)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", opts.Format, err)
	}
	return nil
}

// Fit scales img down to fit within maxWidth x maxHeight. It never upscales.
func Fit(img image.Image, maxWidth, maxHeight int) image.Image {
	b := img.Bounds()
	w, h := FitSize(b.Dx(), b.Dy(), maxWidth, maxHeight)
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// FitSize returns the largest size no bigger than the bounds that keeps the
// aspect ratio of width x height
func FitSize(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= 0 || height <= 0 {
		return width, height
	}
	scale := 1.0
	if maxWidth > 0 && width > maxWidth {
		scale = float64(maxWidth) / float64(width)
	}
	if maxHeight > 0 && float64(height)*scale > float64(maxHeight) {
		scale = float64(maxHeight) / float64(height)
	}
	if scale >= 1 {
		return width, height
	}
	w := int(float64(width)*scale + 0.5)
	h := int(float64(height)*scale + 0.5)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// Crop cuts r out of the image and returns it as PNG. r is clipped to the
// image bounds first.
func Crop(data []byte, r image.Rectangle) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return nil, ErrEmptyCrop
	}

	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Dimensions reads the size of an encoded image without decoding pixels
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func isPNG(data []byte) bool {
	return bytes.HasPrefix(data, pngMagic)
}
