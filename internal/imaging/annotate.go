package imaging

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const labelPadding = 4

var (
	labelText       = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	labelBackground = color.RGBA{A: 160}
)

// Annotate draws text in the bottom-left corner of img on a translucent
// band. The label is cut off at the right edge of narrow images.
func Annotate(img image.Image, text string) image.Image {
	if text == "" {
		return img
	}

	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(labelText),
		Face: face,
	}

	textWidth := d.MeasureString(text).Ceil()
	lineHeight := face.Metrics().Height.Ceil()
	band := image.Rect(0, b.Dy()-lineHeight-labelPadding*2, textWidth+labelPadding*2, b.Dy()).Intersect(dst.Bounds())
	if band.Empty() {
		return dst
	}
	draw.Draw(dst, band, image.NewUniform(labelBackground), image.Point{}, draw.Over)

	d.Dot = fixed.Point26_6{
		X: fixed.I(band.Min.X + labelPadding),
		Y: fixed.I(band.Max.Y-labelPadding) - face.Metrics().Descent,
	}
	d.DrawString(text)
	return dst
}
