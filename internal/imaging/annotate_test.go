package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"
)

func TestAnnotate(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 200, 50))
	draw.Draw(src, src.Bounds(), image.NewUniform(color.RGBA{R: 200, A: 255}), image.Point{}, draw.Src)

	if got := Annotate(src, ""); got != image.Image(src) {
		t.Fatalf("empty label should return the input")
	}

	out := Annotate(src, "deskshot")
	if out.Bounds() != src.Bounds() {
		t.Fatalf("bounds = %v, want %v", out.Bounds(), src.Bounds())
	}
	if out.At(1, 48) == src.At(1, 48) {
		t.Fatalf("band not drawn in bottom-left corner")
	}
	if out.At(199, 0) != src.At(199, 0) {
		t.Fatalf("pixel outside the band changed")
	}
	if src.RGBAAt(1, 48) != (color.RGBA{R: 200, A: 255}) {
		t.Fatalf("source image was modified")
	}

	// Smaller than the band
	tiny := Annotate(image.NewRGBA(image.Rect(0, 0, 3, 3)), "too long to fit")
	if tiny.Bounds().Dx() != 3 {
		t.Fatalf("tiny bounds = %v", tiny.Bounds())
	}
}

func TestConvert_Label(t *testing.T) {
	data := testPNG(t, 120, 40)
	out, err := Convert(data, Options{Format: PNG, Label: "12:00"})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if bytes.Equal(out, data) {
		t.Fatalf("labelled PNG should be re-encoded")
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 120 || img.Bounds().Dy() != 40 {
		t.Fatalf("size = %v", img.Bounds())
	}
}
