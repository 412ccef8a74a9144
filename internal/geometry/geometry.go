// Package geometry validates region requests and clips them against the
// virtual desktop, the union of every display rectangle.
package geometry

import (
	"fmt"
	"math"

	"github.com/bryanchriswhite/deskshot/internal/errdefs"
)

// Rect describes a rectangle in virtual-desktop coordinates
type Rect struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Right returns the exclusive right edge, saturated at the int range
func (r Rect) Right() int { return edge(r.X, r.Width) }

// Bottom returns the exclusive bottom edge, saturated at the int range
func (r Rect) Bottom() int { return edge(r.Y, r.Height) }

// edge adds an extent to an origin without wrapping around
func edge(origin, extent int) int {
	if extent > 0 && origin > math.MaxInt-extent {
		return math.MaxInt
	}
	if extent < 0 && origin < math.MinInt-extent {
		return math.MinInt
	}
	return origin + extent
}

// Empty reports whether the rectangle has no area
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Contains reports whether o lies entirely inside r
func (r Rect) Contains(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y && o.Right() <= r.Right() && o.Bottom() <= r.Bottom()
}

// ContainsPoint reports whether (x, y) lies inside r
func (r Rect) ContainsPoint(x, y int) bool {
	return x >= r.X && x < r.Right() && y >= r.Y && y < r.Bottom()
}

// Intersect returns the overlap of r and o; the result is empty when they do not overlap
func (r Rect) Intersect(o Rect) Rect {
	x1 := max(r.X, o.X)
	y1 := max(r.Y, o.Y)
	x2 := min(r.Right(), o.Right())
	y2 := min(r.Bottom(), o.Bottom())
	return Rect{X: x1, Y: y1, Width: max(0, x2-x1), Height: max(0, y2-y1)}
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}

// Bounds is the bounding box of the virtual desktop
type Bounds struct {
	MinX int `json:"min_x"`
	MinY int `json:"min_y"`
	MaxX int `json:"max_x"`
	MaxY int `json:"max_y"`
}

// Rect converts the bounds to a rectangle
func (b Bounds) Rect() Rect {
	return Rect{X: b.MinX, Y: b.MinY, Width: b.MaxX - b.MinX, Height: b.MaxY - b.MinY}
}

// DefaultFallback is used when no display could be enumerated
var DefaultFallback = Rect{X: 0, Y: 0, Width: 1920, Height: 1080}

// ClipResult is the outcome of a successful clip
type ClipResult struct {
	Region     Rect `json:"region"`
	Original   Rect `json:"original"`
	WasClipped bool `json:"was_clipped"`
}

// Clipper clips regions; Fallback is the box used for an empty display list
type Clipper struct {
	Fallback Rect
}

// NewClipper returns a clipper with the given fallback box. An empty box selects DefaultFallback.
func NewClipper(fallback Rect) Clipper {
	if fallback.Empty() {
		fallback = DefaultFallback
	}
	return Clipper{Fallback: fallback}
}

// ValidateCoordinates rejects a negative origin or a non-positive extent
func ValidateCoordinates(x, y, width, height int) error {
	if x < 0 || y < 0 {
		return errdefs.InvalidRegion(
			fmt.Sprintf("region origin must be non-negative, got (%d, %d)", x, y),
			x, y, width, height)
	}
	if width <= 0 || height <= 0 {
		return errdefs.InvalidRegion(
			fmt.Sprintf("region size must be positive, got %dx%d", width, height),
			x, y, width, height)
	}
	return nil
}

// VirtualDesktop returns the union of the display rectangles, or the fallback when there are none
func (c Clipper) VirtualDesktop(displays []Rect) Bounds {
	if len(displays) == 0 {
		fb := c.Fallback
		if fb.Empty() {
			fb = DefaultFallback
		}
		return Bounds{MinX: fb.X, MinY: fb.Y, MaxX: fb.Right(), MaxY: fb.Bottom()}
	}

	b := Bounds{
		MinX: displays[0].X,
		MinY: displays[0].Y,
		MaxX: displays[0].Right(),
		MaxY: displays[0].Bottom(),
	}
	for _, d := range displays[1:] {
		b.MinX = min(b.MinX, d.X)
		b.MinY = min(b.MinY, d.Y)
		b.MaxX = max(b.MaxX, d.Right())
		b.MaxY = max(b.MaxY, d.Bottom())
	}
	return b
}

// ClipToBoundaries validates the request and clips it to the virtual desktop.
// A request with no overlap fails with an InvalidRegion error; a zero-area result is never returned.
func (c Clipper) ClipToBoundaries(x, y, width, height int, displays []Rect) (ClipResult, error) {
	if err := ValidateCoordinates(x, y, width, height); err != nil {
		return ClipResult{}, err
	}

	bounds := c.VirtualDesktop(displays)

	clippedX := max(bounds.MinX, x)
	clippedY := max(bounds.MinY, y)
	clippedRight := min(bounds.MaxX, edge(x, width))
	clippedBottom := min(bounds.MaxY, edge(y, height))
	clippedWidth := max(0, clippedRight-clippedX)
	clippedHeight := max(0, clippedBottom-clippedY)

	if clippedWidth == 0 || clippedHeight == 0 {
		e := errdefs.InvalidRegion("region completely outside boundaries", x, y, width, height)
		e.Details["bounds"] = bounds
		return ClipResult{}, e
	}

	original := Rect{X: x, Y: y, Width: width, Height: height}
	clipped := Rect{X: clippedX, Y: clippedY, Width: clippedWidth, Height: clippedHeight}

	return ClipResult{
		Region:     clipped,
		Original:   original,
		WasClipped: clipped != original,
	}, nil
}

// IsWithinBounds reports whether the request lies entirely inside the virtual desktop
func (c Clipper) IsWithinBounds(x, y, width, height int, displays []Rect) bool {
	if width <= 0 || height <= 0 {
		return false
	}
	return c.VirtualDesktop(displays).Rect().Contains(Rect{X: x, Y: y, Width: width, Height: height})
}

// ClipToBoundaries clips with the default fallback box
func ClipToBoundaries(x, y, width, height int, displays []Rect) (ClipResult, error) {
	return NewClipper(DefaultFallback).ClipToBoundaries(x, y, width, height, displays)
}

// IsWithinBounds checks containment with the default fallback box
func IsWithinBounds(x, y, width, height int, displays []Rect) bool {
	return NewClipper(DefaultFallback).IsWithinBounds(x, y, width, height, displays)
}
