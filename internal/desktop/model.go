// Package desktop holds the normalized display and window records every
// capture backend produces, the Backend capability interface, and the
// directory semantics shared by all backends.
package desktop

import (
	"context"

	"github.com/bryanchriswhite/deskshot/internal/geometry"
)

// Resolution is a display size in pixels
type Resolution struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Position is a display's offset in the virtual desktop
type Position struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// DisplayInfo describes one display in a single enumeration snapshot
type DisplayInfo struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	Resolution Resolution `json:"resolution" yaml:"resolution"`
	Position   Position   `json:"position" yaml:"position"`
	IsPrimary  bool       `json:"is_primary" yaml:"is_primary"`
}

// Rect returns the display rectangle in virtual-desktop coordinates
func (d DisplayInfo) Rect() geometry.Rect {
	return geometry.Rect{
		X:      d.Position.X,
		Y:      d.Position.Y,
		Width:  d.Resolution.Width,
		Height: d.Resolution.Height,
	}
}

// WindowInfo describes one top-level window in a single enumeration snapshot.
// IDs are opaque and only meaningful within the snapshot that produced them.
type WindowInfo struct {
	ID          string        `json:"id" yaml:"id"`
	Title       string        `json:"title" yaml:"title"`
	ProcessName string        `json:"process_name" yaml:"process_name"`
	PID         int           `json:"pid" yaml:"pid"`
	Bounds      geometry.Rect `json:"bounds" yaml:"bounds"`
	// FrameBounds includes window-manager decorations; zero when the source
	// cannot tell frame and content apart.
	FrameBounds geometry.Rect `json:"frame_bounds,omitempty" yaml:"frame_bounds,omitempty"`
	IsMinimized bool          `json:"is_minimized" yaml:"is_minimized"`
}

// CaptureRect picks the rectangle to capture. The frame rectangle always
// contains the content rectangle, so the frame result is never smaller.
func (w WindowInfo) CaptureRect(includeFrame bool) geometry.Rect {
	if includeFrame && !w.FrameBounds.Empty() {
		return w.FrameBounds
	}
	return w.Bounds
}

// Backend is the capability set every platform backend implements
type Backend interface {
	// Name returns the backend name (e.g., "x11", "wayland")
	Name() string

	// Displays enumerates displays; errors are handled by Directory
	Displays(ctx context.Context) ([]DisplayInfo, error)

	// Windows enumerates top-level windows
	Windows(ctx context.Context) ([]WindowInfo, error)

	// CaptureScreen captures one display, or the whole virtual desktop when display is nil
	CaptureScreen(ctx context.Context, display *DisplayInfo) ([]byte, error)

	// CaptureWindow captures a resolved, visible window
	CaptureWindow(ctx context.Context, window WindowInfo, includeFrame bool) ([]byte, error)

	// CaptureRegion captures an already clipped, in-bounds rectangle
	CaptureRegion(ctx context.Context, region geometry.Rect) ([]byte, error)
}

// Rects returns the rectangles of the given displays
func Rects(displays []DisplayInfo) []geometry.Rect {
	rects := make([]geometry.Rect, len(displays))
	for i, d := range displays {
		rects[i] = d.Rect()
	}
	return rects
}
