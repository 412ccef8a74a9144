// Package native captures through the operating system's own screen API
// (github.com/kbinani/screenshot) on Windows and macOS hosts.
package native

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"strconv"

	"github.com/kbinani/screenshot"

	"github.com/bryanchriswhite/deskshot/internal/capture/powershell"
	"github.com/bryanchriswhite/deskshot/internal/desktop"
	"github.com/bryanchriswhite/deskshot/internal/geometry"
	"github.com/bryanchriswhite/deskshot/internal/imaging"
	"github.com/bryanchriswhite/deskshot/internal/logger"
	"github.com/bryanchriswhite/deskshot/internal/runner"
)

// Name is the backend name
const Name = "native"

// ErrNoWindowList is returned by Windows on platforms without a window lister
var ErrNoWindowList = errors.New("window enumeration is not supported on this platform")

// Screen is the capture API; the default implementation is kbinani/screenshot
type Screen interface {
	NumActiveDisplays() int
	GetDisplayBounds(index int) image.Rectangle
	CaptureRect(r image.Rectangle) (*image.RGBA, error)
}

type kbinaniScreen struct{}

func (kbinaniScreen) NumActiveDisplays() int { return screenshot.NumActiveDisplays() }

func (kbinaniScreen) GetDisplayBounds(i int) image.Rectangle { return screenshot.GetDisplayBounds(i) }

func (kbinaniScreen) CaptureRect(r image.Rectangle) (*image.RGBA, error) {
	return screenshot.CaptureRect(r)
}

// WindowLister enumerates top-level windows
type WindowLister interface {
	Windows(ctx context.Context) ([]desktop.WindowInfo, error)
}

// Backend implements desktop.Backend with the native screen API
type Backend struct {
	screen  Screen
	windows WindowLister
}

var _ desktop.Backend = (*Backend)(nil)

// Option configures a Backend
type Option func(*Backend)

// WithScreen replaces the screen API
func WithScreen(s Screen) Option {
	return func(b *Backend) { b.screen = s }
}

// WithWindowLister sets the window enumerator
func WithWindowLister(w WindowLister) Option {
	return func(b *Backend) { b.windows = w }
}

// New creates a native backend. On Windows, windows are listed through the
// local PowerShell; elsewhere there is no lister unless one is supplied.
func New(r runner.Runner, powershellExe string, opts ...Option) *Backend {
	b := &Backend{screen: kbinaniScreen{}}
	if runtime.GOOS == "windows" && r != nil {
		b.windows = powershell.NewClient(r, powershellExe)
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the backend name
func (b *Backend) Name() string {
	return Name
}

// Displays enumerates active displays. The display at the origin is the
// main one on both Windows and macOS.
func (b *Backend) Displays(_ context.Context) ([]desktop.DisplayInfo, error) {
	n := b.screen.NumActiveDisplays()
	if n <= 0 {
		return nil, fmt.Errorf("no active displays")
	}

	displays := make([]desktop.DisplayInfo, 0, n)
	for i := 0; i < n; i++ {
		r := b.screen.GetDisplayBounds(i)
		if r.Empty() {
			continue
		}
		displays = append(displays, desktop.DisplayInfo{
			ID:         strconv.Itoa(i),
			Name:       fmt.Sprintf("Display %d", i+1),
			Resolution: desktop.Resolution{Width: r.Dx(), Height: r.Dy()},
			Position:   desktop.Position{X: r.Min.X, Y: r.Min.Y},
			IsPrimary:  r.Min == image.Point{},
		})
	}
	return displays, nil
}

// Windows enumerates windows through the configured lister
func (b *Backend) Windows(ctx context.Context) ([]desktop.WindowInfo, error) {
	if b.windows == nil {
		return nil, fmt.Errorf("%s: %w", runtime.GOOS, ErrNoWindowList)
	}
	return b.windows.Windows(ctx)
}

// CaptureScreen captures one display, or the union of all of them
func (b *Backend) CaptureScreen(ctx context.Context, display *desktop.DisplayInfo) ([]byte, error) {
	if display != nil {
		return b.capture(ctx, display.Rect())
	}

	var union image.Rectangle
	for i := 0; i < b.screen.NumActiveDisplays(); i++ {
		union = union.Union(b.screen.GetDisplayBounds(i))
	}
	if union.Empty() {
		return nil, fmt.Errorf("no active displays")
	}
	return b.capture(ctx, geometry.Rect{X: union.Min.X, Y: union.Min.Y, Width: union.Dx(), Height: union.Dy()})
}

// CaptureWindow captures the window's screen rectangle. The API has no
// per-window capture, so occluding windows appear in the result.
func (b *Backend) CaptureWindow(ctx context.Context, window desktop.WindowInfo, includeFrame bool) ([]byte, error) {
	return b.capture(ctx, window.CaptureRect(includeFrame))
}

// CaptureRegion captures a rectangle of the virtual screen
func (b *Backend) CaptureRegion(ctx context.Context, region geometry.Rect) ([]byte, error) {
	return b.capture(ctx, region)
}

func (b *Backend) capture(ctx context.Context, r geometry.Rect) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Empty() {
		return nil, fmt.Errorf("empty capture rectangle %s", r)
	}

	img, err := b.screen.CaptureRect(image.Rect(r.X, r.Y, r.Right(), r.Bottom()))
	if err != nil {
		return nil, fmt.Errorf("screen capture failed: %w", err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.Options{Format: imaging.PNG}); err != nil {
		return nil, err
	}
	logger.WithBackend("native-backend", Name).Debug().
		Str("rect", r.String()).
		Int("bytes", buf.Len()).
		Msg("Captured rectangle")
	return buf.Bytes(), nil
}
