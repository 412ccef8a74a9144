// Package x11 captures an X11 desktop through the standard X tools:
// xrandr for displays, wmctrl and xprop for windows, ImageMagick's import for
// pixels. When the enumeration tools are missing it falls back to talking
// RandR/EWMH directly.
package x11

import (
	"context"
	"fmt"

	"github.com/bryanchriswhite/deskshot/internal/desktop"
	"github.com/bryanchriswhite/deskshot/internal/geometry"
	"github.com/bryanchriswhite/deskshot/internal/logger"
	"github.com/bryanchriswhite/deskshot/internal/runner"
)

// Name is the backend name
const Name = "x11"

// Tools names the executables the backend invokes
type Tools struct {
	Xrandr string `yaml:"xrandr"`
	Wmctrl string `yaml:"wmctrl"`
	Xprop  string `yaml:"xprop"`
	Import string `yaml:"import"`
}

// DefaultTools returns the standard executable names
func DefaultTools() Tools {
	return Tools{
		Xrandr: "xrandr",
		Wmctrl: "wmctrl",
		Xprop:  "xprop",
		Import: "import",
	}
}

// Backend implements desktop.Backend for X11
type Backend struct {
	runner runner.Runner
	tools  Tools
	namer  desktop.ProcessNamer
	dial   func() (*Protocol, error)
}

var _ desktop.Backend = (*Backend)(nil)

// Option configures a Backend
type Option func(*Backend)

// WithTools overrides executable names; empty fields keep their defaults
func WithTools(t Tools) Option {
	return func(b *Backend) {
		if t.Xrandr != "" {
			b.tools.Xrandr = t.Xrandr
		}
		if t.Wmctrl != "" {
			b.tools.Wmctrl = t.Wmctrl
		}
		if t.Xprop != "" {
			b.tools.Xprop = t.Xprop
		}
		if t.Import != "" {
			b.tools.Import = t.Import
		}
	}
}

// WithProcessNamer sets the pid → process name resolver
func WithProcessNamer(n desktop.ProcessNamer) Option {
	return func(b *Backend) { b.namer = n }
}

// WithProtocol sets the X11 protocol dialer used when tools are missing; nil disables the fallback
func WithProtocol(dial func() (*Protocol, error)) Option {
	return func(b *Backend) { b.dial = dial }
}

// New creates an X11 backend
func New(r runner.Runner, opts ...Option) *Backend {
	b := &Backend{
		runner: r,
		tools:  DefaultTools(),
		namer:  desktop.LookupProcessName,
		dial:   DialProtocol,
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

// Displays enumerates outputs with xrandr, or RandR when xrandr is missing
func (b *Backend) Displays(ctx context.Context) ([]desktop.DisplayInfo, error) {
	if !b.runner.LookPath(b.tools.Xrandr) {
		return b.withProtocol(func(p *Protocol) ([]desktop.DisplayInfo, error) {
			return p.Displays()
		})
	}

	out, err := runner.Output(ctx, b.runner, runner.Cmd(b.tools.Xrandr, "--query"))
	if err != nil {
		return nil, fmt.Errorf("xrandr query failed: %w", err)
	}
	displays := ParseXrandr(string(out))
	if len(displays) == 0 {
		return nil, fmt.Errorf("xrandr reported no active outputs")
	}
	return displays, nil
}

// Windows enumerates managed windows with wmctrl and reads state with xprop
func (b *Backend) Windows(ctx context.Context) ([]desktop.WindowInfo, error) {
	log := logger.WithBackend("x11-backend", Name)

	if !b.runner.LookPath(b.tools.Wmctrl) {
		log.Debug().Msg("wmctrl not found, using EWMH over the X protocol")
		windows, err := b.withProtocolWindows()
		if err != nil {
			return nil, err
		}
		desktop.ResolveProcessNames(windows, b.namer)
		return windows, nil
	}

	out, err := b.runner.Run(ctx, runner.Cmd(b.tools.Wmctrl, "-l", "-p", "-G"))
	if err != nil {
		return nil, fmt.Errorf("wmctrl list failed: %w", err)
	}
	windows := ParseWmctrl(string(out))

	for i := range windows {
		props, err := b.runner.Run(ctx, runner.Cmd(b.tools.Xprop, "-id", windows[i].ID, "_NET_WM_STATE", "_NET_FRAME_EXTENTS"))
		if err != nil {
			log.Debug().Str("window_id", windows[i].ID).Err(err).Msg("xprop failed, assuming visible without frame")
			continue
		}
		p := ParseXprop(string(props))
		windows[i].IsMinimized = p.Hidden
		if frame := p.FrameRect(windows[i].Bounds); frame != windows[i].Bounds {
			windows[i].FrameBounds = frame
		}
	}

	desktop.ResolveProcessNames(windows, b.namer)
	log.Debug().Int("count", len(windows)).Msg("Enumerated windows via wmctrl")
	return windows, nil
}

// CaptureScreen captures the root window, cropped to one display when given
func (b *Backend) CaptureScreen(ctx context.Context, display *desktop.DisplayInfo) ([]byte, error) {
	if display == nil {
		return b.importPNG(ctx, "-window", "root")
	}
	return b.importPNG(ctx, "-window", "root", "-crop", display.Rect().String(), "+repage")
}

// CaptureWindow captures a window; -frame asks import for the window-manager frame
func (b *Backend) CaptureWindow(ctx context.Context, window desktop.WindowInfo, includeFrame bool) ([]byte, error) {
	args := []string{"-window", window.ID}
	if includeFrame {
		args = append(args, "-frame")
	}
	return b.importPNG(ctx, args...)
}

// CaptureRegion captures a clipped rectangle of the root window
func (b *Backend) CaptureRegion(ctx context.Context, region geometry.Rect) ([]byte, error) {
	return b.importPNG(ctx, "-window", "root", "-crop", region.String(), "+repage")
}

func (b *Backend) importPNG(ctx context.Context, args ...string) ([]byte, error) {
	args = append(args, "-silent", "png:-")
	out, err := runner.Output(ctx, b.runner, runner.Cmd(b.tools.Import, args...))
	if err != nil {
		return nil, fmt.Errorf("import failed: %w", err)
	}
	return out, nil
}

func (b *Backend) withProtocol(fn func(*Protocol) ([]desktop.DisplayInfo, error)) ([]desktop.DisplayInfo, error) {
	if b.dial == nil {
		return nil, fmt.Errorf("%s: %w", b.tools.Xrandr, runner.ErrToolNotFound)
	}
	p, err := b.dial()
	if err != nil {
		return nil, err
	}
	defer p.Close()
	return fn(p)
}

func (b *Backend) withProtocolWindows() ([]desktop.WindowInfo, error) {
	if b.dial == nil {
		return nil, fmt.Errorf("%s: %w", b.tools.Wmctrl, runner.ErrToolNotFound)
	}
	p, err := b.dial()
	if err != nil {
		return nil, err
	}
	defer p.Close()
	return p.Windows()
}
