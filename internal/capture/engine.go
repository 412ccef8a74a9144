// Package capture is the engine façade: it detects the platform once, then
// validates, resolves and dispatches every capture request to the backend.
package capture

import (
	"context"
	"errors"

	"github.com/bryanchriswhite/deskshot/internal/desktop"
	"github.com/bryanchriswhite/deskshot/internal/errdefs"
	"github.com/bryanchriswhite/deskshot/internal/geometry"
	"github.com/bryanchriswhite/deskshot/internal/logger"
)

// Result is the outcome of a region capture
type Result struct {
	Data []byte
	Clip geometry.ClipResult
}

// Engine is safe for concurrent use; its only state is the dispatcher's
// write-once detection
type Engine struct {
	dispatcher *Dispatcher
	clipper    geometry.Clipper
	filter     desktop.WindowFilter
}

// Option configures an Engine
type Option func(*Engine)

// WithFallbackBounds sets the virtual desktop assumed when no display is known
func WithFallbackBounds(r geometry.Rect) Option {
	return func(e *Engine) { e.clipper = geometry.NewClipper(r) }
}

// WithWindowFilter hides windows the filter rejects from listing and capture
func WithWindowFilter(f desktop.WindowFilter) Option {
	return func(e *Engine) { e.filter = f }
}

// NewEngine creates an engine over a dispatcher
func NewEngine(d *Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		dispatcher: d,
		clipper:    geometry.NewClipper(geometry.DefaultFallback),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEngineForBackend creates an engine bound to a fixed backend
func NewEngineForBackend(b desktop.Backend, opts ...Option) *Engine {
	factory := func(Detection) (desktop.Backend, error) { return b, nil }
	d := NewDispatcher(Environment{}, b.Name(), factory)
	d.once.Do(func() {
		d.detection = Detection{Kind: Kind(b.Name()), Reason: "fixed backend"}
		d.backend = b
	})
	return NewEngine(d, opts...)
}

// Detection returns which backend the engine uses and why
func (e *Engine) Detection() (Detection, error) {
	return e.dispatcher.Detection()
}

func (e *Engine) directory() (*desktop.Directory, desktop.Backend, error) {
	b, err := e.dispatcher.Backend()
	if err != nil {
		return nil, nil, err
	}
	return desktop.NewDirectory(b, e.filter), b, nil
}

// Displays returns the current displays; never empty
func (e *Engine) Displays(ctx context.Context) ([]desktop.DisplayInfo, error) {
	dir, _, err := e.directory()
	if err != nil {
		return nil, err
	}
	return dir.GetDisplays(ctx), nil
}

// Windows returns the current windows; empty when enumeration fails
func (e *Engine) Windows(ctx context.Context) ([]desktop.WindowInfo, error) {
	dir, _, err := e.directory()
	if err != nil {
		return nil, err
	}
	return dir.GetWindows(ctx), nil
}

// WindowByID looks id up in a fresh snapshot; nil when absent
func (e *Engine) WindowByID(ctx context.Context, id string) (*desktop.WindowInfo, error) {
	dir, _, err := e.directory()
	if err != nil {
		return nil, err
	}
	return dir.GetWindowByID(ctx, id), nil
}

// WindowByTitle returns the first window whose title matches pattern
// (case-insensitive regexp); nil when nothing matches
func (e *Engine) WindowByTitle(ctx context.Context, pattern string) (*desktop.WindowInfo, error) {
	dir, _, err := e.directory()
	if err != nil {
		return nil, err
	}
	return dir.GetWindowByTitle(ctx, pattern)
}

// CaptureScreen captures one display by id, or the whole virtual desktop
// when displayID is empty
func (e *Engine) CaptureScreen(ctx context.Context, displayID string) ([]byte, error) {
	dir, b, err := e.directory()
	if err != nil {
		return nil, err
	}
	log := logger.WithBackend("engine", b.Name())

	var target *desktop.DisplayInfo
	if displayID != "" {
		displays := dir.GetDisplays(ctx)
		for i := range displays {
			if displays[i].ID == displayID {
				d := displays[i]
				target = &d
				break
			}
		}
		if target == nil {
			return nil, errdefs.DisplayNotFound(displayID)
		}
		// The synthetic fallback display is not something the backend knows
		if target.ID == desktop.FallbackDisplayID {
			target = nil
		}
	}

	log.Debug().Str("display_id", displayID).Msg("Capturing screen")
	data, err := b.CaptureScreen(ctx, target)
	if err != nil {
		return nil, wrapCapture(b.Name(), "screen", err)
	}
	return data, nil
}

// CaptureWindow captures a window by id. Minimized windows are rejected
// before the backend is asked for pixels.
func (e *Engine) CaptureWindow(ctx context.Context, windowID string, includeFrame bool) ([]byte, error) {
	dir, b, err := e.directory()
	if err != nil {
		return nil, err
	}
	log := logger.WithBackend("engine", b.Name())

	w := dir.GetWindowByID(ctx, windowID)
	if w == nil {
		return nil, errdefs.WindowNotFound("window not found", map[string]any{"window_id": windowID})
	}
	if w.IsMinimized {
		return nil, errdefs.WindowNotFound("window is minimized", map[string]any{
			"window_id": windowID,
			"title":     w.Title,
		})
	}

	log.Debug().
		Str("window_id", windowID).
		Str("title", w.Title).
		Bool("include_frame", includeFrame).
		Msg("Capturing window")
	data, err := b.CaptureWindow(ctx, *w, includeFrame)
	if err != nil {
		return nil, wrapCapture(b.Name(), "window", err)
	}
	return data, nil
}

// CaptureRegion validates the rectangle, clips it to the virtual desktop and
// captures the clipped rectangle. Malformed input fails before any display
// enumeration.
func (e *Engine) CaptureRegion(ctx context.Context, x, y, width, height int) (Result, error) {
	if err := geometry.ValidateCoordinates(x, y, width, height); err != nil {
		return Result{}, err
	}

	dir, b, err := e.directory()
	if err != nil {
		return Result{}, err
	}
	log := logger.WithBackend("engine", b.Name())

	displays := dir.GetDisplays(ctx)
	rects := desktop.Rects(displays)
	if len(displays) == 1 && displays[0].ID == desktop.FallbackDisplayID {
		rects = nil
	}
	clip, err := e.clipper.ClipToBoundaries(x, y, width, height, rects)
	if err != nil {
		return Result{}, err
	}
	if clip.WasClipped {
		log.Debug().
			Str("requested", clip.Original.String()).
			Str("clipped", clip.Region.String()).
			Msg("Region clipped to virtual desktop")
	}

	data, err := b.CaptureRegion(ctx, clip.Region)
	if err != nil {
		return Result{}, wrapCapture(b.Name(), "region", err)
	}
	return Result{Data: data, Clip: clip}, nil
}

// wrapCapture turns a backend failure into CaptureFailed, passing typed
// engine errors, cancellation and deadline expiry through unchanged
func wrapCapture(backend, op string, err error) error {
	if _, ok := errdefs.As(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errdefs.CaptureFailed(backend, op, err)
}
