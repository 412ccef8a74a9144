// Package wayland captures a Wayland session. Wayland has no common
// enumeration protocol, so the backend runs in one of several compositor
// modes, each with its own tooling:
//
//	hyprland  hyprctl + grim
//	sway      swaymsg + grim
//	wlroots   wlr-randr + grim (no window list)
//	kde       kscreen-doctor + kdotool, pixels through the portal
//	portal    Mutter DisplayConfig, pixels through the portal (GNOME)
package wayland

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/bryanchriswhite/deskshot/internal/desktop"
	"github.com/bryanchriswhite/deskshot/internal/geometry"
	"github.com/bryanchriswhite/deskshot/internal/imaging"
	"github.com/bryanchriswhite/deskshot/internal/logger"
	"github.com/bryanchriswhite/deskshot/internal/runner"
)

// Name is the backend name
const Name = "wayland"

// Mode selects the compositor-specific tooling
type Mode string

const (
	ModeHyprland Mode = "hyprland"
	ModeSway     Mode = "sway"
	ModeWlroots  Mode = "wlroots"
	ModeKDE      Mode = "kde"
	ModePortal   Mode = "portal"
)

// ErrNoWindowList is returned by Windows in modes whose compositor exposes
// no window list to clients
var ErrNoWindowList = errors.New("compositor does not expose a window list")

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeHyprland, ModeSway, ModeWlroots, ModeKDE, ModePortal:
		return m, nil
	default:
		return "", fmt.Errorf("unknown wayland mode %q", s)
	}
}

// Tools names the executables the backend invokes
type Tools struct {
	Grim          string `yaml:"grim"`
	Hyprctl       string `yaml:"hyprctl"`
	Swaymsg       string `yaml:"swaymsg"`
	Kdotool       string `yaml:"kdotool"`
	KscreenDoctor string `yaml:"kscreen_doctor"`
	WlrRandr      string `yaml:"wlr_randr"`
}

// DefaultTools returns the standard executable names
func DefaultTools() Tools {
	return Tools{
		Grim:          "grim",
		Hyprctl:       "hyprctl",
		Swaymsg:       "swaymsg",
		Kdotool:       "kdotool",
		KscreenDoctor: "kscreen-doctor",
		WlrRandr:      "wlr-randr",
	}
}

// Backend implements desktop.Backend for Wayland compositors
type Backend struct {
	mode   Mode
	runner runner.Runner
	tools  Tools
	namer  desktop.ProcessNamer
	portal func() (PortalClient, error)
}

var _ desktop.Backend = (*Backend)(nil)

// Option configures a Backend
type Option func(*Backend)

// WithTools overrides executable names; empty fields keep their defaults
func WithTools(t Tools) Option {
	return func(b *Backend) {
		set := func(dst *string, v string) {
			if v != "" {
				*dst = v
			}
		}
		set(&b.tools.Grim, t.Grim)
		set(&b.tools.Hyprctl, t.Hyprctl)
		set(&b.tools.Swaymsg, t.Swaymsg)
		set(&b.tools.Kdotool, t.Kdotool)
		set(&b.tools.KscreenDoctor, t.KscreenDoctor)
		set(&b.tools.WlrRandr, t.WlrRandr)
	}
}

// WithProcessNamer sets the pid → process name resolver
func WithProcessNamer(n desktop.ProcessNamer) Option {
	return func(b *Backend) { b.namer = n }
}

// WithPortal sets the session-bus dialer used by the kde and portal modes
func WithPortal(dial func() (PortalClient, error)) Option {
	return func(b *Backend) { b.portal = dial }
}

// New creates a Wayland backend in the given mode
func New(mode Mode, r runner.Runner, opts ...Option) *Backend {
	b := &Backend{
		mode:   mode,
		runner: r,
		tools:  DefaultTools(),
		namer:  desktop.LookupProcessName,
		portal: DialPortal,
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

// Mode returns the compositor mode
func (b *Backend) Mode() Mode {
	return b.mode
}

// Displays enumerates outputs with the mode's tool
func (b *Backend) Displays(ctx context.Context) ([]desktop.DisplayInfo, error) {
	switch b.mode {
	case ModeHyprland:
		out, err := runner.Output(ctx, b.runner, runner.Cmd(b.tools.Hyprctl, "monitors", "-j"))
		if err != nil {
			return nil, fmt.Errorf("hyprctl monitors failed: %w", err)
		}
		return ParseHyprMonitors(out)
	case ModeSway:
		out, err := runner.Output(ctx, b.runner, runner.Cmd(b.tools.Swaymsg, "-t", "get_outputs", "-r"))
		if err != nil {
			return nil, fmt.Errorf("swaymsg get_outputs failed: %w", err)
		}
		return ParseSwayOutputs(out)
	case ModeKDE:
		out, err := runner.Output(ctx, b.runner, runner.Cmd(b.tools.KscreenDoctor, "-j"))
		if err != nil {
			return nil, fmt.Errorf("kscreen-doctor failed: %w", err)
		}
		return ParseKscreenDoctor(out)
	case ModePortal:
		p, err := b.dialPortal()
		if err != nil {
			return nil, err
		}
		defer p.Close()
		return p.Displays(ctx)
	default:
		out, err := runner.Output(ctx, b.runner, runner.Cmd(b.tools.WlrRandr, "--json"))
		if err != nil {
			return nil, fmt.Errorf("wlr-randr failed: %w", err)
		}
		return ParseWlrRandr(out)
	}
}

// Windows enumerates toplevels with the mode's tool
func (b *Backend) Windows(ctx context.Context) ([]desktop.WindowInfo, error) {
	var (
		windows []desktop.WindowInfo
		err     error
	)
	switch b.mode {
	case ModeHyprland:
		windows, err = b.hyprWindows(ctx)
	case ModeSway:
		var out []byte
		out, err = runner.Output(ctx, b.runner, runner.Cmd(b.tools.Swaymsg, "-t", "get_tree", "-r"))
		if err != nil {
			return nil, fmt.Errorf("swaymsg get_tree failed: %w", err)
		}
		windows, err = ParseSwayTree(out)
	case ModeKDE:
		windows, err = b.kdeWindows(ctx)
	default:
		return nil, fmt.Errorf("%s mode: %w", b.mode, ErrNoWindowList)
	}
	if err != nil {
		return nil, err
	}
	desktop.ResolveProcessNames(windows, b.namer)
	return windows, nil
}

func (b *Backend) hyprWindows(ctx context.Context) ([]desktop.WindowInfo, error) {
	log := logger.WithBackend("wayland-backend", Name)

	out, err := runner.Output(ctx, b.runner, runner.Cmd(b.tools.Hyprctl, "clients", "-j"))
	if err != nil {
		return nil, fmt.Errorf("hyprctl clients failed: %w", err)
	}

	border := 0
	if opt, err := runner.Output(ctx, b.runner, runner.Cmd(b.tools.Hyprctl, "getoption", "general:border_size", "-j")); err == nil {
		if border, err = ParseHyprOption(opt); err != nil {
			log.Debug().Err(err).Msg("Ignoring unreadable border size")
			border = 0
		}
	}
	return ParseHyprClients(out, border)
}

// kdeWindows follows kdotool's one-call-per-property interface. kdotool has
// no state query, so the minimized flag comes from KWin over the session bus;
// a window whose state cannot be read is left out.
func (b *Backend) kdeWindows(ctx context.Context) ([]desktop.WindowInfo, error) {
	log := logger.WithBackend("wayland-backend", Name)

	out, err := b.runner.Run(ctx, runner.Cmd(b.tools.Kdotool, "search", "--name", "."))
	if err != nil {
		return nil, fmt.Errorf("kdotool search failed: %w", err)
	}
	ids := ParseKdotoolSearch(string(out))
	if len(ids) == 0 {
		return []desktop.WindowInfo{}, nil
	}

	kwin, err := b.dialPortal()
	if err != nil {
		return nil, fmt.Errorf("cannot read KWin window state: %w", err)
	}
	defer kwin.Close()

	windows := make([]desktop.WindowInfo, 0, len(ids))
	for _, id := range ids {
		geom, err := b.runner.Run(ctx, runner.Cmd(b.tools.Kdotool, "getwindowgeometry", id))
		if err != nil {
			log.Debug().Str("window_id", id).Err(err).Msg("Skipping window without geometry")
			continue
		}
		minimized, err := kwin.WindowMinimized(ctx, id)
		if err != nil {
			log.Debug().Str("window_id", id).Err(err).Msg("Skipping window with unknown state")
			continue
		}
		name, _ := b.runner.Run(ctx, runner.Cmd(b.tools.Kdotool, "getwindowname", id))
		pidOut, _ := b.runner.Run(ctx, runner.Cmd(b.tools.Kdotool, "getwindowpid", id))

		w := desktop.WindowInfo{
			ID:          id,
			Title:       trimLine(name),
			PID:         atoiOrZero(trimLine(pidOut)),
			Bounds:      ParseKdotoolGeometry(string(geom)),
			IsMinimized: minimized,
		}
		if w.Bounds.Empty() {
			continue
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// CaptureScreen captures every output, or one output by name
func (b *Backend) CaptureScreen(ctx context.Context, display *desktop.DisplayInfo) ([]byte, error) {
	if b.usesPortal() {
		if display == nil {
			return b.portalShot(ctx)
		}
		return b.portalCrop(ctx, display.Rect())
	}
	if display == nil {
		return b.grim(ctx)
	}
	return b.grim(ctx, "-o", display.ID)
}

// CaptureWindow captures the window's rectangle; compositors give clients no
// per-window capture, so this is a region capture of the window bounds
func (b *Backend) CaptureWindow(ctx context.Context, window desktop.WindowInfo, includeFrame bool) ([]byte, error) {
	return b.CaptureRegion(ctx, window.CaptureRect(includeFrame))
}

// CaptureRegion captures a rectangle in layout coordinates
func (b *Backend) CaptureRegion(ctx context.Context, region geometry.Rect) ([]byte, error) {
	if b.usesPortal() {
		return b.portalCrop(ctx, region)
	}
	return b.grim(ctx, "-g", GrimGeometry(region))
}

// GrimGeometry renders a rect in slurp's "X,Y WxH" format
func GrimGeometry(r geometry.Rect) string {
	return fmt.Sprintf("%d,%d %dx%d", r.X, r.Y, r.Width, r.Height)
}

func (b *Backend) grim(ctx context.Context, args ...string) ([]byte, error) {
	args = append([]string{"-t", "png"}, args...)
	args = append(args, "-")
	out, err := runner.Output(ctx, b.runner, runner.Cmd(b.tools.Grim, args...))
	if err != nil {
		return nil, fmt.Errorf("grim failed: %w", err)
	}
	return out, nil
}

func (b *Backend) usesPortal() bool {
	return b.mode == ModeKDE || b.mode == ModePortal
}

func (b *Backend) dialPortal() (PortalClient, error) {
	if b.portal == nil {
		return nil, fmt.Errorf("no session bus available")
	}
	return b.portal()
}

func (b *Backend) portalShot(ctx context.Context) ([]byte, error) {
	p, err := b.dialPortal()
	if err != nil {
		return nil, err
	}
	defer p.Close()
	return p.Screenshot(ctx)
}

// portalCrop takes a full-desktop portal screenshot and cuts region out of
// it. The screenshot's origin is the top-left of the virtual desktop.
func (b *Backend) portalCrop(ctx context.Context, region geometry.Rect) ([]byte, error) {
	log := logger.WithBackend("wayland-backend", Name)

	origin := geometry.Bounds{}
	if displays, err := b.Displays(ctx); err == nil && len(displays) > 0 {
		origin = geometry.NewClipper(geometry.DefaultFallback).VirtualDesktop(desktop.Rects(displays))
	} else {
		log.Debug().Err(err).Msg("Assuming the virtual desktop starts at the origin")
	}

	shot, err := b.portalShot(ctx)
	if err != nil {
		return nil, err
	}

	r := image.Rect(region.X-origin.MinX, region.Y-origin.MinY, region.Right()-origin.MinX, region.Bottom()-origin.MinY)
	return imaging.Crop(shot, r)
}
