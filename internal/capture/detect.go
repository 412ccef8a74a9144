package capture

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/bryanchriswhite/deskshot/internal/capture/native"
	"github.com/bryanchriswhite/deskshot/internal/capture/wayland"
	"github.com/bryanchriswhite/deskshot/internal/capture/wsl"
	"github.com/bryanchriswhite/deskshot/internal/capture/x11"
	"github.com/bryanchriswhite/deskshot/internal/desktop"
	"github.com/bryanchriswhite/deskshot/internal/logger"
	"github.com/bryanchriswhite/deskshot/internal/runner"
)

// Kind names a backend family
type Kind string

const (
	KindX11     Kind = x11.Name
	KindWayland Kind = wayland.Name
	KindNative  Kind = native.Name
	KindWSL     Kind = wsl.Name
)

// BackendEnv is the environment variable that overrides detection
const BackendEnv = "DESKSHOT_BACKEND"

const osReleasePath = "/proc/sys/kernel/osrelease"

// Environment is what detection looks at. Tests substitute their own.
type Environment struct {
	GOOS     string
	Getenv   func(key string) string
	ReadFile func(path string) ([]byte, error)
}

// SystemEnvironment returns the real process environment
func SystemEnvironment() Environment {
	return Environment{
		GOOS:     runtime.GOOS,
		Getenv:   os.Getenv,
		ReadFile: os.ReadFile,
	}
}

// MapEnvironment returns a Linux environment backed by vars; osrelease is
// the content of /proc/sys/kernel/osrelease
func MapEnvironment(vars map[string]string, osrelease string) Environment {
	return Environment{
		GOOS:   "linux",
		Getenv: func(k string) string { return vars[k] },
		ReadFile: func(path string) ([]byte, error) {
			if path == osReleasePath && osrelease != "" {
				return []byte(osrelease), nil
			}
			return nil, os.ErrNotExist
		},
	}
}

func (e Environment) getenv(key string) string {
	if e.Getenv == nil {
		return ""
	}
	return e.Getenv(key)
}

// Detection is the outcome of backend detection
type Detection struct {
	Kind Kind `json:"kind" yaml:"kind"`
	// WaylandMode is set when Kind is KindWayland
	WaylandMode wayland.Mode `json:"wayland_mode,omitempty" yaml:"wayland_mode,omitempty"`
	// Reason names the signal that decided the kind
	Reason string `json:"reason" yaml:"reason"`
}

func (d Detection) String() string {
	if d.WaylandMode != "" {
		return string(d.Kind) + ":" + string(d.WaylandMode)
	}
	return string(d.Kind)
}

// ParseOverride parses an explicit backend choice: "x11", "wayland",
// "wayland:sway", "native" or "wsl"
func ParseOverride(s string) (Kind, wayland.Mode, error) {
	kind, mode, _ := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	switch Kind(kind) {
	case KindX11, KindNative, KindWSL:
		if mode != "" {
			return "", "", fmt.Errorf("backend %q takes no mode", kind)
		}
		return Kind(kind), "", nil
	case KindWayland:
		if mode == "" {
			return KindWayland, "", nil
		}
		m, err := wayland.ParseMode(mode)
		if err != nil {
			return "", "", err
		}
		return KindWayland, m, nil
	default:
		return "", "", fmt.Errorf("unknown backend %q (want x11, wayland[:mode], native or wsl)", s)
	}
}

// Detect picks the backend for env. A non-empty override (or $DESKSHOT_BACKEND)
// wins; otherwise the first matching signal decides:
//
//	Windows or macOS host            native
//	WSL guest                        wsl
//	WAYLAND_DISPLAY / session=wayland wayland
//	DISPLAY / session=x11            x11
//	anything else                    x11
func Detect(env Environment, override string) (Detection, error) {
	if override == "" {
		override = env.getenv(BackendEnv)
	}
	if override != "" {
		kind, mode, err := ParseOverride(override)
		if err != nil {
			return Detection{}, err
		}
		d := Detection{Kind: kind, WaylandMode: mode, Reason: "explicit override"}
		if kind == KindWayland && mode == "" {
			d.WaylandMode = DetectWaylandMode(env)
		}
		return d, nil
	}

	switch env.GOOS {
	case "windows", "darwin":
		return Detection{Kind: KindNative, Reason: "host os " + env.GOOS}, nil
	}

	if isWSL(env) {
		return Detection{Kind: KindWSL, Reason: "wsl guest"}, nil
	}

	session := strings.ToLower(env.getenv("XDG_SESSION_TYPE"))
	if env.getenv("WAYLAND_DISPLAY") != "" || session == "wayland" {
		return Detection{Kind: KindWayland, WaylandMode: DetectWaylandMode(env), Reason: "wayland session"}, nil
	}
	if env.getenv("DISPLAY") != "" || session == "x11" {
		return Detection{Kind: KindX11, Reason: "x11 session"}, nil
	}
	return Detection{Kind: KindX11, Reason: "default"}, nil
}

// DetectWaylandMode picks the compositor tooling from the session environment
func DetectWaylandMode(env Environment) wayland.Mode {
	if env.getenv("HYPRLAND_INSTANCE_SIGNATURE") != "" {
		return wayland.ModeHyprland
	}
	if env.getenv("SWAYSOCK") != "" {
		return wayland.ModeSway
	}
	current := strings.ToUpper(env.getenv("XDG_CURRENT_DESKTOP"))
	switch {
	case strings.Contains(current, "KDE"):
		return wayland.ModeKDE
	case strings.Contains(current, "GNOME"):
		return wayland.ModePortal
	}
	return wayland.ModeWlroots
}

func isWSL(env Environment) bool {
	if env.getenv("WSL_DISTRO_NAME") != "" || env.getenv("WSL_INTEROP") != "" {
		return true
	}
	if env.ReadFile == nil {
		return false
	}
	data, err := env.ReadFile(osReleasePath)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), "microsoft")
}

// Tools collects executable names for every backend
type Tools struct {
	X11        x11.Tools     `yaml:"x11"`
	Wayland    wayland.Tools `yaml:"wayland"`
	PowerShell string        `yaml:"powershell"`
}

// DefaultTools returns the standard executable names
func DefaultTools() Tools {
	return Tools{
		X11:     x11.DefaultTools(),
		Wayland: wayland.DefaultTools(),
	}
}

// Factory builds the backend for a detection
type Factory func(d Detection) (desktop.Backend, error)

// NewFactory returns the Factory that builds the real backends over r
func NewFactory(r runner.Runner, tools Tools) Factory {
	return func(d Detection) (desktop.Backend, error) {
		switch d.Kind {
		case KindX11:
			return x11.New(r, x11.WithTools(tools.X11)), nil
		case KindWayland:
			return wayland.New(d.WaylandMode, r, wayland.WithTools(tools.Wayland)), nil
		case KindNative:
			exe := tools.PowerShell
			if exe == "" {
				exe = "powershell"
			}
			return native.New(r, exe), nil
		case KindWSL:
			return wsl.New(r, tools.PowerShell), nil
		default:
			return nil, fmt.Errorf("unknown backend kind %q", d.Kind)
		}
	}
}

// Dispatcher detects the platform once and hands out the same backend for
// the rest of its life
type Dispatcher struct {
	env      Environment
	override string
	factory  Factory

	once      sync.Once
	detection Detection
	backend   desktop.Backend
	err       error
}

// NewDispatcher creates a dispatcher; detection is deferred to first use
func NewDispatcher(env Environment, override string, factory Factory) *Dispatcher {
	return &Dispatcher{env: env, override: override, factory: factory}
}

// Backend returns the detected backend, detecting on first call
func (d *Dispatcher) Backend() (desktop.Backend, error) {
	d.once.Do(d.detect)
	return d.backend, d.err
}

// Detection returns the detection result, detecting on first call
func (d *Dispatcher) Detection() (Detection, error) {
	d.once.Do(d.detect)
	return d.detection, d.err
}

func (d *Dispatcher) detect() {
	log := logger.WithComponent("dispatcher")

	det, err := Detect(d.env, d.override)
	if err != nil {
		d.err = err
		return
	}
	backend, err := d.factory(det)
	if err != nil {
		d.err = err
		return
	}
	d.detection = det
	d.backend = backend
	log.Debug().
		Str("backend", det.String()).
		Str("reason", det.Reason).
		Msg("Selected capture backend")
}
