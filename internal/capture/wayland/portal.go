package wayland

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sync/atomic"

	"github.com/godbus/dbus/v5"

	"github.com/bryanchriswhite/deskshot/internal/desktop"
	"github.com/bryanchriswhite/deskshot/internal/logger"
)

// Portal D-Bus constants
const (
	portalService   = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	screenshotIface = "org.freedesktop.portal.Screenshot"
	requestIface    = "org.freedesktop.portal.Request"

	mutterService = "org.gnome.Mutter.DisplayConfig"
	mutterPath    = "/org/gnome/Mutter/DisplayConfig"

	kwinService   = "org.kde.KWin"
	kwinPath      = "/KWin"
	kwinInterface = "org.kde.KWin"
)

// Mutter layout modes
const (
	layoutModeLogical  = 1
	layoutModePhysical = 2
)

// PortalClient is the subset of session-bus services the backend needs
type PortalClient interface {
	// Screenshot returns a PNG of the whole desktop
	Screenshot(ctx context.Context) ([]byte, error)
	// Displays reads the monitor layout from the compositor
	Displays(ctx context.Context) ([]desktop.DisplayInfo, error)
	// WindowMinimized reports KWin's minimized state for a window uuid
	WindowMinimized(ctx context.Context, id string) (bool, error)
	Close() error
}

// Portal talks to xdg-desktop-portal (and, on GNOME, Mutter) over the
// session bus
type Portal struct {
	conn *dbus.Conn
}

var requestSeq atomic.Uint64

// DialPortal connects to the session bus
func DialPortal() (PortalClient, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &Portal{conn: conn}, nil
}

// Close closes the bus connection
func (p *Portal) Close() error {
	return p.conn.Close()
}

// Screenshot asks the portal for a non-interactive screenshot. The portal
// writes the image to disk and replies with its URI; the file is read and
// removed.
func (p *Portal) Screenshot(ctx context.Context) ([]byte, error) {
	log := logger.WithBackend("portal", Name)
	obj := p.conn.Object(portalService, portalPath)

	token := fmt.Sprintf("deskshot%d_%d", os.Getpid(), requestSeq.Add(1))
	options := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(token),
		"interactive":  dbus.MakeVariant(false),
	}

	// Subscribe before calling so a fast Response is not lost
	responseChan := make(chan *dbus.Signal, 10)
	matchRule := fmt.Sprintf("type='signal',interface='%s',member='Response'", requestIface)
	if err := p.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchRule).Err; err != nil {
		log.Warn().Err(err).Msg("Failed to add match rule")
	}
	p.conn.Signal(responseChan)
	defer p.conn.RemoveSignal(responseChan)

	var requestPath dbus.ObjectPath
	if err := obj.CallWithContext(ctx, screenshotIface+".Screenshot", 0, "", options).Store(&requestPath); err != nil {
		return nil, fmt.Errorf("Screenshot call failed: %w", err)
	}
	log.Debug().Str("request_path", string(requestPath)).Msg("Waiting for Screenshot response")

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case sig := <-responseChan:
			if sig.Path != requestPath || sig.Name != requestIface+".Response" {
				continue
			}
			path, err := screenshotPath(sig.Body)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read portal screenshot: %w", err)
			}
			if err := os.Remove(path); err != nil {
				log.Debug().Err(err).Str("path", path).Msg("Failed to remove portal screenshot")
			}
			return data, nil
		}
	}
}

// screenshotPath extracts the local file path from a Request.Response body
func screenshotPath(body []interface{}) (string, error) {
	if len(body) < 2 {
		return "", fmt.Errorf("invalid portal response")
	}
	code, ok := body[0].(uint32)
	if !ok {
		return "", fmt.Errorf("unexpected response code type %T", body[0])
	}
	if code != 0 {
		return "", fmt.Errorf("portal request denied (code %d)", code)
	}
	results, ok := body[1].(map[string]dbus.Variant)
	if !ok {
		return "", fmt.Errorf("unexpected response results type %T", body[1])
	}
	v, ok := results["uri"]
	if !ok {
		return "", fmt.Errorf("no uri in portal response")
	}
	raw, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("unexpected uri type %T", v.Value())
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid screenshot uri %q: %w", raw, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported screenshot uri scheme %q", u.Scheme)
	}
	return u.Path, nil
}

type mutterMonitorSpec struct {
	Connector string
	Vendor    string
	Product   string
	Serial    string
}

type mutterMode struct {
	ID              string
	Width           int32
	Height          int32
	Refresh         float64
	PreferredScale  float64
	SupportedScales []float64
	Props           map[string]dbus.Variant
}

type mutterMonitor struct {
	Spec  mutterMonitorSpec
	Modes []mutterMode
	Props map[string]dbus.Variant
}

type mutterLogicalMonitor struct {
	X         int32
	Y         int32
	Scale     float64
	Transform uint32
	Primary   bool
	Monitors  []mutterMonitorSpec
	Props     map[string]dbus.Variant
}

// WindowMinimized reads org.kde.KWin.getWindowInfo for a kdotool window id
func (p *Portal) WindowMinimized(ctx context.Context, id string) (bool, error) {
	var info map[string]dbus.Variant
	call := p.conn.Object(kwinService, kwinPath).CallWithContext(ctx, kwinInterface+".getWindowInfo", 0, id)
	if err := call.Store(&info); err != nil {
		return false, fmt.Errorf("getWindowInfo call failed: %w", err)
	}
	return minimizedFromInfo(info)
}

// minimizedFromInfo extracts the minimized flag. An empty map means KWin no
// longer knows the window.
func minimizedFromInfo(info map[string]dbus.Variant) (bool, error) {
	if len(info) == 0 {
		return false, fmt.Errorf("window is gone")
	}
	v, ok := info["minimized"]
	if !ok {
		return false, fmt.Errorf("window info has no minimized field")
	}
	minimized, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("minimized field has type %s", v.Signature())
	}
	return minimized, nil
}

// Displays reads org.gnome.Mutter.DisplayConfig.GetCurrentState. Other
// compositors do not expose it and return an error.
func (p *Portal) Displays(ctx context.Context) ([]desktop.DisplayInfo, error) {
	var (
		serial   uint32
		monitors []mutterMonitor
		logical  []mutterLogicalMonitor
		props    map[string]dbus.Variant
	)
	call := p.conn.Object(mutterService, mutterPath).CallWithContext(ctx, mutterService+".GetCurrentState", 0)
	if err := call.Store(&serial, &monitors, &logical, &props); err != nil {
		return nil, fmt.Errorf("GetCurrentState call failed: %w", err)
	}

	layoutMode := uint32(layoutModeLogical)
	if v, ok := props["layout-mode"]; ok {
		if m, ok := v.Value().(uint32); ok {
			layoutMode = m
		}
	}
	return mutterDisplays(monitors, logical, layoutMode), nil
}

// mutterDisplays joins logical monitors with the current mode of their first
// physical monitor
func mutterDisplays(monitors []mutterMonitor, logical []mutterLogicalMonitor, layoutMode uint32) []desktop.DisplayInfo {
	current := make(map[string]mutterMode, len(monitors))
	for _, m := range monitors {
		for _, mode := range m.Modes {
			if v, ok := mode.Props["is-current"]; ok {
				if cur, ok := v.Value().(bool); ok && cur {
					current[m.Spec.Connector] = mode
				}
			}
		}
	}

	displays := make([]desktop.DisplayInfo, 0, len(logical))
	for _, lm := range logical {
		if len(lm.Monitors) == 0 {
			continue
		}
		connector := lm.Monitors[0].Connector
		mode, ok := current[connector]
		if !ok {
			continue
		}

		scale := lm.Scale
		if layoutMode == layoutModePhysical {
			scale = 1
		}
		// Transforms 1, 3, 5, 7 rotate by 90 or 270 degrees
		w, h := logicalSize(int(mode.Width), int(mode.Height), scale, lm.Transform%2 == 1)
		displays = append(displays, desktop.DisplayInfo{
			ID:         connector,
			Name:       connector,
			Resolution: desktop.Resolution{Width: w, Height: h},
			Position:   desktop.Position{X: int(lm.X), Y: int(lm.Y)},
			IsPrimary:  lm.Primary,
		})
	}
	return displays
}
