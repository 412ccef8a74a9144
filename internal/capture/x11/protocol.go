package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
	"github.com/BurntSushi/xgbutil/xwindow"

	"github.com/bryanchriswhite/deskshot/internal/desktop"
	"github.com/bryanchriswhite/deskshot/internal/geometry"
	"github.com/bryanchriswhite/deskshot/internal/logger"
)

// Protocol enumerates displays and windows over the X11 wire protocol
// (RandR and EWMH). It is used when the command-line tools are missing.
type Protocol struct {
	xu *xgbutil.XUtil
}

// DialProtocol connects to the X server named by $DISPLAY
func DialProtocol() (*Protocol, error) {
	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	return &Protocol{xu: xu}, nil
}

// Close closes the X11 connection
func (p *Protocol) Close() {
	p.xu.Conn().Close()
}

// monitorRecord is the subset of RandR CRTC data needed for a display
type monitorRecord struct {
	Name    string
	X, Y    int
	Width   int
	Height  int
	Primary bool
}

// windowRecord is the subset of EWMH/ICCCM properties needed for a window
type windowRecord struct {
	ID      uint32
	Title   string
	Class   string
	PID     int
	States  []string
	Content geometry.Rect
	Frame   geometry.Rect
}

// Displays enumerates active CRTCs through RandR
func (p *Protocol) Displays() ([]desktop.DisplayInfo, error) {
	conn := p.xu.Conn()
	root := p.xu.RootWin()

	if err := randr.Init(conn); err != nil {
		return nil, fmt.Errorf("randr init failed: %w", err)
	}

	resources, err := randr.GetScreenResources(conn, root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}

	var primaryOutput randr.Output
	if reply, err := randr.GetOutputPrimary(conn, root).Reply(); err == nil {
		primaryOutput = reply.Output
	}

	records := make([]monitorRecord, 0, len(resources.Crtcs))
	for i, crtc := range resources.Crtcs {
		info, err := randr.GetCrtcInfo(conn, crtc, resources.ConfigTimestamp).Reply()
		if err != nil {
			continue
		}
		// Skip disabled CRTCs
		if info.Width == 0 || info.Height == 0 || len(info.Outputs) == 0 {
			continue
		}

		name := fmt.Sprintf("CRTC-%d", i)
		if out, err := randr.GetOutputInfo(conn, info.Outputs[0], resources.ConfigTimestamp).Reply(); err == nil {
			name = string(out.Name)
		}

		primary := false
		for _, o := range info.Outputs {
			if primaryOutput != 0 && o == primaryOutput {
				primary = true
			}
		}

		records = append(records, monitorRecord{
			Name:    name,
			X:       int(info.X),
			Y:       int(info.Y),
			Width:   int(info.Width),
			Height:  int(info.Height),
			Primary: primary,
		})
	}

	return displaysFromMonitors(records), nil
}

// Windows enumerates managed windows from _NET_CLIENT_LIST
func (p *Protocol) Windows() ([]desktop.WindowInfo, error) {
	log := logger.WithBackend("x11-protocol", "x11")
	conn := p.xu.Conn()
	root := p.xu.RootWin()

	clients, err := ewmh.ClientListGet(p.xu)
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST: %w", err)
	}

	windows := make([]desktop.WindowInfo, 0, len(clients))
	for _, win := range clients {
		rec := windowRecord{ID: uint32(win)}

		if title, err := ewmh.WmNameGet(p.xu, win); err == nil {
			rec.Title = title
		}
		if rec.Title == "" {
			if title, err := icccm.WmNameGet(p.xu, win); err == nil {
				rec.Title = title
			}
		}
		if class, err := icccm.WmClassGet(p.xu, win); err == nil {
			rec.Class = class.Class
		}
		if pid, err := ewmh.WmPidGet(p.xu, win); err == nil {
			rec.PID = int(pid)
		}
		rec.States, _ = ewmh.WmStateGet(p.xu, win)

		geom, err := xproto.GetGeometry(conn, xproto.Drawable(win)).Reply()
		if err != nil {
			log.Debug().Uint32("winID", uint32(win)).Err(err).Msg("Skipping window without geometry")
			continue
		}
		origin, err := xproto.TranslateCoordinates(conn, win, root, 0, 0).Reply()
		if err != nil {
			log.Debug().Uint32("winID", uint32(win)).Err(err).Msg("Skipping window without root coordinates")
			continue
		}
		rec.Content = geometry.Rect{
			X:      int(origin.DstX),
			Y:      int(origin.DstY),
			Width:  int(geom.Width),
			Height: int(geom.Height),
		}

		if frame, err := xwindow.New(p.xu, win).DecorGeometry(); err == nil {
			rec.Frame = geometry.Rect{X: frame.X(), Y: frame.Y(), Width: frame.Width(), Height: frame.Height()}
		}

		windows = append(windows, windowFromRecord(rec))
	}

	log.Debug().Int("count", len(windows)).Msg("Enumerated windows via EWMH")
	return windows, nil
}

func displaysFromMonitors(records []monitorRecord) []desktop.DisplayInfo {
	displays := make([]desktop.DisplayInfo, 0, len(records))
	for _, m := range records {
		displays = append(displays, desktop.DisplayInfo{
			ID:         m.Name,
			Name:       m.Name,
			Resolution: desktop.Resolution{Width: m.Width, Height: m.Height},
			Position:   desktop.Position{X: m.X, Y: m.Y},
			IsPrimary:  m.Primary,
		})
	}
	return displays
}

func windowFromRecord(rec windowRecord) desktop.WindowInfo {
	hidden := false
	for _, s := range rec.States {
		if s == "_NET_WM_STATE_HIDDEN" {
			hidden = true
		}
	}

	// The decorated frame must contain the client area; discard anything else.
	frame := rec.Frame
	if frame.Empty() || !frame.Contains(rec.Content) {
		frame = geometry.Rect{}
	}

	// Without a pid the WM_CLASS is the best process name available.
	processName := ""
	if rec.PID <= 0 {
		processName = rec.Class
	}

	return desktop.WindowInfo{
		ID:          FormatXID(rec.ID),
		Title:       rec.Title,
		ProcessName: processName,
		PID:         rec.PID,
		Bounds:      rec.Content,
		FrameBounds: frame,
		IsMinimized: hidden,
	}
}
