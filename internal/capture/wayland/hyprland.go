package wayland

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bryanchriswhite/deskshot/internal/desktop"
	"github.com/bryanchriswhite/deskshot/internal/geometry"
)

// hyprMonitor is one entry of `hyprctl monitors -j`
type hyprMonitor struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	X         int     `json:"x"`
	Y         int     `json:"y"`
	Scale     float64 `json:"scale"`
	Transform int     `json:"transform"`
	Focused   bool    `json:"focused"`
	Disabled  bool    `json:"disabled"`
}

// hyprClient is one entry of `hyprctl clients -j`
type hyprClient struct {
	Address   string `json:"address"`
	Mapped    bool   `json:"mapped"`
	Hidden    bool   `json:"hidden"`
	At        [2]int `json:"at"`
	Size      [2]int `json:"size"`
	Workspace struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"workspace"`
	Class string `json:"class"`
	Title string `json:"title"`
	PID   int    `json:"pid"`
}

// ParseHyprMonitors parses `hyprctl monitors -j`. Hyprland reports mode
// pixels; the layout (and grim) work in logical pixels, so sizes are divided
// by the scale. Hyprland has no primary output.
func ParseHyprMonitors(data []byte) ([]desktop.DisplayInfo, error) {
	var monitors []hyprMonitor
	if err := json.Unmarshal(data, &monitors); err != nil {
		return nil, fmt.Errorf("failed to parse hyprctl monitors: %w", err)
	}

	displays := make([]desktop.DisplayInfo, 0, len(monitors))
	for _, m := range monitors {
		if m.Disabled {
			continue
		}
		// Transforms 1, 3, 5, 7 rotate by 90 or 270 degrees
		w, h := logicalSize(m.Width, m.Height, m.Scale, m.Transform%2 == 1)
		if w <= 0 || h <= 0 {
			continue
		}
		displays = append(displays, desktop.DisplayInfo{
			ID:         m.Name,
			Name:       m.Name,
			Resolution: desktop.Resolution{Width: w, Height: h},
			Position:   desktop.Position{X: m.X, Y: m.Y},
		})
	}
	return displays, nil
}

// ParseHyprClients parses `hyprctl clients -j`. Windows on a special
// workspace (the scratchpad) or hidden in a group count as minimized.
// border widens each window's frame on every side.
func ParseHyprClients(data []byte, border int) ([]desktop.WindowInfo, error) {
	var clients []hyprClient
	if err := json.Unmarshal(data, &clients); err != nil {
		return nil, fmt.Errorf("failed to parse hyprctl clients: %w", err)
	}

	windows := make([]desktop.WindowInfo, 0, len(clients))
	for _, c := range clients {
		if c.Address == "" {
			continue
		}
		bounds := geometry.Rect{X: c.At[0], Y: c.At[1], Width: c.Size[0], Height: c.Size[1]}
		w := desktop.WindowInfo{
			ID:          c.Address,
			Title:       c.Title,
			PID:         c.PID,
			Bounds:      bounds,
			IsMinimized: !c.Mapped || c.Hidden || strings.HasPrefix(c.Workspace.Name, "special"),
		}
		if border > 0 {
			w.FrameBounds = geometry.Rect{
				X:      bounds.X - border,
				Y:      bounds.Y - border,
				Width:  bounds.Width + 2*border,
				Height: bounds.Height + 2*border,
			}
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// ParseHyprOption reads the integer value of `hyprctl getoption <name> -j`
func ParseHyprOption(data []byte) (int, error) {
	var opt struct {
		Option string `json:"option"`
		Int    *int   `json:"int"`
	}
	if err := json.Unmarshal(data, &opt); err != nil {
		return 0, fmt.Errorf("failed to parse hyprctl option: %w", err)
	}
	if opt.Int == nil {
		return 0, fmt.Errorf("option %q has no integer value", opt.Option)
	}
	return *opt.Int, nil
}

// logicalSize converts a mode size in physical pixels to layout pixels
func logicalSize(width, height int, scale float64, rotated bool) (int, int) {
	if rotated {
		width, height = height, width
	}
	if scale <= 0 || scale == 1 {
		return width, height
	}
	return int(float64(width)/scale + 0.5), int(float64(height)/scale + 0.5)
}
