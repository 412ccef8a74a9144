package wayland

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bryanchriswhite/deskshot/internal/desktop"
	"github.com/bryanchriswhite/deskshot/internal/geometry"
)

// swayRect is the rect shape used throughout sway IPC replies
type swayRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r swayRect) rect() geometry.Rect {
	return geometry.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
}

type swayOutput struct {
	Name    string   `json:"name"`
	Active  bool     `json:"active"`
	Focused bool     `json:"focused"`
	Rect    swayRect `json:"rect"`
}

type swayNode struct {
	ID               int64      `json:"id"`
	Type             string     `json:"type"`
	Name             string     `json:"name"`
	AppID            *string    `json:"app_id"`
	PID              int        `json:"pid"`
	Rect             swayRect   `json:"rect"`
	WindowRect       swayRect   `json:"window_rect"`
	DecoRect         swayRect   `json:"deco_rect"`
	WindowProperties *struct {
		Class string `json:"class"`
	} `json:"window_properties"`
	Nodes         []swayNode `json:"nodes"`
	FloatingNodes []swayNode `json:"floating_nodes"`
}

// swayScratchpad is the workspace sway keeps hidden windows on
const swayScratchpad = "__i3_scratch"

// ParseSwayOutputs parses `swaymsg -t get_outputs -r`. Rects are already in
// layout coordinates. Sway has no primary output.
func ParseSwayOutputs(data []byte) ([]desktop.DisplayInfo, error) {
	var outputs []swayOutput
	if err := json.Unmarshal(data, &outputs); err != nil {
		return nil, fmt.Errorf("failed to parse sway outputs: %w", err)
	}

	displays := make([]desktop.DisplayInfo, 0, len(outputs))
	for _, o := range outputs {
		if !o.Active || o.Rect.Width <= 0 || o.Rect.Height <= 0 {
			continue
		}
		displays = append(displays, desktop.DisplayInfo{
			ID:         o.Name,
			Name:       o.Name,
			Resolution: desktop.Resolution{Width: o.Rect.Width, Height: o.Rect.Height},
			Position:   desktop.Position{X: o.Rect.X, Y: o.Rect.Y},
		})
	}
	return displays, nil
}

// ParseSwayTree walks `swaymsg -t get_tree -r` and returns every leaf view.
// rect is the decorated container; window_rect is the client area relative
// to it. Views on the scratchpad count as minimized.
func ParseSwayTree(data []byte) ([]desktop.WindowInfo, error) {
	var root swayNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse sway tree: %w", err)
	}

	windows := make([]desktop.WindowInfo, 0)
	walkSway(root, false, &windows)
	return windows, nil
}

func walkSway(n swayNode, scratch bool, out *[]desktop.WindowInfo) {
	if n.Type == "workspace" && n.Name == swayScratchpad {
		scratch = true
	}

	if isSwayView(n) {
		*out = append(*out, swayWindow(n, scratch))
		return
	}

	for _, c := range n.Nodes {
		walkSway(c, scratch, out)
	}
	for _, c := range n.FloatingNodes {
		walkSway(c, scratch, out)
	}
}

func isSwayView(n swayNode) bool {
	if n.Type != "con" && n.Type != "floating_con" {
		return false
	}
	if len(n.Nodes) > 0 || len(n.FloatingNodes) > 0 {
		return false
	}
	return n.PID > 0 || n.AppID != nil || n.WindowProperties != nil
}

func swayWindow(n swayNode, scratch bool) desktop.WindowInfo {
	w := desktop.WindowInfo{
		ID:          strconv.FormatInt(n.ID, 10),
		Title:       n.Name,
		PID:         n.PID,
		Bounds:      n.Rect.rect(),
		IsMinimized: scratch,
	}

	if n.WindowRect.Width > 0 && n.WindowRect.Height > 0 {
		w.Bounds = geometry.Rect{
			X:      n.Rect.X + n.WindowRect.X,
			Y:      n.Rect.Y + n.WindowRect.Y,
			Width:  n.WindowRect.Width,
			Height: n.WindowRect.Height,
		}
		frame := n.Rect.rect()
		// Tabbed and stacked layouts draw the title bar above rect
		if n.DecoRect.Height > 0 && n.WindowRect.Y < n.DecoRect.Height {
			frame.Y -= n.DecoRect.Height
			frame.Height += n.DecoRect.Height
		}
		if frame != w.Bounds && frame.Contains(w.Bounds) {
			w.FrameBounds = frame
		}
	}
	return w
}
