package wayland

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bryanchriswhite/deskshot/internal/desktop"
)

type wlrOutput struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Modes   []struct {
		Width   int  `json:"width"`
		Height  int  `json:"height"`
		Current bool `json:"current"`
	} `json:"modes"`
	Position struct {
		X int `json:"x"`
		Y int `json:"y"`
	} `json:"position"`
	Transform string  `json:"transform"`
	Scale     float64 `json:"scale"`
}

// ParseWlrRandr parses `wlr-randr --json`. The current mode gives the
// physical size; scale and transform turn it into layout pixels.
func ParseWlrRandr(data []byte) ([]desktop.DisplayInfo, error) {
	var outputs []wlrOutput
	if err := json.Unmarshal(data, &outputs); err != nil {
		return nil, fmt.Errorf("failed to parse wlr-randr output: %w", err)
	}

	displays := make([]desktop.DisplayInfo, 0, len(outputs))
	for _, o := range outputs {
		if !o.Enabled {
			continue
		}
		var width, height int
		for _, m := range o.Modes {
			if m.Current {
				width, height = m.Width, m.Height
			}
		}
		rotated := strings.HasSuffix(o.Transform, "90") || strings.HasSuffix(o.Transform, "270")
		w, h := logicalSize(width, height, o.Scale, rotated)
		if w <= 0 || h <= 0 {
			continue
		}
		displays = append(displays, desktop.DisplayInfo{
			ID:         o.Name,
			Name:       o.Name,
			Resolution: desktop.Resolution{Width: w, Height: h},
			Position:   desktop.Position{X: o.Position.X, Y: o.Position.Y},
		})
	}
	return displays, nil
}
