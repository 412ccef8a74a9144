package wayland

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bryanchriswhite/deskshot/internal/desktop"
	"github.com/bryanchriswhite/deskshot/internal/geometry"
)

type kscreenOutput struct {
	Name      string `json:"name"`
	Enabled   bool   `json:"enabled"`
	Connected bool   `json:"connected"`
	Primary   bool   `json:"primary"`
	Priority  int    `json:"priority"`
	Rotation  int    `json:"rotation"`
	Pos       struct {
		X int `json:"x"`
		Y int `json:"y"`
	} `json:"pos"`
	Size struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"size"`
	Scale float64 `json:"scale"`
}

// ParseKscreenDoctor parses `kscreen-doctor -j`. Older Plasma releases mark
// the primary output with "primary", newer ones with priority 1.
func ParseKscreenDoctor(data []byte) ([]desktop.DisplayInfo, error) {
	var doc struct {
		Outputs []kscreenOutput `json:"outputs"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse kscreen-doctor output: %w", err)
	}

	displays := make([]desktop.DisplayInfo, 0, len(doc.Outputs))
	for _, o := range doc.Outputs {
		if !o.Enabled || !o.Connected {
			continue
		}
		// Rotation 2 and 8 are left and right
		w, h := logicalSize(o.Size.Width, o.Size.Height, o.Scale, o.Rotation == 2 || o.Rotation == 8)
		if w <= 0 || h <= 0 {
			continue
		}
		displays = append(displays, desktop.DisplayInfo{
			ID:         o.Name,
			Name:       o.Name,
			Resolution: desktop.Resolution{Width: w, Height: h},
			Position:   desktop.Position{X: o.Pos.X, Y: o.Pos.Y},
			IsPrimary:  o.Primary || o.Priority == 1,
		})
	}
	return displays, nil
}

// ParseKdotoolSearch returns the window ids printed by `kdotool search`
func ParseKdotoolSearch(output string) []string {
	ids := make([]string, 0)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// ParseKdotoolGeometry parses `kdotool getwindowgeometry` output:
//
//	Window {uuid}
//	  Position: 120.5,64
//	  Geometry: 800x600
//
// KWin reports fractional coordinates under scaling; they are rounded.
func ParseKdotoolGeometry(output string) geometry.Rect {
	var r geometry.Rect
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if pos, ok := strings.CutPrefix(line, "Position:"); ok {
			if x, y, ok := splitPair(pos, ","); ok {
				r.X, r.Y = x, y
			}
		} else if geom, ok := strings.CutPrefix(line, "Geometry:"); ok {
			if w, h, ok := splitPair(geom, "x"); ok {
				r.Width, r.Height = w, h
			}
		}
	}
	return r
}

func splitPair(s, sep string) (int, int, bool) {
	a, b, ok := strings.Cut(strings.TrimSpace(s), sep)
	if !ok {
		return 0, 0, false
	}
	av, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
	if err != nil {
		return 0, 0, false
	}
	bv, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err != nil {
		return 0, 0, false
	}
	return int(math.Round(av)), int(math.Round(bv)), true
}

func trimLine(b []byte) string {
	return strings.TrimSpace(string(b))
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
