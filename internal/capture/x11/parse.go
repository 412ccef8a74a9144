package x11

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"

	"github.com/bryanchriswhite/deskshot/internal/desktop"
	"github.com/bryanchriswhite/deskshot/internal/geometry"
)

// "HDMI-1 connected primary 1920x1080+0+0 (normal left inverted right x axis y axis) 527mm x 296mm"
var xrandrOutputRe = regexp.MustCompile(`^(\S+)\s+connected(\s+primary)?\s+(\d+)x(\d+)\+(-?\d+)\+(-?\d+)`)

// ParseXrandr parses `xrandr --query` output into displays. Connected outputs
// without an active mode are skipped.
func ParseXrandr(output string) []desktop.DisplayInfo {
	displays := make([]desktop.DisplayInfo, 0)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		m := xrandrOutputRe.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		width, _ := strconv.Atoi(m[3])
		height, _ := strconv.Atoi(m[4])
		x, _ := strconv.Atoi(m[5])
		y, _ := strconv.Atoi(m[6])
		if width <= 0 || height <= 0 {
			continue
		}
		displays = append(displays, desktop.DisplayInfo{
			ID:         m[1],
			Name:       m[1],
			Resolution: desktop.Resolution{Width: width, Height: height},
			Position:   desktop.Position{X: x, Y: y},
			IsPrimary:  m[2] != "",
		})
	}
	return displays
}

// ParseWmctrl parses `wmctrl -l -p -G` output:
//
//	0x03a00003  0 12345  10   40   800  600  host Window Title
//
// Sticky windows report desktop -1. Titles may contain any characters,
// including runs of spaces, and may be empty.
func ParseWmctrl(output string) []desktop.WindowInfo {
	windows := make([]desktop.WindowInfo, 0)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		fields, title := splitFields(line, 8)
		if len(fields) < 7 {
			continue
		}
		if !strings.HasPrefix(fields[0], "0x") {
			continue
		}

		pid, _ := strconv.Atoi(fields[2])
		x, _ := strconv.Atoi(fields[3])
		y, _ := strconv.Atoi(fields[4])
		w, _ := strconv.Atoi(fields[5])
		h, _ := strconv.Atoi(fields[6])

		windows = append(windows, desktop.WindowInfo{
			ID:     normalizeXID(fields[0]),
			Title:  title,
			PID:    pid,
			Bounds: geometry.Rect{X: x, Y: y, Width: w, Height: h},
		})
	}
	return windows
}

// splitFields splits off the first n whitespace-separated fields and returns
// the remainder of the line verbatim (minus the single separating run of spaces).
func splitFields(line string, n int) ([]string, string) {
	fields := make([]string, 0, n)
	rest := line
	for len(fields) < n {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			return fields, ""
		}
		end := strings.IndexAny(rest, " \t")
		if end < 0 {
			fields = append(fields, rest)
			return fields, ""
		}
		fields = append(fields, rest[:end])
		rest = rest[end:]
	}
	return fields, strings.TrimLeft(rest, " \t")
}

// normalizeXID renders an X window id as 0x-prefixed, 8 hex digits
func normalizeXID(id string) string {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(id), "0x"), 16, 32)
	if err != nil {
		return id
	}
	return FormatXID(uint32(v))
}

// FormatXID renders a window id the way wmctrl does
func FormatXID(id uint32) string {
	return "0x" + leftPad(strconv.FormatUint(uint64(id), 16), 8)
}

func leftPad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat("0", n-len(s)) + s
}

// WindowProps holds the properties read from `xprop -id <id> _NET_WM_STATE _NET_FRAME_EXTENTS`
type WindowProps struct {
	Hidden bool
	// Frame extents: left, right, top, bottom
	Left, Right, Top, Bottom int
}

// ParseXprop parses xprop output for window state and frame extents:
//
//	_NET_WM_STATE(ATOM) = _NET_WM_STATE_HIDDEN, _NET_WM_STATE_SKIP_TASKBAR
//	_NET_FRAME_EXTENTS(CARDINAL) = 1, 1, 29, 1
func ParseXprop(output string) WindowProps {
	var props WindowProps
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)

		switch {
		case strings.HasPrefix(name, "_NET_WM_STATE("):
			for _, state := range strings.Split(value, ",") {
				if strings.TrimSpace(state) == "_NET_WM_STATE_HIDDEN" {
					props.Hidden = true
				}
			}
		case strings.HasPrefix(name, "_NET_FRAME_EXTENTS("):
			parts := strings.Split(value, ",")
			if len(parts) != 4 {
				continue
			}
			vals := make([]int, 4)
			for i, p := range parts {
				vals[i], _ = strconv.Atoi(strings.TrimSpace(p))
			}
			props.Left, props.Right, props.Top, props.Bottom = vals[0], vals[1], vals[2], vals[3]
		}
	}
	return props
}

// FrameRect expands content bounds by the frame extents
func (p WindowProps) FrameRect(content geometry.Rect) geometry.Rect {
	if p.Left == 0 && p.Right == 0 && p.Top == 0 && p.Bottom == 0 {
		return content
	}
	return geometry.Rect{
		X:      content.X - p.Left,
		Y:      content.Y - p.Top,
		Width:  content.Width + p.Left + p.Right,
		Height: content.Height + p.Top + p.Bottom,
	}
}
