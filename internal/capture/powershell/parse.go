package powershell

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bryanchriswhite/deskshot/internal/desktop"
	"github.com/bryanchriswhite/deskshot/internal/geometry"
)

// ErrNotPNG is returned when decoded capture output is not a PNG
var ErrNotPNG = errors.New("capture output is not a PNG image")

type screenRecord struct {
	DeviceName string `json:"DeviceName"`
	Primary    bool   `json:"Primary"`
	X          int    `json:"X"`
	Y          int    `json:"Y"`
	Width      int    `json:"Width"`
	Height     int    `json:"Height"`
}

type windowRecord struct {
	Handle      int64  `json:"Handle"`
	Title       string `json:"Title"`
	PID         int    `json:"Pid"`
	ProcessName string `json:"ProcessName"`
	Minimized   bool   `json:"Minimized"`
	X           int    `json:"X"`
	Y           int    `json:"Y"`
	Width       int    `json:"Width"`
	Height      int    `json:"Height"`
	FrameX      int    `json:"FrameX"`
	FrameY      int    `json:"FrameY"`
	FrameWidth  int    `json:"FrameWidth"`
	FrameHeight int    `json:"FrameHeight"`
}

// ParseScreensJSON parses the screens script output. Device names such as
// \\.\DISPLAY1 become DISPLAY1.
func ParseScreensJSON(data []byte) ([]desktop.DisplayInfo, error) {
	var records []screenRecord
	if err := unmarshalList(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse screens: %w", err)
	}

	displays := make([]desktop.DisplayInfo, 0, len(records))
	for i, s := range records {
		if s.Width <= 0 || s.Height <= 0 {
			continue
		}
		id := strings.TrimPrefix(s.DeviceName, `\\.\`)
		if id == "" {
			id = "DISPLAY" + strconv.Itoa(i+1)
		}
		displays = append(displays, desktop.DisplayInfo{
			ID:         id,
			Name:       id,
			Resolution: desktop.Resolution{Width: s.Width, Height: s.Height},
			Position:   desktop.Position{X: s.X, Y: s.Y},
			IsPrimary:  s.Primary,
		})
	}
	return displays, nil
}

// ParseWindowsJSON parses the windows script output. Handles are rendered
// as decimal strings.
func ParseWindowsJSON(data []byte) ([]desktop.WindowInfo, error) {
	var records []windowRecord
	if err := unmarshalList(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse windows: %w", err)
	}

	windows := make([]desktop.WindowInfo, 0, len(records))
	for _, r := range records {
		if r.Handle == 0 {
			continue
		}
		w := desktop.WindowInfo{
			ID:          strconv.FormatInt(r.Handle, 10),
			Title:       r.Title,
			ProcessName: r.ProcessName,
			PID:         r.PID,
			Bounds:      geometry.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height},
			IsMinimized: r.Minimized,
		}
		frame := geometry.Rect{X: r.FrameX, Y: r.FrameY, Width: r.FrameWidth, Height: r.FrameHeight}
		// Minimized windows report a parking position and an empty client area
		if !w.Bounds.Empty() && !frame.Empty() && frame != w.Bounds && frame.Contains(w.Bounds) {
			w.FrameBounds = frame
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// unmarshalList accepts either a JSON array or, since ConvertTo-Json
// unwraps single-element arrays on older PowerShell, a lone object.
// Empty output means an empty list.
func unmarshalList[T any](data []byte, out *[]T) error {
	data = bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*out = []T{}
		return nil
	}
	if data[0] == '{' {
		var one T
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*out = []T{one}
		return nil
	}
	return json.Unmarshal(data, out)
}

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// DecodePNG decodes base64 PNG script output. PowerShell may wrap long
// lines and append CRLF; all whitespace is ignored.
func DecodePNG(out []byte) ([]byte, error) {
	clean := bytes.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, out)
	if len(clean) == 0 {
		return nil, fmt.Errorf("empty capture output")
	}
	data, err := base64.StdEncoding.DecodeString(string(clean))
	if err != nil {
		return nil, fmt.Errorf("failed to decode capture output: %w", err)
	}
	if !bytes.HasPrefix(data, pngMagic) {
		return nil, ErrNotPNG
	}
	return data, nil
}
