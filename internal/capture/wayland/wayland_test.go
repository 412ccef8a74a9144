package wayland

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/bryanchriswhite/deskshot/internal/desktop"
	"github.com/bryanchriswhite/deskshot/internal/geometry"
	"github.com/bryanchriswhite/deskshot/internal/imaging"
	"github.com/bryanchriswhite/deskshot/internal/runner"
)

const hyprMonitorsJSON = `[
  {"id":0,"name":"DP-1","width":3840,"height":2160,"x":0,"y":0,"scale":2.0,"transform":0,"focused":true,"disabled":false},
  {"id":1,"name":"HDMI-A-1","width":1920,"height":1080,"x":1920,"y":0,"scale":1.0,"transform":1,"focused":false,"disabled":false},
  {"id":2,"name":"eDP-1","width":2560,"height":1600,"x":0,"y":0,"scale":1.0,"transform":0,"disabled":true}
]`

const hyprClientsJSON = `[
  {"address":"0x55d1a0","mapped":true,"hidden":false,"at":[10,40],"size":[800,600],"workspace":{"id":1,"name":"1"},"class":"kitty","title":"kitty","pid":4242},
  {"address":"0x55d1b0","mapped":true,"hidden":false,"at":[0,0],"size":[640,480],"workspace":{"id":-98,"name":"special:scratch"},"class":"firefox","title":"Firefox","pid":777},
  {"address":"","mapped":true,"at":[0,0],"size":[1,1],"workspace":{"id":1,"name":"1"}}
]`

func TestParseHyprMonitors(t *testing.T) {
	displays, err := ParseHyprMonitors([]byte(hyprMonitorsJSON))
	if err != nil {
		t.Fatalf("ParseHyprMonitors: %v", err)
	}
	if len(displays) != 2 {
		t.Fatalf("expected 2 enabled displays, got %d", len(displays))
	}
	if displays[0].Resolution != (desktop.Resolution{Width: 1920, Height: 1080}) {
		t.Fatalf("scale not applied: %+v", displays[0])
	}
	if displays[1].Resolution != (desktop.Resolution{Width: 1080, Height: 1920}) || displays[1].Position.X != 1920 {
		t.Fatalf("transform not applied: %+v", displays[1])
	}
}

func TestParseHyprClients(t *testing.T) {
	windows, err := ParseHyprClients([]byte(hyprClientsJSON), 2)
	if err != nil {
		t.Fatalf("ParseHyprClients: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}
	kitty := windows[0]
	if kitty.ID != "0x55d1a0" || kitty.IsMinimized || kitty.PID != 4242 {
		t.Fatalf("unexpected window %+v", kitty)
	}
	if kitty.FrameBounds != (geometry.Rect{X: 8, Y: 38, Width: 804, Height: 604}) {
		t.Fatalf("unexpected frame %v", kitty.FrameBounds)
	}
	if !kitty.CaptureRect(true).Contains(kitty.CaptureRect(false)) {
		t.Fatalf("frame must contain content")
	}
	if !windows[1].IsMinimized {
		t.Fatalf("scratchpad window should be minimized")
	}

	if _, err := ParseHyprClients([]byte("not json"), 0); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestParseHyprOption(t *testing.T) {
	n, err := ParseHyprOption([]byte(`{"option":"general:border_size","int":3,"set":true}`))
	if err != nil || n != 3 {
		t.Fatalf("got %d, %v", n, err)
	}
	if _, err := ParseHyprOption([]byte(`{"option":"general:layout","str":"dwindle"}`)); err == nil {
		t.Fatalf("expected error for non-integer option")
	}
}

const swayOutputsJSON = `[
  {"name":"eDP-1","active":true,"focused":true,"rect":{"x":0,"y":0,"width":1536,"height":960}},
  {"name":"DP-2","active":false,"rect":{"x":0,"y":0,"width":0,"height":0}}
]`

const swayTreeJSON = `{
  "id":1,"type":"root","name":"root","rect":{"x":0,"y":0,"width":1536,"height":960},
  "nodes":[
    {"id":2,"type":"output","name":"__i3","nodes":[
      {"id":3,"type":"workspace","name":"__i3_scratch","nodes":[],"floating_nodes":[
        {"id":20,"type":"floating_con","name":"scratch term","app_id":"foot","pid":300,
         "rect":{"x":100,"y":100,"width":500,"height":400},
         "window_rect":{"x":0,"y":0,"width":500,"height":400},
         "deco_rect":{"x":0,"y":0,"width":0,"height":0}}
      ]}
    ]},
    {"id":4,"type":"output","name":"eDP-1","nodes":[
      {"id":5,"type":"workspace","name":"1","nodes":[
        {"id":10,"type":"con","name":"Editor","app_id":"code","pid":100,
         "rect":{"x":0,"y":0,"width":768,"height":960},
         "window_rect":{"x":2,"y":26,"width":764,"height":932},
         "deco_rect":{"x":0,"y":0,"width":768,"height":24}},
        {"id":11,"type":"con","name":"Browser","app_id":null,"pid":200,
         "window_properties":{"class":"Firefox"},
         "rect":{"x":768,"y":0,"width":768,"height":960},
         "window_rect":{"x":0,"y":0,"width":768,"height":960},
         "deco_rect":{"x":0,"y":0,"width":0,"height":0}}
      ],"floating_nodes":[]}
    ]}
  ]
}`

func TestParseSwayOutputs(t *testing.T) {
	displays, err := ParseSwayOutputs([]byte(swayOutputsJSON))
	if err != nil {
		t.Fatalf("ParseSwayOutputs: %v", err)
	}
	if len(displays) != 1 || displays[0].ID != "eDP-1" || displays[0].Resolution.Width != 1536 {
		t.Fatalf("unexpected displays %+v", displays)
	}
}

func TestParseSwayTree(t *testing.T) {
	windows, err := ParseSwayTree([]byte(swayTreeJSON))
	if err != nil {
		t.Fatalf("ParseSwayTree: %v", err)
	}
	if len(windows) != 3 {
		t.Fatalf("expected 3 views, got %d: %+v", len(windows), windows)
	}

	byID := make(map[string]desktop.WindowInfo)
	for _, w := range windows {
		byID[w.ID] = w
	}

	if !byID["20"].IsMinimized {
		t.Fatalf("scratchpad view should be minimized")
	}

	editor := byID["10"]
	if editor.Bounds != (geometry.Rect{X: 2, Y: 26, Width: 764, Height: 932}) {
		t.Fatalf("unexpected content %v", editor.Bounds)
	}
	if editor.FrameBounds != (geometry.Rect{X: 0, Y: 0, Width: 768, Height: 960}) {
		t.Fatalf("unexpected frame %v", editor.FrameBounds)
	}

	browser := byID["11"]
	if browser.IsMinimized || !browser.FrameBounds.Empty() || browser.Title != "Browser" {
		t.Fatalf("unexpected browser %+v", browser)
	}
}

func TestParseKscreenDoctor(t *testing.T) {
	data := `{"outputs":[
	  {"name":"eDP-1","enabled":true,"connected":true,"priority":2,"rotation":1,"pos":{"x":0,"y":0},"size":{"width":2880,"height":1800},"scale":2},
	  {"name":"DP-3","enabled":true,"connected":true,"priority":1,"rotation":2,"pos":{"x":1440,"y":0},"size":{"width":2560,"height":1440},"scale":1},
	  {"name":"HDMI-1","enabled":false,"connected":false,"pos":{"x":0,"y":0},"size":{"width":0,"height":0}}
	]}`
	displays, err := ParseKscreenDoctor([]byte(data))
	if err != nil {
		t.Fatalf("ParseKscreenDoctor: %v", err)
	}
	if len(displays) != 2 {
		t.Fatalf("expected 2 displays, got %d", len(displays))
	}
	if displays[0].Resolution != (desktop.Resolution{Width: 1440, Height: 900}) || displays[0].IsPrimary {
		t.Fatalf("unexpected eDP-1 %+v", displays[0])
	}
	if displays[1].Resolution != (desktop.Resolution{Width: 1440, Height: 2560}) || !displays[1].IsPrimary {
		t.Fatalf("unexpected DP-3 %+v", displays[1])
	}
}

func TestParseKdotoolGeometry(t *testing.T) {
	r := ParseKdotoolGeometry("Window {1b2c-33}\n  Position: 120.6,64\n  Geometry: 800x600\n")
	if r != (geometry.Rect{X: 121, Y: 64, Width: 800, Height: 600}) {
		t.Fatalf("unexpected rect %v", r)
	}
	if !ParseKdotoolGeometry("garbage").Empty() {
		t.Fatalf("garbage should parse to an empty rect")
	}
}

func TestParseWlrRandr(t *testing.T) {
	data := `[
	  {"name":"DP-1","enabled":true,"modes":[{"width":1920,"height":1080,"current":false},{"width":2560,"height":1440,"current":true}],"position":{"x":0,"y":0},"transform":"normal","scale":1.0},
	  {"name":"HDMI-A-1","enabled":true,"modes":[{"width":1920,"height":1080,"current":true}],"position":{"x":2560,"y":0},"transform":"270","scale":1.5},
	  {"name":"DP-2","enabled":false,"modes":[],"position":{"x":0,"y":0},"transform":"normal","scale":1.0}
	]`
	displays, err := ParseWlrRandr([]byte(data))
	if err != nil {
		t.Fatalf("ParseWlrRandr: %v", err)
	}
	if len(displays) != 2 {
		t.Fatalf("expected 2 displays, got %d", len(displays))
	}
	if displays[0].Resolution != (desktop.Resolution{Width: 2560, Height: 1440}) {
		t.Fatalf("current mode not used: %+v", displays[0])
	}
	if displays[1].Resolution != (desktop.Resolution{Width: 720, Height: 1280}) {
		t.Fatalf("transform/scale not applied: %+v", displays[1])
	}
}

func TestGrimGeometry(t *testing.T) {
	if got := GrimGeometry(geometry.Rect{X: 10, Y: 20, Width: 300, Height: 200}); got != "10,20 300x200" {
		t.Fatalf("GrimGeometry = %q", got)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("sway"); err != nil || m != ModeSway {
		t.Fatalf("ParseMode(sway) = %v, %v", m, err)
	}
	if _, err := ParseMode("weston"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func noNames(int) string { return "" }

func TestBackend_HyprlandEnumeration(t *testing.T) {
	r := runner.NewScripted().
		On("hyprctl monitors -j", hyprMonitorsJSON).
		On("hyprctl clients -j", hyprClientsJSON).
		On("hyprctl getoption general:border_size -j", `{"option":"general:border_size","int":1}`)
	b := New(ModeHyprland, r, WithProcessNamer(noNames), WithPortal(nil))

	displays, err := b.Displays(context.Background())
	if err != nil || len(displays) != 2 {
		t.Fatalf("Displays: %+v, %v", displays, err)
	}
	windows, err := b.Windows(context.Background())
	if err != nil || len(windows) != 2 {
		t.Fatalf("Windows: %+v, %v", windows, err)
	}
	if windows[0].FrameBounds.Width != 802 {
		t.Fatalf("border not applied: %v", windows[0].FrameBounds)
	}
}

func TestBackend_HyprlandBorderQueryFailure(t *testing.T) {
	r := runner.NewScripted().On("hyprctl clients -j", hyprClientsJSON)
	windows, err := New(ModeHyprland, r, WithProcessNamer(noNames)).Windows(context.Background())
	if err != nil {
		t.Fatalf("Windows: %v", err)
	}
	if !windows[0].FrameBounds.Empty() {
		t.Fatalf("no frame expected without a border size, got %v", windows[0].FrameBounds)
	}
}

func TestBackend_KDEWindows(t *testing.T) {
	r := runner.NewScripted().
		On("kdotool search --name .", "{aaa}\n{bbb}\n{ccc}\n{ddd}\n").
		On("kdotool getwindowgeometry {aaa}", "Window {aaa}\n  Position: 0,0\n  Geometry: 640x480\n").
		On("kdotool getwindowname {aaa}", "Dolphin\n").
		On("kdotool getwindowpid {aaa}", "321\n").
		On("kdotool getwindowgeometry {ccc}", "Window {ccc}\n  Position: 100,50\n  Geometry: 800x600\n").
		On("kdotool getwindowname {ccc}", "Minimized Editor\n").
		On("kdotool getwindowpid {ccc}", "654\n").
		On("kdotool getwindowgeometry {ddd}", "Window {ddd}\n  Position: 10,10\n  Geometry: 300x200\n")
	fake := &fakePortal{
		minimized: map[string]bool{"{aaa}": false, "{ccc}": true},
	}
	b := New(ModeKDE, r,
		WithPortal(func() (PortalClient, error) { return fake, nil }),
		WithProcessNamer(func(pid int) string {
			if pid == 321 {
				return "dolphin"
			}
			return ""
		}))

	windows, err := b.Windows(context.Background())
	if err != nil {
		t.Fatalf("Windows: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("windows without geometry or state should be skipped, got %+v", windows)
	}
	w := windows[0]
	if w.ID != "{aaa}" || w.Title != "Dolphin" || w.PID != 321 || w.ProcessName != "dolphin" || w.IsMinimized {
		t.Fatalf("unexpected window %+v", w)
	}
	if m := windows[1]; m.ID != "{ccc}" || m.Title != "Minimized Editor" || !m.IsMinimized {
		t.Fatalf("expected minimized editor, got %+v", m)
	}
	if fake.closed != 1 {
		t.Fatalf("bus connection closed %d times", fake.closed)
	}
}

func TestBackend_KDEWindowsWithoutSessionBus(t *testing.T) {
	r := runner.NewScripted().
		On("kdotool search --name .", "{aaa}\n").
		On("kdotool getwindowgeometry {aaa}", "Window {aaa}\n  Position: 0,0\n  Geometry: 640x480\n")
	b := New(ModeKDE, r, WithPortal(func() (PortalClient, error) {
		return nil, errors.New("no session bus")
	}))

	if windows, err := b.Windows(context.Background()); err == nil {
		t.Fatalf("expected an error when window state is unreadable, got %+v", windows)
	}
}

func TestMinimizedFromInfo(t *testing.T) {
	tests := []struct {
		name    string
		info    map[string]dbus.Variant
		want    bool
		wantErr bool
	}{
		{"minimized", map[string]dbus.Variant{"caption": dbus.MakeVariant("Kate"), "minimized": dbus.MakeVariant(true)}, true, false},
		{"normal", map[string]dbus.Variant{"minimized": dbus.MakeVariant(false)}, false, false},
		{"gone", map[string]dbus.Variant{}, false, true},
		{"missing field", map[string]dbus.Variant{"caption": dbus.MakeVariant("Kate")}, false, true},
		{"wrong type", map[string]dbus.Variant{"minimized": dbus.MakeVariant("yes")}, false, true},
	}
	for _, tt := range tests {
		got, err := minimizedFromInfo(tt.info)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("%s: got %v, %v", tt.name, got, err)
		}
	}
}

func TestBackend_NoWindowList(t *testing.T) {
	for _, mode := range []Mode{ModeWlroots, ModePortal} {
		_, err := New(mode, runner.NewScripted()).Windows(context.Background())
		if !errors.Is(err, ErrNoWindowList) {
			t.Fatalf("%s: expected ErrNoWindowList, got %v", mode, err)
		}
	}
}

func TestBackend_GrimCommands(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nfake")
	r := runner.NewScripted().OnPrefix("grim ", png)
	b := New(ModeSway, r)
	ctx := context.Background()

	steps := []struct {
		name string
		run  func() ([]byte, error)
		want string
	}{
		{"all", func() ([]byte, error) { return b.CaptureScreen(ctx, nil) }, "grim -t png -"},
		{"output", func() ([]byte, error) {
			return b.CaptureScreen(ctx, &desktop.DisplayInfo{ID: "eDP-1"})
		}, "grim -t png -o eDP-1 -"},
		{"region", func() ([]byte, error) {
			return b.CaptureRegion(ctx, geometry.Rect{X: 5, Y: 6, Width: 70, Height: 80})
		}, "grim -t png -g 5,6 70x80 -"},
		{"window frame", func() ([]byte, error) {
			return b.CaptureWindow(ctx, desktop.WindowInfo{
				Bounds:      geometry.Rect{X: 2, Y: 26, Width: 764, Height: 932},
				FrameBounds: geometry.Rect{X: 0, Y: 0, Width: 768, Height: 960},
			}, true)
		}, "grim -t png -g 0,0 768x960 -"},
	}
	for _, s := range steps {
		t.Run(s.name, func(t *testing.T) {
			r.Reset()
			if _, err := s.run(); err != nil {
				t.Fatalf("capture: %v", err)
			}
			if lines := r.CallLines(); len(lines) != 1 || lines[0] != s.want {
				t.Fatalf("ran %v, want %q", lines, s.want)
			}
		})
	}
}

type fakePortal struct {
	shot      []byte
	displays  []desktop.DisplayInfo
	minimized map[string]bool
	closed    int
}

func (f *fakePortal) Screenshot(context.Context) ([]byte, error) { return f.shot, nil }

func (f *fakePortal) Displays(context.Context) ([]desktop.DisplayInfo, error) {
	return f.displays, nil
}

func (f *fakePortal) WindowMinimized(_ context.Context, id string) (bool, error) {
	m, ok := f.minimized[id]
	if !ok {
		return false, errors.New("window is gone")
	}
	return m, nil
}

func (f *fakePortal) Close() error {
	f.closed++
	return nil
}

func solidPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestBackend_PortalCropsRegion(t *testing.T) {
	fake := &fakePortal{
		shot: solidPNG(t, 200, 100),
		displays: []desktop.DisplayInfo{
			{ID: "left", Resolution: desktop.Resolution{Width: 100, Height: 100}, Position: desktop.Position{X: -100}},
			{ID: "right", Resolution: desktop.Resolution{Width: 100, Height: 100}},
		},
	}
	b := New(ModePortal, runner.NewScripted(), WithPortal(func() (PortalClient, error) { return fake, nil }))

	out, err := b.CaptureRegion(context.Background(), geometry.Rect{X: 10, Y: 20, Width: 30, Height: 40})
	if err != nil {
		t.Fatalf("CaptureRegion: %v", err)
	}
	w, h, err := imaging.Dimensions(out)
	if err != nil || w != 30 || h != 40 {
		t.Fatalf("got %dx%d (%v), want 30x40", w, h, err)
	}
	img, _ := png.Decode(bytes.NewReader(out))
	// Layout x=10 is pixel 110 of a desktop that starts at x=-100.
	if r, _, _, _ := img.At(0, 0).RGBA(); r>>8 != 110 {
		t.Fatalf("crop not offset by desktop origin: red=%d", r>>8)
	}
	if fake.closed == 0 {
		t.Fatalf("portal connection not closed")
	}
}

func TestBackend_PortalDisplayCapture(t *testing.T) {
	fake := &fakePortal{
		shot:     solidPNG(t, 50, 50),
		displays: []desktop.DisplayInfo{{ID: "only", Resolution: desktop.Resolution{Width: 50, Height: 50}}},
	}
	b := New(ModePortal, runner.NewScripted(), WithPortal(func() (PortalClient, error) { return fake, nil }))
	out, err := b.CaptureScreen(context.Background(), nil)
	if err != nil || !bytes.Equal(out, fake.shot) {
		t.Fatalf("whole-desktop capture should return the portal image unchanged (err %v)", err)
	}
}

func TestScreenshotPath(t *testing.T) {
	ok := []interface{}{uint32(0), map[string]dbus.Variant{"uri": dbus.MakeVariant("file:///home/u/Pictures/Screenshot%20from%202024.png")}}
	path, err := screenshotPath(ok)
	if err != nil || path != "/home/u/Pictures/Screenshot from 2024.png" {
		t.Fatalf("screenshotPath = %q, %v", path, err)
	}

	denied := []interface{}{uint32(1), map[string]dbus.Variant{}}
	if _, err := screenshotPath(denied); err == nil {
		t.Fatalf("expected error for denied request")
	}

	remote := []interface{}{uint32(0), map[string]dbus.Variant{"uri": dbus.MakeVariant("https://example.com/x.png")}}
	if _, err := screenshotPath(remote); err == nil {
		t.Fatalf("expected error for non-file uri")
	}
}

func TestMutterDisplays(t *testing.T) {
	current := map[string]dbus.Variant{"is-current": dbus.MakeVariant(true)}
	monitors := []mutterMonitor{
		{Spec: mutterMonitorSpec{Connector: "eDP-1"}, Modes: []mutterMode{
			{ID: "a", Width: 1920, Height: 1080},
			{ID: "b", Width: 2880, Height: 1800, Props: current},
		}},
		{Spec: mutterMonitorSpec{Connector: "DP-1"}, Modes: []mutterMode{
			{ID: "c", Width: 2560, Height: 1440, Props: current},
		}},
	}
	logical := []mutterLogicalMonitor{
		{X: 0, Y: 0, Scale: 2, Monitors: []mutterMonitorSpec{{Connector: "eDP-1"}}},
		{X: 1440, Y: 0, Scale: 1, Transform: 1, Primary: true, Monitors: []mutterMonitorSpec{{Connector: "DP-1"}}},
		{X: 0, Y: 0, Scale: 1},
	}

	displays := mutterDisplays(monitors, logical, layoutModeLogical)
	if len(displays) != 2 {
		t.Fatalf("expected 2 displays, got %+v", displays)
	}
	if displays[0].Resolution != (desktop.Resolution{Width: 1440, Height: 900}) {
		t.Fatalf("logical scale not applied: %+v", displays[0])
	}
	if displays[1].Resolution != (desktop.Resolution{Width: 1440, Height: 2560}) || !displays[1].IsPrimary {
		t.Fatalf("unexpected DP-1 %+v", displays[1])
	}

	physical := mutterDisplays(monitors, logical, layoutModePhysical)
	if physical[0].Resolution != (desktop.Resolution{Width: 2880, Height: 1800}) {
		t.Fatalf("physical layout should ignore scale: %+v", physical[0])
	}
}
