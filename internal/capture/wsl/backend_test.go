package wsl

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/bryanchriswhite/deskshot/internal/capture/powershell"
	"github.com/bryanchriswhite/deskshot/internal/desktop"
	"github.com/bryanchriswhite/deskshot/internal/geometry"
	"github.com/bryanchriswhite/deskshot/internal/runner"
)

var fakePNG = []byte("\x89PNG\r\n\x1a\nwsl")

func script(t *testing.T, s string) string {
	t.Helper()
	cmd, err := powershell.NewClient(nil, DefaultExecutable).Command(s)
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	return cmd.String()
}

func TestBackend_RunsHostScripts(t *testing.T) {
	region := geometry.Rect{X: 100, Y: 50, Width: 640, Height: 480}
	frame := geometry.Rect{X: 92, Y: 20, Width: 656, Height: 518}
	display := desktop.DisplayInfo{ID: "DISPLAY2", Resolution: desktop.Resolution{Width: 1920, Height: 1080}, Position: desktop.Position{X: 2560}}
	encoded := base64.StdEncoding.EncodeToString(fakePNG)

	r := runner.NewScripted().
		On(script(t, powershell.ScreensScript()), `{"DeviceName":"\\\\.\\DISPLAY1","Primary":true,"X":0,"Y":0,"Width":2560,"Height":1440}`).
		On(script(t, powershell.WindowsScript()), `[{"Handle":9,"Title":"Terminal","Pid":1,"ProcessName":"WindowsTerminal","X":100,"Y":50,"Width":640,"Height":480,"FrameX":92,"FrameY":20,"FrameWidth":656,"FrameHeight":518}]`).
		On(script(t, powershell.VirtualScreenScript()), encoded).
		On(script(t, powershell.CaptureRectScript(region)), encoded).
		On(script(t, powershell.CaptureRectScript(frame)), encoded).
		On(script(t, powershell.CaptureRectScript(display.Rect())), encoded)

	b := New(r, "")
	ctx := context.Background()

	displays, err := b.Displays(ctx)
	if err != nil || len(displays) != 1 || displays[0].ID != "DISPLAY1" {
		t.Fatalf("Displays: %+v, %v", displays, err)
	}

	windows, err := b.Windows(ctx)
	if err != nil || len(windows) != 1 {
		t.Fatalf("Windows: %+v, %v", windows, err)
	}
	w := windows[0]
	if w.ID != "9" || w.FrameBounds != frame {
		t.Fatalf("unexpected window %+v", w)
	}

	captures := []func() ([]byte, error){
		func() ([]byte, error) { return b.CaptureScreen(ctx, nil) },
		func() ([]byte, error) { return b.CaptureScreen(ctx, &display) },
		func() ([]byte, error) { return b.CaptureWindow(ctx, w, false) },
		func() ([]byte, error) { return b.CaptureWindow(ctx, w, true) },
		func() ([]byte, error) { return b.CaptureRegion(ctx, region) },
	}
	for i, capture := range captures {
		out, err := capture()
		if err != nil {
			t.Fatalf("capture %d: %v", i, err)
		}
		if string(out) != string(fakePNG) {
			t.Fatalf("capture %d returned %q", i, out)
		}
	}

	for _, c := range r.Calls() {
		if c.Name != DefaultExecutable {
			t.Fatalf("unexpected executable %q", c.Name)
		}
	}
}

func TestBackend_HostFailure(t *testing.T) {
	b := New(runner.NewScripted().Missing("powershell.exe"), "")
	if _, err := b.CaptureRegion(context.Background(), geometry.Rect{Width: 1, Height: 1}); err == nil {
		t.Fatalf("expected error when interop is unavailable")
	}
	if _, err := b.Displays(context.Background()); err == nil {
		t.Fatalf("expected error when interop is unavailable")
	}
}
