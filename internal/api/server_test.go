package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/deskshot/internal/capture"
	"github.com/bryanchriswhite/deskshot/internal/desktop"
	"github.com/bryanchriswhite/deskshot/internal/geometry"
	"github.com/bryanchriswhite/deskshot/internal/policy"
	"github.com/gorilla/websocket"
)

type fakeBackend struct {
	displays []desktop.DisplayInfo
	windows  []desktop.WindowInfo
	regions  []geometry.Rect
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Displays(context.Context) ([]desktop.DisplayInfo, error) {
	return f.displays, nil
}

func (f *fakeBackend) Windows(context.Context) ([]desktop.WindowInfo, error) {
	return f.windows, nil
}

func (f *fakeBackend) CaptureScreen(context.Context, *desktop.DisplayInfo) ([]byte, error) {
	return testPNG(40, 20), nil
}

func (f *fakeBackend) CaptureWindow(_ context.Context, w desktop.WindowInfo, frame bool) ([]byte, error) {
	r := w.CaptureRect(frame)
	return testPNG(r.Width, r.Height), nil
}

func (f *fakeBackend) CaptureRegion(_ context.Context, r geometry.Rect) ([]byte, error) {
	f.regions = append(f.regions, r)
	return testPNG(r.Width, r.Height), nil
}

func testPNG(w, h int) []byte {
	var buf bytes.Buffer
	png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)))
	return buf.Bytes()
}

func newTestServer(t *testing.T, cfg policy.Config, opts Options) (*httptest.Server, *fakeBackend) {
	t.Helper()
	b := &fakeBackend{
		displays: []desktop.DisplayInfo{{ID: "eDP-1", Resolution: desktop.Resolution{Width: 1920, Height: 1080}, IsPrimary: true}},
		windows: []desktop.WindowInfo{
			{ID: "0x10", Title: "Terminal", Bounds: geometry.Rect{X: 10, Y: 10, Width: 30, Height: 20}},
			{ID: "0x20", Title: "Music", IsMinimized: true},
			{ID: "0x30", Title: "Password Manager", Bounds: geometry.Rect{Width: 5, Height: 5}},
		},
	}
	pol, err := policy.New(cfg)
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}
	engine := capture.NewEngineForBackend(b, capture.WithWindowFilter(pol.Filter()))
	srv := httptest.NewServer(NewServer(engine, pol, nil, opts).Handler())
	t.Cleanup(srv.Close)
	return srv, b
}

func get(t *testing.T, url string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestHealthAndDirectory(t *testing.T) {
	srv, _ := newTestServer(t, policy.Config{BlockedTitlePatterns: []string{"password"}}, Options{})

	resp := get(t, srv.URL+"/api/health", nil)
	var health map[string]string
	json.NewDecoder(resp.Body).Decode(&health)
	if health["status"] != "healthy" || health["backend"] != "fake" {
		t.Fatalf("unexpected health %v", health)
	}

	resp = get(t, srv.URL+"/api/displays", nil)
	var displays []desktop.DisplayInfo
	if err := json.NewDecoder(resp.Body).Decode(&displays); err != nil || len(displays) != 1 {
		t.Fatalf("displays: %+v, %v", displays, err)
	}

	resp = get(t, srv.URL+"/api/windows", nil)
	var windows []desktop.WindowInfo
	json.NewDecoder(resp.Body).Decode(&windows)
	if len(windows) != 2 {
		t.Fatalf("blocked window should be hidden, got %+v", windows)
	}

	resp = get(t, srv.URL+"/api/windows?title=TERM", nil)
	windows = nil
	json.NewDecoder(resp.Body).Decode(&windows)
	if len(windows) != 1 || windows[0].ID != "0x10" {
		t.Fatalf("title filter: %+v", windows)
	}

	if resp := get(t, srv.URL+"/api/windows/0x20", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("window lookup status %d", resp.StatusCode)
	}
	resp = get(t, srv.URL+"/api/windows/0x30", nil)
	if resp.StatusCode != http.StatusNotFound || decodeError(t, resp).Code != "WINDOW_NOT_FOUND" {
		t.Fatalf("blocked window lookup should 404")
	}
}

func TestCaptureRegion_ClipHeaders(t *testing.T) {
	srv, b := newTestServer(t, policy.Config{}, Options{})

	resp := get(t, srv.URL+"/api/capture/region?x=1900&y=1060&width=100&height=100", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Region-Clipped") != "true" || resp.Header.Get("X-Region") != "20x20+1900+1060" {
		t.Fatalf("unexpected headers %v", resp.Header)
	}
	if resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("content type %q", resp.Header.Get("Content-Type"))
	}
	if len(b.regions) != 1 || b.regions[0] != (geometry.Rect{X: 1900, Y: 1060, Width: 20, Height: 20}) {
		t.Fatalf("backend got %+v", b.regions)
	}
}

func TestCaptureErrors(t *testing.T) {
	srv, _ := newTestServer(t, policy.Config{}, Options{})

	tests := []struct {
		path   string
		status int
		code   string
	}{
		{"/api/capture/region?x=-1&y=0&width=10&height=10", http.StatusBadRequest, "INVALID_REGION"},
		{"/api/capture/region?x=0&y=0&width=0&height=10", http.StatusBadRequest, "INVALID_REGION"},
		{"/api/capture/region?x=5000&y=0&width=10&height=10", http.StatusBadRequest, "INVALID_REGION"},
		{"/api/capture/region?x=a&y=0&width=10&height=10", http.StatusBadRequest, "BAD_REQUEST"},
		{"/api/capture/region?x=0&y=0&width=10", http.StatusBadRequest, "BAD_REQUEST"},
		{"/api/capture/screen?display=HDMI-9", http.StatusNotFound, "DISPLAY_NOT_FOUND"},
		{"/api/capture/window/0x20", http.StatusNotFound, "WINDOW_NOT_FOUND"},
		{"/api/capture/window/0x99", http.StatusNotFound, "WINDOW_NOT_FOUND"},
		{"/api/capture/window/0x10?frame=maybe", http.StatusBadRequest, "BAD_REQUEST"},
		{"/api/capture/screen?format=gif", http.StatusBadRequest, "BAD_REQUEST"},
		{"/api/capture/stream?fps=60", http.StatusBadRequest, "BAD_REQUEST"},
		{"/api/capture/stream?display=HDMI-9", http.StatusNotFound, "DISPLAY_NOT_FOUND"},
	}
	for _, tt := range tests {
		resp := get(t, srv.URL+tt.path, nil)
		if resp.StatusCode != tt.status {
			t.Fatalf("%s: status %d, want %d", tt.path, resp.StatusCode, tt.status)
		}
		if body := decodeError(t, resp); body.Code != tt.code {
			t.Fatalf("%s: code %q, want %q", tt.path, body.Code, tt.code)
		}
	}
}

func TestCaptureWindow_JPEG(t *testing.T) {
	srv, _ := newTestServer(t, policy.Config{}, Options{})
	resp := get(t, srv.URL+"/api/capture/window/0x10?format=jpg&quality=50", nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Fatalf("status %d content type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	img, format, err := image.DecodeConfig(resp.Body)
	if err != nil || format != "jpeg" || img.Width != 30 || img.Height != 20 {
		t.Fatalf("decoded %+v %q %v", img, format, err)
	}
}

func TestCaptureSave(t *testing.T) {
	dir := t.TempDir()
	srv, _ := newTestServer(t, policy.Config{AllowedDirectories: []string{dir}}, Options{SaveDir: dir})

	resp := get(t, srv.URL+"/api/capture/screen?save=shots/screen.png", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %+v", resp.StatusCode, decodeError(t, resp))
	}
	var saved map[string]any
	json.NewDecoder(resp.Body).Decode(&saved)
	path := filepath.Join(dir, "shots", "screen.png")
	if saved["path"] != path || saved["width"] != float64(40) {
		t.Fatalf("unexpected response %v", saved)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not written: %v", err)
	}

	for _, bad := range []string{"../escape.png", "/etc/escape.png"} {
		resp := get(t, srv.URL+"/api/capture/screen?save="+bad, nil)
		if resp.StatusCode != http.StatusForbidden || decodeError(t, resp).Code != "PATH_REJECTED" {
			t.Fatalf("%s: expected 403, got %d", bad, resp.StatusCode)
		}
	}
}

func TestCaptureRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, policy.Config{RateLimitPerMinute: 2}, Options{})
	agent := map[string]string{AgentHeader: "agent-7"}

	for i := 0; i < 2; i++ {
		if resp := get(t, srv.URL+"/api/capture/screen", agent); resp.StatusCode != http.StatusOK {
			t.Fatalf("capture %d: status %d", i, resp.StatusCode)
		}
	}
	resp := get(t, srv.URL+"/api/capture/screen", agent)
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Code != "RATE_LIMITED" {
		t.Fatalf("code %q", body.Code)
	}

	if resp := get(t, srv.URL+"/api/capture/screen", map[string]string{AgentHeader: "agent-8"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("other agent should not be limited, got %d", resp.StatusCode)
	}
	if resp := get(t, srv.URL+"/api/displays", agent); resp.StatusCode != http.StatusOK {
		t.Fatalf("listing is not rate limited, got %d", resp.StatusCode)
	}
}

func TestWindowStream(t *testing.T) {
	srv, _ := newTestServer(t, policy.Config{}, Options{StreamInterval: 10 * time.Millisecond})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/windows/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var windows []desktop.WindowInfo
	if err := conn.ReadJSON(&windows); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if len(windows) != 3 {
		t.Fatalf("expected initial window list, got %+v", windows)
	}
}

func TestCaptureStream(t *testing.T) {
	srv, _ := newTestServer(t, policy.Config{}, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/capture/stream?display=eDP-1&fps=5", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Fatalf("content type %q", ct)
	}
	part, err := multipart.NewReader(resp.Body, "frame").NextPart()
	if err != nil {
		t.Fatalf("first part: %v", err)
	}
	if part.Header.Get("Content-Type") != "image/jpeg" {
		t.Fatalf("part content type %q", part.Header.Get("Content-Type"))
	}
	img, format, err := image.DecodeConfig(part)
	if err != nil || format != "jpeg" || img.Width != 40 || img.Height != 20 {
		t.Fatalf("frame = %s %dx%d, err %v", format, img.Width, img.Height, err)
	}
}
