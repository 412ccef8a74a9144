package output

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func pngFrame(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 8))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMJPEG_SharedLoop(t *testing.T) {
	frame := pngFrame(t)
	var calls atomic.Int64
	stream := NewMJPEG("test", func(context.Context) ([]byte, error) {
		calls.Add(1)
		return frame, nil
	}, MaxFPS, 0)

	srv := httptest.NewServer(stream)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	open := func() *http.Response {
		req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		return resp
	}
	first, second := open(), open()
	defer first.Body.Close()
	defer second.Body.Close()

	for _, resp := range []*http.Response{first, second} {
		part, err := multipart.NewReader(resp.Body, "frame").NextPart()
		if err != nil {
			t.Fatalf("NextPart: %v", err)
		}
		cfg, format, err := image.DecodeConfig(part)
		if err != nil || format != "jpeg" || cfg.Width != 16 {
			t.Fatalf("frame = %s %dx%d, err %v", format, cfg.Width, cfg.Height, err)
		}
	}
	waitFor(t, func() bool { return stream.Clients() == 2 })

	cancel()
	waitFor(t, func() bool { return stream.Clients() == 0 })

	// The loop stops with the last client
	stopped := calls.Load()
	time.Sleep(300 * time.Millisecond)
	if n := calls.Load(); n > stopped+1 {
		t.Fatalf("source called %d times after all clients left", n-stopped)
	}
}

func TestMJPEG_SourceErrorKeepsStreaming(t *testing.T) {
	frame := pngFrame(t)
	var calls atomic.Int64
	stream := NewMJPEG("flaky", func(context.Context) ([]byte, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("display asleep")
		}
		return frame, nil
	}, MaxFPS, 50)

	srv := httptest.NewServer(stream)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if _, err := multipart.NewReader(resp.Body, "frame").NextPart(); err != nil {
		t.Fatalf("NextPart: %v", err)
	}
	if calls.Load() < 2 {
		t.Fatalf("expected a retry after the failed frame, got %d calls", calls.Load())
	}
}

func TestNewMJPEG_ClampsRate(t *testing.T) {
	src := func(context.Context) ([]byte, error) { return nil, nil }
	tests := []struct {
		fps  int
		want time.Duration
	}{
		{0, time.Second},
		{4, 250 * time.Millisecond},
		{100, time.Second / MaxFPS},
	}
	for _, tt := range tests {
		if got := NewMJPEG("x", src, tt.fps, 0).interval; got != tt.want {
			t.Fatalf("fps %d: interval %v, want %v", tt.fps, got, tt.want)
		}
	}
}

func TestMJPEG_ReconnectWhileStopping(t *testing.T) {
	frame := pngFrame(t)
	stream := NewMJPEG("reconnect", func(context.Context) ([]byte, error) {
		return frame, nil
	}, MaxFPS, 0)

	srv := httptest.NewServer(stream)
	defer srv.Close()

	// Each round ends the previous loop while the next viewer starts a new one
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			cancel()
			t.Fatalf("round %d: GET: %v", i, err)
		}
		if _, err := multipart.NewReader(resp.Body, "frame").NextPart(); err != nil {
			cancel()
			t.Fatalf("round %d: NextPart: %v", i, err)
		}
		cancel()
		resp.Body.Close()
	}

	if n := stream.Frames(); n < 5 {
		t.Fatalf("frames = %d, want at least one per round", n)
	}
}
