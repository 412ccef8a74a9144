// Package output streams repeated captures to HTTP clients.
package output

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/deskshot/internal/imaging"
	"github.com/bryanchriswhite/deskshot/internal/logger"
)

// Source produces one encoded frame per call
type Source func(ctx context.Context) ([]byte, error)

// MaxFPS caps how often a stream captures
const MaxFPS = 10

// MJPEG streams frames from a Source as Motion JPEG. The capture loop runs
// only while at least one client is connected, and all clients share it.
type MJPEG struct {
	name     string
	source   Source
	interval time.Duration
	quality  int

	clientsMu sync.Mutex
	clients   map[chan []byte]struct{}
	cancel    context.CancelFunc

	frameCount atomic.Uint64
}

// NewMJPEG creates a stream; fps is clamped to 1..MaxFPS
func NewMJPEG(name string, source Source, fps, quality int) *MJPEG {
	fps = min(max(fps, 1), MaxFPS)
	if quality <= 0 {
		quality = imaging.DefaultQuality
	}
	return &MJPEG{
		name:     name,
		source:   source,
		interval: time.Second / time.Duration(fps),
		quality:  quality,
		clients:  make(map[chan []byte]struct{}),
	}
}

// Frames returns how many frames have been broadcast
func (m *MJPEG) Frames() uint64 {
	return m.frameCount.Load()
}

// Clients returns the number of connected clients
func (m *MJPEG) Clients() int {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	return len(m.clients)
}

func (m *MJPEG) subscribe() chan []byte {
	frameChan := make(chan []byte, 2)

	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	m.clients[frameChan] = struct{}{}
	if m.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		go m.run(ctx)
	}
	logger.WithComponent("mjpeg").Debug().
		Str("stream", m.name).
		Int("clients", len(m.clients)).
		Msg("Client connected")
	return frameChan
}

func (m *MJPEG) unsubscribe(frameChan chan []byte) {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	delete(m.clients, frameChan)
	if len(m.clients) == 0 && m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	logger.WithComponent("mjpeg").Debug().
		Str("stream", m.name).
		Int("clients", len(m.clients)).
		Msg("Client disconnected")
}

// run captures until ctx is cancelled, dropping frames for slow clients
func (m *MJPEG) run(ctx context.Context) {
	log := logger.WithComponent("mjpeg")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if frame, err := m.frame(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("stream", m.name).Msg("Frame capture failed")
		} else {
			m.broadcast(frame)
		}

		select {
		case <-ctx.Done():
			log.Debug().Str("stream", m.name).Uint64("frames", m.frameCount.Load()).Msg("Stream stopped")
			return
		case <-ticker.C:
		}
	}
}

func (m *MJPEG) frame(ctx context.Context) ([]byte, error) {
	data, err := m.source(ctx)
	if err != nil {
		return nil, err
	}
	return imaging.Convert(data, imaging.Options{Format: imaging.JPEG, Quality: m.quality})
}

func (m *MJPEG) broadcast(frame []byte) {
	m.frameCount.Add(1)
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	for ch := range m.clients {
		select {
		case ch <- frame:
		default:
			// Client is slow, skip this frame
		}
	}
}

// ServeHTTP streams frames until the client goes away
func (m *MJPEG) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")

	frameChan := m.subscribe()
	defer m.unsubscribe(frameChan)

	flusher, _ := w.(http.Flusher)
	for {
		select {
		case <-r.Context().Done():
			return
		case jpegData := <-frameChan:
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
				return
			}
			if _, err := w.Write(jpegData); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
