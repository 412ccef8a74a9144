package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/bryanchriswhite/deskshot/internal/capture"
	"github.com/bryanchriswhite/deskshot/internal/config"
	"github.com/bryanchriswhite/deskshot/internal/desktop"
	"github.com/bryanchriswhite/deskshot/internal/errdefs"
	"github.com/bryanchriswhite/deskshot/internal/imaging"
	"github.com/bryanchriswhite/deskshot/internal/logger"
	"github.com/bryanchriswhite/deskshot/internal/output"
	"github.com/bryanchriswhite/deskshot/internal/policy"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// AgentHeader identifies the caller for rate limiting
const AgentHeader = "X-Agent-ID"

// Version is reported by the health endpoint
var Version = "0.1.0"

// Options tunes the server
type Options struct {
	// Imaging is the default encoding; query parameters override it per request
	Imaging imaging.Options
	// SaveDir resolves relative save paths
	SaveDir string
	// StreamInterval is how often the window stream re-enumerates
	StreamInterval time.Duration
}

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	engine    *capture.Engine
	policy    *policy.Policy
	configMgr *config.Manager
	opts      Options
	upgrader  websocket.Upgrader

	streamsMu sync.Mutex
	streams   map[string]*output.MJPEG
}

// NewServer creates a new API server. configMgr may be nil.
func NewServer(engine *capture.Engine, pol *policy.Policy, configMgr *config.Manager, opts Options) *Server {
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = 2 * time.Second
	}
	s := &Server{
		router:    mux.NewRouter(),
		engine:    engine,
		policy:    pol,
		configMgr: configMgr,
		opts:      opts,
		streams:   make(map[string]*output.MJPEG),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Directory
	api.HandleFunc("/displays", s.handleDisplays).Methods("GET")
	api.HandleFunc("/windows", s.handleWindows).Methods("GET")
	api.HandleFunc("/windows/stream", s.handleWindowStream)
	api.HandleFunc("/windows/{id}", s.handleWindow).Methods("GET")

	// Capture
	captures := api.PathPrefix("/capture").Subrouter()
	captures.Use(s.rateLimit)
	captures.HandleFunc("/screen", s.handleCaptureScreen).Methods("GET")
	captures.HandleFunc("/window/{id}", s.handleCaptureWindow).Methods("GET")
	captures.HandleFunc("/region", s.handleCaptureRegion).Methods("GET")
	captures.HandleFunc("/stream", s.handleCaptureStream).Methods("GET")
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until ctx is cancelled
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithComponent("api").Info().Int("port", port).Msg("Starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+AgentHeader)
		w.Header().Set("Access-Control-Expose-Headers", "X-Region, X-Region-Clipped, Retry-After")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.policy != nil {
			if err := s.policy.CheckRateLimit(agentID(r)); err != nil {
				writeError(w, err)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// agentID is the X-Agent-ID header, or the remote host without the port
func agentID(r *http.Request) string {
	if id := r.Header.Get(AgentHeader); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{
		"status":  "healthy",
		"version": Version,
	}
	if det, err := s.engine.Detection(); err == nil {
		status["backend"] = det.String()
	} else {
		status["status"] = "degraded"
		status["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		writeJSON(w, http.StatusOK, config.Defaults())
		return
	}
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleDisplays(w http.ResponseWriter, r *http.Request) {
	displays, err := s.engine.Displays(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, displays)
}

func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := s.engine.Windows(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	if title := r.URL.Query().Get("title"); title != "" {
		re, err := desktop.CompileTitlePattern(title)
		if err != nil {
			writeError(w, err)
			return
		}
		matched := make([]desktop.WindowInfo, 0, len(windows))
		for _, win := range windows {
			if re.MatchString(win.Title) {
				matched = append(matched, win)
			}
		}
		windows = matched
	}
	writeJSON(w, http.StatusOK, windows)
}

func (s *Server) handleWindow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	win, err := s.engine.WindowByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if win == nil {
		writeError(w, errdefs.WindowNotFound("window not found", map[string]any{"window_id": id}))
		return
	}
	writeJSON(w, http.StatusOK, win)
}

// handleWindowStream pushes the window list on connect and again whenever it changes
func (s *Server) handleWindowStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads only to notice the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.StreamInterval)
	defer ticker.Stop()

	var last []desktop.WindowInfo
	for first := true; ; first = false {
		windows, err := s.engine.Windows(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Window stream enumeration failed")
			return
		}
		if first || !reflect.DeepEqual(windows, last) {
			if err := conn.WriteJSON(windows); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
			last = windows
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleCaptureScreen(w http.ResponseWriter, r *http.Request) {
	opts, err := s.imagingOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := s.engine.CaptureScreen(r.Context(), r.URL.Query().Get("display"))
	if err != nil {
		writeError(w, err)
		return
	}
	s.respondImage(w, r, data, opts)
}

func (s *Server) handleCaptureWindow(w http.ResponseWriter, r *http.Request) {
	opts, err := s.imagingOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	frame, err := boolParam(r, "frame")
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := s.engine.CaptureWindow(r.Context(), mux.Vars(r)["id"], frame)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respondImage(w, r, data, opts)
}

func (s *Server) handleCaptureRegion(w http.ResponseWriter, r *http.Request) {
	opts, err := s.imagingOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var coords [4]int
	for i, name := range []string{"x", "y", "width", "height"} {
		v, err := intParam(r, name, true)
		if err != nil {
			writeError(w, err)
			return
		}
		coords[i] = v
	}

	res, err := s.engine.CaptureRegion(r.Context(), coords[0], coords[1], coords[2], coords[3])
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("X-Region", res.Clip.Region.String())
	w.Header().Set("X-Region-Clipped", strconv.FormatBool(res.Clip.WasClipped))
	s.respondImage(w, r, res.Data, opts)
}

// handleCaptureStream serves a live MJPEG stream of one display or the whole
// desktop. Viewers of the same display and rate share one capture loop.
func (s *Server) handleCaptureStream(w http.ResponseWriter, r *http.Request) {
	display := r.URL.Query().Get("display")
	fps, err := intParam(r, "fps", false)
	if err != nil {
		writeError(w, err)
		return
	}
	if fps == 0 {
		fps = 2
	}
	if fps < 0 || fps > output.MaxFPS {
		writeError(w, badRequest(fmt.Sprintf("fps must be between 1 and %d", output.MaxFPS), "fps"))
		return
	}

	if display != "" {
		displays, err := s.engine.Displays(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		found := false
		for _, d := range displays {
			found = found || d.ID == display
		}
		if !found {
			writeError(w, errdefs.DisplayNotFound(display))
			return
		}
	}

	key := fmt.Sprintf("%s@%d", display, fps)
	s.streamsMu.Lock()
	stream, ok := s.streams[key]
	if !ok {
		source := func(ctx context.Context) ([]byte, error) {
			return s.engine.CaptureScreen(ctx, display)
		}
		stream = output.NewMJPEG(key, source, fps, s.opts.Imaging.Quality)
		s.streams[key] = stream
	}
	s.streamsMu.Unlock()

	stream.ServeHTTP(w, r)
}

// respondImage converts data and either streams it or, with ?save=PATH,
// writes it to disk and describes the file
func (s *Server) respondImage(w http.ResponseWriter, r *http.Request, data []byte, opts imaging.Options) {
	out, err := imaging.Convert(data, opts)
	if err != nil {
		writeError(w, err)
		return
	}

	save := r.URL.Query().Get("save")
	if save == "" {
		w.Header().Set("Content-Type", opts.Format.ContentType())
		w.Header().Set("Content-Length", strconv.Itoa(len(out)))
		w.WriteHeader(http.StatusOK)
		w.Write(out)
		return
	}

	// Traversal is judged on the path as given, before joining cleans it away
	if err := policy.ValidatePath(save, nil); err != nil {
		writeError(w, err)
		return
	}
	if !filepath.IsAbs(save) && s.opts.SaveDir != "" {
		save = filepath.Join(s.opts.SaveDir, save)
	}
	if s.policy != nil {
		if err := s.policy.ValidatePath(save); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := os.MkdirAll(filepath.Dir(save), 0755); err != nil {
		writeError(w, fmt.Errorf("failed to create directory: %w", err))
		return
	}
	if err := os.WriteFile(save, out, 0644); err != nil {
		writeError(w, fmt.Errorf("failed to save capture: %w", err))
		return
	}

	resp := map[string]any{
		"path":   save,
		"bytes":  len(out),
		"format": opts.Format,
	}
	if width, height, err := imaging.Dimensions(out); err == nil {
		resp["width"] = width
		resp["height"] = height
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) imagingOptions(r *http.Request) (imaging.Options, error) {
	opts := s.opts.Imaging
	q := r.URL.Query()

	if f := q.Get("format"); f != "" {
		format, err := imaging.ParseFormat(f)
		if err != nil {
			return opts, badRequest(err.Error(), "format")
		}
		opts.Format = format
	}
	if opts.Format == "" {
		opts.Format = imaging.PNG
	}

	for name, dst := range map[string]*int{"quality": &opts.Quality, "max_width": &opts.MaxWidth, "max_height": &opts.MaxHeight} {
		if q.Get(name) == "" {
			continue
		}
		v, err := intParam(r, name, false)
		if err != nil {
			return opts, err
		}
		if v < 0 {
			return opts, badRequest(name+" must not be negative", name)
		}
		*dst = v
	}
	if opts.Quality > 100 {
		return opts, badRequest("quality must be between 1 and 100", "quality")
	}
	opts.Label = q.Get("label")
	return opts, nil
}

// requestError is a malformed query parameter
type requestError struct {
	msg   string
	param string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg, param string) error {
	return &requestError{msg: msg, param: param}
}

func intParam(r *http.Request, name string, required bool) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		if required {
			return 0, badRequest("missing parameter "+name, name)
		}
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest(fmt.Sprintf("parameter %s must be an integer, got %q", name, raw), name)
	}
	return v, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badRequest(fmt.Sprintf("parameter %s must be a boolean, got %q", name, raw), name)
	}
	return v, nil
}

// errorBody is the JSON shape of every error response
type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError maps err onto a status code and JSON body
func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Code: "INTERNAL", Message: err.Error()}
	status := http.StatusInternalServerError

	var (
		reqErr  *requestError
		pathErr *policy.PathValidationError
		rateErr *policy.RateLimitError
	)
	if e, ok := errdefs.As(err); ok {
		body.Code = e.Code()
		body.Message = e.Message
		body.Details = e.Details
		if e.Err != nil {
			body.Message = e.Error()
		}
		switch e.Kind {
		case errdefs.KindInvalidRegion:
			status = http.StatusBadRequest
		case errdefs.KindWindowNotFound, errdefs.KindDisplayNotFound:
			status = http.StatusNotFound
		}
	} else if errors.As(err, &reqErr) {
		status = http.StatusBadRequest
		body.Code = "BAD_REQUEST"
		body.Details = map[string]any{"parameter": reqErr.param}
	} else if errors.As(err, &pathErr) {
		status = http.StatusForbidden
		body.Code = "PATH_REJECTED"
		body.Details = map[string]any{"path": pathErr.Path, "reason": pathErr.Reason}
	} else if errors.As(err, &rateErr) {
		status = http.StatusTooManyRequests
		body.Code = "RATE_LIMITED"
		retry := int(rateErr.RetryAfter.Round(time.Second) / time.Second)
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		body.Details = map[string]any{"agent_id": rateErr.AgentID, "limit": rateErr.Limit}
	}

	if status == http.StatusInternalServerError {
		logger.WithComponent("api").Error().Err(err).Str("code", body.Code).Msg("Request failed")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
