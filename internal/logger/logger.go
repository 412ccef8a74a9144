package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger

	mu     sync.RWMutex
	output io.Writer = os.Stderr
)

func init() {
	// Default: info level, JSON on stderr. stdout is reserved for image data.
	Logger = newLogger(os.Stderr)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = Logger
}

// LogLevel represents the logging level
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).
		With().
		Timestamp().
		Caller().
		Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Init initializes the global logger with the specified level and output style
func Init(level string, pretty bool) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	mu.RLock()
	var w io.Writer = output
	mu.RUnlock()

	if pretty {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		}
	}

	setLogger(newLogger(w))
}

// SetOutput redirects the global logger, e.g. to a buffer in tests
func SetOutput(w io.Writer) {
	mu.Lock()
	output = w
	mu.Unlock()
	setLogger(newLogger(w))
}

func setLogger(l zerolog.Logger) {
	mu.Lock()
	Logger = l
	mu.Unlock()
	log.Logger = l
}

// Get returns the global logger instance
func Get() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := Logger
	return &l
}

// WithComponent returns a logger with a component field set
func WithComponent(component string) *zerolog.Logger {
	mu.RLock()
	l := Logger.With().Str("component", component).Logger()
	mu.RUnlock()
	return &l
}

// WithBackend returns a component logger that also carries the backend name
func WithBackend(component, backend string) *zerolog.Logger {
	mu.RLock()
	l := Logger.With().Str("component", component).Str("backend", backend).Logger()
	mu.RUnlock()
	return &l
}
