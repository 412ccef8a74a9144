package desktop

import (
	"context"
	"fmt"
	"regexp"

	"github.com/bryanchriswhite/deskshot/internal/errdefs"
	"github.com/bryanchriswhite/deskshot/internal/logger"
)

// FallbackDisplayID identifies the synthetic display used when enumeration fails
const FallbackDisplayID = "default"

// FallbackDisplay is returned when no display can be enumerated
func FallbackDisplay() DisplayInfo {
	return DisplayInfo{
		ID:         FallbackDisplayID,
		Name:       "Default Display",
		Resolution: Resolution{Width: 1920, Height: 1080},
		Position:   Position{X: 0, Y: 0},
		IsPrimary:  true,
	}
}

// NormalizeDisplays enforces exactly one primary display. If none is marked
// the first becomes primary; if several are marked the first marked one wins.
func NormalizeDisplays(displays []DisplayInfo) []DisplayInfo {
	if len(displays) == 0 {
		return displays
	}

	out := make([]DisplayInfo, len(displays))
	copy(out, displays)

	primary := -1
	for i := range out {
		if out[i].IsPrimary {
			if primary == -1 {
				primary = i
			} else {
				out[i].IsPrimary = false
			}
		}
	}
	if primary == -1 {
		out[0].IsPrimary = true
	}
	return out
}

// WindowFilter decides whether a window may be listed and captured
type WindowFilter interface {
	Allowed(w WindowInfo) bool
}

// Directory wraps a backend's enumeration with the shared fallback and lookup rules.
// It never caches: every call takes a fresh snapshot.
type Directory struct {
	backend Backend
	filter  WindowFilter
}

// NewDirectory creates a directory over the backend. filter may be nil.
func NewDirectory(backend Backend, filter WindowFilter) *Directory {
	return &Directory{backend: backend, filter: filter}
}

// GetDisplays returns a non-empty display list, falling back to a synthetic display on failure
func (d *Directory) GetDisplays(ctx context.Context) []DisplayInfo {
	log := logger.WithBackend("directory", d.backend.Name())

	displays, err := d.backend.Displays(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Display enumeration failed, using fallback display")
		return []DisplayInfo{FallbackDisplay()}
	}
	if len(displays) == 0 {
		log.Warn().Msg("Display enumeration returned nothing, using fallback display")
		return []DisplayInfo{FallbackDisplay()}
	}
	return NormalizeDisplays(displays)
}

// GetWindows returns the current windows, or an empty list on failure
func (d *Directory) GetWindows(ctx context.Context) []WindowInfo {
	log := logger.WithBackend("directory", d.backend.Name())

	windows, err := d.backend.Windows(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Window enumeration failed, returning empty list")
		return []WindowInfo{}
	}

	if d.filter == nil {
		return windows
	}
	allowed := make([]WindowInfo, 0, len(windows))
	for _, w := range windows {
		if d.filter.Allowed(w) {
			allowed = append(allowed, w)
		}
	}
	if hidden := len(windows) - len(allowed); hidden > 0 {
		log.Debug().Int("hidden", hidden).Msg("Window filter hid windows")
	}
	return allowed
}

// GetWindowByID scans a fresh snapshot for id
func (d *Directory) GetWindowByID(ctx context.Context, id string) *WindowInfo {
	return FindWindowByID(d.GetWindows(ctx), id)
}

// GetWindowByTitle returns the first window whose title matches pattern
// case-insensitively. The pattern is a regular expression and is not escaped.
func (d *Directory) GetWindowByTitle(ctx context.Context, pattern string) (*WindowInfo, error) {
	re, err := CompileTitlePattern(pattern)
	if err != nil {
		return nil, err
	}
	return FindWindowByTitle(d.GetWindows(ctx), re), nil
}

// CompileTitlePattern compiles pattern as a case-insensitive regexp
func CompileTitlePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, errdefs.WindowNotFound(
			fmt.Sprintf("invalid title pattern %q", pattern),
			map[string]any{"pattern": pattern, "reason": err.Error()},
		)
	}
	return re, nil
}

// FindWindowByID returns the window with the given id, or nil
func FindWindowByID(windows []WindowInfo, id string) *WindowInfo {
	for i := range windows {
		if windows[i].ID == id {
			w := windows[i]
			return &w
		}
	}
	return nil
}

// FindWindowByTitle returns the first window in enumeration order whose title matches re, or nil
func FindWindowByTitle(windows []WindowInfo, re *regexp.Regexp) *WindowInfo {
	for i := range windows {
		if re.MatchString(windows[i].Title) {
			w := windows[i]
			return &w
		}
	}
	return nil
}
