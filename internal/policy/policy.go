// Package policy holds the checks that sit in front of the capture engine:
// where captures may be written, how often an agent may capture, and which
// windows may be listed or captured at all.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/deskshot/internal/desktop"
	"github.com/bryanchriswhite/deskshot/internal/logger"
)

// Config is the policy section of the config file
type Config struct {
	AllowedDirectories     []string `json:"allowed_directories" yaml:"allowed_directories" mapstructure:"allowed_directories"`
	RateLimitPerMinute     int      `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	BlockedTitlePatterns   []string `json:"blocked_title_patterns" yaml:"blocked_title_patterns" mapstructure:"blocked_title_patterns"`
	BlockedProcessPatterns []string `json:"blocked_process_patterns" yaml:"blocked_process_patterns" mapstructure:"blocked_process_patterns"`
}

// PathValidationError reports a save path the policy refuses
type PathValidationError struct {
	Path   string
	Reason string
}

func (e *PathValidationError) Error() string {
	return fmt.Sprintf("path %q rejected: %s", e.Path, e.Reason)
}

// RateLimitError reports an agent that exceeded its capture budget
type RateLimitError struct {
	AgentID    string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("agent %q exceeded %d captures per minute, retry in %s",
		e.AgentID, e.Limit, e.RetryAfter.Round(time.Second))
}

// Policy bundles path validation, rate limiting and window filtering
type Policy struct {
	allowed []string
	limiter *RateLimiter
	filter  *WindowFilter
}

// New builds a policy from config. Blocked patterns must compile.
func New(cfg Config) (*Policy, error) {
	filter, err := NewWindowFilter(cfg.BlockedTitlePatterns, cfg.BlockedProcessPatterns)
	if err != nil {
		return nil, err
	}

	allowed := make([]string, 0, len(cfg.AllowedDirectories))
	for _, dir := range cfg.AllowedDirectories {
		abs, err := filepath.Abs(ExpandHome(dir))
		if err != nil {
			return nil, fmt.Errorf("invalid allowed directory %q: %w", dir, err)
		}
		allowed = append(allowed, abs)
	}

	return &Policy{
		allowed: allowed,
		limiter: NewRateLimiter(cfg.RateLimitPerMinute, time.Minute),
		filter:  filter,
	}, nil
}

// Filter returns the window filter to install on the engine
func (p *Policy) Filter() *WindowFilter {
	return p.filter
}

// ValidatePath accepts path when it has no ".." segment and, if an
// allow-list is configured, its directory lies inside an allowed directory
func (p *Policy) ValidatePath(path string) error {
	return ValidatePath(path, p.allowed)
}

// CheckRateLimit records one capture for agentID
func (p *Policy) CheckRateLimit(agentID string) error {
	return p.limiter.Allow(agentID)
}

// ValidatePath checks path against allowed (absolute, cleaned directories).
// An empty allowed list permits any directory.
func ValidatePath(path string, allowed []string) error {
	if strings.TrimSpace(path) == "" {
		return &PathValidationError{Path: path, Reason: "empty path"}
	}
	for _, seg := range strings.FieldsFunc(filepath.ToSlash(path), func(r rune) bool { return r == '/' }) {
		if seg == ".." {
			return &PathValidationError{Path: path, Reason: "path traversal"}
		}
	}
	if len(allowed) == 0 {
		return nil
	}

	abs, err := filepath.Abs(ExpandHome(path))
	if err != nil {
		return &PathValidationError{Path: path, Reason: err.Error()}
	}
	dir := filepath.Dir(abs)
	for _, a := range allowed {
		rel, err := filepath.Rel(a, dir)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return &PathValidationError{Path: path, Reason: "directory not in allowed list"}
}

// ExpandHome replaces a leading "~" with the home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// RateLimiter is a per-agent sliding-window counter
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewRateLimiter allows limit events per window per agent; limit <= 0 disables it
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// Allow records an event for agentID, or returns a RateLimitError without
// recording it when the agent is over budget
func (l *RateLimiter) Allow(agentID string) error {
	if l == nil || l.limit <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	hits := l.hits[agentID]
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	hits = hits[i:]

	if len(hits) >= l.limit {
		l.hits[agentID] = hits
		retry := hits[0].Add(l.window).Sub(now)
		logger.WithComponent("policy").Debug().
			Str("agent_id", agentID).
			Int("limit", l.limit).
			Dur("retry_after", retry).
			Msg("Rate limit exceeded")
		return &RateLimitError{AgentID: agentID, Limit: l.limit, RetryAfter: retry}
	}

	l.hits[agentID] = append(hits, now)
	return nil
}

// WindowFilter hides windows whose title or process name matches a blocked
// pattern. Patterns are case-insensitive regular expressions.
type WindowFilter struct {
	titles    []*regexp.Regexp
	processes []*regexp.Regexp
}

var _ desktop.WindowFilter = (*WindowFilter)(nil)

// NewWindowFilter compiles the blocked patterns
func NewWindowFilter(titlePatterns, processPatterns []string) (*WindowFilter, error) {
	titles, err := compileAll(titlePatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid blocked title pattern: %w", err)
	}
	processes, err := compileAll(processPatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid blocked process pattern: %w", err)
	}
	return &WindowFilter{titles: titles, processes: processes}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Allowed reports whether w may be listed and captured
func (f *WindowFilter) Allowed(w desktop.WindowInfo) bool {
	if f == nil {
		return true
	}
	for _, re := range f.titles {
		if re.MatchString(w.Title) {
			return false
		}
	}
	if w.ProcessName == "" {
		return true
	}
	for _, re := range f.processes {
		if re.MatchString(w.ProcessName) {
			return false
		}
	}
	return true
}

// Empty reports whether the filter blocks nothing
func (f *WindowFilter) Empty() bool {
	return f == nil || (len(f.titles) == 0 && len(f.processes) == 0)
}
