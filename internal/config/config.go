package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bryanchriswhite/deskshot/internal/capture"
	"github.com/bryanchriswhite/deskshot/internal/capture/wayland"
	"github.com/bryanchriswhite/deskshot/internal/capture/x11"
	"github.com/bryanchriswhite/deskshot/internal/geometry"
	"github.com/bryanchriswhite/deskshot/internal/imaging"
	"github.com/bryanchriswhite/deskshot/internal/logger"
	"github.com/bryanchriswhite/deskshot/internal/policy"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration
type Config struct {
	// Backend forces a backend ("x11", "wayland:sway", ...); empty means detect
	Backend    string         `json:"backend" yaml:"backend"`
	LogLevel   string         `json:"log_level" yaml:"log_level"`
	ServerPort int            `json:"server_port" yaml:"server_port"`
	Geometry   GeometryConfig `json:"geometry" yaml:"geometry"`
	Output     OutputConfig   `json:"output" yaml:"output"`
	Policy     policy.Config  `json:"policy" yaml:"policy"`
	Tools      ToolsConfig    `json:"tools" yaml:"tools"`
}

// GeometryConfig sizes the box assumed when no display can be enumerated
type GeometryConfig struct {
	FallbackWidth  int `json:"fallback_width" yaml:"fallback_width"`
	FallbackHeight int `json:"fallback_height" yaml:"fallback_height"`
}

// OutputConfig holds image encoding defaults
type OutputConfig struct {
	Format    string `json:"format" yaml:"format"`
	Quality   int    `json:"quality" yaml:"quality"`
	MaxWidth  int    `json:"max_width" yaml:"max_width"`
	MaxHeight int    `json:"max_height" yaml:"max_height"`
	// Directory is where captures are saved when no path is given
	Directory string `json:"directory" yaml:"directory"`
}

// ToolsConfig names the external executables
type ToolsConfig struct {
	Xrandr        string `json:"xrandr" yaml:"xrandr"`
	Wmctrl        string `json:"wmctrl" yaml:"wmctrl"`
	Xprop         string `json:"xprop" yaml:"xprop"`
	Import        string `json:"import" yaml:"import"`
	Grim          string `json:"grim" yaml:"grim"`
	Hyprctl       string `json:"hyprctl" yaml:"hyprctl"`
	Swaymsg       string `json:"swaymsg" yaml:"swaymsg"`
	Kdotool       string `json:"kdotool" yaml:"kdotool"`
	KscreenDoctor string `json:"kscreen_doctor" yaml:"kscreen_doctor"`
	WlrRandr      string `json:"wlr_randr" yaml:"wlr_randr"`
	PowerShell    string `json:"powershell" yaml:"powershell"`
}

// FallbackRect returns the configured fallback box at the origin
func (c *Config) FallbackRect() geometry.Rect {
	return geometry.Rect{Width: c.Geometry.FallbackWidth, Height: c.Geometry.FallbackHeight}
}

// ImagingOptions returns the encoding defaults
func (c *Config) ImagingOptions() (imaging.Options, error) {
	format, err := imaging.ParseFormat(c.Output.Format)
	if err != nil {
		return imaging.Options{}, err
	}
	return imaging.Options{
		Format:    format,
		Quality:   c.Output.Quality,
		MaxWidth:  c.Output.MaxWidth,
		MaxHeight: c.Output.MaxHeight,
	}, nil
}

// CaptureTools maps the tool names onto the backends
func (c *Config) CaptureTools() capture.Tools {
	return capture.Tools{
		X11: x11.Tools{
			Xrandr: c.Tools.Xrandr,
			Wmctrl: c.Tools.Wmctrl,
			Xprop:  c.Tools.Xprop,
			Import: c.Tools.Import,
		},
		Wayland: wayland.Tools{
			Grim:          c.Tools.Grim,
			Hyprctl:       c.Tools.Hyprctl,
			Swaymsg:       c.Tools.Swaymsg,
			Kdotool:       c.Tools.Kdotool,
			KscreenDoctor: c.Tools.KscreenDoctor,
			WlrRandr:      c.Tools.WlrRandr,
		},
		PowerShell: c.Tools.PowerShell,
	}
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $XDG_CONFIG_HOME/deskshot/config.yaml, falling back to
// ~/.config/deskshot/config.yaml
func DefaultPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "deskshot", "config.yaml"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "deskshot", "config.yaml"), nil
}

// NewManager loads the config file, or defaults when it does not exist yet.
// An empty configFile uses DefaultPath.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	m := &Manager{configPath: path}
	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Debug().
			Str("path", m.configPath).
			Msg("Config file not found, using defaults")
		m.config = Defaults()
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Str("backend", m.config.Backend).
		Msg("Config loaded")
	return m, nil
}

// Defaults returns the default configuration
func Defaults() *Config {
	tools := capture.DefaultTools()
	return &Config{
		LogLevel:   "info",
		ServerPort: 8080,
		Geometry: GeometryConfig{
			FallbackWidth:  geometry.DefaultFallback.Width,
			FallbackHeight: geometry.DefaultFallback.Height,
		},
		Output: OutputConfig{
			Format:  string(imaging.PNG),
			Quality: imaging.DefaultQuality,
		},
		Policy: policy.Config{
			AllowedDirectories:     []string{},
			RateLimitPerMinute:     60,
			BlockedTitlePatterns:   []string{},
			BlockedProcessPatterns: []string{},
		},
		Tools: ToolsConfig{
			Xrandr:        tools.X11.Xrandr,
			Wmctrl:        tools.X11.Wmctrl,
			Xprop:         tools.X11.Xprop,
			Import:        tools.X11.Import,
			Grim:          tools.Wayland.Grim,
			Hyprctl:       tools.Wayland.Hyprctl,
			Swaymsg:       tools.Wayland.Swaymsg,
			Kdotool:       tools.Wayland.Kdotool,
			KscreenDoctor: tools.Wayland.KscreenDoctor,
			WlrRandr:      tools.Wayland.WlrRandr,
		},
	}
}

// load reads the configuration from disk; keys absent from the file keep
// their defaults
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}
	m.config = cfg
	return nil
}

// Validate checks values that would otherwise fail deep inside a capture
func (c *Config) Validate() error {
	if c.Backend != "" {
		if _, _, err := capture.ParseOverride(c.Backend); err != nil {
			return err
		}
	}
	if _, err := imaging.ParseFormat(c.Output.Format); err != nil {
		return err
	}
	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100, got %d", c.Output.Quality)
	}
	if c.Geometry.FallbackWidth <= 0 || c.Geometry.FallbackHeight <= 0 {
		return fmt.Errorf("geometry fallback must be positive, got %dx%d",
			c.Geometry.FallbackWidth, c.Geometry.FallbackHeight)
	}
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("server_port out of range: %d", c.ServerPort)
	}
	if c.RateLimit() < 0 {
		return fmt.Errorf("policy.rate_limit_per_minute must not be negative")
	}
	return nil
}

// RateLimit returns the per-agent captures per minute; 0 disables limiting
func (c *Config) RateLimit() int {
	return c.Policy.RateLimitPerMinute
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	cfg.Policy.AllowedDirectories = append([]string(nil), m.config.Policy.AllowedDirectories...)
	cfg.Policy.BlockedTitlePatterns = append([]string(nil), m.config.Policy.BlockedTitlePatterns...)
	cfg.Policy.BlockedProcessPatterns = append([]string(nil), m.config.Policy.BlockedProcessPatterns...)
	return &cfg
}

// Save writes the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	log := logger.WithComponent("config")
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		log.Error().Err(err).Str("config_dir", configDir).Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().Err(err).Str("path", m.configPath).Msg("Failed to write config")
		return err
	}

	log.Info().Str("path", m.configPath).Msg("Config saved")
	return nil
}

// Update validates and replaces the configuration, then saves it
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// Override applies in-memory overrides (command-line flags) without saving
func (m *Manager) Override(fn func(cfg *Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config == nil {
		m.config = Defaults()
	}
	next := *m.config
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	m.config = &next
	return nil
}

// SetPort sets the server port and saves
func (m *Manager) SetPort(port int) error {
	m.mu.Lock()
	m.config.ServerPort = port
	m.mu.Unlock()
	return m.Save()
}

// SetLogLevel sets the log level and saves
func (m *Manager) SetLogLevel(level string) error {
	m.mu.Lock()
	m.config.LogLevel = level
	m.mu.Unlock()
	return m.Save()
}

// AddBlockedTitlePattern blocks windows whose title matches pattern
func (m *Manager) AddBlockedTitlePattern(pattern string) error {
	if _, err := policy.NewWindowFilter([]string{pattern}, nil); err != nil {
		return err
	}
	m.mu.Lock()
	for _, p := range m.config.Policy.BlockedTitlePatterns {
		if p == pattern {
			m.mu.Unlock()
			return nil
		}
	}
	m.config.Policy.BlockedTitlePatterns = append(m.config.Policy.BlockedTitlePatterns, pattern)
	m.mu.Unlock()
	return m.Save()
}

// RemoveBlockedTitlePattern unblocks a title pattern
func (m *Manager) RemoveBlockedTitlePattern(pattern string) error {
	m.mu.Lock()
	patterns := m.config.Policy.BlockedTitlePatterns
	for i, p := range patterns {
		if p == pattern {
			m.config.Policy.BlockedTitlePatterns = append(patterns[:i:i], patterns[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	return m.Save()
}

// AddAllowedDirectory permits saving captures under dir
func (m *Manager) AddAllowedDirectory(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return fmt.Errorf("empty directory")
	}
	m.mu.Lock()
	for _, d := range m.config.Policy.AllowedDirectories {
		if d == dir {
			m.mu.Unlock()
			return nil
		}
	}
	m.config.Policy.AllowedDirectories = append(m.config.Policy.AllowedDirectories, dir)
	m.mu.Unlock()
	return m.Save()
}

// GetConfigPath returns the config file path
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the directory holding the config file
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}

// Exists reports whether the config file is on disk
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}
