package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bryanchriswhite/deskshot/internal/capture"
	"github.com/bryanchriswhite/deskshot/internal/config"
	"github.com/bryanchriswhite/deskshot/internal/logger"
	"github.com/bryanchriswhite/deskshot/internal/policy"
	"github.com/bryanchriswhite/deskshot/internal/runner"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var (
	cfgFile string
	timeout time.Duration
	rootCmd = &cobra.Command{
		Use:   "deskshot",
		Short: "deskshot - Desktop screenshots from the command line or over HTTP",
		Long: `deskshot captures the screen, a single window or an arbitrary region of
the desktop, picking the right platform tooling automatically.

Backends:
  • x11      xrandr, wmctrl, xprop and ImageMagick import
  • wayland  grim with hyprctl, swaymsg, wlr-randr or kdotool; the desktop
             portal on GNOME
  • native   the platform screen API on Windows and macOS
  • wsl      the Windows host desktop through powershell.exe`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/deskshot/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("backend", "", "force a backend: x11, wayland[:hyprland|sway|wlroots|kde|portal], native or wsl")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "give up on a capture after this long")

	// Bind flags to viper
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))
}

func initConfig() {
	viper.SetEnvPrefix("DESKSHOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// app is everything a command needs once config is loaded
type app struct {
	configMgr *config.Manager
	cfg       *config.Config
	policy    *policy.Policy
	engine    *capture.Engine
}

// loadConfig loads the config file and applies flag and environment overrides
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	err = configMgr.Override(func(cfg *config.Config) {
		if level := viper.GetString("log_level"); level != "" {
			cfg.LogLevel = level
		}
		if backend := viper.GetString("backend"); backend != "" {
			cfg.Backend = backend
		}
		if port := viper.GetInt("server_port"); port > 0 {
			cfg.ServerPort = port
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid override: %w", err)
	}
	return configMgr, nil
}

// newApp wires config, logging, policy and the capture engine
func newApp() (*app, error) {
	configMgr, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg := configMgr.Get()

	logger.Init(cfg.LogLevel, term.IsTerminal(int(os.Stderr.Fd())))

	pol, err := policy.New(cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	dispatcher := capture.NewDispatcher(
		capture.SystemEnvironment(),
		cfg.Backend,
		capture.NewFactory(runner.NewExec(), cfg.CaptureTools()),
	)
	engine := capture.NewEngine(dispatcher,
		capture.WithFallbackBounds(cfg.FallbackRect()),
		capture.WithWindowFilter(pol.Filter()),
	)

	return &app{configMgr: configMgr, cfg: cfg, policy: pol, engine: engine}, nil
}

// commandContext bounds a command by --timeout
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
