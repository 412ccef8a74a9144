package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/deskshot/internal/api"
	"github.com/bryanchriswhite/deskshot/internal/logger"
	"github.com/bryanchriswhite/deskshot/internal/policy"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve captures over HTTP",
	Long: `Start the deskshot HTTP API.

Endpoints:
  GET /api/health
  GET /api/displays
  GET /api/windows[?title=REGEXP]
  GET /api/windows/{id}
  GET /api/windows/stream                      (websocket, pushes the window list on change)
  GET /api/capture/screen[?display=ID]
  GET /api/capture/window/{id}[?frame=true]
  GET /api/capture/region?x=&y=&width=&height=

Capture endpoints accept format, quality, max_width, max_height and save=PATH,
and are rate limited per X-Agent-ID header.`,
	Example: `  # Start server on default port (8080)
  deskshot serve

  # Start server on custom port
  deskshot serve --port 9090

  # Start with debug logging
  deskshot serve --log-level debug`,
	RunE: runServe,
}

var streamInterval time.Duration

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "server port (default is 8080)")
	serveCmd.Flags().DurationVar(&streamInterval, "stream-interval", 2*time.Second, "how often the window stream re-enumerates")
	viper.BindPFlag("server_port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	log := logger.WithComponent("serve")

	imagingOpts, err := a.cfg.ImagingOptions()
	if err != nil {
		return err
	}

	det, err := a.engine.Detection()
	if err != nil {
		return fmt.Errorf("failed to select capture backend: %w", err)
	}
	log.Info().
		Str("backend", det.String()).
		Str("reason", det.Reason).
		Str("config", a.configMgr.GetConfigPath()).
		Msg("Capture backend selected")

	server := api.NewServer(a.engine, a.policy, a.configMgr, api.Options{
		Imaging:        imagingOpts,
		SaveDir:        policy.ExpandHome(a.cfg.Output.Directory),
		StreamInterval: streamInterval,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Int("port", a.cfg.ServerPort).Msg("deskshot is running, press Ctrl+C to stop")
	if err := server.Start(ctx, a.cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	log.Info().Msg("Shut down")
	return nil
}
