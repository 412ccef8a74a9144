package powershell

import (
	"context"
	"fmt"

	"github.com/bryanchriswhite/deskshot/internal/desktop"
	"github.com/bryanchriswhite/deskshot/internal/geometry"
	"github.com/bryanchriswhite/deskshot/internal/logger"
	"github.com/bryanchriswhite/deskshot/internal/runner"
)

// Client runs the capture scripts through one PowerShell executable
type Client struct {
	runner runner.Runner
	exe    string
}

// NewClient returns a client invoking exe ("powershell.exe" from WSL,
// "powershell" on Windows)
func NewClient(r runner.Runner, exe string) *Client {
	return &Client{runner: r, exe: exe}
}

// Executable returns the PowerShell executable name
func (c *Client) Executable() string {
	return c.exe
}

// Available reports whether the executable is on PATH
func (c *Client) Available() bool {
	return c.runner.LookPath(c.exe)
}

// Command builds the invocation for script
func (c *Client) Command(script string) (runner.Command, error) {
	encoded, err := EncodeCommand(script)
	if err != nil {
		return runner.Command{}, err
	}
	return runner.Cmd(c.exe, "-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-EncodedCommand", encoded), nil
}

func (c *Client) run(ctx context.Context, what, script string) ([]byte, error) {
	cmd, err := c.Command(script)
	if err != nil {
		return nil, err
	}
	logger.WithComponent("powershell").Debug().Str("tool", c.exe).Str("script", what).Msg("Running script")
	out, err := c.runner.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("%s script failed: %w", what, err)
	}
	return out, nil
}

// Displays lists the host's screens
func (c *Client) Displays(ctx context.Context) ([]desktop.DisplayInfo, error) {
	out, err := c.run(ctx, "screens", ScreensScript())
	if err != nil {
		return nil, err
	}
	return ParseScreensJSON(out)
}

// Windows lists the host's visible top-level windows
func (c *Client) Windows(ctx context.Context) ([]desktop.WindowInfo, error) {
	out, err := c.run(ctx, "windows", WindowsScript())
	if err != nil {
		return nil, err
	}
	return ParseWindowsJSON(out)
}

// CaptureRect captures r in host screen coordinates
func (c *Client) CaptureRect(ctx context.Context, r geometry.Rect) ([]byte, error) {
	out, err := c.run(ctx, "capture", CaptureRectScript(r))
	if err != nil {
		return nil, err
	}
	return DecodePNG(out)
}

// CaptureVirtualScreen captures every screen
func (c *Client) CaptureVirtualScreen(ctx context.Context) ([]byte, error) {
	out, err := c.run(ctx, "capture", VirtualScreenScript())
	if err != nil {
		return nil, err
	}
	return DecodePNG(out)
}
