// Package wsl captures the Windows host desktop from inside a WSL guest.
// The guest cannot see the host's screen, so every operation runs a
// PowerShell script on the host through WSL interop (powershell.exe).
package wsl

import (
	"context"

	"github.com/bryanchriswhite/deskshot/internal/capture/powershell"
	"github.com/bryanchriswhite/deskshot/internal/desktop"
	"github.com/bryanchriswhite/deskshot/internal/geometry"
	"github.com/bryanchriswhite/deskshot/internal/runner"
)

// Name is the backend name
const Name = "wsl"

// DefaultExecutable is the host PowerShell as seen from the guest
const DefaultExecutable = "powershell.exe"

// Backend implements desktop.Backend over the WSL interop bridge
type Backend struct {
	host *powershell.Client
}

var _ desktop.Backend = (*Backend)(nil)

// New creates a WSL backend; an empty exe uses DefaultExecutable
func New(r runner.Runner, exe string) *Backend {
	if exe == "" {
		exe = DefaultExecutable
	}
	return &Backend{host: powershell.NewClient(r, exe)}
}

// Name returns the backend name
func (b *Backend) Name() string {
	return Name
}

// Displays lists the host's screens
func (b *Backend) Displays(ctx context.Context) ([]desktop.DisplayInfo, error) {
	return b.host.Displays(ctx)
}

// Windows lists the host's windows. Handles are host HWNDs.
func (b *Backend) Windows(ctx context.Context) ([]desktop.WindowInfo, error) {
	return b.host.Windows(ctx)
}

// CaptureScreen captures one host screen, or the whole virtual screen
func (b *Backend) CaptureScreen(ctx context.Context, display *desktop.DisplayInfo) ([]byte, error) {
	if display == nil {
		return b.host.CaptureVirtualScreen(ctx)
	}
	return b.host.CaptureRect(ctx, display.Rect())
}

// CaptureWindow captures the window's rectangle on the host screen
func (b *Backend) CaptureWindow(ctx context.Context, window desktop.WindowInfo, includeFrame bool) ([]byte, error) {
	return b.host.CaptureRect(ctx, window.CaptureRect(includeFrame))
}

// CaptureRegion captures a rectangle in host screen coordinates
func (b *Backend) CaptureRegion(ctx context.Context, region geometry.Rect) ([]byte, error) {
	return b.host.CaptureRect(ctx, region)
}
