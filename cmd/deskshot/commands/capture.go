package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bryanchriswhite/deskshot/internal/errdefs"
	"github.com/bryanchriswhite/deskshot/internal/imaging"
	"github.com/bryanchriswhite/deskshot/internal/policy"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture the screen, a window or a region",
	Long: `Capture pixels from the desktop.

The image goes to stdout unless --output is given. deskshot refuses to write
image data to a terminal; when stdout is a terminal and output.directory is
configured, the capture is saved there instead.`,
}

var captureScreenCmd = &cobra.Command{
	Use:   "screen",
	Short: "Capture one display or the whole desktop",
	Example: `  # Capture every display into one image
  deskshot capture screen -o desktop.png

  # Capture a single display (ids from "deskshot displays")
  deskshot capture screen --display DP-1 > dp1.png`,
	Args: cobra.NoArgs,
	RunE: runCaptureScreen,
}

var captureWindowCmd = &cobra.Command{
	Use:   "window [ID]",
	Short: "Capture a window by id or title",
	Example: `  # Capture by id (ids from "deskshot windows")
  deskshot capture window 0x04a00007 -o term.png

  # Capture the first window whose title matches, decorations included
  deskshot capture window --title "^Mozilla Firefox" --frame -o ff.jpg --image-format jpeg`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCaptureWindow,
}

var captureRegionCmd = &cobra.Command{
	Use:   "region X Y WIDTH HEIGHT",
	Short: "Capture a rectangle of the desktop",
	Long: `Capture a rectangle in desktop coordinates. The rectangle is clipped to
the displays; a rectangle entirely off-screen is an error.`,
	Example: `  # 800x600 starting at the desktop origin
  deskshot capture region 0 0 800 600 -o region.png

  # Coordinates starting with "-" go after "--"
  deskshot capture region -o region.png -- -10 0 800 600`,
	Args: cobra.ExactArgs(4),
	RunE: runCaptureRegion,
}

var (
	captureOutput    string
	captureFormat    string
	captureQuality   int
	captureMaxWidth  int
	captureMaxHeight int
	captureLabel     string
	captureDisplay   string
	captureTitle     string
	captureFrame     bool
)

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.AddCommand(captureScreenCmd)
	captureCmd.AddCommand(captureWindowCmd)
	captureCmd.AddCommand(captureRegionCmd)

	flags := captureCmd.PersistentFlags()
	flags.StringVarP(&captureOutput, "output", "o", "", "write the image to FILE (\"-\" forces stdout)")
	flags.StringVar(&captureFormat, "image-format", "", "image format: png, jpeg, bmp or tiff (default from config)")
	flags.IntVar(&captureQuality, "quality", 0, "JPEG quality 1-100 (default from config)")
	flags.IntVar(&captureMaxWidth, "max-width", 0, "scale down to at most this width")
	flags.IntVar(&captureMaxHeight, "max-height", 0, "scale down to at most this height")
	flags.StringVar(&captureLabel, "label", "", "draw this text in the bottom-left corner")

	captureRegionCmd.SetFlagErrorFunc(coordinateFlagError)

	captureScreenCmd.Flags().StringVarP(&captureDisplay, "display", "d", "", "display id (default: all displays)")
	captureWindowCmd.Flags().StringVarP(&captureTitle, "title", "t", "", "capture the first window whose title matches this regexp")
	captureWindowCmd.Flags().BoolVar(&captureFrame, "frame", false, "include window decorations")
}

func runCaptureScreen(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	if err := a.policy.CheckRateLimit("cli"); err != nil {
		return err
	}
	data, err := a.engine.CaptureScreen(ctx, captureDisplay)
	if err != nil {
		return err
	}
	return a.writeImage(cmd, data, "screen")
}

func runCaptureWindow(cmd *cobra.Command, args []string) error {
	if (len(args) == 1) == (captureTitle != "") {
		return fmt.Errorf("give either a window ID or --title")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	id := ""
	if len(args) == 1 {
		id = args[0]
	} else {
		w, err := a.engine.WindowByTitle(ctx, captureTitle)
		if err != nil {
			return err
		}
		if w == nil {
			return errdefs.WindowNotFound(
				fmt.Sprintf("no window title matches %q", captureTitle),
				map[string]any{"pattern": captureTitle},
			)
		}
		id = w.ID
	}

	if err := a.policy.CheckRateLimit("cli"); err != nil {
		return err
	}
	data, err := a.engine.CaptureWindow(ctx, id, captureFrame)
	if err != nil {
		return err
	}
	return a.writeImage(cmd, data, "window")
}

// coordinateFlagError points at "--" when a negative coordinate was read as a
// shorthand flag
func coordinateFlagError(cmd *cobra.Command, err error) error {
	const prefix = "unknown shorthand flag: '"
	msg := err.Error()
	if i := strings.Index(msg, prefix); i >= 0 && i+len(prefix) < len(msg) {
		if c := msg[i+len(prefix)]; c >= '0' && c <= '9' {
			return fmt.Errorf("%w (put negative coordinates after \"--\", e.g. %s -- -10 0 800 600)", err, cmd.CommandPath())
		}
	}
	return err
}

func runCaptureRegion(cmd *cobra.Command, args []string) error {
	var coords [4]int
	for i, arg := range args {
		v, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid coordinate %q: must be an integer", arg)
		}
		coords[i] = v
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	if err := a.policy.CheckRateLimit("cli"); err != nil {
		return err
	}
	res, err := a.engine.CaptureRegion(ctx, coords[0], coords[1], coords[2], coords[3])
	if err != nil {
		return err
	}
	if res.Clip.WasClipped {
		fmt.Fprintf(cmd.ErrOrStderr(), "Region clipped from %s to %s\n", res.Clip.Original, res.Clip.Region)
	}
	return a.writeImage(cmd, res.Data, "region")
}

// imagingOptions merges capture flags over the configured defaults
func (a *app) imagingOptions() (imaging.Options, error) {
	opts, err := a.cfg.ImagingOptions()
	if err != nil {
		return opts, err
	}
	if captureFormat != "" {
		f, err := imaging.ParseFormat(captureFormat)
		if err != nil {
			return opts, err
		}
		opts.Format = f
	} else if captureOutput != "" && captureOutput != "-" {
		// Infer from the file extension when it names a known format
		if ext := filepath.Ext(captureOutput); len(ext) > 1 {
			if f, err := imaging.ParseFormat(ext[1:]); err == nil {
				opts.Format = f
			}
		}
	}
	if captureQuality != 0 {
		if captureQuality < 1 || captureQuality > 100 {
			return opts, fmt.Errorf("--quality must be between 1 and 100")
		}
		opts.Quality = captureQuality
	}
	if captureMaxWidth > 0 {
		opts.MaxWidth = captureMaxWidth
	}
	if captureMaxHeight > 0 {
		opts.MaxHeight = captureMaxHeight
	}
	opts.Label = captureLabel
	return opts, nil
}

// writeImage converts data and writes it to --output, stdout, or the
// configured output directory
func (a *app) writeImage(cmd *cobra.Command, data []byte, kind string) error {
	opts, err := a.imagingOptions()
	if err != nil {
		return err
	}
	out, err := imaging.Convert(data, opts)
	if err != nil {
		return err
	}

	path := captureOutput
	if path == "" && term.IsTerminal(int(os.Stdout.Fd())) {
		if a.cfg.Output.Directory == "" {
			return fmt.Errorf("refusing to write image data to a terminal; use --output FILE or redirect stdout")
		}
		name := fmt.Sprintf("deskshot-%s-%s%s", kind, time.Now().Format("20060102-150405"), opts.Format.Extension())
		path = filepath.Join(policy.ExpandHome(a.cfg.Output.Directory), name)
	}

	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(out)
		return err
	}

	if err := a.policy.ValidatePath(path); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("failed to save capture: %w", err)
	}

	size := humanize.Bytes(uint64(len(out)))
	if w, h, err := imaging.Dimensions(out); err == nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Saved %dx%d %s (%s) to %s\n", w, h, opts.Format, size, path)
	} else {
		fmt.Fprintf(cmd.ErrOrStderr(), "Saved %s (%s) to %s\n", opts.Format, size, path)
	}
	return nil
}
