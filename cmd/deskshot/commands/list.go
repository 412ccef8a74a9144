package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/bryanchriswhite/deskshot/internal/desktop"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var displaysCmd = &cobra.Command{
	Use:   "displays",
	Short: "List displays",
	Long: `List the displays that make up the virtual desktop.

Positions are in the shared desktop coordinate space used by
"deskshot capture region".`,
	Example: `  # List displays in table format (default)
  deskshot displays

  # List displays as JSON
  deskshot displays --format json`,
	RunE: runDisplays,
}

var windowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "List windows",
	Long: `List top-level windows with their ids, titles and bounds.

Window ids are only valid until the windows change; list again before
capturing by id.`,
	Example: `  # List all windows
  deskshot windows

  # List windows whose title matches a case-insensitive regexp
  deskshot windows --title "firefox|chromium"`,
	RunE: runWindows,
}

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Show which capture backend is in use",
	RunE:  runBackend,
}

var (
	listFormat  string
	windowTitle string
)

func init() {
	rootCmd.AddCommand(displaysCmd)
	rootCmd.AddCommand(windowsCmd)
	rootCmd.AddCommand(backendCmd)

	for _, c := range []*cobra.Command{displaysCmd, windowsCmd, backendCmd} {
		c.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table, json or yaml)")
	}
	windowsCmd.Flags().StringVarP(&windowTitle, "title", "t", "", "only windows whose title matches this regexp")
}

func runDisplays(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	displays, err := a.engine.Displays(ctx)
	if err != nil {
		return err
	}
	return printList(cmd.OutOrStdout(), displays, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "ID\tNAME\tRESOLUTION\tPOSITION\tPRIMARY")
		for _, d := range displays {
			fmt.Fprintf(w, "%s\t%s\t%dx%d\t%d,%d\t%s\n",
				d.ID, d.Name, d.Resolution.Width, d.Resolution.Height, d.Position.X, d.Position.Y, yesNo(d.IsPrimary))
		}
	})
}

func runWindows(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	windows, err := a.engine.Windows(ctx)
	if err != nil {
		return err
	}
	if windowTitle != "" {
		re, err := desktop.CompileTitlePattern(windowTitle)
		if err != nil {
			return err
		}
		matched := make([]desktop.WindowInfo, 0, len(windows))
		for _, w := range windows {
			if re.MatchString(w.Title) {
				matched = append(matched, w)
			}
		}
		windows = matched
	}

	return printList(cmd.OutOrStdout(), windows, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "ID\tPID\tPROCESS\tGEOMETRY\tMINIMIZED\tTITLE")
		for _, win := range windows {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
				win.ID, win.PID, win.ProcessName, win.Bounds, yesNo(win.IsMinimized), win.Title)
		}
	})
}

func runBackend(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	det, err := a.engine.Detection()
	if err != nil {
		return err
	}
	return printList(cmd.OutOrStdout(), det, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "BACKEND\tREASON")
		fmt.Fprintf(w, "%s\t%s\n", det, det.Reason)
	})
}

// printList writes v as JSON or YAML, or calls table for the table format
func printList(out io.Writer, v any, table func(w *tabwriter.Writer)) error {
	switch listFormat {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case "yaml":
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(v)
	case "table":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		table(w)
		return w.Flush()
	default:
		return fmt.Errorf("unsupported format: %s (use 'table', 'json' or 'yaml')", listFormat)
	}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
