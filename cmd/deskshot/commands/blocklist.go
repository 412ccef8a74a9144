package commands

import (
	"fmt"

	"github.com/bryanchriswhite/deskshot/internal/config"
	"github.com/spf13/cobra"
)

var blocklistCmd = &cobra.Command{
	Use:   "blocklist",
	Short: "Manage blocked window title patterns",
	Long: `Add or remove regex patterns that hide windows by title.

Blocked windows are left out of listings and cannot be captured by id or
title. Patterns are case-insensitive. Region and screen captures still show
whatever is on screen.`,
}

var blocklistAddCmd = &cobra.Command{
	Use:   "add PATTERN",
	Short: "Block windows whose title matches PATTERN",
	Example: `  # Hide password managers
  deskshot blocklist add "keepass|bitwarden|1password"

  # Hide private browsing windows
  deskshot blocklist add "private browsing"`,
	Args: cobra.ExactArgs(1),
	RunE: runBlocklistAdd,
}

var blocklistRemoveCmd = &cobra.Command{
	Use:   "remove PATTERN",
	Short: "Remove a blocked title pattern",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlocklistRemove,
}

var blocklistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List blocked title and process patterns",
	RunE:  runBlocklistList,
}

func init() {
	rootCmd.AddCommand(blocklistCmd)
	blocklistCmd.AddCommand(blocklistAddCmd)
	blocklistCmd.AddCommand(blocklistRemoveCmd)
	blocklistCmd.AddCommand(blocklistListCmd)
}

func runBlocklistAdd(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := configMgr.AddBlockedTitlePattern(args[0]); err != nil {
		return fmt.Errorf("failed to add pattern: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Blocked title pattern: %s\n", args[0])
	return nil
}

func runBlocklistRemove(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := configMgr.RemoveBlockedTitlePattern(args[0]); err != nil {
		return fmt.Errorf("failed to remove pattern: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed title pattern: %s\n", args[0])
	return nil
}

func runBlocklistList(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()

	out := cmd.OutOrStdout()
	if len(cfg.Policy.BlockedTitlePatterns) == 0 && len(cfg.Policy.BlockedProcessPatterns) == 0 {
		fmt.Fprintln(out, "No blocked patterns")
		return nil
	}
	for _, p := range cfg.Policy.BlockedTitlePatterns {
		fmt.Fprintf(out, "title    %s\n", p)
	}
	for _, p := range cfg.Policy.BlockedProcessPatterns {
		fmt.Fprintf(out, "process  %s\n", p)
	}
	return nil
}
