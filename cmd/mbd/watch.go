package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/markboard/markboard/internal/config"
	"github.com/markboard/markboard/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch <board.md>",
	Short: "Watch a board and its includes for external changes",
	Long: `Watch a board document and its include files, keeping the in-memory
model synchronized with external editors.

The watch loop will:
  1. Track the board and discover its !!!include(path)!!! files
  2. Watch every directory holding a tracked file
  3. Reload files changed externally when no unsaved work is at stake
  4. Prompt on conflicts between external changes and unsaved work
  5. Back up unsaved content on shutdown

Conflicts are resolved interactively when a terminal is attached; in a
headless run the safest action is taken and both versions are kept.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		settings := loadSettings()
		logger := config.NewLogger(settings)

		dialog := ui.NewConflictDialog(logger)
		sess, err := startSession(args[0], settings, dialog, nil, nil, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Watching %s\n", ui.RenderAccent("▶"), sess.boardPath)
		fmt.Printf("   Tracked files: %d\n", sess.eng.Registry().Len())
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		sess.wait()

		fmt.Printf("%s Shutting down...\n", ui.RenderAccent("■"))
		if err := sess.close(); err != nil {
			fmt.Fprintf(os.Stderr, "%s Shutdown preserved with errors: %v\n", ui.RenderWarn("⚠"), err)
			os.Exit(1)
		}
		fmt.Printf("%s Stopped\n", ui.RenderPass("✓"))
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
