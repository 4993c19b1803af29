package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/markboard/markboard/internal/config"
	"github.com/markboard/markboard/internal/engine"
	"github.com/markboard/markboard/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status <board.md>",
	Short: "Show the tracked file set for a board",
	Long: `Display the board's tracked file set as the sync engine would build it.

Shows:
  - The primary document and every discovered include
  - Each file's role (plain, structured, leaf-content)
  - Whether each file could be read`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		settings := loadSettings()
		logger := config.NewLogger(settings)

		sess, err := startSession(args[0], settings, nil, nil, nil, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer func() {
			if err := sess.close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}()

		records := sess.eng.Registry().All()
		fmt.Printf("\n%s Board status\n\n", ui.RenderAccent("▤"))
		fmt.Printf("Document: %s\n", sess.boardPath)
		fmt.Printf("Tracked files: %d\n\n", len(records))

		for _, rec := range records {
			marker := ui.RenderPass("✓")
			note := ""
			if !rec.Hydrated() {
				marker = ui.RenderWarn("⚠")
				note = "  (unreadable)"
			}
			role := ""
			if rec.Role != engine.RolePrimary {
				role = "  [" + rec.Role.String() + "]"
			}
			fmt.Printf("  %s %s%s%s\n", marker, rec.RelPath, ui.RenderDim(role), note)
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
