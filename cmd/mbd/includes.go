package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/markboard/markboard/internal/board"
	"github.com/markboard/markboard/internal/ui"
)

var includesCmd = &cobra.Command{
	Use:   "includes <board.md>",
	Short: "List the include directives a board references",
	Long: `Scan a board document for !!!include(path)!!! directives and list them
with the role each would be tracked under.

Discovery is recursive: directives found inside include files are
listed too. References escaping the board's directory are flagged.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		content, err := os.ReadFile(abs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", args[0], err)
			os.Exit(1)
		}

		scanner := board.NewScanner(filepath.Dir(abs))
		refs, err := scanner.Scan(string(content))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error scanning includes: %v\n", err)
			os.Exit(1)
		}

		if len(refs) == 0 {
			fmt.Printf("%s No include directives in %s\n", ui.RenderDim("∅"), args[0])
			return
		}

		fmt.Printf("\n%s Includes of %s\n\n", ui.RenderAccent("☰"), args[0])
		for _, ref := range refs {
			fmt.Printf("  %s  %s\n", ref.RelPath, ui.RenderDim("["+ref.Role.String()+"]"))
		}
		fmt.Println()

		if err := board.Validate(refs); err != nil {
			fmt.Printf("%s %v\n", ui.RenderWarn("⚠"), err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(includesCmd)
}
