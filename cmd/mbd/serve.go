package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/markboard/markboard/internal/config"
	"github.com/markboard/markboard/internal/ui"
	"github.com/markboard/markboard/internal/uiproto"
)

var serveCmd = &cobra.Command{
	Use:   "serve <board.md>",
	Short: "Watch a board and bridge it to a websocket UI",
	Long: `Watch a board document and expose the sync engine to a structured UI
over a websocket channel.

The bridge will:
  1. Track the board and watch its files like 'mbd watch'
  2. Accept UI clients on ws://localhost:<port>/ws
  3. Forward edit lifecycle notifications from the UI to the engine
  4. Push board-updated events, capture requests and conflict prompts
     to the UI

With no UI client connected the engine runs headless: captures report
no value and conflicts take the safest action.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		settings := loadSettings()
		logger := config.NewLogger(settings)

		// The bridge is sink, dialog and edit-value source at once; it
		// needs the engine, which needs it. Bind the sink after the
		// session starts.
		var sink deferredSink
		server := uiproto.NewServer(&sink, &uiproto.Config{
			Port:   settings.UIPort,
			Logger: logger,
		})

		sess, err := startSession(args[0], settings, server, server, server.NotifyBoardUpdated, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		sink.bind(sess.eng)

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting UI bridge: %v\n", err)
			_ = sess.close()
			os.Exit(1)
		}

		fmt.Printf("%s Serving %s\n", ui.RenderAccent("▶"), sess.boardPath)
		fmt.Printf("   UI endpoint: ws://%s/ws\n", server.Addr())
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		sess.wait()

		fmt.Printf("%s Shutting down...\n", ui.RenderAccent("■"))
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		if err := sess.close(); err != nil {
			fmt.Fprintf(os.Stderr, "%s Shutdown preserved with errors: %v\n", ui.RenderWarn("⚠"), err)
			os.Exit(1)
		}
		fmt.Printf("%s Stopped\n", ui.RenderPass("✓"))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
