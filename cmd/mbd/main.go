// Command mbd keeps a markdown board document and its include files
// synchronized with external editors.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/markboard/markboard/internal/config"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "mbd",
	Short: "Synchronize a markdown board with its include files",
	Long: `mbd keeps a markdown board document and its !!!include(path)!!! files
synchronized with external editors.

It watches the board and every include for changes, reloads when nothing
is at stake, and puts a conflict in front of you when an external change
collides with unsaved work. Unsaved content is never silently dropped:
declining a change preserves it to a backup sibling.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/markboard/config.yaml)")
	rootCmd.PersistentFlags().Int("ui-port", 7391, "websocket UI bridge port")
	rootCmd.PersistentFlags().Duration("debounce", 300*time.Millisecond, "file watch coalescing interval")
	rootCmd.PersistentFlags().String("log-file", "", "rotating log file (default stderr)")

	_ = v.BindPFlag("ui.port", rootCmd.PersistentFlags().Lookup("ui-port"))
	_ = v.BindPFlag("watch.debounce", rootCmd.PersistentFlags().Lookup("debounce"))
	_ = v.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file"))
}

func initConfig() {
	config.Init(v)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
}

// loadSettings resolves configuration or exits; every command needs it.
func loadSettings() *config.Settings {
	s, err := config.Load(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	return s
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
