// Package config loads process configuration from, in order of
// precedence: command-line flags, MARKBOARD_* environment variables, the
// config file at ~/.config/markboard/config.yaml, and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Settings is the resolved process configuration.
type Settings struct {
	// UIPort is the websocket UI bridge port.
	UIPort int

	// Debounce is the filesystem watcher's coalescing interval.
	Debounce time.Duration

	// CaptureTimeout bounds the request to the UI for a live edit value.
	CaptureTimeout time.Duration

	// RecentReloadWindow protects just-reloaded includes from save-all.
	RecentReloadWindow time.Duration

	// LogFile, when set, routes process logs through a rotating file.
	LogFile string

	// LogMaxSizeMB and LogMaxBackups bound the rotating log file.
	LogMaxSizeMB  int
	LogMaxBackups int
}

const envPrefix = "MARKBOARD"

// Init wires defaults, the config file location and the environment
// binding into a viper instance. Call once per instance, before Load.
func Init(v *viper.Viper) {
	v.SetDefault("ui.port", 7391)
	v.SetDefault("watch.debounce", 300*time.Millisecond)
	v.SetDefault("engine.capture_timeout", 500*time.Millisecond)
	v.SetDefault("engine.recent_reload_window", 2*time.Second)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "markboard"))
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the config file if one exists and resolves Settings. A
// missing config file is not an error; a malformed one is.
func Load(v *viper.Viper) (*Settings, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	s := &Settings{
		UIPort:             v.GetInt("ui.port"),
		Debounce:           v.GetDuration("watch.debounce"),
		CaptureTimeout:     v.GetDuration("engine.capture_timeout"),
		RecentReloadWindow: v.GetDuration("engine.recent_reload_window"),
		LogFile:            v.GetString("log.file"),
		LogMaxSizeMB:       v.GetInt("log.max_size_mb"),
		LogMaxBackups:      v.GetInt("log.max_backups"),
	}
	if s.Debounce <= 0 {
		return nil, fmt.Errorf("watch.debounce must be positive, got %v", s.Debounce)
	}
	if s.CaptureTimeout <= 0 {
		return nil, fmt.Errorf("engine.capture_timeout must be positive, got %v", s.CaptureTimeout)
	}
	return s, nil
}

// NewLogger builds the process logger: a rotating file when log.file is
// configured, stderr otherwise.
func NewLogger(s *Settings) *log.Logger {
	var w io.Writer = os.Stderr
	if s.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   s.LogFile,
			MaxSize:    s.LogMaxSizeMB,
			MaxBackups: s.LogMaxBackups,
		}
	}
	return log.New(w, "[mbd] ", log.LstdFlags)
}
