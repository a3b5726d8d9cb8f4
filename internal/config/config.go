package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/perchhq/perch/pkg/logger"
)

type Config struct {
	// ServerURL is the base URL of the sync server API.
	ServerURL string

	// PerchHome is the directory where Perch stores local state (keys,
	// session snapshots).
	PerchHome string
	// MasterKey is the path to the master key file.
	MasterKey string

	// Debug enables verbose logging.
	Debug bool
	// LogLevel is the parsed log verbosity threshold.
	LogLevel logger.Level
}

// Load loads configuration from environment and defaults.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	perchHome := os.Getenv("PERCH_HOME_DIR")
	if perchHome == "" {
		perchHome = filepath.Join(homeDir, ".perch")
	}
	if err := os.MkdirAll(perchHome, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create perch home: %w", err)
	}

	serverURL := os.Getenv("PERCH_SERVER_URL")
	if serverURL == "" {
		serverURL = "https://api.perch.dev"
	}

	debug := os.Getenv("PERCH_DEBUG") == "true" || os.Getenv("PERCH_DEBUG") == "1"

	level := logger.LevelInfo
	if raw := os.Getenv("PERCH_LOG_LEVEL"); raw != "" {
		level, err = logger.ParseLevel(raw)
		if err != nil {
			return nil, err
		}
	} else if debug {
		level = logger.LevelDebug
	}

	return &Config{
		ServerURL: serverURL,
		PerchHome: perchHome,
		MasterKey: filepath.Join(perchHome, "master.key"),
		Debug:     debug,
		LogLevel:  level,
	}, nil
}
