package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config holds a client's local, non-secret configuration, in the shape of
// the teacher's node.Config: a flat struct with a DefaultConfig/ValidateConfig
// pair rather than a general-purpose config-file loader.
type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// DefaultDataDir returns ~/.securefs, falling back to a relative path if the
// home directory can't be determined.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".securefs"
	}
	return filepath.Join(home, ".securefs")
}

// DefaultConfig returns the configuration a fresh install starts from.
func DefaultConfig() Config {
	return Config{
		DataDir:  DefaultDataDir(),
		LogLevel: "info",
	}
}

// ValidateConfig reports whether cfg is well-formed.
func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	return nil
}
