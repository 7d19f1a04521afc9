package utils

import (
	"fmt"
)

// Config holds the settings shared by the inference binaries.
type Config struct {
	Profile     string // profile name, empty selects the default
	WeightsPath string // JSON weights file, empty uses demo weights
	Mode        string // "http" or "stdio"
	Listen      string // HTTP listen address or server URL
	Workers     int    // concurrent evaluations served
}

// ValidateConfig validates the configuration
func ValidateConfig(config *Config) error {
	switch config.Mode {
	case "http":
		if config.Listen == "" {
			return fmt.Errorf("http mode needs a listen address")
		}
	case "stdio":
	default:
		return fmt.Errorf("mode must be 'http' or 'stdio', got %q", config.Mode)
	}

	if config.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}

	return nil
}
