package config

import (
	"fmt"
	"strings"
)

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level,omitempty"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format,omitempty"` // json, console
	File   string `yaml:"file" json:"file,omitempty"`     // optional extra output path
}

// ParseLogLevel checks a level name without depending on the logger.
func ParseLogLevel(level string) (string, error) {
	l := strings.ToLower(strings.TrimSpace(level))
	switch l {
	case "", "debug", "info", "warn", "warning", "error":
		return l, nil
	}
	return "", fmt.Errorf("invalid log level: %s", level)
}
