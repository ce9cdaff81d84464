package app

import (
	"strings"

	"github.com/charlesng35/hearth/pkg/logger"
)

// ConfigureLogging initialises the global logger from the server section,
// defaulting to info level JSON output.
func ConfigureLogging(cfg ServerConfig) error {
	level := strings.TrimSpace(cfg.LogLevel)
	if level == "" {
		level = "info"
	}
	return logger.InitWithConfig(logger.Config{Level: level, Encoding: cfg.LogEncoding})
}
