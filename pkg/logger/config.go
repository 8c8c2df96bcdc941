/* pkg/logger/config.go */

package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Options control where structured events go. They are taken from the
// `logging` section of the resolved configuration.
type Options struct {
	Level     string
	File      string
	Console   bool
	SessionID string
}

// Levels accepted on the command line and in config files.
var Levels = []string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}

// ParseLogLevel maps the installer's level names onto zap levels.
// CRITICAL has no zap equivalent below panic, so it keeps only errors.
func ParseLogLevel(level string) (zapcore.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG", "TRACE":
		return zapcore.DebugLevel, nil
	case "", "INFO":
		return zapcore.InfoLevel, nil
	case "WARNING", "WARN":
		return zapcore.WarnLevel, nil
	case "ERROR", "CRITICAL":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}
