// pkg/logger/writer.go

package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap/zapcore"
)

// GetLogFileWriter opens path for appending, creating parent directories.
func GetLogFileWriter(path string) (zapcore.WriteSyncer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return zapcore.Lock(zapcore.AddSync(file)), nil
}

// OpenLogFile returns the first path that can be opened for appending.
func OpenLogFile(paths []string) (string, zapcore.WriteSyncer, error) {
	for _, path := range paths {
		if w, err := GetLogFileWriter(path); err == nil {
			return path, w, nil
		}
	}
	return "", nil, fmt.Errorf("no writable log path found")
}
