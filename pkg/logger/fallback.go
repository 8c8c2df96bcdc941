/* pkg/logger/fallback.go */

package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewFallbackLogger logs to stderr only.
func NewFallbackLogger() *zap.Logger {
	level, _ := ParseLogLevel(os.Getenv("LOG_LEVEL"))
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(DefaultConsoleEncoderConfig()),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

// InitFallback installs the console-only logger.
func InitFallback() {
	SetLogger(NewFallbackLogger())
}

// Init builds the run logger: a console core (optional) teed with an
// append-only JSON file core. If no log file can be opened the logger
// degrades to console output and the returned path is empty.
func Init(opts Options) (*zap.Logger, string, error) {
	level, err := ParseLogLevel(opts.Level)
	if err != nil {
		return nil, "", err
	}

	var cores []zapcore.Core
	if opts.Console {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(DefaultConsoleEncoderConfig()),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	path, writer, werr := OpenLogFile(CandidatePaths(opts.File, opts.SessionID))
	if werr != nil {
		fmt.Fprintln(os.Stderr, "⚠️  No writable log path found. Logging to console only.")
		if !opts.Console {
			cores = append(cores, zapcore.NewCore(
				zapcore.NewConsoleEncoder(DefaultConsoleEncoderConfig()),
				zapcore.Lock(os.Stderr),
				level,
			))
		}
	} else {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(JSONEncoderConfig()), writer, level))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if opts.SessionID != "" {
		l = l.With(zap.String("session_id", opts.SessionID))
	}
	SetLogger(l)
	return l, path, nil
}

func DefaultConsoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "T"
	cfg.LevelKey = "L"
	cfg.NameKey = "N"
	cfg.CallerKey = ""
	cfg.MessageKey = "M"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg
}

func JSONEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}
