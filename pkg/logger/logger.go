package logger

import (
	"sync"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

var (
	mu  sync.RWMutex
	log *zap.Logger
)

// L returns the process logger, falling back to a console logger if Init was never called.
func L() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		return l
	}
	InitFallback()
	return L()
}

// SetLogger replaces the process logger and the zap/otelzap globals used by otelzap.Ctx.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	log = l
	mu.Unlock()
	zap.ReplaceGlobals(l)
	otelzap.ReplaceGlobals(otelzap.New(l))
}

// Sync flushes any buffered log entries. Should be called before the application exits.
func Sync() error {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		return nil
	}
	return l.Sync()
}
