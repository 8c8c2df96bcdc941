// pkg/kaiju_io/context.go

package kaiju_io

import (
	"context"
	"os"
	"os/user"
	"runtime"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_err"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RuntimeContext carries the per-run context, logger, span and session id.
// It is created once per invocation and passed explicitly to every component.
type RuntimeContext struct {
	Ctx        context.Context
	Log        *zap.Logger
	Span       trace.Span
	SessionID  string
	Command    string
	Timestamp  time.Time
	Attributes map[string]string
}

// NewSessionID returns a short 8-char run identifier.
func NewSessionID() string {
	return uuid.New().String()[:8]
}

// NewContext sets up tracing and a session-scoped logger.
func NewContext(parent context.Context, cmdName, sessionID string, log *zap.Logger) *RuntimeContext {
	if parent == nil {
		parent = context.Background()
	}
	if log == nil {
		log = zap.L()
	}
	if sessionID == "" {
		sessionID = NewSessionID()
	}

	ctx, span := telemetry.Start(parent, cmdName, attribute.String("session_id", sessionID))
	scoped := log.With(
		zap.String("command", cmdName),
		zap.String("trace_id", span.SpanContext().TraceID().String()),
	)

	return &RuntimeContext{
		Ctx:        ctx,
		Log:        scoped,
		Span:       span,
		SessionID:  sessionID,
		Command:    cmdName,
		Timestamp:  time.Now(),
		Attributes: make(map[string]string),
	}
}

// NewTestContext returns a context with a no-op logger for unit tests.
func NewTestContext() *RuntimeContext {
	return NewContext(context.Background(), "test", "test0000", zap.NewNop())
}

// WithContext returns a shallow copy bound to ctx.
func (rc *RuntimeContext) WithContext(ctx context.Context) *RuntimeContext {
	cp := *rc
	cp.Ctx = ctx
	return &cp
}

// HandlePanic recovers panics, logs them, and converts to an error.
func (rc *RuntimeContext) HandlePanic(errPtr *error) {
	if r := recover(); r != nil {
		*errPtr = cerr.AssertionFailedf("panic: %v", r)
		rc.Log.Error("panic recovered", zap.Any("panic", r))
	}
}

// End logs outcome, records span attributes, and ends the span.
func (rc *RuntimeContext) End(errPtr *error) {
	defer rc.Span.End()

	var err error
	if errPtr != nil {
		err = *errPtr
	}
	duration := time.Since(rc.Timestamp)

	if err == nil {
		rc.Log.Info("Command completed", zap.Duration("duration", duration))
	} else {
		rc.Log.Error("Command failed",
			zap.Duration("duration", duration),
			zap.String("error_type", kaiju_err.CategoryOf(err).String()),
			zap.Int("exit_code", kaiju_err.ExitCode(err)),
			zap.Error(err))
		rc.Span.RecordError(err)
	}

	rc.Span.SetAttributes(
		attribute.Bool("success", err == nil),
		attribute.Int64("duration_ms", duration.Milliseconds()),
		attribute.String("os", runtime.GOOS),
		attribute.String("args", truncateArgs(os.Args[1:])),
	)
}

// LogRuntimeExecutionContext records who is running the installer.
func (rc *RuntimeContext) LogRuntimeExecutionContext() {
	if u, err := user.Current(); err == nil {
		rc.Log.Info("User context",
			zap.String("username", u.Username),
			zap.String("uid", u.Uid),
			zap.Int("effective_uid", os.Geteuid()),
			zap.String("sudo_user", os.Getenv("SUDO_USER")),
		)
	}
	if exe, err := os.Executable(); err == nil {
		rc.Log.Debug("Executing binary", zap.String("path", exe))
	}
}

func truncateArgs(args []string) string {
	full := strings.Join(args, " ")
	if len(full) > 256 {
		return full[:256] + "..."
	}
	return full
}
