// pkg/orchestrator/phase.go
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_err"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_io"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/telemetry"
)

// Phase is one top-level stage of an installer run.
type Phase string

const (
	PhaseResolve Phase = "resolve"
	PhaseProfile Phase = "profile"
	PhasePlan    Phase = "plan"
	PhaseExecute Phase = "execute"
	PhaseReport  Phase = "report"
)

// PhaseError records which phase stopped the run. The category of the
// wrapped error still decides the exit code.
type PhaseError struct {
	Phase    Phase
	Original error
}

// Error implements the error interface
func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s phase: %v", e.Phase, e.Original)
}

// Unwrap returns the wrapped error
func (e *PhaseError) Unwrap() error {
	return e.Original
}

// runPhase logs phase_started/phase_completed around fn and opens a span
// for it. Errors without any hint get a suggestion based on their message.
func runPhase(rc *kaiju_io.RuntimeContext, phase Phase, fn func(ctx context.Context) error) error {
	ctx, span := telemetry.Start(rc.Ctx, "phase "+string(phase), attribute.String("phase", string(phase)))
	defer span.End()

	logger := otelzap.Ctx(ctx)
	logger.Info("phase_started", zap.String("phase", string(phase)))
	start := time.Now()

	err := fn(ctx)
	elapsed := time.Since(start)
	span.SetAttributes(attribute.Bool("success", err == nil))

	if err == nil {
		logger.Info("phase_completed",
			zap.String("phase", string(phase)),
			zap.Duration("duration", elapsed))
		return nil
	}

	if len(kaiju_err.Hints(err)) == 0 {
		if hint := suggestedRemediation(phase, err); hint != "" {
			err = kaiju_err.WithHint(err, hint)
		}
	}
	span.RecordError(err)
	logger.Warn("phase_completed",
		zap.String("phase", string(phase)),
		zap.Duration("duration", elapsed),
		zap.String("error_type", kaiju_err.CategoryOf(err).String()),
		zap.Int("exit_code", kaiju_err.ExitCode(err)),
		zap.Error(err))
	return &PhaseError{Phase: phase, Original: err}
}

// suggestedRemediation maps common failure messages onto a next step.
func suggestedRemediation(phase Phase, err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "cannot connect to the docker daemon"), strings.Contains(msg, "connection refused"):
		return "Check that the Docker daemon is running"
	case strings.Contains(msg, "permission denied"):
		return "Run as root or configure passwordless sudo"
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "Check network connectivity or raise installation.timeout_seconds"
	}
	switch phase {
	case PhaseProfile:
		return "Run with --validate-only to see the full host profile"
	case PhaseExecute:
		return "Re-run the same command to resume; completed steps are skipped"
	}
	return ""
}
