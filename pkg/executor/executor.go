// pkg/executor/executor.go

package executor

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/bridge"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_err"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/planner"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/retry"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/telemetry"
)

// outputTail is how many lines of command output a result keeps.
const outputTail = 20

// Executor runs a plan against the host.
type Executor struct {
	Runner  execute.Runner
	Runtime bridge.Runtime // bridge plans only
	Fs      afero.Fs

	Jobs     int // concurrent steps
	Attempts int // default retry attempts per step

	// Policy builds the retry policy for a step; tests shorten the delays.
	Policy func(attempts int, timeout time.Duration) retry.Policy
	// Writable reports whether a file can be written without sudo.
	Writable func(path string) bool
	// Progress receives image build output.
	Progress io.Writer

	SessionID string
}

// New returns an executor for real runs.
func New(runner execute.Runner, runtime bridge.Runtime, jobs, attempts int) *Executor {
	return &Executor{
		Runner:   runner,
		Runtime:  runtime,
		Fs:       afero.NewOsFs(),
		Jobs:     jobs,
		Attempts: attempts,
		Policy:   retry.DefaultPolicy,
		Writable: bridge.DirWritable,
		Progress: io.Discard,
	}
}

type outcome struct {
	index  int
	status retry.Status
}

// Run executes plan and returns its report. A step starts only after all of
// its predecessors succeeded or were skipped. At most Jobs steps run at once.
// The first failed step stops new work; steps already running finish.
// Cancelling ctx stops new work the same way.
func (e *Executor) Run(ctx context.Context, plan planner.Plan) *RunReport {
	logger := otelzap.Ctx(ctx)
	report := newRunReport(e.SessionID, plan.Steps)

	ctx, span := telemetry.Start(ctx, "executor.Run",
		attribute.Int("steps", len(plan.Steps)),
		attribute.Int("jobs", e.jobs()))
	defer span.End()

	// ASSESS
	index := make(map[string]int, len(plan.Steps))
	for i, s := range plan.Steps {
		index[s.ID] = i
	}
	waiting := make([]int, len(plan.Steps))
	dependents := make([][]int, len(plan.Steps))
	for i, s := range plan.Steps {
		waiting[i] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			j := index[dep]
			dependents[j] = append(dependents[j], i)
		}
	}

	// INTERVENE
	sem := semaphore.NewWeighted(int64(e.jobs()))
	var halted atomic.Bool
	var wg sync.WaitGroup
	outcomes := make(chan outcome)

	launch := func(i int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- outcome{index: i, status: e.dispatch(ctx, plan, i, sem, &halted, report)}
		}()
	}

	outstanding := 0
	for i := range plan.Steps {
		if waiting[i] == 0 {
			launch(i)
			outstanding++
		}
	}
	for outstanding > 0 {
		o := <-outcomes
		outstanding--
		if o.status.Failed() {
			halted.Store(true)
		}
		if !o.status.Done() || halted.Load() || ctx.Err() != nil {
			continue
		}
		for _, j := range dependents[o.index] {
			waiting[j]--
			if waiting[j] == 0 {
				launch(j)
				outstanding++
			}
		}
	}
	wg.Wait()

	// EVALUATE
	report.Elapsed = time.Since(report.Started)
	for _, res := range report.Results() {
		if res.Status == retry.StatusNotRun {
			logger.Info("step_not_run", zap.String("step", res.StepID))
		}
	}
	span.SetAttributes(attribute.Bool("success", report.Succeeded()))
	logger.Info("Plan execution finished",
		zap.Bool("success", report.Succeeded()),
		zap.Duration("elapsed", report.Elapsed))
	return report
}

// dispatch waits for a worker slot, then runs the step unless the run has
// been halted in the meantime.
func (e *Executor) dispatch(ctx context.Context, plan planner.Plan, i int, sem *semaphore.Weighted, halted *atomic.Bool, report *RunReport) retry.Status {
	if err := sem.Acquire(ctx, 1); err != nil {
		return retry.StatusNotRun
	}
	defer sem.Release(1)
	if halted.Load() || ctx.Err() != nil {
		return retry.StatusNotRun
	}
	res := e.runStep(ctx, plan, plan.Steps[i])
	report.set(i, res)
	return res.Status
}

func (e *Executor) runStep(ctx context.Context, plan planner.Plan, step planner.Step) ExecutionResult {
	logger := otelzap.Ctx(ctx)
	fields := []zap.Field{zap.String("step", step.ID), zap.String("kind", step.Kind.String())}
	logger.Info("step_started", append(fields, zap.String("description", step.Description))...)

	h := e.handler(plan, step)

	var output string
	action := func(actx context.Context, attempt int) error {
		actx, span := telemetry.Start(actx, "step "+step.ID,
			attribute.String("step.id", step.ID),
			attribute.String("step.kind", step.Kind.String()),
			attribute.Int("attempt", attempt))
		defer span.End()

		out, err := h.action(actx)
		output = out
		status := "succeeded"
		if err != nil {
			status = "failed"
			span.RecordError(err)
		}
		span.SetAttributes(attribute.String("status", status))
		return err
	}

	attempts := e.Attempts
	if step.Retry != nil && step.Retry.Attempts > 0 {
		attempts = step.Retry.Attempts
	}
	ctrl := retry.Controller{
		Policy:  e.policy(attempts, step.Timeout),
		Recover: h.recover,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			logger.Warn("step_attempt_failed", append(fields,
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", wait),
				zap.Error(err))...)
		},
	}

	r := ctrl.Run(ctx, h.satisfied, action)
	res := ExecutionResult{
		StepID:      step.ID,
		Kind:        step.Kind,
		Description: step.Description,
		Status:      r.Status,
		Attempts:    r.Attempts,
		Duration:    r.Duration,
		Output:      execute.Summary(output, outputTail),
		Err:         r.Err,
	}

	switch r.Status {
	case retry.StatusSkipped:
		logger.Info("step_skipped", fields...)
	case retry.StatusSucceeded:
		logger.Info("step_succeeded", append(fields,
			zap.Int("attempts", r.Attempts), zap.Duration("duration", r.Duration))...)
	default:
		logger.Error("step_failed", append(fields,
			zap.String("status", string(r.Status)),
			zap.String("error_type", kaiju_err.CategoryOf(r.Err).String()),
			zap.Int("attempts", r.Attempts),
			zap.Error(r.Err))...)
	}
	return res
}

func (e *Executor) jobs() int {
	return max(1, e.Jobs)
}

func (e *Executor) policy(attempts int, timeout time.Duration) retry.Policy {
	if e.Policy == nil {
		return retry.DefaultPolicy(attempts, timeout)
	}
	return e.Policy(attempts, timeout)
}
