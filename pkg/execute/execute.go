// pkg/execute/execute.go

package execute

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	cerr "github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_err"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/telemetry"
)

// Command is one external program invocation. Commands never go through a
// shell unless Program is itself a shell; arguments are passed verbatim.
type Command struct {
	Program    string
	Args       []string
	Timeout    time.Duration
	Privileged bool     // needs root; prefixed with `sudo -n` when not already root
	RunAs      string   // run as this user instead (rosdep update as SUDO_USER)
	Env        []string // extra KEY=VALUE pairs
	Stdin      string
}

// String renders the command for logs and plan previews.
func (c Command) String() string {
	return buildCommandString(c.argv()...)
}

func (c Command) argv() []string {
	return append([]string{c.Program}, c.Args...)
}

// Result is what a finished command produced.
type Result struct {
	Output   string
	ExitCode int
	Duration time.Duration
}

// Runner executes Commands. Tests inject a fake so that no real process is
// ever spawned.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands on the host with os/exec.
type ExecRunner struct {
	Logger *zap.Logger
	// Sudo prefixes privileged commands with `sudo -n` (non-root callers).
	Sudo bool
}

// NewExecRunner returns a host runner. sudo should be true when the
// process is not running as root.
func NewExecRunner(logger *zap.Logger, sudo bool) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{Logger: logger, Sudo: sudo}
}

// Run executes cmd with its timeout and classifies any failure as a
// transient or fatal execution error.
func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	argv := r.argv(c)
	cmdStr := buildCommandString(argv...)

	rc, cancel := context.WithTimeout(ctx, defaultTimeout(c.Timeout))
	defer cancel()

	rc, span := telemetry.Start(rc, "execute.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("command", cmdStr),
		attribute.Bool("privileged", c.Privileged),
	)

	cmd := exec.CommandContext(rc, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), "DEBIAN_FRONTEND=noninteractive")
	cmd.Env = append(cmd.Env, c.Env...)
	cmd.WaitDelay = 5 * time.Second

	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	r.Logger.Debug("Starting execution", zap.String("command", cmdStr))
	start := time.Now()
	err := cmd.Run()
	res := Result{Output: buf.String(), Duration: time.Since(start)}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err == nil {
		r.Logger.Debug("Execution succeeded",
			zap.String("command", cmdStr),
			zap.Duration("duration", res.Duration))
		return res, nil
	}

	span.RecordError(err)
	classified := classify(rc, cmdStr, res, err)
	r.Logger.Debug("Execution failed",
		zap.String("command", cmdStr),
		zap.Int("exit_code", res.ExitCode),
		zap.String("summary", Summary(res.Output, 2)),
		zap.String("category", kaiju_err.CategoryOf(classified).String()))
	return res, classified
}

func (r *ExecRunner) argv(c Command) []string {
	argv := c.argv()
	switch {
	case c.RunAs != "":
		return append([]string{"sudo", "-n", "-H", "-u", c.RunAs}, argv...)
	case c.Privileged && r.Sudo:
		return append([]string{"sudo", "-n"}, argv...)
	}
	return argv
}

// classify maps a process failure onto the error taxonomy. Unrecognised
// non-zero exits are treated as transient so the retry budget applies.
func classify(ctx context.Context, cmdStr string, res Result, err error) error {
	if cerr.Is(ctx.Err(), context.DeadlineExceeded) {
		return kaiju_err.NewTransientError("command timed out: "+cmdStr, err)
	}
	if cerr.Is(err, exec.ErrNotFound) {
		return kaiju_err.NewFatalError("program not found: "+cmdStr, err,
			"Install the missing program or check PATH")
	}
	var exitErr *exec.ExitError
	if !cerr.As(err, &exitErr) {
		return kaiju_err.NewFatalError("cannot start "+cmdStr, err)
	}
	wrapped := cerr.Wrapf(err, "%s: %s", cmdStr, Summary(res.Output, 2))
	if cat, ok := kaiju_err.ClassifyOutput(res.Output); ok && cat == kaiju_err.CategoryFatal {
		return kaiju_err.NewFatalError("command failed: "+cmdStr, wrapped)
	}
	return kaiju_err.NewTransientError("command failed: "+cmdStr, wrapped)
}
