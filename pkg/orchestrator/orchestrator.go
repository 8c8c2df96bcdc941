// pkg/orchestrator/orchestrator.go
//
// Control flow of one installer invocation:
//
//	resolve -> profile -> plan -> (preview stops here) -> confirm -> execute -> report
//
// The runner and container runtime are only constructed after the preview
// short-circuit, so a dry run or validate-only run holds nothing that can
// change the host.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/bridge"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/executor"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/interaction"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_err"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_io"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/planner"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/report"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/sysinfo"
)

// Options wires a run to the host. Nil hooks fall back to the real
// implementations.
type Options struct {
	ConfigPath     string
	ConfigExplicit bool
	// Flags holds dotted configuration keys set on the command line,
	// including the run.* switches.
	Flags map[string]any

	Fs       afero.Fs // configuration file
	HostFs   afero.Fs // files read and written by steps
	Writable func(string) bool
	Detector   sysinfo.Detector
	Prompter *interaction.Prompter
	Out      io.Writer
	Progress io.Writer

	SessionID string
	Version   string

	NewRunner  func(sysinfo.Profile) execute.Runner
	NewRuntime func() (bridge.Runtime, error)

	// InitLogging installs the configured log sinks. Tests leave it off.
	InitLogging bool
}

// Result is everything a run produced. ExitCode is the process exit status.
type Result struct {
	ExitCode   int
	Config     config.Configuration
	Profile    sysinfo.Profile
	Assessment sysinfo.Assessment
	Plan       planner.Plan
	Report     *executor.RunReport
	Err        error
}

type run struct {
	opts Options
	rep  *report.Reporter
	res  Result
	// classified is set once the host passed classification, so a plan
	// can still be shown when a later check blocks a preview.
	classified bool
}

// Run executes one invocation and returns its result. It never exits the
// process.
func Run(ctx context.Context, opts Options) Result {
	r := &run{opts: withDefaults(opts)}
	r.rep = report.New(r.opts.Out)

	cfg, err := r.resolve(ctx)
	if err != nil {
		return r.fail(err, false)
	}
	r.res.Config = cfg

	log := zap.L()
	if r.opts.InitLogging {
		l, path, lerr := logger.Init(logger.Options{
			Level:     cfg.Logging.Level,
			File:      cfg.Logging.File,
			Console:   cfg.Logging.Console,
			SessionID: r.opts.SessionID,
		})
		if lerr != nil {
			return r.fail(kaiju_err.NewConfigError("logging.level", lerr.Error(), lerr), false)
		}
		log = l
		log.Info("Logging initialised", zap.String("log_file", path))
	}

	rc := kaiju_io.NewContext(ctx, "install", r.opts.SessionID, log)
	defer rc.End(&r.res.Err)
	rc.LogRuntimeExecutionContext()

	if cfg.Run.ShowConfig {
		if err := r.rep.Config(cfg); err != nil {
			return r.fail(kaiju_err.NewFatalError("cannot render configuration", err), false)
		}
		return r.res
	}

	preview := cfg.PreviewOnly()
	if err := runPhase(rc, PhaseProfile, r.profile); err != nil {
		if preview && r.classified {
			r.previewBlockedPlan(rc.Ctx)
		}
		return r.fail(err, preview)
	}
	cfg = r.res.Config
	if err := runPhase(rc, PhasePlan, r.plan); err != nil {
		return r.fail(err, preview)
	}

	if preview {
		// ASSESS only: the plan is shown and nothing is constructed that could run it.
		otelzap.Ctx(rc.Ctx).Info("Preview complete, nothing changed",
			zap.Bool("dry_run", cfg.Run.DryRun),
			zap.Bool("validate_only", cfg.Run.ValidateOnly),
			zap.Int("steps", len(r.res.Plan.Steps)))
		r.rep.Plan(r.res.Plan)
		r.rep.Outcome(kaiju_err.ExitSuccess, true)
		return r.res
	}

	if err := r.confirm(rc.Ctx); err != nil {
		return r.fail(err, false)
	}

	// INTERVENE
	execErr := runPhase(rc, PhaseExecute, r.execute)
	if r.res.Report == nil {
		return r.fail(execErr, false)
	}

	// EVALUATE
	_ = runPhase(rc, PhaseReport, func(context.Context) error {
		r.rep.Run(r.res.Report)
		return nil
	})
	r.res.ExitCode = report.ExitStatus(r.res.Report)
	r.res.Err = execErr
	r.rep.Outcome(r.res.ExitCode, false)
	return r.res
}

func withDefaults(opts Options) Options {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Progress == nil {
		opts.Progress = io.Discard
	}
	if opts.Prompter == nil {
		opts.Prompter = interaction.NewPrompter()
	}
	if opts.SessionID == "" {
		opts.SessionID = kaiju_io.NewSessionID()
	}
	if opts.Writable == nil {
		opts.Writable = bridge.DirWritable
	}
	if opts.Detector == nil {
		opts.Detector = defaultDetector()
	}
	if opts.NewRunner == nil {
		opts.NewRunner = func(p sysinfo.Profile) execute.Runner {
			return execute.NewExecRunner(zap.L(), p.Privilege == sysinfo.PrivilegeSudo)
		}
	}
	if opts.NewRuntime == nil {
		opts.NewRuntime = func() (bridge.Runtime, error) { return bridge.NewDockerRuntime() }
	}
	return opts
}

// defaultDetector inspects the local host. Its runner only issues the
// non-interactive sudo check, and the daemon check only pings.
func defaultDetector() sysinfo.Detector {
	p := sysinfo.NewHostDetector(execute.NewExecRunner(zap.L(), false))
	p.RuntimeCheck = func(ctx context.Context) bool {
		rt, err := bridge.NewDockerRuntime()
		if err != nil {
			return false
		}
		defer func() { _ = rt.Close() }()
		return rt.Ping(ctx) == nil
	}
	return p
}

func (r *run) fail(err error, preview bool) Result {
	r.res.Err = err
	r.res.ExitCode = kaiju_err.ExitCode(err)
	r.rep.Failure(err)
	r.rep.Outcome(r.res.ExitCode, preview)
	return r.res
}

// resolve loads the file and layers flags over it. It runs before the log
// sinks exist, so it reports through the process logger.
func (r *run) resolve(ctx context.Context) (config.Configuration, error) {
	logger := otelzap.Ctx(ctx)
	logger.Info("phase_started", zap.String("phase", string(PhaseResolve)))

	fs := r.opts.Fs
	if cast.ToBool(r.opts.Flags["run.dry_run"]) || cast.ToBool(r.opts.Flags["run.validate_only"]) {
		// Previews never write, not even the default config file.
		fs = afero.NewReadOnlyFs(fs)
	}
	loaded, err := config.LoadFile(fs, r.opts.ConfigPath, r.opts.ConfigExplicit)
	if err != nil {
		return config.Configuration{}, &PhaseError{Phase: PhaseResolve, Original: err}
	}
	if loaded.Generated {
		logger.Info("Generated default configuration file", zap.String("path", loaded.Path))
	}

	cfg, warnings, err := config.Resolve(loaded.Values, r.opts.Flags)
	for _, w := range warnings {
		logger.Warn("Configuration warning", zap.String("warning", w))
	}
	r.rep.Warnings(warnings)
	if err != nil {
		return config.Configuration{}, &PhaseError{Phase: PhaseResolve, Original: err}
	}

	logger.Info("phase_completed",
		zap.String("phase", string(PhaseResolve)),
		zap.String("config_file", loaded.Path),
		zap.String("ros_distro", string(cfg.Installation.ROSDistro)),
		zap.String("package_set", string(cfg.Installation.PackageSet)))
	return cfg, nil
}

// profile inspects and classifies the host, then applies the resource gate.
func (r *run) profile(ctx context.Context) error {
	logger := otelzap.Ctx(ctx)
	cfg := r.res.Config

	prof, err := r.opts.Detector.Detect(ctx)
	if err != nil {
		return kaiju_err.NewFatalError("host detection failed", err)
	}
	r.res.Profile = prof
	r.res.Assessment = sysinfo.Classify(prof, cfg)

	wrapperBlocked := false
	if r.res.Assessment.Class == sysinfo.BridgeRequired {
		if cfg, err = r.placeWrapper(ctx, cfg); err != nil {
			return err
		}
		wrapperBlocked = r.res.Assessment.Class == sysinfo.Ineligible
	}
	r.rep.Profile(prof, r.res.Assessment)

	logger.Info("Host classified",
		zap.String("classification", r.res.Assessment.Class.String()),
		zap.Strings("reasons", r.res.Assessment.Reasons))

	if r.res.Assessment.Class == sysinfo.Ineligible {
		hint := "Use Ubuntu " + cfg.Installation.ROSDistro.UbuntuRelease() + " or a host that can run Docker"
		if wrapperBlocked {
			hint = "Set bridge.wrapper_path to a writable location or configure passwordless sudo"
		}
		return kaiju_err.NewValidationError(
			"host is not eligible for installation: "+strings.Join(r.res.Assessment.Reasons, "; "), hint)
	}
	r.classified = true

	issues := sysinfo.CheckResources(prof, cfg.Resources())
	action := sysinfo.ResourceGate(issues, cfg, r.opts.Prompter.Interactive)
	r.rep.Resources(issues, action)
	for _, i := range issues {
		logger.Warn("Resource shortfall",
			zap.String("resource", i.Resource),
			zap.Float64("have_gb", i.Have),
			zap.Float64("need_gb", i.Need),
			zap.String("action", action.String()))
	}

	switch action {
	case sysinfo.GateBlock:
		return kaiju_err.NewValidationError("host does not meet the resource minimums",
			"Free up resources or pass --allow-resource-override")
	case sysinfo.GatePrompt:
		ok, err := r.opts.Prompter.PromptYesNo(ctx, "Continue despite the resource shortfall?", false)
		if err != nil || !ok {
			return kaiju_err.NewValidationError("resource shortfall not accepted",
				"Pass --allow-resource-override to install anyway")
		}
	}
	return nil
}

// placeWrapper moves the bridge wrapper somewhere this process can write,
// or marks the host ineligible when there is no such place. A moved
// wrapper becomes part of the run's configuration.
func (r *run) placeWrapper(ctx context.Context, cfg config.Configuration) (config.Configuration, error) {
	path, reason := sysinfo.PlaceWrapper(r.res.Profile, cfg, r.opts.Writable)
	if reason != "" {
		r.res.Assessment.Class = sysinfo.Ineligible
		r.res.Assessment.Reasons = append(r.res.Assessment.Reasons, reason)
		return cfg, nil
	}
	if path == cfg.Bridge.WrapperPath {
		return cfg, nil
	}

	moved, err := cfg.WithOverrides(map[string]any{"bridge.wrapper_path": path})
	if err != nil {
		return cfg, err
	}
	otelzap.Ctx(ctx).Warn("Wrapper path needs privilege, using the user's bin directory",
		zap.String("configured", cfg.Bridge.WrapperPath),
		zap.String("wrapper_path", path))
	r.res.Assessment.Reasons = append(r.res.Assessment.Reasons,
		fmt.Sprintf("wrapper installs to %s; make sure %s is on PATH", path, filepath.Dir(path)))
	r.res.Config = moved
	return moved, nil
}

func (r *run) plan(context.Context) error {
	plan, err := planner.Build(r.res.Config, r.res.Profile, r.res.Assessment.Class, r.opts.Version)
	if err != nil {
		return err
	}
	r.res.Plan = plan
	return nil
}

// previewBlockedPlan shows what a run would do on a host that failed a
// resource check, next to the condition that blocked it.
func (r *run) previewBlockedPlan(ctx context.Context) {
	if err := r.plan(ctx); err != nil {
		otelzap.Ctx(ctx).Warn("Cannot build plan preview", zap.Error(err))
		return
	}
	r.rep.Plan(r.res.Plan)
}

type planSummary planner.Plan

func (p planSummary) Summary() string { return report.Summary(planner.Plan(p)) }

// confirm asks before mutating unless the run is silent. Without a
// terminal there is nobody to ask, so the run stops.
func (r *run) confirm(ctx context.Context) error {
	if r.res.Config.Run.Silent {
		return nil
	}
	ok, err := r.opts.Prompter.Confirm(ctx, planSummary(r.res.Plan), "Proceed with installation?")
	if err != nil {
		return kaiju_err.WithHint(
			kaiju_err.NewValidationError("confirmation required but no terminal is attached"),
			"Pass --silent to install without confirmation")
	}
	if !ok {
		otelzap.Ctx(ctx).Info("Installation cancelled by user")
		return kaiju_err.NewValidationError("installation cancelled by user")
	}
	return nil
}

func (r *run) execute(ctx context.Context) error {
	cfg := r.res.Config
	runner := r.opts.NewRunner(r.res.Profile)

	var rt bridge.Runtime
	if r.res.Plan.Class == sysinfo.BridgeRequired {
		var err error
		rt, err = r.opts.NewRuntime()
		if err != nil {
			return kaiju_err.NewFatalError("cannot create container runtime client", err)
		}
		defer func() { _ = rt.Close() }()
	}

	ex := executor.New(runner, rt, cfg.Installation.ParallelJobs, cfg.Installation.RetryAttempts)
	ex.SessionID = r.opts.SessionID
	ex.Progress = r.opts.Progress
	if r.opts.HostFs != nil {
		ex.Fs = r.opts.HostFs
	}
	ex.Writable = r.opts.Writable

	r.res.Report = ex.Run(ctx, r.res.Plan)
	return r.res.Report.Err()
}
