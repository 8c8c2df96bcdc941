// pkg/executor/handlers.go

package executor

import (
	"context"
	"strings"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/bridge"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_err"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/planner"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/retry"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/shared"
)

// indexMaxAge is how old the package lists may be before a refresh runs.
const indexMaxAge = time.Hour

// stepHandler is what the executor needs to run one kind of step: a check
// that the step's effect is already present, the action itself, and an
// optional repair run between failed attempts.
type stepHandler struct {
	satisfied retry.Satisfied
	action    func(ctx context.Context) (string, error)
	recover   func(ctx context.Context) error
}

// handlerFor maps every StepKind onto its handler. The second result is
// false for a kind with no handler.
func (e *Executor) handlerFor(plan planner.Plan, s planner.Step) (stepHandler, bool) {
	switch s.Kind {
	case planner.KindConfigBackup:
		return stepHandler{
			satisfied: func(context.Context) (bool, error) { return e.backedUp(s.Paths), nil },
			action: func(ctx context.Context) (string, error) {
				return "", e.backup(ctx, s.Paths, s.Timeout)
			},
		}, true

	case planner.KindPreUninstall:
		return stepHandler{
			satisfied: func(ctx context.Context) (bool, error) {
				return len(e.installed(ctx, s.Packages)) == 0, nil
			},
			action: func(ctx context.Context) (string, error) {
				pkgs := e.installed(ctx, s.Packages)
				if len(pkgs) == 0 {
					return "", nil
				}
				return e.runCommands(ctx, []execute.Command{{
					Program:    "apt-get",
					Args:       append([]string{"autoremove", "-y", "--purge"}, pkgs...),
					Privileged: true,
					Timeout:    s.Timeout,
				}})
			},
			recover: e.repairDpkg,
		}, true

	case planner.KindIndexUpdate:
		return stepHandler{
			satisfied: func(context.Context) (bool, error) { return e.indexFresh(), nil },
			action:    func(ctx context.Context) (string, error) { return e.runCommands(ctx, s.Commands) },
			recover:   e.repairDpkg,
		}, true

	case planner.KindDependencyInstall:
		return stepHandler{
			satisfied: func(ctx context.Context) (bool, error) {
				return e.allExist(s.Paths) && e.allInstalled(ctx, s.Packages), nil
			},
			action:  func(ctx context.Context) (string, error) { return e.runCommands(ctx, s.Commands) },
			recover: e.repairDpkg,
		}, true

	case planner.KindPackageInstall:
		return stepHandler{
			satisfied: func(ctx context.Context) (bool, error) { return e.allInstalled(ctx, s.Packages), nil },
			action:    func(ctx context.Context) (string, error) { return e.runCommands(ctx, s.Commands) },
			recover:   e.repairDpkg,
		}, true

	case planner.KindEnvironmentSetup:
		return stepHandler{
			satisfied: func(context.Context) (bool, error) { return e.appended(s.Files), nil },
			action:    func(ctx context.Context) (string, error) { return e.setupEnvironment(ctx, s) },
		}, true

	case planner.KindEnsureRuntime:
		return stepHandler{
			satisfied: func(ctx context.Context) (bool, error) {
				return e.Runtime != nil && e.Runtime.Ping(ctx) == nil, nil
			},
			action: func(ctx context.Context) (string, error) { return e.ensureRuntime(ctx, s) },
		}, true

	case planner.KindContainerBuild:
		return stepHandler{
			satisfied: func(ctx context.Context) (bool, error) {
				if e.Runtime == nil || plan.Container == nil {
					return false, nil
				}
				return e.Runtime.ImageExists(ctx, plan.Container.Image)
			},
			action: func(ctx context.Context) (string, error) { return "", e.buildImage(ctx, plan, s) },
		}, true

	case planner.KindContainerRun:
		return stepHandler{
			satisfied: func(ctx context.Context) (bool, error) {
				if e.Runtime == nil || plan.Container == nil {
					return false, nil
				}
				st, err := e.Runtime.ContainerState(ctx, plan.Container.Name)
				return st.Exists && st.Running && st.Image == plan.Container.Image, err
			},
			action: func(ctx context.Context) (string, error) {
				rt, cc, err := e.bridgeTarget(plan)
				if err != nil {
					return "", err
				}
				return "", rt.RunContainer(ctx, cc)
			},
		}, true

	case planner.KindWrapperInstall:
		return stepHandler{
			satisfied: func(context.Context) (bool, error) { return e.filesMatch(s.Files), nil },
			action: func(ctx context.Context) (string, error) {
				for _, f := range s.Files {
					if err := e.writeFile(ctx, f, s.Timeout); err != nil {
						return "", err
					}
				}
				return "", nil
			},
		}, true

	case planner.KindVerify:
		return stepHandler{
			action: func(ctx context.Context) (string, error) { return e.verify(ctx, plan, s) },
		}, true
	}
	return stepHandler{}, false
}

// handler returns the step's handler, or one that fails fatally when the
// kind is unknown.
func (e *Executor) handler(plan planner.Plan, s planner.Step) stepHandler {
	if h, ok := e.handlerFor(plan, s); ok {
		return h
	}
	return stepHandler{action: func(context.Context) (string, error) {
		return "", kaiju_err.NewFatalError("no handler for step kind", cerr.Newf("%s (%d)", s.Kind, int(s.Kind)))
	}}
}

// runCommands runs cmds in order and stops at the first failure.
func (e *Executor) runCommands(ctx context.Context, cmds []execute.Command) (string, error) {
	var out strings.Builder
	for _, c := range cmds {
		res, err := e.Runner.Run(ctx, c)
		out.WriteString(res.Output)
		if err != nil {
			return out.String(), err
		}
	}
	return out.String(), nil
}

// repairDpkg finishes interrupted package configuration so the next apt
// attempt does not trip over it.
func (e *Executor) repairDpkg(ctx context.Context) error {
	_, err := e.Runner.Run(ctx, execute.Command{
		Program:    "dpkg",
		Args:       []string{"--configure", "-a"},
		Privileged: true,
	})
	if err != nil {
		otelzap.Ctx(ctx).Warn("dpkg --configure -a failed", zap.Error(err))
	}
	return err
}

func (e *Executor) setupEnvironment(ctx context.Context, s planner.Step) (string, error) {
	var cmds []execute.Command
	for _, c := range s.Commands {
		if isRosdepInit(c) && e.allExist(s.Paths) {
			continue
		}
		cmds = append(cmds, c)
	}
	out, err := e.runCommands(ctx, cmds)
	if err != nil {
		return out, err
	}
	for _, f := range s.Files {
		if err := e.appendOnce(ctx, f, s.Timeout); err != nil {
			return out, err
		}
	}
	return out, nil
}

// indexFresh is true when the package lists were refreshed recently.
func (e *Executor) indexFresh() bool {
	info, err := e.Fs.Stat(shared.AptListsDir)
	return err == nil && time.Since(info.ModTime()) < indexMaxAge
}

func isRosdepInit(c execute.Command) bool {
	return c.Program == "rosdep" && len(c.Args) > 0 && c.Args[0] == "init"
}

func (e *Executor) ensureRuntime(ctx context.Context, s planner.Step) (string, error) {
	if len(s.Commands) == 0 {
		return "", kaiju_err.NewFatalError("no way to install a container runtime on this platform", nil,
			"Install Docker manually and re-run the installer")
	}
	out, err := e.runCommands(ctx, s.Commands)
	if err != nil {
		return out, err
	}
	if e.Runtime == nil {
		return out, kaiju_err.NewFatalError("container runtime client is not configured", nil)
	}
	if err := e.Runtime.Ping(ctx); err != nil {
		return out, kaiju_err.NewTransientError("container runtime installed but not answering yet", err)
	}
	return out, nil
}

func (e *Executor) buildImage(ctx context.Context, plan planner.Plan, s planner.Step) error {
	rt, cc, err := e.bridgeTarget(plan)
	if err != nil {
		return err
	}
	df, err := bridge.Dockerfile(cc, planner.EssentialPackages(), s.Packages)
	if err != nil {
		return kaiju_err.NewFatalError("cannot render image recipe", err)
	}
	return rt.BuildImage(ctx, cc.Image, df, e.Progress)
}

func (e *Executor) verify(ctx context.Context, plan planner.Plan, s planner.Step) (string, error) {
	if plan.Container != nil {
		rt, cc, err := e.bridgeTarget(plan)
		if err != nil {
			return "", err
		}
		var out strings.Builder
		for _, c := range s.Commands {
			o, err := rt.Exec(ctx, cc.Name, append([]string{c.Program}, c.Args...))
			out.WriteString(o)
			if err != nil {
				return out.String(), err
			}
		}
		return out.String(), nil
	}

	for _, p := range s.Paths {
		if !e.exists(p) {
			return "", kaiju_err.NewFatalError("ROS 2 installation not found", cerr.Newf("%s does not exist", p))
		}
	}
	out, err := e.runCommands(ctx, s.Commands)
	if err != nil {
		return out, err
	}
	if missing := e.missing(ctx, s.Packages); len(missing) > 0 {
		return out, kaiju_err.NewFatalError("packages missing after installation",
			cerr.Newf("%s", strings.Join(missing, ", ")))
	}
	return out, nil
}

func (e *Executor) bridgeTarget(plan planner.Plan) (bridge.Runtime, bridge.ContainerContext, error) {
	if plan.Container == nil {
		return nil, bridge.ContainerContext{}, kaiju_err.NewFatalError("container step in a plan without a container", nil)
	}
	if e.Runtime == nil {
		return nil, bridge.ContainerContext{}, kaiju_err.NewFatalError("container runtime client is not configured", nil)
	}
	return e.Runtime, *plan.Container, nil
}
