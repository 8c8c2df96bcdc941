package executor

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/bridge"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_err"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/planner"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/retry"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/shared"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/sysinfo"
)

func resolve(t *testing.T, flags map[string]any) config.Configuration {
	t.Helper()
	cfg, _, err := config.Resolve(nil, flags)
	require.NoError(t, err)
	return cfg
}

func nobleHost() sysinfo.Profile {
	return sysinfo.Profile{
		OS: sysinfo.OSUbuntu, OSVersion: "24.04", Codename: "noble", Arch: "x86_64",
		MemoryGB: 16, FreeDiskGB: 100, NetworkReachable: true,
		Privilege: sysinfo.PrivilegeRoot, User: "robot", Home: "/home/robot",
	}
}

func build(t *testing.T, flags map[string]any, prof sysinfo.Profile, class sysinfo.Classification) planner.Plan {
	t.Helper()
	plan, err := planner.Build(resolve(t, flags), prof, class, "1.0.0")
	require.NoError(t, err)
	return plan
}

func statuses(r *RunReport) map[string]retry.Status {
	out := map[string]retry.Status{}
	for _, res := range r.Results() {
		out[res.StepID] = res.Status
	}
	return out
}

// independent returns n steps with no dependencies between them.
func independent(n int) planner.Plan {
	var p planner.Plan
	for i := range n {
		id := fmt.Sprintf("step-%02d", i)
		p.Steps = append(p.Steps, planner.Step{
			ID: id, Kind: planner.KindIndexUpdate,
			Commands: []execute.Command{{Program: id}},
		})
	}
	return p
}

func chained(n int) planner.Plan {
	p := independent(n)
	for i := 1; i < n; i++ {
		p.Steps[i].DependsOn = []string{p.Steps[i-1].ID}
	}
	return p
}

func TestEveryKindHasAHandler(t *testing.T) {
	t.Parallel()

	e := testExecutor(newFakeHost(), &execute.FakeRunner{}, 1)
	for _, k := range planner.Kinds {
		h, ok := e.handlerFor(planner.Plan{}, planner.Step{ID: k.String(), Kind: k})
		assert.True(t, ok, "kind %s has no handler", k)
		assert.NotNil(t, h.action, "kind %s has no action", k)
	}

	_, ok := e.handlerFor(planner.Plan{}, planner.Step{Kind: planner.StepKind(99)})
	assert.False(t, ok)
}

func TestUnknownKindFailsFatally(t *testing.T) {
	t.Parallel()

	e := testExecutor(newFakeHost(), &execute.FakeRunner{}, 1)
	report := e.Run(context.Background(), planner.Plan{Steps: []planner.Step{{ID: "odd", Kind: planner.StepKind(99)}}})
	res, ok := report.Result("odd")
	require.True(t, ok)
	assert.Equal(t, retry.StatusFatal, res.Status)
	assert.Equal(t, kaiju_err.ExitExecution, report.ExitCode())
}

func TestMinimalScenarioSucceeds(t *testing.T) {
	t.Parallel()

	h := newFakeHost()
	runner := h.runner()
	plan := build(t, map[string]any{
		"installation.ros_distro":         "kilted",
		"installation.package_set":        "minimal",
		"installation.uninstall_existing": false,
		"system.update_system":            false,
		"system.backup_configs":           false,
		"system.configure_environment":    false,
	}, nobleHost(), sysinfo.NativeEligible)

	report := testExecutor(h, runner, 4).Run(context.Background(), plan)

	assert.True(t, report.Succeeded())
	assert.NoError(t, report.Err())
	assert.Equal(t, kaiju_err.ExitSuccess, report.ExitCode())
	assert.Equal(t, map[string]retry.Status{
		"dependency-install":    retry.StatusSucceeded,
		"minimal-group-install": retry.StatusSucceeded,
		"verify":                retry.StatusSucceeded,
	}, statuses(report))

	assert.True(t, h.isInstalled("ros-kilted-ros2cli"))
	assert.NotEmpty(t, runner.CallsMatching("ros2 --help"))
	assert.NotEmpty(t, runner.CallsMatching(shared.ROSSourcesList))
	assert.Greater(t, report.Elapsed, time.Duration(0))
}

func TestIdempotentRerunAfterPartialFailure(t *testing.T) {
	t.Parallel()

	h := newFakeHost()
	require.NoError(t, afero.WriteFile(h.fs, "/home/robot/.bashrc", []byte("alias ll='ls -l'\n"), 0o644))
	plan := build(t, map[string]any{"installation.package_set": "base"}, nobleHost(), sysinfo.NativeEligible)

	h.setFail(func(c execute.Command) error {
		if c.Program == "apt-get" && strings.Contains(c.String(), "ros-kilted-ros-base") {
			return kaiju_err.NewFatalError("unable to locate package ros-kilted-ros-base", nil)
		}
		return nil
	})
	first := testExecutor(h, h.runner(), 2).Run(context.Background(), plan)

	failed, ok := first.FirstFailure()
	require.True(t, ok)
	assert.Equal(t, "base-group-install", failed.StepID)
	assert.Equal(t, retry.StatusFatal, failed.Status)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, retry.StatusNotRun, statuses(first)["verify"])
	assert.Equal(t, kaiju_err.ExitExecution, first.ExitCode())

	h.setFail(nil)
	runner := h.runner()
	second := testExecutor(h, runner, 2).Run(context.Background(), plan)
	require.True(t, second.Succeeded())

	before, after := statuses(first), statuses(second)
	for id, st := range before {
		if st == retry.StatusSucceeded || st == retry.StatusSkipped {
			assert.Equal(t, retry.StatusSkipped, after[id], "%s already done, must be skipped", id)
		}
	}
	assert.Equal(t, retry.StatusSucceeded, after["base-group-install"])
	assert.Equal(t, retry.StatusSucceeded, after["verify"])

	assert.Empty(t, runner.CallsMatching("install -y ros-kilted-ros-core"), "minimal group is not reinstalled")
	assert.Len(t, runner.CallsMatching("install -y ros-kilted-ros-base"), 1)

	data, err := afero.ReadFile(h.fs, "/home/robot/.bashrc")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), shared.BashrcMarker), "block appended once")

	backup, err := afero.ReadFile(h.fs, "/home/robot/.bashrc"+shared.BackupSuffix+".s1")
	require.NoError(t, err)
	assert.Equal(t, "alias ll='ls -l'\n", string(backup), "pristine copy kept")
}

func TestFatalFailureHaltsDependentsButNotRunningSteps(t *testing.T) {
	t.Parallel()

	plan := planner.Plan{Steps: []planner.Step{
		{ID: "a", Kind: planner.KindIndexUpdate, Commands: []execute.Command{{Program: "a"}}},
		{ID: "b", Kind: planner.KindIndexUpdate, Commands: []execute.Command{{Program: "b"}}, DependsOn: []string{"a"}},
		{ID: "c", Kind: planner.KindIndexUpdate, Commands: []execute.Command{{Program: "c"}}},
	}}

	cStarted := make(chan struct{})
	var cFinished atomic.Bool
	runner := &execute.FakeRunner{Respond: func(_ int, c execute.Command) (execute.Result, error) {
		switch c.Program {
		case "a":
			<-cStarted
			return execute.Result{Output: "permission denied"}, kaiju_err.NewFatalError("permission denied", nil)
		case "c":
			close(cStarted)
			time.Sleep(30 * time.Millisecond)
			cFinished.Store(true)
		}
		return execute.Result{}, nil
	}}

	report := testExecutor(newFakeHost(), runner, 2).Run(context.Background(), plan)

	assert.Equal(t, map[string]retry.Status{
		"a": retry.StatusFatal,
		"b": retry.StatusNotRun,
		"c": retry.StatusSucceeded,
	}, statuses(report))
	assert.True(t, cFinished.Load(), "in-flight step runs to completion")
	assert.Empty(t, runner.CallsMatching("b"))

	res, _ := report.Result("a")
	assert.Contains(t, res.Output, "permission denied")
	assert.False(t, kaiju_err.IsRetryable(res.Err))
	assert.Error(t, report.Err())
}

func TestExhaustedRetriesRunRecoveryBetweenAttempts(t *testing.T) {
	t.Parallel()

	plan := planner.Plan{Steps: []planner.Step{{
		ID: "update", Kind: planner.KindIndexUpdate,
		Commands: []execute.Command{{Program: "apt-get", Args: []string{"update"}}},
		Retry:    &planner.RetryPolicy{Attempts: 4},
	}}}
	runner := &execute.FakeRunner{Respond: func(_ int, c execute.Command) (execute.Result, error) {
		if c.Program == "apt-get" {
			return execute.Result{Output: "Could not get lock"}, kaiju_err.NewTransientError("could not get lock", nil)
		}
		return execute.Result{}, nil
	}}

	report := testExecutor(newFakeHost(), runner, 1).Run(context.Background(), plan)

	res, _ := report.Result("update")
	assert.Equal(t, retry.StatusExhausted, res.Status)
	assert.Equal(t, 4, res.Attempts)
	assert.Len(t, runner.CallsMatching("apt-get update"), 4)
	assert.Len(t, runner.CallsMatching("dpkg --configure -a"), 3)
	assert.Equal(t, kaiju_err.ExitExecution, report.ExitCode())
}

func TestConcurrencyBound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		plan planner.Plan
		jobs int
		max  int
	}{
		{"wide, one job", independent(8), 1, 1},
		{"wide, three jobs", independent(12), 3, 3},
		{"wide, more jobs than steps", independent(3), 8, 3},
		{"chain ignores spare jobs", chained(5), 4, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			runner := &execute.FakeRunner{Delay: 15 * time.Millisecond}
			report := testExecutor(newFakeHost(), runner, tt.jobs).Run(context.Background(), tt.plan)

			require.True(t, report.Succeeded())
			assert.LessOrEqual(t, runner.PeakConcurrency(), tt.max)
			assert.Len(t, runner.Calls(), len(tt.plan.Steps))
		})
	}
}

func TestChainRunsInDeclaredOrder(t *testing.T) {
	t.Parallel()

	runner := &execute.FakeRunner{}
	report := testExecutor(newFakeHost(), runner, 4).Run(context.Background(), chained(6))
	require.True(t, report.Succeeded())

	var order []string
	for _, c := range runner.Calls() {
		order = append(order, c.Program)
	}
	assert.Equal(t, chained(6).IDs(), order)
}

func TestCancelledContextRunsNothing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &execute.FakeRunner{}
	report := testExecutor(newFakeHost(), runner, 2).Run(ctx, independent(4))

	assert.Empty(t, runner.Calls())
	assert.Equal(t, 4, report.Counts()[retry.StatusNotRun])
	assert.False(t, report.Succeeded())
	assert.Error(t, report.Err())
	assert.Equal(t, kaiju_err.ExitExecution, report.ExitCode())
}

func TestPreUninstallPurgesOnlyOtherDistros(t *testing.T) {
	t.Parallel()

	h := newFakeHost()
	h.installed["ros-humble-ros-core"] = true
	h.installed["ros-kilted-ros-core"] = true
	plan := build(t, map[string]any{
		"installation.package_set":     "minimal",
		"system.update_system":         false,
		"system.backup_configs":        false,
		"system.configure_environment": false,
	}, nobleHost(), sysinfo.NativeEligible)

	runner := h.runner()
	report := testExecutor(h, runner, 1).Run(context.Background(), plan)
	require.True(t, report.Succeeded())

	assert.Equal(t, retry.StatusSucceeded, statuses(report)["pre-uninstall"])
	assert.False(t, h.isInstalled("ros-humble-ros-core"))
	assert.True(t, h.isInstalled("ros-kilted-ros-core"))
	assert.Len(t, runner.CallsMatching("autoremove -y --purge ros-humble-ros-core"), 1)
}

func bridgeHost() sysinfo.Profile {
	return sysinfo.Profile{
		OS: sysinfo.OSLinux, OSVersion: "12", Arch: "x86_64",
		MemoryGB: 16, FreeDiskGB: 100, NetworkReachable: true,
		Privilege: sysinfo.PrivilegeRoot, User: "robot", Home: "/home/robot",
	}
}

func TestBridgePlanInstallsRuntimeThenBuilds(t *testing.T) {
	t.Parallel()

	h := newFakeHost()
	h.rt = bridge.NewFakeRuntime()
	h.rt.SetDown(true)
	plan := build(t, map[string]any{"installation.package_set": "base"}, bridgeHost(), sysinfo.BridgeRequired)
	require.NotNil(t, plan.Container)

	runner := h.runner()
	report := testExecutor(h, runner, 2).Run(context.Background(), plan)
	require.True(t, report.Succeeded(), "%v", report.Err())

	st := statuses(report)
	assert.Equal(t, retry.StatusSucceeded, st["ensure-runtime"])
	assert.Equal(t, retry.StatusSucceeded, st["build-image"])
	assert.Equal(t, retry.StatusSucceeded, st["run-container"])
	assert.Equal(t, retry.StatusSucceeded, st["install-wrapper"])
	assert.Equal(t, []string{plan.Container.Image}, h.rt.BuiltImages())
	assert.NotEmpty(t, runner.CallsMatching(shared.DockerInstallScriptURL))

	wrapper, err := afero.ReadFile(h.fs, plan.Container.WrapperPath)
	require.NoError(t, err)
	assert.Equal(t, bridge.WrapperScript(*plan.Container), string(wrapper))
	info, err := h.fs.Stat(plan.Container.WrapperPath)
	require.NoError(t, err)
	assert.Equal(t, "-rwxr-xr-x", info.Mode().Perm().String())

	execs := h.rt.ExecCalls()
	require.Len(t, execs, 1)
	assert.Equal(t, "bash", execs[0][0])
	assert.Contains(t, execs[0][2], "ros2 --help")

	again := testExecutor(h, h.runner(), 2).Run(context.Background(), plan)
	require.True(t, again.Succeeded())
	for id, s := range statuses(again) {
		if id == "verify" {
			continue
		}
		assert.Equal(t, retry.StatusSkipped, s, id)
	}
	assert.Len(t, h.rt.BuiltImages(), 1, "image is not rebuilt")
}

func TestBridgeBuildFailureIsReported(t *testing.T) {
	t.Parallel()

	h := newFakeHost()
	h.rt = bridge.NewFakeRuntime()
	h.rt.BuildErr = kaiju_err.NewFatalError("dockerfile parse error", nil)
	prof := bridgeHost()
	prof.Runtime = sysinfo.RuntimeState{Installed: true, Running: true}
	plan := build(t, map[string]any{"installation.package_set": "minimal"}, prof, sysinfo.BridgeRequired)

	report := testExecutor(h, h.runner(), 2).Run(context.Background(), plan)

	st := statuses(report)
	assert.NotContains(t, st, "ensure-runtime")
	assert.Equal(t, retry.StatusFatal, st["build-image"])
	assert.Equal(t, retry.StatusNotRun, st["run-container"])
	assert.Equal(t, retry.StatusNotRun, st["install-wrapper"])
	assert.Equal(t, retry.StatusNotRun, st["verify"])
}
