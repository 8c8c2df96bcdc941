package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/bridge"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/interaction"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_err"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/planner"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/retry"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/shared"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/sysinfo"
)

func nobleHost() sysinfo.Profile {
	return sysinfo.Profile{
		OS: sysinfo.OSUbuntu, OSVersion: "24.04", Codename: "noble", Arch: "x86_64",
		MemoryGB: 16, FreeDiskGB: 100, CPUCores: 8, NetworkReachable: true,
		Privilege: sysinfo.PrivilegeRoot, User: "robot", Home: "/home/robot",
	}
}

func macHost(runtime bool) sysinfo.Profile {
	return sysinfo.Profile{
		OS: sysinfo.OSMacOS, OSVersion: "14.5", Arch: "arm64",
		MemoryGB: 16, FreeDiskGB: 100, NetworkReachable: true, RuntimeInstaller: true,
		Privilege: sysinfo.PrivilegeRegular, User: "robot", Home: "/Users/robot",
		Runtime: sysinfo.RuntimeState{Installed: runtime, Running: runtime},
	}
}

// sensor counts every attempt to obtain something that could mutate the host.
type sensor struct {
	runners  atomic.Int32
	runtimes atomic.Int32
	runner   *execute.FakeRunner
}

func (s *sensor) wire(opts *Options) {
	if s.runner == nil {
		s.runner = &execute.FakeRunner{}
	}
	opts.NewRunner = func(sysinfo.Profile) execute.Runner {
		s.runners.Add(1)
		return s.runner
	}
	opts.NewRuntime = func() (bridge.Runtime, error) {
		s.runtimes.Add(1)
		return bridge.NewFakeRuntime(), nil
	}
}

func testOptions(prof sysinfo.Profile, flags map[string]any) (Options, *bytes.Buffer) {
	var out bytes.Buffer
	opts := Options{
		Flags:     flags,
		Fs:        afero.NewMemMapFs(),
		HostFs:    afero.NewMemMapFs(),
		Writable:  func(string) bool { return true },
		Detector:    sysinfo.StaticDetector{Profile: prof},
		Prompter:  &interaction.Prompter{In: strings.NewReader(""), Out: &bytes.Buffer{}},
		Out:       &out,
		SessionID: "test0001",
		Version:   "1.0.0",
	}
	return opts, &out
}

func TestPreviewNeverObtainsMutators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		prof  sysinfo.Profile
		flags map[string]any
		class sysinfo.Classification
	}{
		{"dry run native", nobleHost(), map[string]any{"run.dry_run": true}, sysinfo.NativeEligible},
		{"validate only native", nobleHost(), map[string]any{"run.validate_only": true}, sysinfo.NativeEligible},
		{"dry run bridge", macHost(false), map[string]any{"run.dry_run": true}, sysinfo.BridgeRequired},
		{"dry run bridge desktop", macHost(true), map[string]any{
			"run.dry_run": true, "installation.package_set": "desktop",
		}, sysinfo.BridgeRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			opts, out := testOptions(tt.prof, tt.flags)
			s := &sensor{}
			s.wire(&opts)

			res := Run(context.Background(), opts)

			require.NoError(t, res.Err)
			assert.Equal(t, kaiju_err.ExitSuccess, res.ExitCode)
			assert.Equal(t, tt.class, res.Assessment.Class)
			assert.NotEmpty(t, res.Plan.Steps)
			assert.Nil(t, res.Report)
			assert.Zero(t, s.runners.Load(), "runner constructed during preview")
			assert.Zero(t, s.runtimes.Load(), "runtime constructed during preview")
			assert.Empty(t, s.runner.Calls())

			exists, err := afero.Exists(opts.Fs, config.DefaultFile)
			require.NoError(t, err)
			assert.False(t, exists, "preview wrote the default config file")
			assert.Contains(t, out.String(), "Nothing was changed")
			assert.Contains(t, out.String(), "Installation plan")
		})
	}
}

func TestValidateOnlyWithLowDiskFails(t *testing.T) {
	t.Parallel()

	prof := nobleHost()
	prof.FreeDiskGB = 1
	opts, out := testOptions(prof, map[string]any{"run.validate_only": true})
	s := &sensor{}
	s.wire(&opts)

	res := Run(context.Background(), opts)

	assert.Equal(t, kaiju_err.ExitValidation, res.ExitCode)
	assert.True(t, kaiju_err.IsValidationError(res.Err))
	assert.Zero(t, s.runners.Load())
	assert.Nil(t, res.Report)
	assert.Contains(t, out.String(), "insufficient disk space")
	assert.Contains(t, out.String(), "--allow-resource-override")

	// The blocked preview still shows what would have run.
	assert.NotEmpty(t, res.Plan.Steps)
	assert.Contains(t, out.String(), "Installation plan")
	assert.Contains(t, out.String(), planner.StepVerify)
}

func TestResourceOverrideLetsValidateOnlyPass(t *testing.T) {
	t.Parallel()

	prof := nobleHost()
	prof.FreeDiskGB = 1
	opts, _ := testOptions(prof, map[string]any{
		"run.validate_only":              true,
		"system.allow_resource_override": true,
	})

	res := Run(context.Background(), opts)
	assert.Equal(t, kaiju_err.ExitSuccess, res.ExitCode)
	assert.NotEmpty(t, res.Plan.Steps)
}

func TestBridgeHostPlansRuntimeInstall(t *testing.T) {
	t.Parallel()

	opts, _ := testOptions(macHost(false), map[string]any{"run.dry_run": true})
	res := Run(context.Background(), opts)
	require.Equal(t, kaiju_err.ExitSuccess, res.ExitCode)

	ids := res.Plan.IDs()
	ensure := indexOf(ids, planner.StepEnsureRuntime)
	build := indexOf(ids, planner.StepBuildImage)
	require.GreaterOrEqual(t, ensure, 0)
	require.GreaterOrEqual(t, build, 0)
	assert.Less(t, ensure, build)
}

func TestBridgeHostWithRuntimeInstallDisallowedIsIneligible(t *testing.T) {
	t.Parallel()

	opts, out := testOptions(macHost(false), map[string]any{
		"run.silent":                   true,
		"system.allow_runtime_install": false,
	})
	s := &sensor{}
	s.wire(&opts)

	res := Run(context.Background(), opts)

	assert.Equal(t, kaiju_err.ExitValidation, res.ExitCode)
	assert.Equal(t, sysinfo.Ineligible, res.Assessment.Class)
	assert.Zero(t, s.runners.Load())
	assert.Contains(t, out.String(), "runtime installation is disabled")
}

// writableUnder allows writes below dir only, like an unprivileged user.
func writableUnder(dir string) func(string) bool {
	return func(path string) bool { return strings.HasPrefix(path, dir+"/") }
}

func withFlags(base map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func unprivilegedDockerHost() sysinfo.Profile {
	prof := nobleHost()
	prof.Privilege = sysinfo.PrivilegeRegular
	prof.Runtime = sysinfo.RuntimeState{Installed: true, Running: true}
	return prof
}

func TestUnprivilegedBridgeHostInstallsWrapperUnderHome(t *testing.T) {
	t.Parallel()

	prof := unprivilegedDockerHost()
	opts, out := testOptions(prof, withFlags(bareFlags, map[string]any{"system.backup_configs": true}))
	opts.Writable = writableUnder(prof.Home)
	s := &sensor{}
	s.wire(&opts)

	res := Run(context.Background(), opts)

	require.NoError(t, res.Err)
	assert.Equal(t, kaiju_err.ExitSuccess, res.ExitCode)
	assert.Equal(t, sysinfo.BridgeRequired, res.Assessment.Class)

	want := "/home/robot/.local/bin/ros2-kilted"
	assert.Equal(t, want, res.Config.Bridge.WrapperPath)
	require.NotNil(t, res.Plan.Container)
	assert.Equal(t, want, res.Plan.Container.WrapperPath)

	exists, err := afero.Exists(opts.HostFs, want)
	require.NoError(t, err)
	assert.True(t, exists, "wrapper not written under home")
	for _, c := range s.runner.Calls() {
		assert.False(t, c.Privileged, "unprivileged host ran %s through sudo", c.String())
	}
	assert.Contains(t, out.String(), "is on PATH")
}

func TestUnprivilegedBridgeHostWithUnwritableWrapperIsIneligible(t *testing.T) {
	t.Parallel()

	prof := unprivilegedDockerHost()
	opts, out := testOptions(prof, withFlags(bareFlags, map[string]any{"bridge.wrapper_path": "/opt/tools/ros2"}))
	opts.Writable = writableUnder(prof.Home)
	s := &sensor{}
	s.wire(&opts)

	res := Run(context.Background(), opts)

	assert.Equal(t, kaiju_err.ExitValidation, res.ExitCode)
	assert.True(t, kaiju_err.IsValidationError(res.Err))
	assert.Equal(t, sysinfo.Ineligible, res.Assessment.Class)
	assert.Empty(t, res.Plan.Steps)
	assert.Zero(t, s.runners.Load(), "runner constructed for an ineligible host")
	assert.Zero(t, s.runtimes.Load(), "runtime constructed for an ineligible host")
	assert.Contains(t, out.String(), "/opt/tools is not writable")
	assert.Contains(t, out.String(), "bridge.wrapper_path")
}

func TestShowConfigPrintsYAMLWithoutProbing(t *testing.T) {
	t.Parallel()

	opts, out := testOptions(nobleHost(), map[string]any{
		"run.show_config":          true,
		"installation.ros_distro": "jazzy",
	})
	opts.Detector = sysinfo.StaticDetector{Err: fmt.Errorf("detection must not run")}

	res := Run(context.Background(), opts)

	require.NoError(t, res.Err)
	assert.Equal(t, kaiju_err.ExitSuccess, res.ExitCode)
	assert.Contains(t, out.String(), "ros_distro: jazzy")
	assert.Contains(t, out.String(), "package_set: desktop-full")
}

func TestConfigurationErrorsExitThree(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		file     string
		path     string
		explicit bool
		flags    map[string]any
	}{
		{name: "out of range value", file: "installation:\n  parallel_jobs: 99\n"},
		{name: "bad enum", file: "installation:\n  package_set: huge\n"},
		{name: "malformed yaml", file: "installation: [\n"},
		{name: "missing explicit file", path: "/etc/kaiju/missing.yaml", explicit: true},
		{name: "bad flag", flags: map[string]any{"installation.ros_distro": "galactic"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			opts, out := testOptions(nobleHost(), tt.flags)
			if tt.file != "" {
				require.NoError(t, afero.WriteFile(opts.Fs, config.DefaultFile, []byte(tt.file), 0o644))
			}
			opts.ConfigPath = tt.path
			opts.ConfigExplicit = tt.explicit
			s := &sensor{}
			s.wire(&opts)

			res := Run(context.Background(), opts)

			assert.Equal(t, kaiju_err.ExitConfig, res.ExitCode)
			assert.True(t, kaiju_err.IsConfigError(res.Err))
			assert.Zero(t, s.runners.Load())
			assert.Contains(t, out.String(), "Configuration error")
		})
	}
}

func TestMissingDefaultConfigIsGenerated(t *testing.T) {
	t.Parallel()

	opts, _ := testOptions(nobleHost(), map[string]any{"run.show_config": true})
	res := Run(context.Background(), opts)
	require.Equal(t, kaiju_err.ExitSuccess, res.ExitCode)

	data, err := afero.ReadFile(opts.Fs, config.DefaultFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ros_distro: kilted")
}

// fakeUbuntu installs packages into a map and creates /opt/ros/<distro>
// when a ROS package arrives.
type fakeUbuntu struct {
	mu        sync.Mutex
	fs        afero.Fs
	installed map[string]bool
}

func (h *fakeUbuntu) respond(_ int, c execute.Command) (execute.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch c.Program {
	case "dpkg-query":
		var b strings.Builder
		for _, name := range c.Args[2:] {
			if h.installed[name] {
				fmt.Fprintf(&b, "%s\tinstall ok installed\n", name)
			}
		}
		return execute.Result{Output: b.String()}, nil
	case "apt-get":
		install := false
		for _, a := range c.Args {
			switch {
			case a == "install":
				install = true
			case install && !strings.HasPrefix(a, "-"):
				h.installed[a] = true
				if parts := strings.SplitN(a, "-", 3); len(parts) == 3 && parts[0] == "ros" {
					_ = h.fs.MkdirAll(filepath.Join(shared.ROSInstallRoot, parts[1]), 0o755)
				}
			}
		}
	}
	return execute.Result{}, nil
}

var bareFlags = map[string]any{
	"run.silent":                      true,
	"installation.ros_distro":         "kilted",
	"installation.package_set":        "minimal",
	"installation.uninstall_existing": false,
	"system.update_system":            false,
	"system.backup_configs":           false,
	"system.configure_environment":    false,
}

func TestMinimalKiltedInstallSucceeds(t *testing.T) {
	t.Parallel()

	opts, out := testOptions(nobleHost(), bareFlags)
	host := &fakeUbuntu{fs: opts.HostFs, installed: map[string]bool{}}
	s := &sensor{runner: &execute.FakeRunner{Respond: host.respond}}
	s.wire(&opts)

	res := Run(context.Background(), opts)

	require.NoError(t, res.Err)
	assert.Equal(t, kaiju_err.ExitSuccess, res.ExitCode)
	assert.Equal(t, []string{"dependency-install", "minimal-group-install", "verify"}, res.Plan.IDs())
	require.NotNil(t, res.Report)
	for _, r := range res.Report.Results() {
		assert.Equal(t, retry.StatusSucceeded, r.Status, r.StepID)
	}
	assert.EqualValues(t, 1, s.runners.Load())
	assert.Zero(t, s.runtimes.Load(), "native plan needs no container runtime")
	assert.True(t, host.installed["ros-kilted-ros2cli"])
	assert.Contains(t, out.String(), "Installation complete")
	assert.Contains(t, out.String(), "(exit 0)")
}

func TestExecutionFailureExitsTwo(t *testing.T) {
	t.Parallel()

	opts, out := testOptions(nobleHost(), bareFlags)
	s := &sensor{runner: &execute.FakeRunner{Respond: func(_ int, c execute.Command) (execute.Result, error) {
		if c.Program == "apt-get" {
			return execute.Result{Output: "E: Unable to locate package"},
				kaiju_err.NewFatalError("unable to locate package", nil)
		}
		return execute.Result{}, nil
	}}}
	s.wire(&opts)

	res := Run(context.Background(), opts)

	assert.Equal(t, kaiju_err.ExitExecution, res.ExitCode)
	require.NotNil(t, res.Report)
	failed, ok := res.Report.FirstFailure()
	require.True(t, ok)
	assert.Equal(t, "dependency-install", failed.StepID)
	assert.Contains(t, out.String(), "First failure: dependency-install")
}

func TestConfirmation(t *testing.T) {
	t.Parallel()

	flags := map[string]any{}
	for k, v := range bareFlags {
		if k != "run.silent" {
			flags[k] = v
		}
	}

	tests := []struct {
		name        string
		interactive bool
		answer      string
		wantCode    int
		wantRunner  int32
	}{
		{"declined", true, "n\n", kaiju_err.ExitValidation, 0},
		{"default is no", true, "\n", kaiju_err.ExitValidation, 0},
		{"no terminal", false, "y\n", kaiju_err.ExitValidation, 0},
		{"accepted", true, "y\n", kaiju_err.ExitSuccess, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			opts, _ := testOptions(nobleHost(), flags)
			var prompt bytes.Buffer
			opts.Prompter = &interaction.Prompter{In: strings.NewReader(tt.answer), Out: &prompt, Interactive: tt.interactive}
			host := &fakeUbuntu{fs: opts.HostFs, installed: map[string]bool{}}
			s := &sensor{runner: &execute.FakeRunner{Respond: host.respond}}
			s.wire(&opts)

			res := Run(context.Background(), opts)

			assert.Equal(t, tt.wantCode, res.ExitCode)
			assert.Equal(t, tt.wantRunner, s.runners.Load())
			if tt.interactive {
				assert.Contains(t, prompt.String(), "About to install ROS 2 kilted (minimal)")
			}
		})
	}
}

func TestPhaseErrorKeepsCategory(t *testing.T) {
	t.Parallel()

	err := &PhaseError{Phase: PhaseProfile, Original: kaiju_err.NewValidationError("no")}
	assert.Equal(t, kaiju_err.ExitValidation, kaiju_err.ExitCode(err))
	assert.Equal(t, "profile phase: no", err.Error())
}

func TestSuggestedRemediation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		phase Phase
		msg   string
		want  string
	}{
		{PhaseExecute, "dial unix /var/run/docker.sock: connection refused", "Docker daemon"},
		{PhaseExecute, "open /etc/apt/sources.list.d/ros2.list: permission denied", "passwordless sudo"},
		{PhaseProfile, "context deadline exceeded", "timeout_seconds"},
		{PhaseExecute, "something else", "resume"},
		{PhasePlan, "something else", ""},
	}
	for _, tt := range tests {
		got := suggestedRemediation(tt.phase, fmt.Errorf("%s", tt.msg))
		if tt.want == "" {
			assert.Empty(t, got)
			continue
		}
		assert.Contains(t, got, tt.want)
	}
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
