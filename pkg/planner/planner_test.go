package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_err"
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

var bareFlags = map[string]any{
	"installation.ros_distro":         "kilted",
	"installation.package_set":        "minimal",
	"installation.uninstall_existing": false,
	"system.update_system":            false,
	"system.backup_configs":           false,
	"system.configure_environment":    false,
}

func TestMinimalKiltedScenario(t *testing.T) {
	t.Parallel()

	plan, err := Build(resolve(t, bareFlags), nobleHost(), sysinfo.NativeEligible, "1.0.0")
	require.NoError(t, err)

	assert.Equal(t, []string{"dependency-install", "minimal-group-install", "verify"}, plan.IDs())
	assert.Nil(t, plan.Container)

	group, ok := plan.Step("minimal-group-install")
	require.True(t, ok)
	assert.Equal(t, []string{"ros-kilted-ros-core", "ros-kilted-ros2cli"}, group.Packages)
	assert.Equal(t, []string{"dependency-install"}, group.DependsOn)

	verify, _ := plan.Step("verify")
	assert.Equal(t, KindVerify, verify.Kind)
	assert.ElementsMatch(t, []string{"dependency-install", "minimal-group-install"}, verify.DependsOn)
}

func TestNativeOrderingWithAllOptions(t *testing.T) {
	t.Parallel()

	plan, err := Build(resolve(t, map[string]any{"installation.package_set": "base"}), nobleHost(), sysinfo.NativeEligible, "1.0.0")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"config-backup", "pre-uninstall", "index-update", "dependency-install",
		"minimal-group-install", "base-group-install", "environment-setup", "verify",
	}, plan.IDs())

	pos := map[string]int{}
	for i, id := range plan.IDs() {
		pos[id] = i
	}
	for _, s := range plan.Steps {
		for _, dep := range s.DependsOn {
			assert.Less(t, pos[dep], pos[s.ID], "%s must come after %s", s.ID, dep)
		}
	}

	// backup precedes everything that can overwrite configuration
	for _, id := range []string{"pre-uninstall", "dependency-install", "environment-setup"} {
		assert.True(t, dependsTransitively(plan, id, "config-backup"), id)
	}

	pre, _ := plan.Step("pre-uninstall")
	assert.NotContains(t, pre.Packages, "ros-kilted-*", "the target distro is kept")
	assert.Contains(t, pre.Packages, "ros-humble-*")

	env, _ := plan.Step("environment-setup")
	require.Len(t, env.Files, 1)
	assert.Equal(t, "/home/robot/.bashrc", env.Files[0].Path)
	assert.True(t, env.Files[0].Append)
	assert.Equal(t, "robot", env.Commands[1].RunAs)
}

func dependsTransitively(p Plan, from, to string) bool {
	s, ok := p.Step(from)
	if !ok {
		return false
	}
	for _, dep := range s.DependsOn {
		if dep == to || dependsTransitively(p, dep, to) {
			return true
		}
	}
	return false
}

func TestPlanIsDeterministic(t *testing.T) {
	t.Parallel()

	for _, set := range config.PackageSets {
		for _, class := range []sysinfo.Classification{sysinfo.NativeEligible, sysinfo.BridgeRequired} {
			cfg := resolve(t, map[string]any{"installation.package_set": string(set)})
			a, err := Build(cfg, nobleHost(), class, "1.0.0")
			require.NoError(t, err)
			b, err := Build(cfg, nobleHost(), class, "1.0.0")
			require.NoError(t, err)
			assert.Equal(t, a, b, "%s/%s", set, class)
		}
	}
}

func TestPackageSetPlansAreSupersets(t *testing.T) {
	t.Parallel()

	for _, class := range []sysinfo.Classification{sysinfo.NativeEligible, sysinfo.BridgeRequired} {
		var prev []string
		for _, set := range config.PackageSets {
			plan, err := Build(resolve(t, map[string]any{"installation.package_set": string(set)}), nobleHost(), class, "1.0.0")
			require.NoError(t, err)
			ids := plan.IDs()
			assert.Subset(t, ids, prev, "%s plan must contain the smaller set's steps", set)
			prev = ids
		}
	}
}

func TestDesktopFullTimeoutFloor(t *testing.T) {
	t.Parallel()

	plan, err := Build(resolve(t, nil), nobleHost(), sysinfo.NativeEligible, "1.0.0")
	require.NoError(t, err)
	full, ok := plan.Step("desktop-full-group-install")
	require.True(t, ok)
	assert.Equal(t, desktopFullMinTimeout, full.Timeout)
	minimal, _ := plan.Step("minimal-group-install")
	assert.Equal(t, 300.0, minimal.Timeout.Seconds())
}

func TestBridgePlan(t *testing.T) {
	t.Parallel()

	mac := sysinfo.Profile{OS: sysinfo.OSMacOS, Arch: "arm64", NetworkReachable: true, RuntimeInstaller: true}
	cfg := resolve(t, map[string]any{"installation.package_set": "minimal"})

	plan, err := Build(cfg, mac, sysinfo.BridgeRequired, "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"config-backup", "ensure-runtime", "build-image", "run-container", "install-wrapper", "verify"}, plan.IDs())
	require.NotNil(t, plan.Container)
	assert.Equal(t, "kaiju/ros2:kilted-minimal-1.0.0", plan.Container.Image)

	build, _ := plan.Step("build-image")
	assert.Equal(t, []string{"ensure-runtime"}, build.DependsOn)
	assert.Contains(t, build.Packages, "ros-kilted-ros2cli")

	wrapper, _ := plan.Step("install-wrapper")
	assert.ElementsMatch(t, []string{"run-container", "config-backup"}, wrapper.DependsOn)
	assert.Equal(t, "/usr/local/bin/ros2-kilted", wrapper.Files[0].Path)

	mac.Runtime = sysinfo.RuntimeState{Installed: true, Running: true}
	plan, err = Build(cfg, mac, sysinfo.BridgeRequired, "1.0.0")
	require.NoError(t, err)
	assert.NotContains(t, plan.IDs(), "ensure-runtime")
}

func TestIneligibleHostHasNoPlan(t *testing.T) {
	t.Parallel()

	_, err := Build(resolve(t, nil), nobleHost(), sysinfo.Ineligible, "1.0.0")
	assert.Equal(t, kaiju_err.ExitValidation, kaiju_err.ExitCode(err))
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		steps []Step
		ok    bool
	}{
		{name: "empty", ok: true},
		{name: "chain", steps: []Step{{ID: "a"}, {ID: "b", DependsOn: []string{"a"}}}, ok: true},
		{name: "missing predecessor", steps: []Step{{ID: "b", DependsOn: []string{"a"}}}},
		{name: "duplicate", steps: []Step{{ID: "a"}, {ID: "a"}}},
		{name: "self cycle", steps: []Step{{ID: "a", DependsOn: []string{"a"}}}},
		{name: "cycle", steps: []Step{
			{ID: "a", DependsOn: []string{"c"}},
			{ID: "b", DependsOn: []string{"a"}},
			{ID: "c", DependsOn: []string{"b"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Plan{Steps: tt.steps}.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestStepKindNames(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for _, k := range Kinds {
		name := k.String()
		assert.NotEqual(t, "unknown", name)
		assert.False(t, seen[name], "duplicate kind name %s", name)
		seen[name] = true
	}
	assert.False(t, KindVerify.Mutating())
	assert.True(t, KindPackageInstall.Mutating())
}

func TestAptPerformanceOptions(t *testing.T) {
	t.Parallel()

	flags := map[string]any{}
	for k, v := range bareFlags {
		flags[k] = v
	}
	flags["performance.parallel_downloads"] = false
	flags["performance.download_cache"] = false

	plan, err := Build(resolve(t, flags), nobleHost(), sysinfo.NativeEligible, "1.0.0")
	require.NoError(t, err)
	group, _ := plan.Step("minimal-group-install")
	require.Len(t, group.Commands, 2)
	assert.Equal(t, "apt-get -o Acquire::GzipIndexes=true install -y ros-kilted-ros-core ros-kilted-ros2cli", group.Commands[0].String())
	assert.Equal(t, "apt-get -o Acquire::GzipIndexes=true clean", group.Commands[1].String())

	dep, _ := plan.Step("dependency-install")
	assert.Equal(t, "deb [arch=amd64 signed-by=/usr/share/keyrings/ros-archive-keyring.gpg] http://packages.ros.org/ros2/ubuntu noble main\n", dep.Commands[2].Stdin)
}

func TestInstallDependenciesOffSkipsEssentials(t *testing.T) {
	t.Parallel()

	flags := map[string]any{"system.install_dependencies": false}
	for k, v := range bareFlags {
		flags[k] = v
	}
	plan, err := Build(resolve(t, flags), nobleHost(), sysinfo.NativeEligible, "1.0.0")
	require.NoError(t, err)

	dep, ok := plan.Step("dependency-install")
	require.True(t, ok)
	assert.Equal(t, "curl", dep.Commands[0].Program)
	assert.NotContains(t, dep.Packages, "software-properties-common")
	assert.Contains(t, dep.Packages, "python3-rosdep")

	full, _ := Build(resolve(t, bareFlags), nobleHost(), sysinfo.NativeEligible, "1.0.0")
	withEssentials, _ := full.Step("dependency-install")
	assert.Len(t, withEssentials.Commands, len(dep.Commands)+1)
}
