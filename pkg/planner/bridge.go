// pkg/planner/bridge.go

package planner

import (
	"time"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/bridge"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/shared"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/sysinfo"
)

const (
	StepEnsureRuntime  = "ensure-runtime"
	StepBuildImage     = "build-image"
	StepRunContainer   = "run-container"
	StepInstallWrapper = "install-wrapper"
)

// bridgePlan wraps the native sequence: the package groups are installed
// inside the image build rather than on the host.
func bridgePlan(cfg config.Configuration, prof sysinfo.Profile, toolVersion string) Plan {
	d := cfg.Installation.ROSDistro
	timeout := cfg.Timeout()
	cc := bridge.NewContainerContext(cfg, toolVersion)

	buildTimeout := timeout
	if cfg.Installation.PackageSet == config.PackageSetDesktopFull && buildTimeout < desktopFullMinTimeout {
		buildTimeout = desktopFullMinTimeout
	}

	var c chain
	backup := ""
	if cfg.System.BackupConfigs {
		c.side(Step{
			ID:          StepConfigBackup,
			Kind:        KindConfigBackup,
			Description: "Back up an existing wrapper before it is replaced",
			Paths:       []string{cc.WrapperPath},
			Timeout:     timeout,
		})
		backup = StepConfigBackup
	}

	if !prof.Runtime.Available() {
		c.add(Step{
			ID:          StepEnsureRuntime,
			Kind:        KindEnsureRuntime,
			Description: "Install or start the container runtime",
			Commands:    bridge.RuntimeCommands(prof, timeout),
			Timeout:     timeout,
		})
	}

	c.add(Step{
		ID:          StepBuildImage,
		Kind:        KindContainerBuild,
		Description: describe("Build image %s from %s with the %s package set", cc.Image, cc.BaseImage, cc.PackageSet),
		Packages:    append(AllPackages(cfg.Installation.PackageSet, d), devToolPackages...),
		Timeout:     buildTimeout,
	})

	c.add(Step{
		ID:          StepRunContainer,
		Kind:        KindContainerRun,
		Description: describe("Run container %s", cc.Name),
		Timeout:     timeout,
	})

	c.add(Step{
		ID:          StepInstallWrapper,
		Kind:        KindWrapperInstall,
		Description: describe("Install wrapper %s", cc.WrapperPath),
		Files: []FileSpec{{
			Path:    cc.WrapperPath,
			Content: bridge.WrapperScript(cc),
			Mode:    shared.FilePermExec,
		}},
		Timeout: timeout,
	}, backup)

	c.side(Step{
		ID:          StepVerify,
		Kind:        KindVerify,
		Description: describe("Verify ROS 2 %s responds inside %s", d, cc.Name),
		DependsOn:   c.ids(),
		Commands: []execute.Command{
			{Program: "bash", Args: []string{"-c", "source " + cc.SetupScript() + " && ros2 --help"}, Timeout: 30 * time.Second},
		},
		Timeout: timeout,
	})

	return Plan{Steps: c.steps, Container: &cc}
}
