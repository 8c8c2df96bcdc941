// pkg/planner/native.go

package planner

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/shared"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/sysinfo"
)

const (
	StepConfigBackup      = "config-backup"
	StepPreUninstall      = "pre-uninstall"
	StepIndexUpdate       = "index-update"
	StepDependencyInstall = "dependency-install"
	StepEnvironmentSetup  = "environment-setup"
	StepVerify            = "verify"
)

// desktop-full pulls several GB; give it at least this long.
const desktopFullMinTimeout = 1200 * time.Second

// apt-get steps are chained because dpkg holds an exclusive lock.
func nativePlan(cfg config.Configuration, prof sysinfo.Profile) Plan {
	d := cfg.Installation.ROSDistro
	timeout := cfg.Timeout()
	bashrc := filepath.Join(prof.Home, ".bashrc")

	var c chain
	backup := ""
	if cfg.System.BackupConfigs {
		c.add(Step{
			ID:          StepConfigBackup,
			Kind:        KindConfigBackup,
			Description: "Back up configuration files that later steps modify",
			Paths:       []string{bashrc, shared.ROSSourcesList},
			Timeout:     timeout,
		})
		backup = StepConfigBackup
	}

	if cfg.Installation.UninstallExisting {
		c.add(Step{
			ID:          StepPreUninstall,
			Kind:        KindPreUninstall,
			Description: describe("Purge packages of other ROS distributions"),
			Packages:    otherDistroGlobs(d),
			Timeout:     timeout,
		})
	}

	if cfg.System.UpdateSystem {
		c.add(Step{
			ID:          StepIndexUpdate,
			Kind:        KindIndexUpdate,
			Description: "Refresh the package index",
			Commands:    []execute.Command{aptGet(cfg, timeout, "update")},
			Timeout:     timeout,
		})
	}

	c.add(Step{
		ID:          StepDependencyInstall,
		Kind:        KindDependencyInstall,
		Description: "Install prerequisites, add the ROS 2 apt repository and development tools",
		Commands:    dependencyCommands(cfg, prof, timeout),
		Packages:    dependencyPackages(cfg),
		Paths:       []string{shared.ROSKeyringPath, shared.ROSSourcesList},
		Timeout:     timeout,
	}, backup)
	deps := StepDependencyInstall

	groups := Groups(cfg.Installation.PackageSet)
	for i, g := range groups {
		pkgs := g.Packages(d)
		stepTimeout := timeout
		if g.Set == config.PackageSetDesktopFull && stepTimeout < desktopFullMinTimeout {
			stepTimeout = desktopFullMinTimeout
		}
		cmds := []execute.Command{aptGet(cfg, stepTimeout, append([]string{"install", "-y"}, pkgs...)...)}
		if i == len(groups)-1 && !cfg.Performance.DownloadCache {
			cmds = append(cmds, aptGet(cfg, timeout, "clean"))
		}
		c.add(Step{
			ID:          g.StepID(),
			Kind:        KindPackageInstall,
			Description: describe("Install the %s group: %s", g.Set, strings.Join(pkgs, " ")),
			Commands:    cmds,
			Packages:    pkgs,
			Timeout:     stepTimeout,
		})
	}

	if cfg.System.ConfigureEnvironment {
		c.side(Step{
			ID:          StepEnvironmentSetup,
			Kind:        KindEnvironmentSetup,
			Description: describe("Initialise rosdep and source ROS 2 %s from %s", d, bashrc),
			DependsOn:   nonEmpty(deps, backup),
			Commands:    environmentCommands(prof, timeout),
			Files: []FileSpec{{
				Path:    bashrc,
				Content: BashrcBlock(d),
				Mode:    shared.FilePermStandard,
				Append:  true,
			}},
			Paths:   []string{shared.RosdepDefaultList},
			User:    prof.User,
			Timeout: timeout,
		})
	}

	c.side(Step{
		ID:          StepVerify,
		Kind:        KindVerify,
		Description: describe("Verify ROS 2 %s responds", d),
		DependsOn:   c.ids(),
		Commands:    verifyCommands(d),
		Packages:    []string{fmt.Sprintf("ros-%s-ros2cli", d), "python3-rosdep", "python3-colcon-common-extensions"},
		Paths:       []string{filepath.Join(shared.ROSInstallRoot, string(d))},
		Timeout:     timeout,
	})

	return Plan{Steps: c.steps}
}

func aptGet(cfg config.Configuration, timeout time.Duration, args ...string) execute.Command {
	var opts []string
	if cfg.Performance.ParallelDownloads {
		opts = append(opts, "-o", "Acquire::Queue-Mode=host")
	}
	if cfg.Performance.Compression {
		opts = append(opts, "-o", "Acquire::GzipIndexes=true")
	}
	return execute.Command{
		Program:    "apt-get",
		Args:       append(opts, args...),
		Privileged: true,
		Timeout:    timeout,
	}
}

func dependencyCommands(cfg config.Configuration, prof sysinfo.Profile, timeout time.Duration) []execute.Command {
	codename := prof.Codename
	if codename == "" {
		codename = cfg.Installation.ROSDistro.UbuntuCodename()
	}
	repoLine := fmt.Sprintf("deb [arch=%s signed-by=%s] %s %s main\n",
		prof.DebArch(), shared.ROSKeyringPath, shared.ROSAptRepo, codename)

	var cmds []execute.Command
	if cfg.System.InstallDependencies {
		cmds = append(cmds, aptGet(cfg, timeout, append([]string{"install", "-y"}, essentialPackages...)...))
	}
	return append(cmds,
		execute.Command{Program: "curl", Args: []string{"-sSL", shared.ROSKeyURL, "-o", shared.ROSKeyringPath}, Privileged: true, Timeout: timeout},
		execute.Command{Program: "tee", Args: []string{shared.ROSSourcesList}, Stdin: repoLine, Privileged: true, Timeout: timeout},
		aptGet(cfg, timeout, "update"),
		aptGet(cfg, timeout, append([]string{"install", "-y"}, devToolPackages...)...),
	)
}

// dependencyPackages must all be installed for the step to be skipped.
// With install_dependencies off the essentials are the operator's concern.
func dependencyPackages(cfg config.Configuration) []string {
	if !cfg.System.InstallDependencies {
		return append([]string(nil), devToolPackages...)
	}
	return append(EssentialPackages(), devToolPackages...)
}

func environmentCommands(prof sysinfo.Profile, timeout time.Duration) []execute.Command {
	update := execute.Command{Program: "rosdep", Args: []string{"update"}, Timeout: timeout}
	if prof.Privilege == sysinfo.PrivilegeRoot && prof.User != "" && prof.User != "root" {
		update.RunAs = prof.User
	}
	return []execute.Command{
		{Program: "rosdep", Args: []string{"init"}, Privileged: true, Timeout: timeout},
		update,
	}
}

func verifyCommands(d config.Distro) []execute.Command {
	setup := filepath.Join(shared.ROSInstallRoot, string(d), "setup.bash")
	return []execute.Command{
		{Program: "bash", Args: []string{"-c", "source " + setup + " && ros2 --help"}, Timeout: 30 * time.Second},
	}
}

// BashrcBlock is the marked block appended to the invoking user's ~/.bashrc.
func BashrcBlock(d config.Distro) string {
	return strings.Join([]string{
		shared.BashrcMarker,
		fmt.Sprintf("source %s/%s/setup.bash", shared.ROSInstallRoot, d),
		"export ROS_DOMAIN_ID=0",
		"export ROS_LOCALHOST_ONLY=0",
		"[ -f /usr/share/colcon_argcomplete/hook/colcon-argcomplete.bash ] && source /usr/share/colcon_argcomplete/hook/colcon-argcomplete.bash",
		shared.BashrcEnd,
	}, "\n") + "\n"
}

func otherDistroGlobs(keep config.Distro) []string {
	var out []string
	for _, d := range knownDistros {
		if d != string(keep) {
			out = append(out, fmt.Sprintf("ros-%s-*", d))
		}
	}
	return out
}

func nonEmpty(ids ...string) []string {
	var out []string
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
