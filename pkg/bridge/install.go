// pkg/bridge/install.go

package bridge

import (
	"time"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/shared"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/sysinfo"
)

const installScript = "/tmp/kaiju-get-docker.sh"

// RuntimeCommands returns the commands that make a container runtime
// available on the host: start an installed but stopped daemon, or install
// one with the platform's installer.
func RuntimeCommands(p sysinfo.Profile, timeout time.Duration) []execute.Command {
	switch p.OS {
	case sysinfo.OSUbuntu, sysinfo.OSLinux:
		if p.Runtime.Installed {
			return []execute.Command{
				{Program: "systemctl", Args: []string{"start", "docker"}, Privileged: true, Timeout: timeout},
			}
		}
		return []execute.Command{
			{Program: "curl", Args: []string{"-fsSL", shared.DockerInstallScriptURL, "-o", installScript}, Timeout: timeout},
			{Program: "sh", Args: []string{installScript}, Privileged: true, Timeout: timeout},
			{Program: "systemctl", Args: []string{"enable", "--now", "docker"}, Privileged: true, Timeout: timeout},
		}
	case sysinfo.OSMacOS:
		var cmds []execute.Command
		if !p.Runtime.Installed {
			cmds = append(cmds, execute.Command{Program: "brew", Args: []string{"install", "--cask", "docker"}, Timeout: timeout})
		}
		return append(cmds, execute.Command{Program: "open", Args: []string{"-g", "-a", "Docker"}, Timeout: timeout})
	case sysinfo.OSWindows:
		if p.Runtime.Installed {
			return []execute.Command{
				{Program: "cmd", Args: []string{"/c", "start", "", "Docker Desktop"}, Timeout: timeout},
			}
		}
		return []execute.Command{
			{Program: "winget", Args: []string{"install", "-e", "--id", "Docker.DockerDesktop",
				"--accept-package-agreements", "--accept-source-agreements"}, Timeout: timeout},
		}
	}
	return nil
}
