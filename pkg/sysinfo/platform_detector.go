// pkg/sysinfo/platform_detector.go
package sysinfo

import (
	"context"
	"net"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/spf13/afero"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/execute"
)

const gib = 1024 * 1024 * 1024

// Detector captures a host Profile.
type Detector interface {
	Detect(ctx context.Context) (Profile, error)
}

// HostDetector inspects the machine it runs on. Every check is read-only.
type HostDetector struct {
	Fs         afero.Fs
	Runner     execute.Runner // for the sudo check only
	DiskPath   string
	NetTargets []string
	// RuntimeCheck reports whether the container daemon answers. Nil
	// means "assume running when installed".
	RuntimeCheck func(ctx context.Context) bool
	LookPath     func(string) (string, error)
	Getenv       func(string) string
}

// NewHostDetector returns a detector with the default network targets.
func NewHostDetector(runner execute.Runner) *HostDetector {
	return &HostDetector{
		Fs:         afero.NewOsFs(),
		Runner:     runner,
		DiskPath:   "/",
		NetTargets: []string{"packages.ros.org:80", "raw.githubusercontent.com:443", "registry-1.docker.io:443"},
		LookPath:   exec.LookPath,
		Getenv:     os.Getenv,
	}
}

// Detect gathers the profile. Individual check failures degrade to zero
// values with a warning; the classification then decides what that means.
func (p *HostDetector) Detect(ctx context.Context) (Profile, error) {
	logger := otelzap.Ctx(ctx)

	// ASSESS
	logger.Debug("Probing host")
	prof := Profile{OS: osFamily(runtime.GOOS), Arch: runtime.GOARCH}

	if info, err := host.InfoWithContext(ctx); err == nil {
		prof.Kernel = info.KernelVersion
		if info.KernelArch != "" {
			prof.Arch = info.KernelArch
		}
		prof.OSVersion = info.PlatformVersion
		prof.Distribution = info.Platform
	} else {
		logger.Warn("Host info lookup failed", zap.Error(err))
	}

	if prof.OS == OSLinux {
		if rel, err := ReadOSRelease(p.Fs, "/etc/os-release"); err == nil {
			prof.Distribution = rel.ID
			prof.OSVersion = rel.VersionID
			prof.Codename = rel.VersionCodename
			prof.PrettyName = rel.PrettyName
			if rel.IsUbuntu() {
				prof.OS = OSUbuntu
			}
		} else {
			logger.Warn("Cannot read os-release", zap.Error(err))
		}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		prof.MemoryGB = float64(vm.Total) / gib
	} else {
		logger.Warn("Memory lookup failed", zap.Error(err))
	}
	if usage, err := disk.UsageWithContext(ctx, p.DiskPath); err == nil {
		prof.FreeDiskGB = float64(usage.Free) / gib
	} else {
		logger.Warn("Disk lookup failed", zap.String("path", p.DiskPath), zap.Error(err))
	}
	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		prof.CPUCores = cores
	}

	// INTERVENE
	prof.NetworkReachable = p.reachable(ctx)
	prof.Privilege = DetectPrivilege(ctx, p.Runner, os.Geteuid())
	prof.User, prof.Home = InvokingUser(p.Getenv)

	if _, err := p.LookPath("docker"); err == nil {
		prof.Runtime.Installed = true
		prof.Runtime.Running = p.RuntimeCheck == nil || p.RuntimeCheck(ctx)
	}
	prof.RuntimeInstaller = p.hasInstaller(prof.OS)

	// EVALUATE
	logger.Info("Host profile captured",
		zap.String("os", string(prof.OS)),
		zap.String("version", prof.OSVersion),
		zap.String("arch", prof.Arch),
		zap.Float64("memory_gb", prof.MemoryGB),
		zap.Float64("free_disk_gb", prof.FreeDiskGB),
		zap.Int("cpu_cores", prof.CPUCores),
		zap.Bool("network", prof.NetworkReachable),
		zap.String("privilege", string(prof.Privilege)),
		zap.Bool("runtime_installed", prof.Runtime.Installed),
		zap.Bool("runtime_running", prof.Runtime.Running))
	return prof, nil
}

func (p *HostDetector) reachable(ctx context.Context) bool {
	d := net.Dialer{Timeout: 3 * time.Second}
	for _, target := range p.NetTargets {
		conn, err := d.DialContext(ctx, "tcp", target)
		if err == nil {
			_ = conn.Close()
			return true
		}
		otelzap.Ctx(ctx).Debug("Network check failed", zap.String("target", target), zap.Error(err))
	}
	return false
}

func (p *HostDetector) hasInstaller(family OSFamily) bool {
	need := map[OSFamily][]string{
		OSUbuntu:  {"curl", "sh"},
		OSLinux:   {"curl", "sh"},
		OSMacOS:   {"brew"},
		OSWindows: {"winget"},
	}[family]
	if len(need) == 0 {
		return false
	}
	for _, bin := range need {
		if _, err := p.LookPath(bin); err != nil {
			return false
		}
	}
	return true
}

func osFamily(goos string) OSFamily {
	switch goos {
	case "linux":
		return OSLinux
	case "darwin":
		return OSMacOS
	case "windows":
		return OSWindows
	default:
		return OSUnknown
	}
}
