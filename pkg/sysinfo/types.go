// pkg/sysinfo/types.go
package sysinfo

import (
	"context"
	"strings"
)

// OSFamily is the coarse host operating system.
type OSFamily string

const (
	OSUbuntu  OSFamily = "ubuntu"
	OSLinux   OSFamily = "linux" // any non-Ubuntu Linux
	OSMacOS   OSFamily = "darwin"
	OSWindows OSFamily = "windows"
	OSUnknown OSFamily = "unknown"
)

// Privilege is what the running process can do to the host.
type Privilege string

const (
	PrivilegeRoot    Privilege = "root"
	PrivilegeSudo    Privilege = "sudo" // passwordless sudo
	PrivilegeRegular Privilege = "regular"
)

// Elevated reports whether system-wide changes are possible.
func (p Privilege) Elevated() bool {
	return p == PrivilegeRoot || p == PrivilegeSudo
}

// RuntimeState describes the container runtime on the host.
type RuntimeState struct {
	Installed bool // docker binary on PATH
	Running   bool // daemon answered
}

// Available is true when containers can be built right away.
func (r RuntimeState) Available() bool {
	return r.Installed && r.Running
}

// Profile is a read-only snapshot of the host taken once per run.
type Profile struct {
	OS               OSFamily
	Distribution     string // os-release ID
	OSVersion        string // os-release VERSION_ID, e.g. 24.04
	Codename         string
	PrettyName       string
	Kernel           string
	Arch             string // as reported by the kernel, e.g. x86_64
	MemoryGB         float64
	FreeDiskGB       float64
	CPUCores         int
	NetworkReachable bool
	Privilege        Privilege
	User             string // invoking user; SUDO_USER when elevated through sudo
	Home             string
	Runtime          RuntimeState
	// RuntimeInstaller is true when the platform's runtime installer
	// (get.docker.com via curl, brew, winget) is available.
	RuntimeInstaller bool
}

// DebArch maps the kernel architecture onto Debian naming.
func (p Profile) DebArch() string {
	switch strings.ToLower(p.Arch) {
	case "x86_64", "amd64":
		return "amd64"
	case "aarch64", "arm64":
		return "arm64"
	default:
		return strings.ToLower(p.Arch)
	}
}

// Classification is the three-state host verdict.
type Classification int

const (
	Ineligible Classification = iota
	NativeEligible
	BridgeRequired
)

func (c Classification) String() string {
	switch c {
	case NativeEligible:
		return "native-eligible"
	case BridgeRequired:
		return "bridge-required"
	default:
		return "ineligible"
	}
}

// StaticDetector returns a fixed profile. Used when the host was inspected
// elsewhere and in tests.
type StaticDetector struct {
	Profile Profile
	Err     error
}

// Detect implements Detector.
func (s StaticDetector) Detect(context.Context) (Profile, error) {
	return s.Profile, s.Err
}
