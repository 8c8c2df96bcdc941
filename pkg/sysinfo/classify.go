// pkg/sysinfo/classify.go
package sysinfo

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/config"
)

// Assessment is the classification together with the reasons behind it.
type Assessment struct {
	Class   Classification
	Reasons []string
}

// Classify applies the host decision table:
//
//	unsupported architecture                           -> ineligible
//	Ubuntu, release supported and built for distro,
//	  elevated privilege                               -> native-eligible
//	otherwise, runtime available or installable        -> bridge-required
//	otherwise                                          -> ineligible
//
// A required Ubuntu version only adds an advisory reason.
// A runtime is installable when policy allows it, the network is reachable,
// the platform installer exists and, on Linux, privilege is elevated.
func Classify(p Profile, cfg config.Configuration) Assessment {
	var a Assessment

	if !slices.Contains(lower(cfg.Validation.SupportedArchitectures), strings.ToLower(p.Arch)) {
		a.Class = Ineligible
		a.Reasons = append(a.Reasons, fmt.Sprintf("unsupported architecture %s", p.Arch))
		return a
	}

	if want := cfg.Validation.RequiredUbuntuVersion; want != "" && p.OS == OSUbuntu && !sameRelease(p.OSVersion, want) {
		a.Reasons = append(a.Reasons, fmt.Sprintf("Ubuntu %s differs from the required %s (advisory)", p.OSVersion, want))
	}

	native, why := nativeEligible(p, cfg)
	if native {
		a.Class = NativeEligible
		a.Reasons = append(a.Reasons, fmt.Sprintf("Ubuntu %s with %s privilege", p.OSVersion, p.Privilege))
		return a
	}
	a.Reasons = append(a.Reasons, why)

	switch {
	case p.Runtime.Installed:
		a.Class = BridgeRequired
		a.Reasons = append(a.Reasons, "container runtime present")
	case runtimeInstallable(p, cfg):
		a.Class = BridgeRequired
		a.Reasons = append(a.Reasons, "container runtime will be installed")
	default:
		a.Class = Ineligible
		a.Reasons = append(a.Reasons, runtimeBlocker(p, cfg))
	}
	return a
}

func nativeEligible(p Profile, cfg config.Configuration) (bool, string) {
	if p.OS != OSUbuntu {
		return false, fmt.Sprintf("host OS %s is not Ubuntu", p.OS)
	}
	if !releaseSupported(p.OSVersion, cfg.Validation.SupportedUbuntuVersions) {
		return false, fmt.Sprintf("Ubuntu %s is not a supported release", p.OSVersion)
	}
	want := cfg.Installation.ROSDistro.UbuntuRelease()
	if !sameRelease(p.OSVersion, want) {
		return false, fmt.Sprintf("ROS 2 %s packages target Ubuntu %s, host runs %s", cfg.Installation.ROSDistro, want, p.OSVersion)
	}
	if !p.Privilege.Elevated() {
		return false, "no root or passwordless sudo for native install"
	}
	return true, ""
}

func runtimeInstallable(p Profile, cfg config.Configuration) bool {
	if !cfg.System.AllowRuntimeInstall || !p.NetworkReachable || !p.RuntimeInstaller {
		return false
	}
	if p.OS == OSUbuntu || p.OS == OSLinux {
		return p.Privilege.Elevated()
	}
	return p.OS == OSMacOS || p.OS == OSWindows
}

func runtimeBlocker(p Profile, cfg config.Configuration) string {
	switch {
	case !cfg.System.AllowRuntimeInstall:
		return "container runtime absent and runtime installation is disabled by policy"
	case !p.NetworkReachable:
		return "container runtime absent and the network is unreachable"
	case !p.RuntimeInstaller:
		return "container runtime absent and no installer is available for " + string(p.OS)
	default:
		return "container runtime absent and installing it needs root or passwordless sudo"
	}
}

// releaseSupported compares major.minor release numbers.
func releaseSupported(release string, supported []string) bool {
	for _, s := range supported {
		if sameRelease(release, s) {
			return true
		}
	}
	return false
}

func sameRelease(a, b string) bool {
	va, err := version.NewVersion(a)
	if err != nil {
		return false
	}
	vb, err := version.NewVersion(b)
	if err != nil {
		return false
	}
	sa, sb := va.Segments(), vb.Segments()
	return sa[0] == sb[0] && sa[1] == sb[1]
}

func lower(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
