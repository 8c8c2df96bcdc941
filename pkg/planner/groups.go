// pkg/planner/groups.go

package planner

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/config"
)

// Group is the increment one package set adds over the previous one.
type Group struct {
	Set   config.PackageSet
	Names []string
}

var groupTable = []Group{
	{Set: config.PackageSetMinimal, Names: []string{"ros-core", "ros2cli"}},
	{Set: config.PackageSetBase, Names: []string{"ros-base", "demo-nodes-cpp", "demo-nodes-py"}},
	{Set: config.PackageSetDesktop, Names: []string{"desktop", "rviz2"}},
	{Set: config.PackageSetDesktopFull, Names: []string{"desktop-full", "navigation2", "slam-toolbox", "robot-localization"}},
}

// Groups returns the groups implied by set, smallest first.
func Groups(set config.PackageSet) []Group {
	var out []Group
	for _, g := range groupTable {
		if set.Includes(g.Set) {
			out = append(out, g)
		}
	}
	return out
}

// Packages expands the group's names into distro package names.
func (g Group) Packages(d config.Distro) []string {
	out := make([]string, len(g.Names))
	for i, n := range g.Names {
		out[i] = fmt.Sprintf("ros-%s-%s", d, n)
	}
	return out
}

// StepID is the plan id of the group's install step.
func (g Group) StepID() string {
	return string(g.Set) + "-group-install"
}

// AllPackages flattens every group of set for distro d.
func AllPackages(set config.PackageSet, d config.Distro) []string {
	var out []string
	for _, g := range Groups(set) {
		out = append(out, g.Packages(d)...)
	}
	return out
}

var essentialPackages = []string{
	"software-properties-common", "curl", "gnupg2", "lsb-release", "ca-certificates", "apt-transport-https",
}

var devToolPackages = []string{
	"python3-rosdep", "python3-colcon-common-extensions", "python3-vcstool", "python3-argcomplete",
}

// EssentialPackages are installed before the ROS repository is added.
func EssentialPackages() []string { return append([]string(nil), essentialPackages...) }

// previous ROS releases, ROS 1 included, purged by pre-uninstall
var knownDistros = []string{"melodic", "noetic", "foxy", "galactic", "humble", "iron", "jazzy", "kilted", "rolling"}
