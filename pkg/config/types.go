// pkg/config/types.go

package config

import (
	"fmt"
	"slices"
	"time"
)

// Distro is a ROS 2 distribution id.
type Distro string

const (
	DistroKilted  Distro = "kilted"
	DistroJazzy   Distro = "jazzy"
	DistroIron    Distro = "iron"
	DistroHumble  Distro = "humble"
	DistroRolling Distro = "rolling"
)

// Distros is the closed set of supported distributions.
var Distros = []Distro{DistroKilted, DistroJazzy, DistroIron, DistroHumble, DistroRolling}

// UbuntuRelease is the Ubuntu release the distribution ships binaries for.
func (d Distro) UbuntuRelease() string {
	switch d {
	case DistroHumble, DistroIron:
		return "22.04"
	default:
		return "24.04"
	}
}

// UbuntuCodename is the codename matching UbuntuRelease.
func (d Distro) UbuntuCodename() string {
	if d.UbuntuRelease() == "22.04" {
		return "jammy"
	}
	return "noble"
}

// PackageSet is a named bundle of install groups.
type PackageSet string

const (
	PackageSetMinimal     PackageSet = "minimal"
	PackageSetBase        PackageSet = "base"
	PackageSetDesktop     PackageSet = "desktop"
	PackageSetDesktopFull PackageSet = "desktop-full"
)

// PackageSets is ordered from smallest to richest; each set contains the previous one.
var PackageSets = []PackageSet{PackageSetMinimal, PackageSetBase, PackageSetDesktop, PackageSetDesktopFull}

// Rank is the position of the set in PackageSets, or -1 for unknown sets.
func (p PackageSet) Rank() int {
	return slices.Index(PackageSets, p)
}

// Includes reports whether every group of other is also part of p.
func (p PackageSet) Includes(other PackageSet) bool {
	return other.Rank() >= 0 && p.Rank() >= other.Rank()
}

// Resources are advisory host minimums for a package set.
type Resources struct {
	DiskGB   float64
	MemoryGB float64
}

var minimums = map[PackageSet]Resources{
	PackageSetMinimal:     {DiskGB: 2, MemoryGB: 1},
	PackageSetBase:        {DiskGB: 3, MemoryGB: 2},
	PackageSetDesktop:     {DiskGB: 4, MemoryGB: 2},
	PackageSetDesktopFull: {DiskGB: 6, MemoryGB: 4},
}

// Minimums returns the known resource minimums for p.
func (p PackageSet) Minimums() Resources {
	return minimums[p]
}

// Configuration is the fully resolved, immutable run configuration.
// It is passed by value; With* helpers return modified copies.
type Configuration struct {
	Installation InstallationConfig `yaml:"installation"`
	System       SystemConfig       `yaml:"system"`
	Logging      LoggingConfig      `yaml:"logging"`
	Performance  PerformanceConfig  `yaml:"performance"`
	Validation   ValidationConfig   `yaml:"validation"`
	Bridge       BridgeConfig       `yaml:"bridge"`
	Run          RunMode            `yaml:"-"`
}

type InstallationConfig struct {
	ROSDistro         Distro     `yaml:"ros_distro" key:"ros_distro" validate:"oneof=kilted jazzy iron humble rolling"`
	PackageSet        PackageSet `yaml:"package_set" key:"package_set" validate:"oneof=minimal base desktop desktop-full"`
	UninstallExisting bool       `yaml:"uninstall_existing" key:"uninstall_existing"`
	ParallelJobs      int        `yaml:"parallel_jobs" key:"parallel_jobs" validate:"min=1,max=32"`
	RetryAttempts     int        `yaml:"retry_attempts" key:"retry_attempts" validate:"min=1,max=10"`
	TimeoutSeconds    int        `yaml:"timeout_seconds" key:"timeout_seconds" validate:"min=10,max=7200"`
}

type SystemConfig struct {
	UpdateSystem          bool `yaml:"update_system" key:"update_system"`
	InstallDependencies   bool `yaml:"install_dependencies" key:"install_dependencies"`
	BackupConfigs         bool `yaml:"backup_configs" key:"backup_configs"`
	ConfigureEnvironment  bool `yaml:"configure_environment" key:"configure_environment"`
	VerifyCompatibility   bool `yaml:"verify_compatibility" key:"verify_compatibility"`
	AllowRuntimeInstall   bool `yaml:"allow_runtime_install" key:"allow_runtime_install"`
	AllowResourceOverride bool `yaml:"allow_resource_override" key:"allow_resource_override"`
}

type LoggingConfig struct {
	Level   string `yaml:"level" key:"level" validate:"oneof=DEBUG INFO WARNING ERROR CRITICAL"`
	File    string `yaml:"file" key:"file"`
	Console bool   `yaml:"console" key:"console"`
}

type PerformanceConfig struct {
	ParallelDownloads bool `yaml:"parallel_downloads" key:"parallel_downloads"`
	DownloadCache     bool `yaml:"download_cache" key:"download_cache"`
	Compression       bool `yaml:"compression" key:"compression"`
}

type ValidationConfig struct {
	MinDiskSpaceGB          float64  `yaml:"min_disk_space_gb" key:"min_disk_space_gb" validate:"gte=0,lte=1024"`
	MinMemoryGB             float64  `yaml:"min_memory_gb" key:"min_memory_gb" validate:"gte=0,lte=1024"`
	SupportedUbuntuVersions []string `yaml:"supported_ubuntu_versions" key:"supported_ubuntu_versions" validate:"min=1,dive,required"`
	// RequiredUbuntuVersion is advisory: a different release only warns.
	RequiredUbuntuVersion   string   `yaml:"required_ubuntu_version,omitempty" key:"required_ubuntu_version"`
	SupportedArchitectures  []string `yaml:"supported_architectures" key:"supported_architectures" validate:"min=1,dive,required"`
}

type BridgeConfig struct {
	WrapperPath string `yaml:"wrapper_path" key:"wrapper_path" validate:"required"`
	BaseImage   string `yaml:"base_image" key:"base_image" validate:"required"`
}

// RunMode holds the invocation switches. They only ever come from flags.
type RunMode struct {
	DryRun       bool
	Silent       bool
	ValidateOnly bool
	ShowConfig   bool
}

// Timeout is the per-step execution timeout.
func (c Configuration) Timeout() time.Duration {
	return time.Duration(c.Installation.TimeoutSeconds) * time.Second
}

// PreviewOnly is true when no mutating step may run.
func (c Configuration) PreviewOnly() bool {
	return c.Run.DryRun || c.Run.ValidateOnly
}

// Resources returns the effective resource minimums.
func (c Configuration) Resources() Resources {
	return Resources{DiskGB: c.Validation.MinDiskSpaceGB, MemoryGB: c.Validation.MinMemoryGB}
}

// DefaultWrapperPath is the documented host path of the bridge wrapper.
func DefaultWrapperPath(d Distro) string {
	return fmt.Sprintf("/usr/local/bin/ros2-%s", d)
}

// DefaultBaseImage is the container base image for a distribution.
func DefaultBaseImage(d Distro) string {
	return "ubuntu:" + d.UbuntuRelease()
}
