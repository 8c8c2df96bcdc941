// pkg/config/keys.go

package config

import (
	"slices"
	"strings"

	"github.com/spf13/cast"
)

type valueKind int

const (
	kindString valueKind = iota
	kindBool
	kindInt
	kindFloat
	kindStrings
)

func (k valueKind) String() string {
	switch k {
	case kindBool:
		return "boolean"
	case kindInt:
		return "integer"
	case kindFloat:
		return "number"
	case kindStrings:
		return "list of strings"
	default:
		return "string"
	}
}

type keySpec struct {
	kind valueKind
	def  any
	set  func(c *Configuration, v any)
}

// Zero-valued resource minimums and bridge paths are derived from the
// resolved distro and package set after layering.
var registry = map[string]keySpec{
	"installation.ros_distro": {kindString, string(DistroKilted), func(c *Configuration, v any) {
		c.Installation.ROSDistro = Distro(strings.ToLower(v.(string)))
	}},
	"installation.package_set": {kindString, string(PackageSetDesktopFull), func(c *Configuration, v any) {
		c.Installation.PackageSet = PackageSet(strings.ToLower(v.(string)))
	}},
	"installation.uninstall_existing": {kindBool, true, func(c *Configuration, v any) { c.Installation.UninstallExisting = v.(bool) }},
	"installation.parallel_jobs":      {kindInt, 4, func(c *Configuration, v any) { c.Installation.ParallelJobs = v.(int) }},
	"installation.retry_attempts":     {kindInt, 3, func(c *Configuration, v any) { c.Installation.RetryAttempts = v.(int) }},
	"installation.timeout_seconds":    {kindInt, 300, func(c *Configuration, v any) { c.Installation.TimeoutSeconds = v.(int) }},

	"system.update_system":           {kindBool, true, func(c *Configuration, v any) { c.System.UpdateSystem = v.(bool) }},
	"system.install_dependencies":    {kindBool, true, func(c *Configuration, v any) { c.System.InstallDependencies = v.(bool) }},
	"system.backup_configs":          {kindBool, true, func(c *Configuration, v any) { c.System.BackupConfigs = v.(bool) }},
	"system.configure_environment":   {kindBool, true, func(c *Configuration, v any) { c.System.ConfigureEnvironment = v.(bool) }},
	"system.verify_compatibility":    {kindBool, true, func(c *Configuration, v any) { c.System.VerifyCompatibility = v.(bool) }},
	"system.allow_runtime_install":   {kindBool, true, func(c *Configuration, v any) { c.System.AllowRuntimeInstall = v.(bool) }},
	"system.allow_resource_override": {kindBool, false, func(c *Configuration, v any) { c.System.AllowResourceOverride = v.(bool) }},

	"logging.level": {kindString, "INFO", func(c *Configuration, v any) {
		level := strings.ToUpper(v.(string))
		if level == "WARN" {
			level = "WARNING"
		}
		c.Logging.Level = level
	}},
	"logging.file":    {kindString, "/tmp/ros2_installation.log", func(c *Configuration, v any) { c.Logging.File = v.(string) }},
	"logging.console": {kindBool, true, func(c *Configuration, v any) { c.Logging.Console = v.(bool) }},

	"performance.parallel_downloads": {kindBool, true, func(c *Configuration, v any) { c.Performance.ParallelDownloads = v.(bool) }},
	"performance.download_cache":     {kindBool, true, func(c *Configuration, v any) { c.Performance.DownloadCache = v.(bool) }},
	"performance.compression":        {kindBool, true, func(c *Configuration, v any) { c.Performance.Compression = v.(bool) }},

	"validation.min_disk_space_gb": {kindFloat, 0.0, func(c *Configuration, v any) { c.Validation.MinDiskSpaceGB = v.(float64) }},
	"validation.min_memory_gb":     {kindFloat, 0.0, func(c *Configuration, v any) { c.Validation.MinMemoryGB = v.(float64) }},
	"validation.supported_ubuntu_versions": {kindStrings, []string{"22.04", "24.04"}, func(c *Configuration, v any) {
		c.Validation.SupportedUbuntuVersions = v.([]string)
	}},
	"validation.required_ubuntu_version": {kindString, "", func(c *Configuration, v any) {
		c.Validation.RequiredUbuntuVersion = v.(string)
	}},
	"validation.supported_architectures": {kindStrings, []string{"amd64", "arm64", "aarch64", "x86_64"}, func(c *Configuration, v any) {
		c.Validation.SupportedArchitectures = v.([]string)
	}},

	"bridge.wrapper_path": {kindString, "", func(c *Configuration, v any) { c.Bridge.WrapperPath = v.(string) }},
	"bridge.base_image":   {kindString, "", func(c *Configuration, v any) { c.Bridge.BaseImage = v.(string) }},
}

// ignoredKeys appear in older installer configs and have no effect: apt
// always checks signatures through the signed-by keyring, files are
// written with fixed modes and the log file is the audit trail.
var ignoredKeys = []string{
	"security.verify_signatures",
	"security.check_checksums",
	"security.secure_permissions",
	"security.audit_logging",
}

// runModeKeys are invocation switches; a config file must not set them.
var runModeKeys = []string{"run.dry_run", "run.silent", "run.validate_only", "run.show_config"}

// Keys returns every configuration key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// IsKnownKey reports whether key is a recognised configuration key.
func IsKnownKey(key string) bool {
	_, ok := registry[key]
	return ok
}

func isRunModeKey(key string) bool {
	return slices.Contains(runModeKeys, key) || strings.HasPrefix(key, "run.")
}

// Defaults returns the default value of every key.
func Defaults() map[string]any {
	out := make(map[string]any, len(registry))
	for k, spec := range registry {
		if s, ok := spec.def.([]string); ok {
			out[k] = slices.Clone(s)
			continue
		}
		out[k] = spec.def
	}
	return out
}

func coerce(kind valueKind, raw any) (any, error) {
	switch kind {
	case kindBool:
		return cast.ToBoolE(raw)
	case kindInt:
		if f, ok := raw.(float64); ok && f != float64(int(f)) {
			return nil, errNotWhole
		}
		return cast.ToIntE(raw)
	case kindFloat:
		return cast.ToFloat64E(raw)
	case kindStrings:
		return cast.ToStringSliceE(raw)
	default:
		switch raw.(type) {
		case map[string]any, []any:
			return nil, errNotScalar
		}
		return cast.ToStringE(raw)
	}
}
