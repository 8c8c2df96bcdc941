// pkg/config/resolve.go

package config

import (
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"

	cerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_err"
)

var (
	errNotWhole  = cerr.New("value is not a whole number")
	errNotScalar = cerr.New("value must be a scalar")
)

// Resolve merges defaults < file < flags key by key and returns the
// validated Configuration. Unknown keys and run-mode keys found in the
// file are dropped with a warning; an unknown flag key is a ConfigError.
func Resolve(file map[string]any, flags map[string]any) (Configuration, []string, error) {
	v := viper.New()
	for key, def := range Defaults() {
		v.SetDefault(key, def)
	}

	known, warnings := sanitize(flatten("", file))
	if len(known) > 0 {
		if err := v.MergeConfigMap(nest(known)); err != nil {
			return Configuration{}, warnings, kaiju_err.NewConfigError("config_file", "cannot merge configuration file", err)
		}
	}

	run := RunMode{}
	for _, key := range sortedKeys(flags) {
		val := flags[key]
		if isRunModeKey(key) {
			on, err := coerce(kindBool, val)
			if err != nil {
				return Configuration{}, warnings, kaiju_err.NewConfigError(key, "expected a boolean", err)
			}
			applyRunMode(&run, key, on.(bool))
			continue
		}
		if !IsKnownKey(key) {
			return Configuration{}, warnings, kaiju_err.NewConfigError(key, "unknown configuration key", nil)
		}
		v.Set(key, val)
	}

	cfg, err := decode(v)
	if err != nil {
		return Configuration{}, warnings, err
	}
	cfg.Run = run
	if err := Validate(cfg); err != nil {
		return Configuration{}, warnings, err
	}
	return cfg, warnings, nil
}

// WithOverrides re-resolves c with additional dotted-key overrides on top.
func (c Configuration) WithOverrides(overrides map[string]any) (Configuration, error) {
	flags := c.Settings()
	for _, k := range runModeKeys {
		flags[k] = runModeValue(c.Run, k)
	}
	// Derived values follow a changed distro or package set unless overridden too.
	if _, ok := overrides["installation.package_set"]; ok {
		floor := c.Installation.PackageSet.Minimums()
		if c.Validation.MinDiskSpaceGB == floor.DiskGB {
			flags["validation.min_disk_space_gb"] = 0.0
		}
		if c.Validation.MinMemoryGB == floor.MemoryGB {
			flags["validation.min_memory_gb"] = 0.0
		}
	}
	if _, ok := overrides["installation.ros_distro"]; ok {
		if c.Bridge.WrapperPath == DefaultWrapperPath(c.Installation.ROSDistro) {
			flags["bridge.wrapper_path"] = ""
		}
		if c.Bridge.BaseImage == DefaultBaseImage(c.Installation.ROSDistro) {
			flags["bridge.base_image"] = ""
		}
	}
	for k, v := range overrides {
		flags[k] = v
	}
	out, _, err := Resolve(nil, flags)
	return out, err
}

func decode(v *viper.Viper) (Configuration, error) {
	var cfg Configuration
	for _, key := range Keys() {
		spec := registry[key]
		raw := v.Get(key)
		if spec.kind == kindInt || spec.kind == kindFloat {
			if _, isBool := raw.(bool); isBool {
				return Configuration{}, kaiju_err.NewConfigError(key, "expected "+spec.kind.String(), nil)
			}
		}
		val, err := coerce(spec.kind, raw)
		if err != nil {
			return Configuration{}, kaiju_err.NewConfigError(key, fmt.Sprintf("expected %s, got %v", spec.kind, raw), err)
		}
		spec.set(&cfg, val)
	}
	deriveDefaults(&cfg)
	return cfg, nil
}

func deriveDefaults(cfg *Configuration) {
	floor := cfg.Installation.PackageSet.Minimums()
	if cfg.Validation.MinDiskSpaceGB == 0 {
		cfg.Validation.MinDiskSpaceGB = floor.DiskGB
	}
	if cfg.Validation.MinMemoryGB == 0 {
		cfg.Validation.MinMemoryGB = floor.MemoryGB
	}
	if cfg.Bridge.WrapperPath == "" {
		cfg.Bridge.WrapperPath = DefaultWrapperPath(cfg.Installation.ROSDistro)
	}
	if cfg.Bridge.BaseImage == "" {
		cfg.Bridge.BaseImage = DefaultBaseImage(cfg.Installation.ROSDistro)
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	val := validator.New(validator.WithRequiredStructEnabled())
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("key"); name != "" {
			return name
		}
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return val
}

// Validate checks enumerations and bounds. The first failing key is
// reported as a ConfigError naming that key.
func Validate(cfg Configuration) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !cerr.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return kaiju_err.NewConfigError("configuration", "invalid configuration", err)
	}
	fe := fieldErrs[0]
	key := strings.TrimPrefix(fe.Namespace(), "Configuration.")
	return kaiju_err.NewConfigError(key, describe(fe), err)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%v is not one of [%s]", fe.Value(), fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%v is below the minimum %s", fe.Value(), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%v is above the maximum %s", fe.Value(), fe.Param())
	case "required":
		return "value is required"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// flatten turns nested file sections into dotted keys.
func flatten(prefix string, in map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range in {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := toStringMap(v); ok && !IsKnownKey(key) {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func sanitize(flat map[string]any) (map[string]any, []string) {
	known := map[string]any{}
	var warnings []string
	for _, key := range sortedKeys(flat) {
		switch {
		case slices.Contains(ignoredKeys, key):
			continue
		case isRunModeKey(key):
			warnings = append(warnings, fmt.Sprintf("ignoring %s in configuration file: run modes are set by flags only", key))
		case !IsKnownKey(key):
			warnings = append(warnings, fmt.Sprintf("ignoring unknown configuration key %s", key))
		default:
			known[key] = flat[key]
		}
	}
	return known, warnings
}

func nest(flat map[string]any) map[string]any {
	out := map[string]any{}
	for key, v := range flat {
		parts := strings.Split(key, ".")
		cur := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = map[string]any{}
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = v
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func applyRunMode(run *RunMode, key string, on bool) {
	switch key {
	case "run.dry_run":
		run.DryRun = on
	case "run.silent":
		run.Silent = on
	case "run.validate_only":
		run.ValidateOnly = on
	case "run.show_config":
		run.ShowConfig = on
	}
}

func runModeValue(run RunMode, key string) bool {
	switch key {
	case "run.dry_run":
		return run.DryRun
	case "run.silent":
		return run.Silent
	case "run.validate_only":
		return run.ValidateOnly
	case "run.show_config":
		return run.ShowConfig
	}
	return false
}

// Settings returns the resolved values as dotted keys.
func (c Configuration) Settings() map[string]any {
	return map[string]any{
		"installation.ros_distro":              string(c.Installation.ROSDistro),
		"installation.package_set":             string(c.Installation.PackageSet),
		"installation.uninstall_existing":      c.Installation.UninstallExisting,
		"installation.parallel_jobs":           c.Installation.ParallelJobs,
		"installation.retry_attempts":          c.Installation.RetryAttempts,
		"installation.timeout_seconds":         c.Installation.TimeoutSeconds,
		"system.update_system":                 c.System.UpdateSystem,
		"system.install_dependencies":          c.System.InstallDependencies,
		"system.backup_configs":                c.System.BackupConfigs,
		"system.configure_environment":         c.System.ConfigureEnvironment,
		"system.verify_compatibility":          c.System.VerifyCompatibility,
		"system.allow_runtime_install":         c.System.AllowRuntimeInstall,
		"system.allow_resource_override":       c.System.AllowResourceOverride,
		"logging.level":                        c.Logging.Level,
		"logging.file":                         c.Logging.File,
		"logging.console":                      c.Logging.Console,
		"performance.parallel_downloads":       c.Performance.ParallelDownloads,
		"performance.download_cache":           c.Performance.DownloadCache,
		"performance.compression":              c.Performance.Compression,
		"validation.min_disk_space_gb":         c.Validation.MinDiskSpaceGB,
		"validation.min_memory_gb":             c.Validation.MinMemoryGB,
		"validation.supported_ubuntu_versions": append([]string(nil), c.Validation.SupportedUbuntuVersions...),
		"validation.required_ubuntu_version":   c.Validation.RequiredUbuntuVersion,
		"validation.supported_architectures":   append([]string(nil), c.Validation.SupportedArchitectures...),
		"bridge.wrapper_path":                  c.Bridge.WrapperPath,
		"bridge.base_image":                    c.Bridge.BaseImage,
	}
}
