// pkg/config/load.go

package config

import (
	"os"
	"path/filepath"
	"strings"

	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_err"
)

// DefaultFile is the configuration path used when --config is not given.
const DefaultFile = "config.yaml"

// LoadResult describes how the configuration file was obtained.
type LoadResult struct {
	Values    map[string]any
	Path      string
	Generated bool
}

// LoadFile reads the YAML or JSON configuration at path. A missing file at
// the default location is generated with defaults; a missing file that was
// named explicitly is a ConfigError.
func LoadFile(fs afero.Fs, path string, explicit bool) (LoadResult, error) {
	if path == "" {
		path = DefaultFile
	}
	res := LoadResult{Path: path}

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return res, kaiju_err.NewConfigError("config_file", "cannot stat "+path, err)
	}
	if !exists {
		if explicit {
			return res, kaiju_err.NewConfigError("config_file", "configuration file not found: "+path, os.ErrNotExist)
		}
		if err := WriteDefaultFile(fs, path); err != nil {
			// An unwritable working directory still leaves the defaults usable.
			return res, nil
		}
		res.Generated = true
		return res, nil
	}

	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		v.SetConfigType("json")
	default:
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		return res, kaiju_err.NewConfigError("config_file", "cannot parse "+path, err)
	}
	res.Values = v.AllSettings()
	return res, nil
}

const defaultFileHeader = `# kaiju configuration
# Zero resource minimums follow the package set; empty bridge paths follow the distro.
`

// WriteDefaultFile writes the default configuration as YAML.
func WriteDefaultFile(fs afero.Fs, path string) error {
	body, err := yaml.Marshal(nest(Defaults()))
	if err != nil {
		return cerr.Wrap(err, "render default configuration")
	}
	data := append([]byte(defaultFileHeader), body...)
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return cerr.Wrapf(err, "create %s", dir)
		}
	}
	return cerr.Wrapf(afero.WriteFile(fs, path, data, 0o644), "write %s", path)
}
