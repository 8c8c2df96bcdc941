// pkg/config/render.go

package config

import (
	cerr "github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Render returns the configuration as YAML. Run-mode switches are omitted.
func Render(cfg Configuration) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, cerr.Wrap(err, "render configuration")
	}
	return out, nil
}
