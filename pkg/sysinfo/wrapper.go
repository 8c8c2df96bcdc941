// pkg/sysinfo/wrapper.go

package sysinfo

import (
	"fmt"
	"path/filepath"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/config"
)

// UserWrapperPath is the wrapper location used when the documented path
// needs privilege the process does not have.
func UserWrapperPath(home string, d config.Distro) string {
	return filepath.Join(home, ".local", "bin", "ros2-"+string(d))
}

// PlaceWrapper decides where a bridge host's wrapper can be written.
// Elevated processes use the configured path. Otherwise the configured
// directory must be writable; only the default path falls back to
// ~/.local/bin, an explicit one is the user's choice. An empty path
// comes with the reason no location works.
func PlaceWrapper(p Profile, cfg config.Configuration, writable func(string) bool) (string, string) {
	path := cfg.Bridge.WrapperPath
	if p.Privilege.Elevated() || writable(path) {
		return path, ""
	}
	if path == config.DefaultWrapperPath(cfg.Installation.ROSDistro) && p.Home != "" {
		if alt := UserWrapperPath(p.Home, cfg.Installation.ROSDistro); writable(alt) {
			return alt, ""
		}
	}
	return "", fmt.Sprintf("wrapper directory %s is not writable without root or passwordless sudo", filepath.Dir(path))
}
