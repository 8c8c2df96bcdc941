/* pkg/logger/paths.go */

package logger

import (
	"os"
	"path/filepath"
)

// CandidatePaths returns log file paths in order of preference: the
// configured path, then a per-session file in the user's home directory.
func CandidatePaths(configured, sessionID string) []string {
	var paths []string
	if configured != "" {
		paths = append(paths, configured)
	}
	name := "ros2_installation.log"
	if sessionID != "" {
		name = "ros2_installation_" + sessionID + ".log"
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".kaiju", name))
	}
	return paths
}
