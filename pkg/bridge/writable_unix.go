//go:build unix

// pkg/bridge/writable_unix.go

package bridge

import (
	"path/filepath"

	cerr "github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// DirWritable reports whether the current process may create path. A
// missing directory is judged by its nearest existing ancestor, since the
// write creates the directories in between.
func DirWritable(path string) bool {
	dir := filepath.Dir(path)
	for {
		err := unix.Access(dir, unix.W_OK)
		if err == nil {
			return true
		}
		if !cerr.Is(err, unix.ENOENT) {
			return false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}
