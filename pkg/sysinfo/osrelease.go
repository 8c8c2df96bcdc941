// pkg/sysinfo/osrelease.go
package sysinfo

import (
	"bufio"
	"io"
	"strings"

	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/afero"
)

// OSRelease holds the /etc/os-release fields the profiler uses.
type OSRelease struct {
	ID              string
	IDLike          string
	VersionID       string
	VersionCodename string
	PrettyName      string
}

// ParseOSRelease reads KEY=value lines, ignoring comments and unknown keys.
func ParseOSRelease(r io.Reader) (OSRelease, error) {
	var info OSRelease
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		switch strings.TrimSpace(key) {
		case "ID":
			info.ID = strings.ToLower(value)
		case "ID_LIKE":
			info.IDLike = strings.ToLower(value)
		case "VERSION_ID":
			info.VersionID = value
		case "VERSION_CODENAME":
			info.VersionCodename = value
		case "UBUNTU_CODENAME":
			// VERSION_CODENAME wins when both are present
			if info.VersionCodename == "" {
				info.VersionCodename = value
			}
		case "PRETTY_NAME":
			info.PrettyName = value
		}
	}
	return info, cerr.Wrap(scanner.Err(), "read os-release")
}

// ReadOSRelease parses the os-release file at path on fs.
func ReadOSRelease(fs afero.Fs, path string) (OSRelease, error) {
	f, err := fs.Open(path)
	if err != nil {
		return OSRelease{}, cerr.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return ParseOSRelease(f)
}

// IsUbuntu reports whether the release is Ubuntu proper.
func (o OSRelease) IsUbuntu() bool {
	return o.ID == "ubuntu"
}
