// pkg/shared/vars.go

package shared

import (
	"errors"
)

// Version is stamped at build time with -ldflags "-X .../pkg/shared.Version=...".
// It takes part in container image identity.
var Version = "0.3.0"

var (
	ErrNotTTY = errors.New("cannot prompt: not a TTY")
)
