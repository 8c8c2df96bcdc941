// pkg/bridge/errors.go

package bridge

import (
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_err"
)

var errDaemonDown = kaiju_err.NewTransientError("docker daemon did not answer", nil)
