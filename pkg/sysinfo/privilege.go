// pkg/sysinfo/privilege.go
package sysinfo

import (
	"context"
	"os"
	"os/user"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/execute"
)

// DetectPrivilege returns root for euid 0, sudo when `sudo -n true`
// succeeds, and regular otherwise.
func DetectPrivilege(ctx context.Context, runner execute.Runner, euid int) Privilege {
	logger := otelzap.Ctx(ctx)

	if euid == 0 {
		return PrivilegeRoot
	}
	if runner == nil {
		return PrivilegeRegular
	}
	_, err := runner.Run(ctx, execute.Command{Program: "sudo", Args: []string{"-n", "true"}, Timeout: 5 * time.Second})
	if err != nil {
		logger.Debug("Passwordless sudo not available", zap.Error(err))
		return PrivilegeRegular
	}
	return PrivilegeSudo
}

// InvokingUser returns the human behind the process: SUDO_USER when the
// installer was started through sudo, otherwise the current user.
func InvokingUser(getenv func(string) string) (name, home string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if sudoUser := getenv("SUDO_USER"); sudoUser != "" && sudoUser != "root" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.Username, u.HomeDir
		}
		return sudoUser, "/home/" + sudoUser
	}
	if u, err := user.Current(); err == nil {
		return u.Username, u.HomeDir
	}
	home, _ = os.UserHomeDir()
	return getenv("USER"), home
}
