/* cmd/root.go */

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/cli"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_err"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/orchestrator"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/shared"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/telemetry"
)

// flagKeys maps command-line flags onto configuration keys. Only flags the
// user actually set are layered over the file.
var flagKeys = map[string]string{
	"package-set":             "installation.package_set",
	"ros-distro":              "installation.ros_distro",
	"parallel-jobs":           "installation.parallel_jobs",
	"retry-attempts":          "installation.retry_attempts",
	"log-level":               "logging.level",
	"allow-resource-override": "system.allow_resource_override",
	"silent":                  "run.silent",
	"validate-only":           "run.validate_only",
	"dry-run":                 "run.dry_run",
	"show-config":             "run.show_config",
}

// newRootCmd builds the kaiju command. The exit status of an install run
// is stored in code; errors returned by cobra are usage errors.
func newRootCmd(code *int, stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "kaiju",
		Short: "Install ROS 2 on this machine, natively or through a container",
		Long: `kaiju installs a ROS 2 distribution. On a supported Ubuntu release it installs
the apt packages directly; anywhere else with Docker available it builds an image,
starts a long-lived container and installs a ros2-<distro> wrapper on the host.

Re-running after a failure resumes: steps whose effect is already present are skipped.

Exit codes: 0 success, 1 validation failure, 2 execution failure, 3 configuration error.`,
		Example: `  kaiju --dry-run
  kaiju -p minimal -d jazzy --silent
  kaiju --validate-only --config /etc/kaiju/config.yaml`,
		Version:       shared.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := runInstall(cmd, stdout)
			if err != nil {
				return err
			}
			*code = res.ExitCode
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return kaiju_err.NewConfigError("flags", err.Error(), err)
	})
	bindFlags(root)
	root.AddCommand(newVersionCmd(stdout))
	return root
}

func bindFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("config", "c", config.DefaultFile, "Configuration file (YAML or JSON)")
	f.StringP("package-set", "p", "", "Package set: minimal, base, desktop or desktop-full")
	f.StringP("ros-distro", "d", "", "ROS 2 distribution: kilted, jazzy, iron, humble or rolling")
	f.StringP("log-level", "l", "", "Log level: DEBUG, INFO, WARNING, ERROR or CRITICAL")
	f.IntP("parallel-jobs", "j", 0, "Maximum number of steps running at once")
	f.Int("retry-attempts", 0, "Attempts per step for retryable failures")
	f.BoolP("silent", "s", false, "Do not ask for confirmation")
	f.Bool("validate-only", false, "Profile and validate the host, then exit")
	f.Bool("dry-run", false, "Show the installation plan without changing anything")
	f.Bool("show-config", false, "Print the resolved configuration and exit")
	f.Bool("allow-resource-override", false, "Install even when disk or memory is below the minimum")
}

func runInstall(cmd *cobra.Command, stdout io.Writer) (orchestrator.Result, error) {
	flags, err := cli.FlagOverrides(cmd.Flags(), flagKeys)
	if err != nil {
		return orchestrator.Result{}, kaiju_err.NewConfigError("flags", "cannot read flags", err)
	}

	sig := cli.NewSignalHandler(cmd.Context())
	defer sig.Stop()

	return orchestrator.Run(sig.Context(), orchestrator.Options{
		ConfigPath:     cli.GetStringOrEmpty(cmd, "config"),
		ConfigExplicit: cmd.Flags().Changed("config"),
		Flags:          flags,
		Out:            stdout,
		Progress:       os.Stderr,
		Version:        shared.Version,
		InitLogging:    true,
	}), nil
}

// Execute runs the CLI and returns the process exit status.
func Execute() int {
	return run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	defer func() {
		if err := logger.Sync(); err != nil {
			logger.L().Debug("Failed to flush logs", zap.Error(err))
		}
	}()

	if err := telemetry.Init("kaiju", telemetryPath()); err != nil {
		logger.L().Warn("Telemetry disabled", zap.Error(err))
	}
	defer func() { _ = telemetry.Shutdown(context.Background()) }()

	code := kaiju_err.ExitSuccess
	root := newRootCmd(&code, stdout)
	root.SetArgs(args)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		if kaiju_err.CategoryOf(err) == kaiju_err.CategoryFatal {
			// cobra's own argument errors are unclassified usage errors.
			return kaiju_err.ExitConfig
		}
		return kaiju_err.ExitCode(err)
	}
	return code
}

func telemetryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "kaiju-telemetry.jsonl")
	}
	return filepath.Join(home, ".kaiju", "telemetry.jsonl")
}
