// pkg/planner/step.go

package planner

import (
	"os"
	"time"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/execute"
)

// StepKind is the closed set of step variants. Each kind has exactly one
// handler in the executor; adding a kind without a handler fails its tests.
type StepKind int

const (
	KindConfigBackup StepKind = iota
	KindPreUninstall
	KindIndexUpdate
	KindDependencyInstall
	KindPackageInstall
	KindEnvironmentSetup
	KindEnsureRuntime
	KindContainerBuild
	KindContainerRun
	KindWrapperInstall
	KindVerify
)

// Kinds lists every StepKind.
var Kinds = []StepKind{
	KindConfigBackup, KindPreUninstall, KindIndexUpdate, KindDependencyInstall,
	KindPackageInstall, KindEnvironmentSetup, KindEnsureRuntime, KindContainerBuild,
	KindContainerRun, KindWrapperInstall, KindVerify,
}

func (k StepKind) String() string {
	switch k {
	case KindConfigBackup:
		return "config-backup"
	case KindPreUninstall:
		return "pre-uninstall"
	case KindIndexUpdate:
		return "package-index-update"
	case KindDependencyInstall:
		return "dependency-install"
	case KindPackageInstall:
		return "package-install"
	case KindEnvironmentSetup:
		return "environment-setup"
	case KindEnsureRuntime:
		return "ensure-runtime"
	case KindContainerBuild:
		return "container-build"
	case KindContainerRun:
		return "container-run"
	case KindWrapperInstall:
		return "wrapper-install"
	case KindVerify:
		return "post-install-verify"
	default:
		return "unknown"
	}
}

// Mutating reports whether the kind changes host state.
func (k StepKind) Mutating() bool {
	return k != KindVerify
}

// FileSpec is a file a step writes.
type FileSpec struct {
	Path    string
	Content string
	Mode    os.FileMode
	Append  bool // append once, guarded by the first line of Content
}

// RetryPolicy overrides the configured retry attempts for one step.
type RetryPolicy struct {
	Attempts int
}

// Step is a value object describing one unit of host mutation. It holds no
// execution state; results live in the executor's report.
type Step struct {
	ID          string
	Kind        StepKind
	Description string
	DependsOn   []string
	Commands    []execute.Command
	Timeout     time.Duration
	Retry       *RetryPolicy

	Packages []string   // packages the step installs or, for pre-uninstall, globs it purges
	Paths    []string   // files the step backs up or must find afterwards
	Files    []FileSpec // files the step writes
	User     string     // invoking user for per-user actions
}
