// pkg/sysinfo/resources.go
package sysinfo

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/config"
)

// ResourceIssue is one advisory shortfall against the package set minimums.
type ResourceIssue struct {
	Resource string
	Have     float64
	Need     float64
}

func (i ResourceIssue) String() string {
	return fmt.Sprintf("insufficient %s: %.1fGB available, %.1fGB recommended", i.Resource, i.Have, i.Need)
}

// CheckResources compares the profile with the minimums.
func CheckResources(p Profile, need config.Resources) []ResourceIssue {
	var issues []ResourceIssue
	if p.FreeDiskGB < need.DiskGB {
		issues = append(issues, ResourceIssue{Resource: "disk space", Have: p.FreeDiskGB, Need: need.DiskGB})
	}
	if p.MemoryGB < need.MemoryGB {
		issues = append(issues, ResourceIssue{Resource: "memory", Have: p.MemoryGB, Need: need.MemoryGB})
	}
	return issues
}

// GateAction is what to do about resource shortfalls.
type GateAction int

const (
	GateProceed GateAction = iota // no shortfall
	GateWarn                      // log and continue
	GatePrompt                    // ask the operator
	GateBlock                     // validation failure
)

func (g GateAction) String() string {
	switch g {
	case GateWarn:
		return "warn"
	case GatePrompt:
		return "prompt"
	case GateBlock:
		return "block"
	default:
		return "proceed"
	}
}

// ResourceGate decides how shortfalls are handled. The explicit override
// and disabled compatibility checks always win; previews block so that a
// validate-only run reports the problem; silent or non-interactive runs
// warn; an operator at a terminal is asked.
func ResourceGate(issues []ResourceIssue, cfg config.Configuration, interactive bool) GateAction {
	switch {
	case len(issues) == 0:
		return GateProceed
	case cfg.System.AllowResourceOverride, !cfg.System.VerifyCompatibility:
		return GateWarn
	case cfg.PreviewOnly():
		return GateBlock
	case cfg.Run.Silent, !interactive:
		return GateWarn
	default:
		return GatePrompt
	}
}
