// pkg/planner/plan.go

package planner

import (
	"fmt"
	"slices"
	"strings"

	cerr "github.com/cockroachdb/errors"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/bridge"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_err"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/sysinfo"
)

// Plan is the ordered, acyclic list of steps for one run.
type Plan struct {
	Class      sysinfo.Classification
	Distro     config.Distro
	PackageSet config.PackageSet
	Steps      []Step
	// Container is set for bridge plans only.
	Container *bridge.ContainerContext
}

// Step returns the step with the given id.
func (p Plan) Step(id string) (Step, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// IDs returns step ids in plan order.
func (p Plan) IDs() []string {
	ids := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		ids[i] = s.ID
	}
	return ids
}

// Validate checks for duplicate ids, predecessors missing from the plan and
// dependency cycles.
func (p Plan) Validate() error {
	index := make(map[string]int, len(p.Steps))
	for i, s := range p.Steps {
		if _, dup := index[s.ID]; dup {
			return kaiju_err.NewFatalError("invalid plan", cerr.Newf("duplicate step id %q", s.ID))
		}
		index[s.ID] = i
	}
	for _, s := range p.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := index[dep]; !ok {
				return kaiju_err.NewFatalError("invalid plan", cerr.Newf("step %q depends on %q which is not in the plan", s.ID, dep))
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(p.Steps))
	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch state[id] {
		case visiting:
			return kaiju_err.NewFatalError("invalid plan", cerr.Newf("dependency cycle: %s", strings.Join(append(path, id), " -> ")))
		case done:
			return nil
		}
		state[id] = visiting
		for _, dep := range p.Steps[index[id]].DependsOn {
			if err := visit(dep, append(path, id)); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	for _, s := range p.Steps {
		if err := visit(s.ID, nil); err != nil {
			return err
		}
	}
	return nil
}

// Build maps (configuration, profile, classification) onto a plan. It is a
// pure function: equal inputs give structurally identical plans.
func Build(cfg config.Configuration, prof sysinfo.Profile, class sysinfo.Classification, toolVersion string) (Plan, error) {
	var plan Plan
	switch class {
	case sysinfo.NativeEligible:
		plan = nativePlan(cfg, prof)
	case sysinfo.BridgeRequired:
		plan = bridgePlan(cfg, prof, toolVersion)
	case sysinfo.Ineligible:
		return Plan{}, kaiju_err.NewValidationError("host is not eligible for installation")
	default:
		return Plan{}, kaiju_err.NewFatalError("unknown host classification", cerr.Newf("%d", class))
	}
	plan.Class = class
	plan.Distro = cfg.Installation.ROSDistro
	plan.PackageSet = cfg.Installation.PackageSet
	if err := plan.Validate(); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// chain builds steps where each one depends on the one added before it
// plus any extra predecessors.
type chain struct {
	steps []Step
	last  string
}

func (c *chain) add(s Step, extra ...string) {
	if c.last != "" {
		s.DependsOn = append(s.DependsOn, c.last)
	}
	for _, e := range extra {
		if e != "" && !slices.Contains(s.DependsOn, e) {
			s.DependsOn = append(s.DependsOn, e)
		}
	}
	c.steps = append(c.steps, s)
	c.last = s.ID
}

// side adds a step off the chain; it does not become the chain tail.
func (c *chain) side(s Step) {
	c.steps = append(c.steps, s)
}

func (c *chain) ids() []string {
	ids := make([]string, len(c.steps))
	for i, s := range c.steps {
		ids[i] = s.ID
	}
	return ids
}

func describe(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
