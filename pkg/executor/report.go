// pkg/executor/report.go

package executor

import (
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_err"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/planner"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/retry"
)

// ExecutionResult is the outcome of one step.
type ExecutionResult struct {
	StepID      string
	Kind        planner.StepKind
	Description string
	Status      retry.Status
	Attempts    int
	Duration    time.Duration
	Output      string // tail of the captured command output
	Err         error
}

// RunReport holds one result slot per plan step, in plan order. Slots are
// written by the worker that owns the step; every write takes the lock.
type RunReport struct {
	SessionID string
	Started   time.Time
	Elapsed   time.Duration

	mu      sync.Mutex
	results []ExecutionResult
	index   map[string]int
}

func newRunReport(sessionID string, steps []planner.Step) *RunReport {
	r := &RunReport{
		SessionID: sessionID,
		Started:   time.Now(),
		results:   make([]ExecutionResult, len(steps)),
		index:     make(map[string]int, len(steps)),
	}
	for i, s := range steps {
		r.results[i] = ExecutionResult{StepID: s.ID, Kind: s.Kind, Description: s.Description, Status: retry.StatusNotRun}
		r.index[s.ID] = i
	}
	return r
}

func (r *RunReport) set(i int, res ExecutionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[i] = res
}

// Results returns a copy of every slot in plan order.
func (r *RunReport) Results() []ExecutionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ExecutionResult(nil), r.results...)
}

// Result returns the slot for a step id.
func (r *RunReport) Result(id string) (ExecutionResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return ExecutionResult{}, false
	}
	return r.results[i], true
}

// Succeeded is true when every step succeeded or was already satisfied.
func (r *RunReport) Succeeded() bool {
	for _, res := range r.Results() {
		if !res.Status.Done() {
			return false
		}
	}
	return true
}

// FirstFailure returns the first failed step in plan order.
func (r *RunReport) FirstFailure() (ExecutionResult, bool) {
	for _, res := range r.Results() {
		if res.Status.Failed() {
			return res, true
		}
	}
	return ExecutionResult{}, false
}

// Counts tallies results by status.
func (r *RunReport) Counts() map[retry.Status]int {
	out := map[retry.Status]int{}
	for _, res := range r.Results() {
		out[res.Status]++
	}
	return out
}

// Err is nil for a successful run. Otherwise it is the first failure's
// error, or a fatal error when the run was stopped before finishing.
func (r *RunReport) Err() error {
	if f, ok := r.FirstFailure(); ok {
		if f.Err != nil {
			return f.Err
		}
		return kaiju_err.NewFatalError("step "+f.StepID+" failed", nil)
	}
	if !r.Succeeded() {
		return kaiju_err.NewFatalError("installation was interrupted before every step ran", nil,
			"Re-run the installer; completed steps are detected and skipped")
	}
	return nil
}

// ExitCode maps the report onto the CLI exit status.
func (r *RunReport) ExitCode() int {
	if r.Succeeded() {
		return kaiju_err.ExitSuccess
	}
	return kaiju_err.ExitExecution
}
