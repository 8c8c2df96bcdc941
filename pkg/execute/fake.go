// pkg/execute/fake.go

package execute

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// FakeRunner records commands instead of running them. Respond decides
// the outcome of each call; a nil Respond succeeds with empty output.
type FakeRunner struct {
	Respond func(call int, cmd Command) (Result, error)
	Delay   time.Duration

	mu       sync.Mutex
	calls    []Command
	inFlight atomic.Int32
	peak     atomic.Int32
}

// Run implements Runner.
func (f *FakeRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	n := len(f.calls)
	f.mu.Unlock()

	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if f.Respond == nil {
		return Result{}, nil
	}
	return f.Respond(n, cmd)
}

// Calls returns every recorded command in call order.
func (f *FakeRunner) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.calls...)
}

// CallsMatching returns the recorded commands whose rendered form contains substr.
func (f *FakeRunner) CallsMatching(substr string) []Command {
	var out []Command
	for _, c := range f.Calls() {
		if strings.Contains(c.String(), substr) {
			out = append(out, c)
		}
	}
	return out
}

// PeakConcurrency is the largest number of simultaneous Run calls seen.
func (f *FakeRunner) PeakConcurrency() int {
	return int(f.peak.Load())
}
