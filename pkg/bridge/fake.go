// pkg/bridge/fake.go

package bridge

import (
	"context"
	"io"
	"sync"
)

// FakeRuntime is an in-memory Runtime for tests.
type FakeRuntime struct {
	mu         sync.Mutex
	Down       bool
	Images     map[string]bool
	Containers map[string]ContainerState
	Builds     []string
	Execs      [][]string
	BuildErr   error
	ExecErr    error
}

// NewFakeRuntime returns an empty, reachable daemon.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{Images: map[string]bool{}, Containers: map[string]ContainerState{}}
}

// SetDown makes the daemon unreachable or reachable again.
func (f *FakeRuntime) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Down = down
}

// BuiltImages returns the refs passed to BuildImage.
func (f *FakeRuntime) BuiltImages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Builds...)
}

// ExecCalls returns the commands passed to Exec.
func (f *FakeRuntime) ExecCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.Execs...)
}

func (f *FakeRuntime) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Down {
		return errDaemonDown
	}
	return nil
}

func (f *FakeRuntime) ImageExists(_ context.Context, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Images[ref], nil
}

func (f *FakeRuntime) BuildImage(_ context.Context, ref string, _ []byte, _ io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Builds = append(f.Builds, ref)
	if f.BuildErr != nil {
		return f.BuildErr
	}
	f.Images[ref] = true
	return nil
}

func (f *FakeRuntime) ContainerState(_ context.Context, name string) (ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Containers[name], nil
}

func (f *FakeRuntime) RunContainer(_ context.Context, cc ContainerContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Containers[cc.Name] = ContainerState{Exists: true, Running: true, Image: cc.Image}
	return nil
}

func (f *FakeRuntime) Exec(_ context.Context, _ string, cmd []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Execs = append(f.Execs, cmd)
	return "", f.ExecErr
}

func (f *FakeRuntime) Close() error { return nil }
