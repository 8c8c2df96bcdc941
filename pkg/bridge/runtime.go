// pkg/bridge/runtime.go

package bridge

import (
	"context"
	"io"
)

// ContainerState is what the daemon reports for a named container.
type ContainerState struct {
	Exists  bool
	Running bool
	Image   string
}

// Runtime is the slice of the container daemon the bridge needs.
type Runtime interface {
	Ping(ctx context.Context) error
	ImageExists(ctx context.Context, ref string) (bool, error)
	BuildImage(ctx context.Context, ref string, dockerfile []byte, progress io.Writer) error
	ContainerState(ctx context.Context, name string) (ContainerState, error)
	RunContainer(ctx context.Context, cc ContainerContext) error
	Exec(ctx context.Context, name string, cmd []string) (string, error)
	Close() error
}
