// pkg/bridge/docker.go

package bridge

import (
	"bytes"
	"context"
	"io"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sony/gobreaker"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_err"
)

const defaultTimeout = 5 * time.Second

// DockerRuntime talks to the Docker daemon through the SDK. Calls go
// through a circuit breaker so a dead daemon fails fast across steps.
type DockerRuntime struct {
	cli *client.Client
	cb  *gobreaker.CircuitBreaker
}

// NewDockerRuntime establishes a Docker client using environment
// configuration with API version negotiation enabled. No daemon call is made.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, cerr.Wrap(err, "creating docker client")
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "docker-daemon",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 3 },
		// A missing container or image is an answer, not a daemon failure.
		IsSuccessful: func(err error) bool { return err == nil || client.IsErrNotFound(err) },
	})
	return &DockerRuntime{cli: cli, cb: cb}, nil
}

func (d *DockerRuntime) call(fn func() (any, error)) (any, error) {
	out, err := d.cb.Execute(fn)
	if cerr.Is(err, gobreaker.ErrOpenState) || cerr.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, kaiju_err.NewTransientError("docker daemon unavailable", err)
	}
	return out, err
}

// Ping validates connectivity with the daemon within a short timeout window.
func (d *DockerRuntime) Ping(ctx context.Context) error {
	_, err := d.call(func() (any, error) {
		pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
		return d.cli.Ping(pingCtx)
	})
	if err != nil {
		return kaiju_err.NewTransientError("docker daemon did not answer", err)
	}
	return nil
}

// ImageExists reports whether an image with exactly this reference exists locally.
func (d *DockerRuntime) ImageExists(ctx context.Context, ref string) (bool, error) {
	out, err := d.call(func() (any, error) {
		return d.cli.ImageList(ctx, image.ListOptions{Filters: filters.NewArgs(filters.Arg("reference", ref))})
	})
	if err != nil {
		return false, daemonError("list images", err)
	}
	return len(out.([]image.Summary)) > 0, nil
}

// BuildImage builds ref from an in-memory Dockerfile, streaming build
// output to progress. Build step failures are classified from their message.
func (d *DockerRuntime) BuildImage(ctx context.Context, ref string, dockerfile []byte, progress io.Writer) error {
	logger := otelzap.Ctx(ctx)
	buildCtx, err := BuildContext(dockerfile)
	if err != nil {
		return kaiju_err.NewFatalError("cannot create build context", err)
	}
	if progress == nil {
		progress = io.Discard
	}

	logger.Info("Building container image", zap.String("image", ref))
	out, err := d.call(func() (any, error) {
		return d.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
			Tags:        []string{ref},
			Dockerfile:  "Dockerfile",
			Remove:      true,
			ForceRemove: true,
			PullParent:  true,
		})
	})
	if err != nil {
		return daemonError("start image build", err)
	}
	resp := out.(types.ImageBuildResponse)
	defer resp.Body.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, progress, 0, false, nil); err != nil {
		return classifyBuild(ref, err)
	}
	return nil
}

func classifyBuild(ref string, err error) error {
	if cat, ok := kaiju_err.ClassifyOutput(err.Error()); ok && cat == kaiju_err.CategoryFatal {
		return kaiju_err.NewFatalError("image build failed for "+ref, err,
			"Check the generated Dockerfile and base image")
	}
	return kaiju_err.NewTransientError("image build failed for "+ref, err)
}

// ContainerState inspects the named container; a missing container is not an error.
func (d *DockerRuntime) ContainerState(ctx context.Context, name string) (ContainerState, error) {
	out, err := d.call(func() (any, error) {
		return d.cli.ContainerInspect(ctx, name)
	})
	if client.IsErrNotFound(err) {
		return ContainerState{}, nil
	}
	if err != nil {
		return ContainerState{}, daemonError("inspect container", err)
	}
	info := out.(container.InspectResponse)
	st := ContainerState{Exists: true}
	if info.State != nil {
		st.Running = info.State.Running
	}
	if info.Config != nil {
		st.Image = info.Config.Image
	}
	return st, nil
}

// RunContainer makes sure a container from cc.Image is running under
// cc.Name, replacing one created from a different image.
func (d *DockerRuntime) RunContainer(ctx context.Context, cc ContainerContext) error {
	logger := otelzap.Ctx(ctx)

	// ASSESS
	st, err := d.ContainerState(ctx, cc.Name)
	if err != nil {
		return err
	}

	// INTERVENE
	if st.Exists && st.Image != cc.Image {
		logger.Info("Replacing container built from another image",
			zap.String("container", cc.Name), zap.String("old_image", st.Image), zap.String("image", cc.Image))
		if _, err := d.call(func() (any, error) {
			return nil, d.cli.ContainerRemove(ctx, cc.Name, container.RemoveOptions{Force: true})
		}); err != nil {
			return daemonError("remove container", err)
		}
		st = ContainerState{}
	}
	if !st.Exists {
		_, err := d.call(func() (any, error) {
			return d.cli.ContainerCreate(ctx,
				&container.Config{
					Image:  cc.Image,
					Cmd:    []string{"sleep", "infinity"},
					Labels: map[string]string{"org.kaiju.distro": string(cc.Distro)},
				},
				&container.HostConfig{
					NetworkMode:   "host",
					RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
				},
				nil, nil, cc.Name)
		})
		if err != nil {
			return daemonError("create container", err)
		}
	}
	if !st.Running {
		if _, err := d.call(func() (any, error) {
			return nil, d.cli.ContainerStart(ctx, cc.Name, container.StartOptions{})
		}); err != nil {
			return daemonError("start container", err)
		}
	}

	// EVALUATE
	logger.Info("Container running", zap.String("container", cc.Name), zap.String("image", cc.Image))
	return nil
}

// Exec runs cmd inside the container and returns its combined output.
func (d *DockerRuntime) Exec(ctx context.Context, name string, cmd []string) (string, error) {
	out, err := d.call(func() (any, error) {
		return d.cli.ContainerExecCreate(ctx, name, container.ExecOptions{
			Cmd:          cmd,
			AttachStdout: true,
			AttachStderr: true,
		})
	})
	if err != nil {
		return "", daemonError("creating exec instance", err)
	}
	execID := out.(container.ExecCreateResponse).ID

	attach, err := d.cli.ContainerExecAttach(ctx, execID, container.ExecAttachOptions{})
	if err != nil {
		return "", daemonError("attaching to exec", err)
	}
	defer attach.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, attach.Reader); err != nil {
		return buf.String(), kaiju_err.NewTransientError("reading exec output", err)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, execID)
	if err != nil {
		return buf.String(), daemonError("inspecting exec result", err)
	}
	if inspect.ExitCode != 0 {
		return buf.String(), kaiju_err.NewFatalError("command in container failed", cerr.Errorf("%v exited with code %d", cmd, inspect.ExitCode))
	}
	return buf.String(), nil
}

// Close releases the client.
func (d *DockerRuntime) Close() error {
	return d.cli.Close()
}

func daemonError(op string, err error) error {
	if kaiju_err.CategoryOf(err) == kaiju_err.CategoryTransient {
		return err
	}
	if client.IsErrConnectionFailed(err) {
		return kaiju_err.NewTransientError(op+": cannot connect to the docker daemon", err)
	}
	if cat, ok := kaiju_err.ClassifyOutput(err.Error()); ok && cat == kaiju_err.CategoryFatal {
		return kaiju_err.NewFatalError(op, err)
	}
	return kaiju_err.NewTransientError(op, err)
}
