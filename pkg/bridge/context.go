// pkg/bridge/context.go

package bridge

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/config"
)

// ContainerContext names everything the bridge creates for one distro.
// It is derived from configuration and never changes during a run.
type ContainerContext struct {
	Distro      config.Distro
	PackageSet  config.PackageSet
	BaseImage   string
	Image       string // repository:tag, identity = distro + package set + tool version
	Name        string // container name
	WrapperPath string
}

var tagUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// NewContainerContext derives the image tag, container name and wrapper path.
func NewContainerContext(cfg config.Configuration, toolVersion string) ContainerContext {
	d := cfg.Installation.ROSDistro
	set := cfg.Installation.PackageSet
	version := strings.Trim(tagUnsafe.ReplaceAllString(toolVersion, "-"), "-.")
	if version == "" {
		version = "dev"
	}
	return ContainerContext{
		Distro:      d,
		PackageSet:  set,
		BaseImage:   cfg.Bridge.BaseImage,
		Image:       fmt.Sprintf("kaiju/ros2:%s-%s-%s", d, set, version),
		Name:        fmt.Sprintf("kaiju-ros2-%s", d),
		WrapperPath: cfg.Bridge.WrapperPath,
	}
}

// SetupScript is the ROS environment script inside the image.
func (c ContainerContext) SetupScript() string {
	return fmt.Sprintf("/opt/ros/%s/setup.bash", c.Distro)
}
