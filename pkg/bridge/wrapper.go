// pkg/bridge/wrapper.go

package bridge

import (
	"strings"
)

const wrapperTemplate = `#!/bin/sh
# Generated by kaiju: runs ROS 2 @DISTRO@ inside container @NAME@.
# Arguments are forwarded to ros2; with no arguments an interactive shell opens.
set -e
NAME='@NAME@'
if [ "$(docker inspect -f '{{.State.Running}}' "$NAME" 2>/dev/null)" != "true" ]; then
	docker start "$NAME" >/dev/null
fi
if [ -t 0 ] && [ -t 1 ]; then TTY=-it; else TTY=-i; fi
if [ "$#" -eq 0 ]; then
	exec docker exec $TTY "$NAME" bash -c 'source @SETUP@ && exec bash'
fi
exec docker exec $TTY "$NAME" bash -c 'source @SETUP@ && exec ros2 "$@"' ros2 "$@"
`

// WrapperScript renders the host-side wrapper. It only starts the container
// when stopped and forwards arguments; no installer logic lives in it.
func WrapperScript(cc ContainerContext) string {
	return strings.NewReplacer(
		"@DISTRO@", string(cc.Distro),
		"@NAME@", cc.Name,
		"@SETUP@", cc.SetupScript(),
	).Replace(wrapperTemplate)
}
