// pkg/shared/constants.go

package shared

const (
	ROSKeyURL      = "https://raw.githubusercontent.com/ros/rosdistro/master/ros.key"
	ROSKeyringPath = "/usr/share/keyrings/ros-archive-keyring.gpg"
	ROSSourcesList = "/etc/apt/sources.list.d/ros2.list"
	ROSAptRepo     = "http://packages.ros.org/ros2/ubuntu"
	ROSInstallRoot = "/opt/ros"

	RosdepDefaultList = "/etc/ros/rosdep/sources.list.d/20-default.list"

	// AptListsDir is touched by every successful index refresh.
	AptListsDir = "/var/lib/apt/lists"

	DockerInstallScriptURL = "https://get.docker.com"

	// BackupSuffix is appended to a file's path for its pristine copy.
	BackupSuffix = ".kaiju-backup"

	// BashrcMarker opens the block kaiju appends to the user's shell rc.
	BashrcMarker = "# >>> kaiju ROS 2 environment >>>"
	BashrcEnd    = "# <<< kaiju ROS 2 environment <<<"
)

const (
	// Permission modes (in octal)
	DirPermStandard  = 0755
	FilePermStandard = 0644
	FilePermExec     = 0755
)
