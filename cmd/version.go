// cmd/version.go
package cmd

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/shared"
)

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the kaiju version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(stdout, "kaiju %s (%s, %s/%s)\n", shared.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
