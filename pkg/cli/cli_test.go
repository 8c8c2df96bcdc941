package cli

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("package-set", "", "")
	fs.Int("parallel-jobs", 0, "")
	fs.Bool("dry-run", false, "")
	fs.String("config", "", "")
	return fs
}

func TestFlagOverridesOnlyChanged(t *testing.T) {
	t.Parallel()

	fs := newFlags()
	require.NoError(t, fs.Parse([]string{"--parallel-jobs=2", "--dry-run", "--config=x.yaml"}))

	got, err := FlagOverrides(fs, map[string]string{
		"package-set":   "installation.package_set",
		"parallel-jobs": "installation.parallel_jobs",
		"dry-run":       "run.dry_run",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"installation.parallel_jobs": 2,
		"run.dry_run":                true,
	}, got)
}

func TestGetStringOrEmpty(t *testing.T) {
	t.Parallel()

	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().String("name", "value", "")
	assert.Equal(t, "value", GetStringOrEmpty(cmd, "name"))
	assert.Equal(t, "", GetStringOrEmpty(cmd, "missing"))
}
