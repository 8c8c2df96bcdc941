// pkg/cli/cli.go
//
// Flag helpers shared by the cobra commands: mapping changed flags onto
// dotted configuration keys so they can be layered over file values.
package cli

import (
	"fmt"
	"os"

	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// FlagOverrides returns the values of every flag in mapping that the user
// actually set, keyed by the configuration key it maps to. Unset flags are
// left out so they never mask file values.
func FlagOverrides(flags *pflag.FlagSet, mapping map[string]string) (map[string]any, error) {
	out := map[string]any{}
	var result error
	flags.Visit(func(f *pflag.Flag) {
		key, ok := mapping[f.Name]
		if !ok {
			return
		}
		val, err := flagValue(flags, f)
		if err != nil {
			result = multierror.Append(result, cerr.Wrapf(err, "flag --%s", f.Name))
			return
		}
		out[key] = val
	})
	return out, result
}

func flagValue(flags *pflag.FlagSet, f *pflag.Flag) (any, error) {
	switch f.Value.Type() {
	case "bool":
		return flags.GetBool(f.Name)
	case "int":
		return flags.GetInt(f.Name)
	case "float64":
		return flags.GetFloat64(f.Name)
	case "stringSlice":
		return flags.GetStringSlice(f.Name)
	default:
		return f.Value.String(), nil
	}
}

// GetStringOrEmpty returns the string value or empty string if error.
// For required flags, use Cobra's built-in validation instead.
func GetStringOrEmpty(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to get flag %s: %v\n", name, err)
		return ""
	}
	return val
}
