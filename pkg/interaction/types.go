/* pkg/interaction/types.go */

package interaction

// Confirmable is anything that can summarise itself for a confirmation prompt.
type Confirmable interface {
	Summary() string
}

const (
	DefaultYesPrompt = "Y/n"
	DefaultNoPrompt  = "y/N"
)

const (
	YesShort = "y"
	YesLong  = "yes"
	NoShort  = "n"
	NoLong   = "no"
)
