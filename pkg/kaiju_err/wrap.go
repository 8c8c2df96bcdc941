// pkg/kaiju_err/wrap.go

package kaiju_err

import (
	cerr "github.com/cockroachdb/errors"
)

// WithHint attaches a user-facing hint and a stack trace without changing the category.
func WithHint(err error, hint string) error {
	if err == nil {
		return nil
	}
	return cerr.WithHint(cerr.WithStack(err), hint)
}

// Hints returns every hint attached anywhere in the chain plus classified remediation.
func Hints(err error) []string {
	if err == nil {
		return nil
	}
	hints := cerr.GetAllHints(err)
	return append(hints, Remediation(err)...)
}
