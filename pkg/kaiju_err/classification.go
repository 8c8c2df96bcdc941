// pkg/kaiju_err/classification.go
//
// Error taxonomy for the installer with stable exit codes.
// Every error that leaves a component is one of the four categories below;
// anything else is treated as an execution failure.

package kaiju_err

import (
	"errors"
	"fmt"
	"strings"
)

// Category classifies errors for retry decisions and exit codes.
type Category int

const (
	// CategoryConfig - malformed or out-of-range configuration (exit 3)
	CategoryConfig Category = iota
	// CategoryValidation - host ineligible or below resource minimums (exit 1)
	CategoryValidation
	// CategoryTransient - network timeouts, dpkg lock contention, daemon hiccups (exit 2, retried)
	CategoryTransient
	// CategoryFatal - unsupported operation, permission denied, build syntax failure (exit 2)
	CategoryFatal
)

// Exit codes reported by the CLI.
const (
	ExitSuccess    = 0
	ExitValidation = 1
	ExitExecution  = 2
	ExitConfig     = 3
)

func (c Category) String() string {
	switch c {
	case CategoryConfig:
		return "config"
	case CategoryValidation:
		return "validation"
	case CategoryTransient:
		return "transient"
	case CategoryFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with its category and remediation info.
type ClassifiedError struct {
	Category    Category
	Field       string // offending configuration key, ConfigError only
	Message     string
	Cause       error
	Remediation []string
}

// Error implements the error interface
func (e *ClassifiedError) Error() string {
	var sb strings.Builder

	sb.WriteString(e.Message)
	if e.Cause != nil && e.Cause.Error() != e.Message {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error
func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// ExitCode returns the exit code for this error category
func (e *ClassifiedError) ExitCode() int {
	switch e.Category {
	case CategoryConfig:
		return ExitConfig
	case CategoryValidation:
		return ExitValidation
	default:
		return ExitExecution
	}
}

// ExitCode extracts the exit code from any error.
// Returns 0 for nil and 2 for errors that were never classified.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.ExitCode()
	}
	return ExitExecution
}

// CategoryOf returns the category of err, or CategoryFatal when unclassified.
func CategoryOf(err error) Category {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Category
	}
	return CategoryFatal
}

// ConfigField returns the configuration key named by a ConfigError.
func ConfigField(err error) string {
	var classified *ClassifiedError
	if errors.As(err, &classified) && classified.Category == CategoryConfig {
		return classified.Field
	}
	return ""
}

// NewConfigError reports a bad configuration value for the named key.
func NewConfigError(field, message string, cause error) error {
	return &ClassifiedError{
		Category: CategoryConfig,
		Field:    field,
		Message:  fmt.Sprintf("invalid configuration for %q: %s", field, message),
		Cause:    cause,
		Remediation: []string{
			"Check the value in your config file or on the command line",
			"Run with --show-config to inspect the resolved configuration",
		},
	}
}

// NewValidationError reports a host that cannot be installed on.
func NewValidationError(message string, remediation ...string) error {
	return &ClassifiedError{
		Category:    CategoryValidation,
		Message:     message,
		Remediation: remediation,
	}
}

// NewTransientError marks cause as retryable.
func NewTransientError(message string, cause error) error {
	return &ClassifiedError{
		Category: CategoryTransient,
		Message:  message,
		Cause:    cause,
	}
}

// NewFatalError marks cause as not retryable.
func NewFatalError(message string, cause error, remediation ...string) error {
	return &ClassifiedError{
		Category:    CategoryFatal,
		Message:     message,
		Cause:       cause,
		Remediation: remediation,
	}
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	return err != nil && CategoryOf(err) == CategoryConfig
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	return err != nil && CategoryOf(err) == CategoryValidation
}

// IsRetryable is true only for TransientExecutionError.
func IsRetryable(err error) bool {
	return err != nil && CategoryOf(err) == CategoryTransient
}

// Remediation collects remediation steps from every classified error in the chain.
func Remediation(err error) []string {
	var steps []string
	for err != nil {
		if c, ok := err.(*ClassifiedError); ok {
			steps = append(steps, c.Remediation...)
		}
		err = errors.Unwrap(err)
	}
	return steps
}

// ClassifyOutput infers a category for a failed external command from its
// combined output. Callers fall back to CategoryFatal when nothing matches.
func ClassifyOutput(output string) (Category, bool) {
	out := strings.ToLower(output)

	for _, marker := range transientMarkers {
		if strings.Contains(out, marker) {
			return CategoryTransient, true
		}
	}
	for _, marker := range fatalMarkers {
		if strings.Contains(out, marker) {
			return CategoryFatal, true
		}
	}
	return CategoryFatal, false
}

var transientMarkers = []string{
	"could not get lock",
	"unable to acquire the dpkg frontend lock",
	"is another process using it",
	"temporary failure resolving",
	"temporary failure in name resolution",
	"could not resolve",
	"connection timed out",
	"connection refused",
	"failed to fetch",
	"hash sum mismatch",
	"cannot connect to the docker daemon",
	"try again",
}

var fatalMarkers = []string{
	"permission denied",
	"are you root",
	"a password is required",
	"unable to locate package",
	"has no installation candidate",
	"dockerfile parse error",
	"unknown instruction",
	"not supported",
}
