// pkg/interaction/prompt.go

package interaction

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/shared"
)

// Prompter asks the operator questions. The zero value is not usable; use
// NewPrompter or fill in every field.
type Prompter struct {
	In  io.Reader
	Out io.Writer
	// Interactive is false when stdin is not a terminal.
	Interactive bool
}

// NewPrompter reads from stdin and prompts on stderr.
func NewPrompter() *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stderr, Interactive: IsTerminal(os.Stdin)}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// PromptYesNo asks a yes/no question. Empty or unrecognised answers take
// the default. Without a terminal it returns shared.ErrNotTTY.
func (p *Prompter) PromptYesNo(ctx context.Context, prompt string, defaultYes bool) (bool, error) {
	logger := otelzap.Ctx(ctx)
	if !p.Interactive {
		return false, shared.ErrNotTTY
	}

	defPrompt := DefaultYesPrompt
	if !defaultYes {
		defPrompt = DefaultNoPrompt
	}
	label := fmt.Sprintf("%s [%s]", prompt, defPrompt)

	input, err := ReadLine(ctx, bufio.NewReader(p.In), p.Out, label)
	if err != nil {
		logger.Warn("Failed to read yes/no input", zap.Error(err))
		return defaultYes, nil
	}

	if answer, ok := NormalizeYesNoInput(input); ok {
		logger.Info("User answered prompt", zap.String("prompt", prompt), zap.Bool("answer", answer))
		return answer, nil
	}

	logger.Info("Default applied", zap.String("prompt", prompt), zap.Bool("default_yes", defaultYes))
	return defaultYes, nil
}

// Confirm prints c's summary and asks whether to go ahead. It defaults to no.
func (p *Prompter) Confirm(ctx context.Context, c Confirmable, question string) (bool, error) {
	if !p.Interactive {
		return false, shared.ErrNotTTY
	}
	_, _ = fmt.Fprintln(p.Out, c.Summary())
	return p.PromptYesNo(ctx, question, false)
}

// NormalizeYesNoInput parses y/yes/n/no in any case. The second result is
// false when the input is neither.
func NormalizeYesNoInput(input string) (bool, bool) {
	switch strings.TrimSpace(strings.ToLower(input)) {
	case YesShort, YesLong:
		return true, true
	case NoShort, NoLong:
		return false, true
	}
	return false, false
}
