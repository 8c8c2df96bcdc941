// pkg/interaction/reader.go

package interaction

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// ReadLine writes label to out and returns a trimmed line from reader.
// Prompts go to stderr in normal use so stdout stays clean for the report.
func ReadLine(ctx context.Context, reader *bufio.Reader, out io.Writer, label string) (string, error) {
	logger := otelzap.Ctx(ctx)
	logger.Debug("Prompting user for input", zap.String("label", label))

	_, _ = fmt.Fprint(out, label+": ")

	text, err := reader.ReadString('\n')
	if err != nil && !(err == io.EOF && text != "") {
		logger.Debug("Failed to read user input", zap.Error(err))
		return "", err
	}

	value := strings.TrimSpace(text)
	logger.Debug("User input received", zap.String("value", value))
	return value, nil
}
