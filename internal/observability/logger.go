// Package observability holds the process logger and Prometheus collectors.
package observability

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger. Format "json" writes raw JSON lines, anything else
// uses the console writer.
func NewLogger(level, format string) (zerolog.Logger, error) {
	return newLogger(os.Stderr, level, format)
}

func newLogger(out io.Writer, level, format string) (zerolog.Logger, error) {
	parsedLevel, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("failed to parse log level: %w", err)
	}

	output := out
	if !strings.EqualFold(strings.TrimSpace(format), "json") {
		output = zerolog.ConsoleWriter{Out: out}
	}

	return zerolog.New(output).Level(parsedLevel).With().Timestamp().Logger(), nil
}
