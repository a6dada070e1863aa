package logger

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// New creates the application logger at the given level.
// Unknown levels fall back to info.
func New(level string) hclog.Logger {
	return NewWithOutput(level, os.Stderr)
}

// NewWithOutput creates a logger writing to out.
func NewWithOutput(level string, out io.Writer) hclog.Logger {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:   "readaloud",
		Level:  lvl,
		Output: out,
	})
}

// OrNull returns l, or a logger that discards everything when l is nil.
func OrNull(l hclog.Logger) hclog.Logger {
	if l == nil {
		return hclog.NewNullLogger()
	}
	return l
}
