package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWithOutput_Level(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("warn", &buf)

	log.Info("hidden")
	log.Warn("shown", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "key=value")
	assert.Contains(t, out, "readaloud")
}

func TestNewWithOutput_UnknownLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("loud", &buf)

	log.Debug("debug line")
	log.Info("info line")

	assert.NotContains(t, buf.String(), "debug line")
	assert.Contains(t, buf.String(), "info line")
}

func TestOrNull(t *testing.T) {
	assert.NotNil(t, OrNull(nil))

	l := NewWithOutput("info", &bytes.Buffer{})
	assert.Equal(t, l, OrNull(l))
}
