package logger

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newBufferLogger(level string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(level)
	l.out = log.New(&buf, "", 0)
	return l, &buf
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLogLevel("debug"))
	assert.Equal(t, WARN, ParseLogLevel("warning"))
	assert.Equal(t, ERROR, ParseLogLevel("ERROR"))
	assert.Equal(t, INFO, ParseLogLevel("bogus"))
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newBufferLogger("WARN")

	l.Info("hidden %d", 1)
	l.Warn("shown %d", 2)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[WARN] shown 2")
}

func TestWithTagsComponent(t *testing.T) {
	l, buf := newBufferLogger("DEBUG")

	child := l.With("tv:1399").With("VidEasy")
	child.Debug("probing")

	assert.Contains(t, buf.String(), "[DEBUG] [tv:1399 VidEasy] probing")
	assert.Equal(t, "DEBUG", child.GetLevel())
}
