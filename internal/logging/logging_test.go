package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Output: &buf})

	l.Debug("hidden")
	l.Info("hidden too")
	l.Warn("shown %d", 1)
	l.Error("also shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown 1")
	assert.Contains(t, out, "[ERROR] also shown")
}

func TestLogger_FieldsAreSortedAndInherited(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Output: &buf, Prefix: "test"})

	child := l.WithComponent("patch").WithField("addr", "f0+3")
	child.Debug("installed")

	line := strings.TrimSpace(buf.String())
	assert.True(t, strings.HasSuffix(line, "test: installed {addr=f0+3, component=patch}"), line)

	// The parent is unaffected by the child's fields.
	buf.Reset()
	l.Info("plain")
	assert.NotContains(t, buf.String(), "component")
}

func TestLogger_SetLevelAffectsDerived(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelError, Output: &buf})
	child := l.WithComponent("x")

	child.Info("before")
	l.SetLevel(LevelDebug)
	child.Info("after")

	assert.NotContains(t, buf.String(), "before")
	assert.Contains(t, buf.String(), "after")
	assert.True(t, child.Enabled(LevelDebug))
}

func TestNullLogger(t *testing.T) {
	l := OrNull(nil)
	l.Error("nothing")
	assert.False(t, l.Enabled(LevelError))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
	assert.False(t, ValidLevel("bogus"))
	assert.True(t, ValidLevel("warn"))
}
