package config

import (
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memFS is an in-memory file system for testing.
type memFS map[string]string

func (m memFS) ReadFile(path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return []byte(data), nil
}

func env(vars ...string) func() []string {
	return func() []string { return vars }
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "all", cfg.Debugger.PauseOnThrow)
	assert.Equal(t, 2*time.Second, cfg.Eval.Timeout.Duration)
	assert.False(t, cfg.Watch.Enabled)
}

func TestLoad_File(t *testing.T) {
	fsys := memFS{"/scriptdbg.toml": `
[logging]
level = "debug"

[debugger]
pause_on_throw = "uncaught"
pause_on_script_load = true
breakpoints_file = "bps.yaml"

[eval]
timeout = "250ms"
`}
	cfg, err := NewLoaderWith(fsys, env()).Load("/scriptdbg.toml")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "uncaught", cfg.Debugger.PauseOnThrow)
	assert.True(t, cfg.Debugger.PauseOnScriptLoad)
	assert.Equal(t, "bps.yaml", cfg.Debugger.BreakpointsFile)
	assert.Equal(t, 250*time.Millisecond, cfg.Eval.Timeout.Duration)
	// Untouched sections keep their defaults.
	assert.Equal(t, 100*time.Millisecond, cfg.Watch.Debounce.Duration)
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := NewLoaderWith(memFS{}, env()).Load("/nope.toml")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = NewLoaderWith(memFS{}, env()).Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"syntax", "[logging\nlevel = 1"},
		{"unknown key", "[debugger]\nbogus = true"},
		{"bad duration", "[eval]\ntimeout = \"soon\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoaderWith(memFS{"/c.toml": tt.data}, env()).Load("/c.toml")
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, "/c.toml", pe.Path)
		})
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	fsys := memFS{"/c.toml": "[logging]\nlevel = \"warn\"\n[watch]\nenabled = false\n"}
	l := NewLoaderWith(fsys, env(
		"SCRIPTDBG_LOG_LEVEL=error",
		"SCRIPTDBG_WATCH=yes",
		"SCRIPTDBG_WATCH_DEBOUNCE=1s",
		"SCRIPTDBG_PAUSE_ON_THROW=none",
		"SCRIPTDBG_UNMAPPED=ignored",
		"HOME=/root",
	))
	cfg, err := l.Load("/c.toml")
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Logging.Level)
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, time.Second, cfg.Watch.Debounce.Duration)
	assert.Equal(t, "none", cfg.Debugger.PauseOnThrow)
}

func TestLoad_EnvBadBool(t *testing.T) {
	_, err := NewLoaderWith(memFS{}, env("SCRIPTDBG_WATCH=maybe")).Load("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"warning alias", func(c *Config) { c.Logging.Level = "WARNING" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, false},
		{"bad throw mode", func(c *Config) { c.Debugger.PauseOnThrow = "some" }, false},
		{"zero timeout", func(c *Config) { c.Eval.Timeout.Duration = 0 }, false},
		{"negative debounce", func(c *Config) { c.Watch.Debounce.Duration = -time.Second }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestSetByPath(t *testing.T) {
	m := map[string]any{}
	setByPath(m, "a.b", 1)
	setByPath(m, "a.c", 2)
	setByPath(m, "top", 3)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": 1, "c": 2}, "top": 3}, m)
}
