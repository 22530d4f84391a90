package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/scriptdbg/internal/logging"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "SCRIPTDBG_"

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete scriptdbg configuration.
type Config struct {
	Logging  LoggingConfig  `toml:"logging"`
	Debugger DebuggerConfig `toml:"debugger"`
	Eval     EvalConfig     `toml:"eval"`
	Watch    WatchConfig    `toml:"watch"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// DebuggerConfig configures pause behavior.
type DebuggerConfig struct {
	// PauseOnThrow is one of none, uncaught or all.
	PauseOnThrow      string `toml:"pause_on_throw"`
	PauseOnScriptLoad bool   `toml:"pause_on_script_load"`
	// BreakpointsFile is loaded before the run and saved after it.
	BreakpointsFile string `toml:"breakpoints_file"`
}

// EvalConfig configures the expression evaluator.
type EvalConfig struct {
	Timeout Duration `toml:"timeout"`
}

// WatchConfig configures script reloading.
type WatchConfig struct {
	Enabled  bool     `toml:"enabled"`
	Debounce Duration `toml:"debounce"`
}

// Duration is a time.Duration written as a string ("2s", "150ms").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info"},
		Debugger: DebuggerConfig{PauseOnThrow: "all"},
		Eval:     EvalConfig{Timeout: Duration{2 * time.Second}},
		Watch:    WatchConfig{Debounce: Duration{100 * time.Millisecond}},
	}
}

// Validate checks enumerated and numeric settings.
func (c Config) Validate() error {
	var errs []error
	if !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("%w: logging.level %q", ErrInvalid, c.Logging.Level))
	}
	switch strings.ToLower(c.Debugger.PauseOnThrow) {
	case "", "none", "uncaught", "all":
	default:
		errs = append(errs, fmt.Errorf("%w: debugger.pause_on_throw %q", ErrInvalid, c.Debugger.PauseOnThrow))
	}
	if c.Eval.Timeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("%w: eval.timeout must be positive", ErrInvalid))
	}
	if c.Watch.Debounce.Duration < 0 {
		errs = append(errs, fmt.Errorf("%w: watch.debounce must not be negative", ErrInvalid))
	}
	return errors.Join(errs...)
}
