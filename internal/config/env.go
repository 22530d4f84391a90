package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// defaultEnvMapping returns the environment variable to config path
// mappings.
func defaultEnvMapping() map[string]string {
	return map[string]string{
		"SCRIPTDBG_LOG_LEVEL":            "logging.level",
		"SCRIPTDBG_PAUSE_ON_THROW":       "debugger.pause_on_throw",
		"SCRIPTDBG_PAUSE_ON_SCRIPT_LOAD": "debugger.pause_on_script_load",
		"SCRIPTDBG_BREAKPOINTS_FILE":     "debugger.breakpoints_file",
		"SCRIPTDBG_EVAL_TIMEOUT":         "eval.timeout",
		"SCRIPTDBG_WATCH":                "watch.enabled",
		"SCRIPTDBG_WATCH_DEBOUNCE":       "watch.debounce",
	}
}

// boolPaths are the config paths whose environment values are parsed as
// booleans.
var boolPaths = map[string]bool{
	"debugger.pause_on_script_load": true,
	"watch.enabled":                 true,
}

// applyEnv overlays mapped SCRIPTDBG_* variables onto cfg. Unmapped
// variables with the prefix are ignored.
func (l *Loader) applyEnv(cfg *Config) error {
	overrides := make(map[string]any)
	for _, kv := range l.environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		path, mapped := l.mapping[name]
		if !mapped {
			continue
		}
		v, err := parseValue(path, value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		setByPath(overrides, path, v)
	}
	if len(overrides) == 0 {
		return nil
	}
	data, err := toml.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("encoding environment overrides: %w", err)
	}
	return decode("<environment>", data, cfg)
}

// parseValue converts an environment string for the setting at path.
func parseValue(path, s string) (any, error) {
	if !boolPaths[path] {
		return s, nil
	}
	switch strings.ToLower(s) {
	case "yes", "on":
		return true, nil
	case "no", "off", "":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a boolean", ErrInvalid, s)
	}
	return b, nil
}

// setByPath sets a value in a nested map using a dot-separated path.
func setByPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
