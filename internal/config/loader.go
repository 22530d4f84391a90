package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// FileSystem abstracts file reads so tests can use an in-memory tree.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
}

// OSFS implements FileSystem using the real OS file system.
type OSFS struct{}

// ReadFile reads the entire file at path.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// ParseError reports a malformed configuration file.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Loader builds a Config from defaults, a TOML file and the environment.
type Loader struct {
	fs      FileSystem
	environ func() []string
	mapping map[string]string
}

// NewLoader creates a loader reading from the OS.
func NewLoader() *Loader {
	return &Loader{
		fs:      OSFS{},
		environ: os.Environ,
		mapping: defaultEnvMapping(),
	}
}

// NewLoaderWith creates a loader over a custom file system and
// environment.
func NewLoaderWith(fsys FileSystem, environ func() []string) *Loader {
	return &Loader{
		fs:      fsys,
		environ: environ,
		mapping: defaultEnvMapping(),
	}
}

// Load returns Default overridden by the file at path (if any) and then by
// the environment. An empty path or a missing file is not an error.
func (l *Loader) Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := l.loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := l.applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (l *Loader) loadFile(path string, cfg *Config) error {
	data, err := l.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	return decode(path, data, cfg)
}

// decode overlays TOML data onto cfg; keys absent from data keep their
// current values.
func decode(source string, data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return &ParseError{Path: source, Err: err}
	}
	return nil
}
