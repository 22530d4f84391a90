package breakpoint

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// persistedBreakpoint is the on-disk form of a breakpoint. IDs are not
// stored; loading assigns fresh ones.
type persistedBreakpoint struct {
	Location  `yaml:",inline"`
	Condition string `yaml:"condition,omitempty"`
	Enabled   bool   `yaml:"enabled"`
}

// persistedBreakpoints is the format for persisted breakpoints.
type persistedBreakpoints struct {
	Version     int                   `yaml:"version"`
	Breakpoints []persistedBreakpoint `yaml:"breakpoints"`
}

// Save writes all breakpoints to path.
func (r *Registry) Save(path string) error {
	data := persistedBreakpoints{Version: 1}
	for _, info := range r.List() {
		data.Breakpoints = append(data.Breakpoints, persistedBreakpoint{
			Location:  info.Location,
			Condition: info.Condition,
			Enabled:   info.Enabled,
		})
	}

	content, err := yaml.Marshal(&data)
	if err != nil {
		return fmt.Errorf("marshal breakpoints: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Load recreates the breakpoints stored at path and returns their new ids.
// A missing file loads nothing. Entries that collide with an existing
// breakpoint are skipped.
func (r *Registry) Load(path string) ([]ID, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read file: %w", err)
	}

	var data persistedBreakpoints
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("unmarshal breakpoints: %w", err)
	}
	if data.Version != 1 {
		return nil, fmt.Errorf("unsupported breakpoint file version %d", data.Version)
	}

	var ids []ID
	for _, pb := range data.Breakpoints {
		id := r.Create(pb.Location)
		if !id.Valid() {
			r.log.Warn("skipping duplicate breakpoint at %s", pb.Location)
			continue
		}
		if pb.Condition != "" {
			_ = r.SetCondition(id, pb.Condition)
		}
		if !pb.Enabled {
			_ = r.Enable(id, false)
		}
		ids = append(ids, id)
	}
	r.log.Info("loaded %d breakpoints from %s", len(ids), path)
	return ids, nil
}
