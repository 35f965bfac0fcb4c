package toolkit

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest describes which toolkits the manager should load and under
// which restrictions.
type Manifest struct {
	ToolkitDir string                   `yaml:"toolkitDir"`
	Defaults   Policy                   `yaml:"defaults"`
	Toolkits   map[string]ToolkitConfig `yaml:"toolkits"`
}

// ToolkitConfig is the configuration block for a single toolkit instance.
type ToolkitConfig struct {
	Enabled bool           `yaml:"enabled"`
	Path    string         `yaml:"path"`
	Config  map[string]any `yaml:"config"`
	Policy  *Policy        `yaml:"policy"`
}

// Policy governs the security restrictions enforced for a toolkit.
type Policy struct {
	AllowedCapabilities []Capability `yaml:"allowedCapabilities"`
	DeniedCapabilities  []Capability `yaml:"deniedCapabilities"`
}

// Merge returns a new policy using values from other when not present.
func (p Policy) Merge(other Policy) Policy {
	if len(p.AllowedCapabilities) == 0 {
		p.AllowedCapabilities = other.AllowedCapabilities
	}
	if len(p.DeniedCapabilities) == 0 {
		p.DeniedCapabilities = other.DeniedCapabilities
	}
	return p
}

// LoadManifest reads a YAML file into a Manifest.
func LoadManifest(path string) (Manifest, error) {
	var manifest Manifest
	if path == "" {
		return manifest, errors.New("manifest path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return manifest, fmt.Errorf("read toolkit manifest: %w", err)
	}
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return manifest, fmt.Errorf("unmarshal toolkit manifest: %w", err)
	}
	if manifest.Toolkits == nil {
		manifest.Toolkits = map[string]ToolkitConfig{}
	}
	return manifest, nil
}

// Validate ensures the manifest is internally consistent.
func (m Manifest) Validate() error {
	for id, tk := range m.Toolkits {
		if id == "" {
			return errors.New("toolkit id cannot be empty")
		}
		if !tk.Enabled {
			continue
		}
		if tk.Path == "" {
			return fmt.Errorf("toolkit %s path cannot be empty when enabled", id)
		}
	}
	return nil
}
