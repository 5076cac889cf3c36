package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest declares points, toolbar links and actions in YAML. Behaviour is
// bound by handler name at registration time; the file holds no code.
type Manifest struct {
	Points  []PointSpec           `yaml:"points"`
	Links   map[string][]LinkSpec `yaml:"links"`
	Actions []ActionSpec          `yaml:"actions"`
}

// PointSpec declares a point, the handler kinds its extensions must
// implement, and its extensions.
type PointSpec struct {
	ID         string          `yaml:"id"`
	Require    []string        `yaml:"require"`
	Extensions []ExtensionSpec `yaml:"extensions"`
}

// ExtensionSpec declares one extension. Handlers maps a kind (render, draw,
// action, perform, setup) to a registered handler name.
type ExtensionSpec struct {
	ID           string            `yaml:"id"`
	Index        *int              `yaml:"index"`
	Before       string            `yaml:"before"`
	After        string            `yaml:"after"`
	Group        string            `yaml:"group"`
	Capabilities string            `yaml:"capabilities"`
	Device       string            `yaml:"device"`
	Handlers     map[string]string `yaml:"handlers"`
}

// LinkSpec declares a toolbar/menu link that references an action.
type LinkSpec struct {
	ID           string `yaml:"id"`
	Index        *int   `yaml:"index"`
	Before       string `yaml:"before"`
	After        string `yaml:"after"`
	Action       string `yaml:"action"`
	Prio         string `yaml:"prio"`
	Section      string `yaml:"section"`
	Label        string `yaml:"label"`
	Icon         string `yaml:"icon"`
	Toggle       bool   `yaml:"toggle"`
	Capabilities string `yaml:"capabilities"`
	Device       string `yaml:"device"`
}

// ActionSpec declares an action. Matches, MatchesAsync and Perform name
// registered handlers.
type ActionSpec struct {
	ID           string `yaml:"id"`
	Capabilities string `yaml:"capabilities"`
	Device       string `yaml:"device"`
	Collection   string `yaml:"collection"`
	Matches      string `yaml:"matches"`
	MatchesAsync string `yaml:"matches_async"`
	Perform      string `yaml:"perform"`
}

// ParseManifest parses and validates manifest bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, errors.New("manifest is empty")
	}
	if err := validateConfigSchema("manifest", manifestSchemaFile, data); err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Links == nil {
		m.Links = map[string][]LinkSpec{}
	}
	return &m, nil
}

// LoadManifest reads a YAML manifest file.
func LoadManifest(path string) (*Manifest, error) {
	if path == "" {
		return nil, errors.New("manifest path is empty")
	}
	// #nosec G304 -- manifest path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("load manifest %s: %w", path, err)
	}
	return m, nil
}
