package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CapabilityEntry is one capability declared in a capability file.
type CapabilityEntry struct {
	ID         string         `yaml:"id"`
	Attributes map[string]any `yaml:"attributes,omitempty"`
}

// CapabilitiesFile mirrors the capability part of the server configuration.
type CapabilitiesFile struct {
	Capabilities        []CapabilityEntry `yaml:"capabilities"`
	EnforceDynamicTheme bool              `yaml:"enforce_dynamic_theme"`
	Disabled            []string          `yaml:"disabled"`
}

type rawCapabilitiesFile struct {
	Capabilities        []any    `yaml:"capabilities"`
	EnforceDynamicTheme bool     `yaml:"enforce_dynamic_theme"`
	Disabled            []string `yaml:"disabled"`
}

// ParseCapabilities parses a capability file. Entries may be bare ids or
// {id, attributes} maps.
func ParseCapabilities(data []byte) (*CapabilitiesFile, error) {
	if len(data) == 0 {
		return &CapabilitiesFile{}, nil
	}
	if err := validateConfigSchema("capabilities", capabilitiesSchemaFile, data); err != nil {
		return nil, err
	}
	var raw rawCapabilitiesFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse capabilities: %w", err)
	}
	out := &CapabilitiesFile{
		EnforceDynamicTheme: raw.EnforceDynamicTheme,
		Disabled:            raw.Disabled,
	}
	for i, item := range raw.Capabilities {
		entry, err := parseCapabilityEntry(item)
		if err != nil {
			return nil, fmt.Errorf("capabilities[%d]: %w", i, err)
		}
		out.Capabilities = append(out.Capabilities, entry)
	}
	return out, nil
}

func parseCapabilityEntry(item any) (CapabilityEntry, error) {
	switch v := item.(type) {
	case string:
		if id := strings.TrimSpace(v); id != "" {
			return CapabilityEntry{ID: id}, nil
		}
	case map[string]any:
		id, _ := v["id"].(string)
		id = strings.TrimSpace(id)
		if id == "" {
			break
		}
		entry := CapabilityEntry{ID: id}
		if attrs, ok := v["attributes"].(map[string]any); ok {
			entry.Attributes = attrs
		}
		return entry, nil
	}
	return CapabilityEntry{}, errors.New("capability id required")
}

// LoadCapabilities reads a YAML capability file.
func LoadCapabilities(path string) (*CapabilitiesFile, error) {
	if path == "" {
		return nil, errors.New("capabilities path is empty")
	}
	// #nosec G304 -- capability file path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capabilities %s: %w", path, err)
	}
	file, err := ParseCapabilities(data)
	if err != nil {
		return nil, fmt.Errorf("load capabilities %s: %w", path, err)
	}
	return file, nil
}
