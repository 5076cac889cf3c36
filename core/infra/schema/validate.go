// Package schema validates decoded YAML/JSON documents against JSON Schemas.
package schema

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a compiled JSON Schema.
type Schema struct {
	id       string
	compiled *jsonschema.Schema
}

// ID returns the resource id the schema was compiled under.
func (s *Schema) ID() string { return s.id }

// Validate checks value, which may also be raw JSON bytes.
func (s *Schema) Validate(value any) error {
	payload, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("normalize payload: %w", err)
	}
	if err := s.compiled.Validate(payload); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// Compile parses a schema document.
func Compile(id string, schema []byte) (*Schema, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("schema is empty")
	}
	resourceID := schemaID(id)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{id: resourceID, compiled: compiled}, nil
}

// cache holds compiled schemas by id and content hash. Config files are
// re-validated on every reload, the embedded schemas never change.
var cache sync.Map

// ValidateSchema validates value against a schema payload, compiling it once
// per id and content.
func ValidateSchema(id string, schema []byte, value any) error {
	if len(schema) == 0 {
		return fmt.Errorf("schema is empty")
	}
	sum := sha256.Sum256(schema)
	key := id + "@" + hex.EncodeToString(sum[:])
	if cached, ok := cache.Load(key); ok {
		return cached.(*Schema).Validate(value)
	}
	compiled, err := Compile(id, schema)
	if err != nil {
		return err
	}
	cache.Store(key, compiled)
	return compiled.Validate(value)
}

func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		var out any
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return out, nil
	case []byte:
		var out any
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return out, nil
	default:
		return value, nil
	}
}

func schemaID(id string) string {
	if id == "" {
		id = "schema"
	}
	return "inmemory://" + id
}
