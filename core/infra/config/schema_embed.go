package config

import "embed"

const (
	capabilitiesSchemaFile = "schema/capabilities.schema.json"
	manifestSchemaFile     = "schema/manifest.schema.json"
)

//go:embed schema/*.json
var configSchemaFS embed.FS
