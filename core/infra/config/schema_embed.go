package config

import "embed"

const editorSchemaFile = "schema/editor.schema.json"

//go:embed schema/*.json
var configSchemaFS embed.FS
