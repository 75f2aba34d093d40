package config

import "github.com/invopop/jsonschema"

// Schema reflects Document into a JSON Schema for editor tooling.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(new(Document))
	schema.Title = "HUD definition"
	schema.Description = "Validates listeners, layouts and popups in " + DefaultPath
	return schema
}
