package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/offload/internal/bytesize"
)

// Schema returns the JSON schema of the configuration file, keyed by the
// yaml field names.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "yaml",
		Mapper:                    mapType,
	}

	schema := reflector.Reflect(&Config{})
	schema.Version = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = "offload configuration"
	schema.Description = "Configuration schema for offload"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema: %w", err)
	}
	return data, nil
}

// mapType describes types that decode from strings.
func mapType(t reflect.Type) *jsonschema.Schema {
	switch t {
	case reflect.TypeOf(bytesize.ByteSize(0)):
		return &jsonschema.Schema{
			OneOf: []*jsonschema.Schema{
				{Type: "integer", Minimum: json.Number("0")},
				{Type: "string", Pattern: `^\s*\d+(\.\d+)?\s*([KkMmGg]i?[Bb]?|[Bb])?\s*$`},
			},
			Description: "Byte size such as 4MiB, 512KiB or a byte count",
		}
	case reflect.TypeOf(time.Duration(0)):
		return &jsonschema.Schema{
			Type:        "string",
			Description: "Duration such as 30s, 5m or 1h",
		}
	}
	return nil
}
