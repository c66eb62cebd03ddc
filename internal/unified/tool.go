package unified

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/mihaisavezi/llmgateway/internal/gwerr"
)

// ValidateTools rejects a malformed tool definition before it ever reaches
// a provider template: every Tool needs a name, and a non-nil Parameters
// schema must itself round-trip through JSON (the check jsonschema-go's own
// helpers use, see ca-x-nekobot's schemaToMap).
func ValidateTools(tools []Tool) *gwerr.Error {
	for i, t := range tools {
		if t.Name == "" {
			return gwerr.New(gwerr.InvalidArgument, "tools[%d]: name must be non-empty", i)
		}

		if t.Parameters == nil {
			continue
		}

		if _, err := json.Marshal(t.Parameters); err != nil {
			return gwerr.Wrap(gwerr.InvalidArgument, err, "tools[%d] (%s): invalid parameters schema", i, t.Name)
		}
	}

	return nil
}

// ObjectSchema builds a simple object-typed schema from a property map,
// the common shape for tool parameters. Provided as a
// convenience for hosts that assemble tool definitions programmatically
// instead of decoding one from JSON.
func ObjectSchema(properties map[string]*jsonschema.Schema, required []string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}
