package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"scriptroom/internal/script"
)

// snapshotSchema describes the shared document every participant publishes.
const snapshotSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["scripts"],
  "properties": {
    "scripts": {
      "type": "array",
      "items": { "$ref": "#/definitions/script" }
    }
  },
  "definitions": {
    "script": {
      "type": "object",
      "required": ["id", "name", "code", "createdAt", "updatedAt", "runAt"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "name": { "type": "string" },
        "author": { "type": "string" },
        "url": { "type": "string" },
        "description": { "type": "string" },
        "version": { "type": "string" },
        "language": { "enum": ["", "javascript", "lua"] },
        "code": { "type": "string" },
        "parameters": {
          "type": ["array", "null"],
          "items": { "$ref": "#/definitions/parameter" }
        },
        "createdAt": { "type": "number" },
        "updatedAt": { "type": "number" },
        "runAt": { "type": "number" }
      }
    },
    "parameter": {
      "type": "object",
      "required": ["name", "type"],
      "properties": {
        "name": { "type": "string" },
        "description": { "type": "string" },
        "type": { "enum": ["boolean", "string", "number", "EntityRef", "EntityRefList"] }
      }
    }
  }
}`

var snapshotLoader = gojsonschema.NewStringLoader(snapshotSchema)

// decodeSnapshot validates doc against snapshotSchema and decodes it. An
// empty document is an empty container.
func decodeSnapshot(doc []byte) (script.Container, error) {
	if len(doc) == 0 {
		return script.Container{Scripts: []script.Stored{}}, nil
	}

	result, err := gojsonschema.Validate(snapshotLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return script.Container{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if !result.Valid() {
		var msg strings.Builder
		for _, desc := range result.Errors() {
			fmt.Fprintf(&msg, "- %s\n", desc)
		}
		return script.Container{}, fmt.Errorf("%w:\n%s", ErrInvalidSnapshot, msg.String())
	}

	var c script.Container
	if err := json.Unmarshal(doc, &c); err != nil {
		return script.Container{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if c.Scripts == nil {
		c.Scripts = []script.Stored{}
	}
	return c, nil
}
