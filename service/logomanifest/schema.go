package logomanifest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/billboard/errors"
)

// Schema is the JSON schema every fetched manifest must satisfy. Timestamps
// must be RFC 3339 date-times since they decode into time.Time.
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "definitions": {
    "timestamp": {
      "type": "string",
      "format": "date-time",
      "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}T[0-9]{2}:[0-9]{2}:[0-9]{2}(\\.[0-9]+)?(Z|[+-][0-9]{2}:[0-9]{2})$"
    }
  },
  "type": "object",
  "required": ["version", "logos"],
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "lastUpdated": {"$ref": "#/definitions/timestamp"},
    "logos": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "url", "priority"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "url": {"type": "string", "minLength": 1},
          "filename": {"type": "string"},
          "size": {"type": "integer", "minimum": 0},
          "type": {"type": "string"},
          "checksum": {"type": "string"},
          "priority": {"type": "integer"},
          "active": {"type": "boolean"},
          "uploadedAt": {"$ref": "#/definitions/timestamp"}
        }
      }
    },
    "settings": {
      "type": "object",
      "properties": {
        "logoMode": {"type": "string"},
        "logoLoopDuration": {"type": "integer", "minimum": 0},
        "schedules": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["id", "startTime", "endTime"],
            "properties": {
              "id": {"type": "string"},
              "logoIds": {"type": "array", "items": {"type": "string"}},
              "startTime": {"type": "string", "pattern": "^[0-2][0-9]:[0-5][0-9]$"},
              "endTime": {"type": "string", "pattern": "^[0-2][0-9]:[0-5][0-9]$"},
              "days": {"type": "array", "items": {"type": "integer", "minimum": 0, "maximum": 6}},
              "enabled": {"type": "boolean"}
            }
          }
        }
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(Schema))
})

// ValidateDocument checks raw against Schema
func ValidateDocument(raw []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return errors.WrapFatal(err, "LogoManifest", "ValidateDocument", "compile schema")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"LogoManifest", "ValidateDocument", "read manifest")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrSchemaMismatch, strings.Join(msgs, "; ")),
			"LogoManifest", "ValidateDocument", "validate manifest")
	}
	return nil
}
