package message

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/sessioncore/errors"
)

// JSON Schemas for inbound payloads. Compiled once at package init so
// ParseInbound only pays validation cost per message.
const (
	chatSchema = `{
		"type": "object",
		"properties": {
			"message": {"type": "string", "minLength": 1, "maxLength": 8192},
			"conversation_id": {"type": "string", "maxLength": 128},
			"strategy": {"enum": ["speed_first", "balanced", "quality_first"]}
		},
		"required": ["message"],
		"additionalProperties": false
	}`

	statusRequestSchema = `{
		"type": "object",
		"properties": {
			"request_id": {"type": "string", "maxLength": 128},
			"sections": {
				"type": "array",
				"items": {"type": "string"},
				"maxItems": 32
			}
		},
		"additionalProperties": false
	}`

	pingSchema = `{
		"type": "object",
		"properties": {
			"sent_at": {"type": "string", "format": "date-time"}
		},
		"additionalProperties": false
	}`
)

var inboundSchemas map[Type]*gojsonschema.Schema

func init() {
	inboundSchemas = make(map[Type]*gojsonschema.Schema, 3)
	for typ, raw := range map[Type]string{
		TypeChatMessage:         chatSchema,
		TypeSystemStatusRequest: statusRequestSchema,
		TypePing:                pingSchema,
	} {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			panic("message: invalid schema for " + string(typ) + ": " + err.Error())
		}
		inboundSchemas[typ] = schema
	}
}

// validatePayload checks raw payload bytes against the schema for the
// given inbound type.
func validatePayload(typ Type, data []byte) error {
	schema, ok := inboundSchemas[typ]
	if !ok {
		return errors.WrapInvalid(errors.ErrInvalidData, "Message", "validatePayload",
			"no schema for type "+string(typ))
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errors.WrapInvalid(err, "Message", "validatePayload", "payload is not valid JSON")
	}
	if !result.Valid() {
		descs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			descs = append(descs, e.String())
		}
		return errors.WrapInvalid(errors.ErrInvalidData, "Message", "validatePayload",
			"payload failed schema validation: "+strings.Join(descs, "; "))
	}
	return nil
}
