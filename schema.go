package sbpgate

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Command envelopes are validated against these schemas before anything is
// sent. A schema rejection means the command would have been refused by the
// gateway anyway; failing locally keeps the wire clean and the error crisp.
var commandSchemas = map[CommandKind]string{
	CommandQRDynamicCreate: `{
		"type": "object",
		"required": ["kind", "command"],
		"properties": {
			"kind": {"const": "qr_dynamic_create"},
			"command": {
				"type": "object",
				"required": ["key", "amount", "purpose", "ttl"],
				"properties": {
					"key": {"type": "string", "minLength": 36, "maxLength": 36},
					"amount": {"type": "integer", "minimum": 1},
					"purpose": {"type": "string", "minLength": 1},
					"redirectUrl": {"type": "string"},
					"ttl": {"type": "integer", "minimum": 1},
					"domain": {"type": "object"}
				}
			}
		}
	}`,
	CommandQRDynamicStatusRead: `{
		"type": "object",
		"required": ["kind", "command"],
		"properties": {
			"kind": {"const": "qr_dynamic_status_read"},
			"command": {
				"type": "object",
				"required": ["qrId"],
				"properties": {"qrId": {"type": "string", "minLength": 1}}
			}
		}
	}`,
	CommandQRDynamicCancel: `{
		"type": "object",
		"required": ["kind", "command"],
		"properties": {
			"kind": {"const": "qr_dynamic_cancel"},
			"command": {
				"type": "object",
				"required": ["qrId"],
				"properties": {"qrId": {"type": "string", "minLength": 1}}
			}
		}
	}`,
	CommandRefundCreate: `{
		"type": "object",
		"required": ["kind", "command"],
		"properties": {
			"kind": {"const": "refund_create"},
			"command": {
				"type": "object",
				"required": ["key", "qrId", "amount", "ttl"],
				"properties": {
					"key": {"type": "string", "minLength": 36, "maxLength": 36},
					"qrId": {"type": "string", "minLength": 1},
					"amount": {"type": "integer", "minimum": 1},
					"ttl": {"type": "integer", "minimum": 1}
				}
			}
		}
	}`,
	CommandRefundStatusRead: `{
		"type": "object",
		"required": ["kind", "command"],
		"properties": {
			"kind": {"const": "refund_status_read"},
			"command": {
				"type": "object",
				"required": ["refundId"],
				"properties": {"refundId": {"type": "string", "minLength": 1}}
			}
		}
	}`,
}

var (
	schemaOnce     sync.Once
	schemaCompiled map[CommandKind]*gojsonschema.Schema
	schemaErr      error
)

func compiledSchemas() (map[CommandKind]*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schemaCompiled = make(map[CommandKind]*gojsonschema.Schema, len(commandSchemas))
		for kind, src := range commandSchemas {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
			if err != nil {
				schemaErr = fmt.Errorf("failed to compile %s schema: %w", kind, err)
				return
			}
			schemaCompiled[kind] = schema
		}
	})
	return schemaCompiled, schemaErr
}

// ValidateCommandJSON validates a command envelope against the schema for
// its kind. Violations are reported with code ErrCodeInvalidCommand.
func ValidateCommandJSON(kind CommandKind, envelope []byte) error {
	schemas, err := compiledSchemas()
	if err != nil {
		return err
	}
	schema, ok := schemas[kind]
	if !ok {
		return Errorf(ErrCodeInvalidCommand, "unknown command kind: %s", kind)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(envelope))
	if err != nil {
		return Errorf(ErrCodeInvalidCommand, "command validation failed: %v", err)
	}
	if result.Valid() {
		return nil
	}

	var reasons []string
	for _, desc := range result.Errors() {
		reasons = append(reasons, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return NewError(ErrCodeInvalidCommand,
		fmt.Sprintf("%s command is invalid: %s", kind, strings.Join(reasons, "; ")),
		map[string]interface{}{"violations": reasons})
}
