package model

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// eventSchemas lists the payload fields each event type must carry.
var eventSchemas = map[EventType]string{
	EventQueued: `{
		"type": "object",
		"required": ["document_name", "document_type"],
		"properties": {
			"document_name": {"type": "string", "minLength": 1},
			"document_type": {"enum": ["pdf", "xlsx"]},
			"file_size_bytes": {"type": "integer", "minimum": 0}
		}
	}`,
	EventExtractionStarted: `{
		"type": "object",
		"required": ["extraction_result_id", "retry_count"],
		"properties": {
			"extraction_result_id": {"type": "string", "minLength": 1},
			"retry_count": {"type": "integer", "minimum": 0},
			"enhanced_ocr": {"type": "boolean"}
		}
	}`,
	EventExtractionCompleted: `{
		"type": "object",
		"required": ["metrics_extracted", "tables_extracted", "avg_confidence"],
		"properties": {
			"metrics_extracted": {"type": "integer", "minimum": 0},
			"tables_extracted": {"type": "integer", "minimum": 0},
			"avg_confidence": {"type": "number", "minimum": 0, "maximum": 1},
			"duration_seconds": {"type": "number", "minimum": 0}
		}
	}`,
	EventValidationCompleted: `{
		"type": "object",
		"required": ["validation_status", "error_count", "warning_count", "requires_manual_review"],
		"properties": {
			"validation_status": {"enum": ["passed", "flagged", "failed"]},
			"error_count": {"type": "integer", "minimum": 0},
			"warning_count": {"type": "integer", "minimum": 0},
			"requires_manual_review": {"type": "boolean"}
		}
	}`,
	EventRetryInitiated: `{
		"type": "object",
		"required": ["retry_count", "enhanced_ocr", "initiated_by"],
		"properties": {
			"retry_count": {"type": "integer", "minimum": 1},
			"enhanced_ocr": {"type": "boolean"},
			"initiated_by": {"type": "string", "minLength": 1}
		}
	}`,
	EventFailed: `{
		"type": "object",
		"required": ["error"],
		"properties": {
			"error": {"type": "string", "minLength": 1},
			"error_type": {"type": "string"},
			"retry_eligible": {"type": "boolean"}
		}
	}`,
}

var (
	compileOnce sync.Once
	compiled    map[EventType]*jsonschema.Schema
	compileErr  error
)

func compileEventSchemas() {
	compiled = make(map[EventType]*jsonschema.Schema, len(eventSchemas))
	compiler := jsonschema.NewCompiler()
	for et, src := range eventSchemas {
		name := "event/" + string(et) + ".json"
		if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
			compileErr = eris.Wrapf(err, "model: add schema %s", et)
			return
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			compileErr = eris.Wrapf(err, "model: compile schema %s", et)
			return
		}
		compiled[et] = schema
	}
}

// ValidateEventData checks that data carries the fields its event type
// requires. Event types without a schema accept any payload.
func ValidateEventData(et EventType, data EventData) error {
	if !et.Valid() {
		return eris.Errorf("model: unknown event type %q", et)
	}
	compileOnce.Do(compileEventSchemas)
	if compileErr != nil {
		return compileErr
	}
	schema, ok := compiled[et]
	if !ok {
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return eris.Wrap(err, "model: marshal event data")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return eris.Wrap(err, "model: unmarshal event data")
	}
	if err := schema.Validate(v); err != nil {
		return eris.Wrapf(err, "model: invalid %s payload", et)
	}
	return nil
}
