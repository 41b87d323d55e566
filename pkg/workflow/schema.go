package workflow

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/relaydesk/switchboard/pkg/domain"
)

// definitionSchema is the JSON Schema every workflow document must satisfy
// before type-specific decoding runs.
const definitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "startNodeId", "nodes"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "startNodeId": {"type": "string", "minLength": 1},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"enum": ["message", "input", "tool", "decision", "subworkflow"]},
          "edges": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["target"],
              "properties": {
                "label": {"type": "string"},
                "target": {"type": "string", "minLength": 1}
              }
            }
          }
        }
      }
    }
  }
}`

var compiledSchema = gojsonschema.NewStringLoader(definitionSchema)

// checkSchema validates the raw document bytes against definitionSchema.
func checkSchema(workflowID string, raw []byte) error {
	result, err := gojsonschema.Validate(compiledSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return &domain.InvalidWorkflowError{
			WorkflowID: workflowID,
			Reason:     fmt.Sprintf("schema validation failed: %v", err),
		}
	}
	if result.Valid() {
		return nil
	}

	reasons := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		reasons = append(reasons, e.String())
	}
	return &domain.InvalidWorkflowError{
		WorkflowID: workflowID,
		Reason:     strings.Join(reasons, "; "),
	}
}
