package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Response schemas for the structured operations. is_skill, is_workflow, and
// the action_type enumeration are hard requirements; the rest is kept loose
// enough that a verbose model does not fail validation on extra keys.
const (
	skillSchemaJSON = `{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"name": {"type": "string"},
			"description": {"type": "string"},
			"steps": {"type": "array", "items": {"type": "string"}},
			"app": {"type": "string"},
			"triggers": {"type": "array", "items": {"type": "string"}},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1},
			"is_skill": {"type": "boolean"}
		},
		"required": ["name", "description", "steps", "app", "triggers", "confidence", "is_skill"]
	}`

	segmentSchemaJSON = `{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"description": {"type": "string"},
			"tags": {"type": "array", "items": {"type": "string"}},
			"parameters": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"name": {"type": "string"},
						"description": {"type": "string"},
						"step_index": {"type": "integer"}
					},
					"required": ["name", "description", "step_index"]
				}
			},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1},
			"is_workflow": {"type": "boolean"}
		},
		"required": ["name", "description", "tags", "confidence", "is_workflow"]
	}`

	actionSchemaJSON = `{
		"type": "object",
		"properties": {
			"action_type": {
				"type": "string",
				"enum": ["click", "right_click", "text_input", "key_shortcut", "wait", "done"]
			},
			"target_description": {"type": "string"},
			"x": {"type": "number"},
			"y": {"type": "number"},
			"text": {"type": "string"},
			"keycode": {"type": "integer"},
			"flags": {"type": "integer"},
			"modifiers": {"type": "array", "items": {"type": "string"}},
			"reasoning": {"type": "string"},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1}
		},
		"required": ["action_type", "reasoning", "confidence"]
	}`

	verifySchemaJSON = `{
		"type": "object",
		"properties": {
			"success": {"type": "boolean"},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1},
			"reasoning": {"type": "string"}
		},
		"required": ["success", "reasoning"]
	}`

	goalSchemaJSON = `{
		"type": "object",
		"properties": {
			"achieved": {"type": "boolean"},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1},
			"reasoning": {"type": "string"}
		},
		"required": ["achieved", "confidence", "reasoning"]
	}`

	visionSchemaJSON = `{
		"type": "object",
		"properties": {
			"x": {"type": "number"},
			"y": {"type": "number"},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1},
			"description": {"type": "string"}
		},
		"required": ["x", "y", "confidence"]
	}`
)

var (
	skillSchema   = mustCompileSchema("extracted_skill.json", skillSchemaJSON)
	segmentSchema = mustCompileSchema("segment_analysis.json", segmentSchemaJSON)
	actionSchema  = mustCompileSchema("action_choice.json", actionSchemaJSON)
	verifySchema  = mustCompileSchema("verify_result.json", verifySchemaJSON)
	goalSchema    = mustCompileSchema("goal_result.json", goalSchemaJSON)
	visionSchema  = mustCompileSchema("vision_hit.json", visionSchemaJSON)
)

func mustCompileSchema(name, text string) *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	schema, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return schema
}

// validateAgainst unfences the raw completion, checks it against the schema,
// and returns the JSON bytes ready for decoding.
func validateAgainst(schema *jsonschema.Schema, raw string) ([]byte, error) {
	text := unfence(raw)
	var inst any
	if err := json.Unmarshal([]byte(text), &inst); err != nil {
		return nil, err
	}
	if err := schema.Validate(inst); err != nil {
		return nil, err
	}
	return []byte(text), nil
}

// unfence strips a Markdown code fence from around a completion. Models
// sometimes wrap JSON in ```json blocks even when asked not to.
func unfence(s string) string {
	t := strings.TrimSpace(s)
	i := strings.Index(t, "```")
	if i < 0 {
		return t
	}
	t = t[i+3:]
	t = strings.TrimPrefix(t, "json")
	if j := strings.Index(t, "```"); j >= 0 {
		t = t[:j]
	}
	return strings.TrimSpace(t)
}
