// Package schema validates tool inputs/outputs and prompt arguments against
// JSON Schema documents, wrapping github.com/xeipuuv/gojsonschema. The
// registries' schemas use the subset type, properties, required, enum,
// default and items; the schema document is passed to gojsonschema whole,
// so any other keyword it contains is enforced too.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError is the first schema violation encountered, carrying a
// JSON-pointer-style path and a human-readable reason.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Validate checks value against schemaDoc and returns the first violation,
// or nil if value conforms. Neither value nor schemaDoc are mutated.
func Validate(value any, schemaDoc map[string]any) *ValidationError {
	schemaLoader := gojsonschema.NewGoLoader(schemaDoc)
	docLoader := gojsonschema.NewGoLoader(value)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return &ValidationError{Path: "", Reason: err.Error()}
	}
	if result.Valid() {
		return nil
	}

	first := result.Errors()[0]
	path := first.Field()
	if path == "(root)" {
		path = ""
	}
	return &ValidationError{Path: path, Reason: first.Description()}
}

// PromptArgument describes one argument accepted by a prompt, for the
// prompts/list result.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ExtractPromptArguments walks a schema's top-level properties/required
// lists and returns one PromptArgument per property.
func ExtractPromptArguments(schemaDoc map[string]any) []PromptArgument {
	props, _ := schemaDoc["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}

	required := map[string]bool{}
	if list, ok := schemaDoc["required"].([]any); ok {
		for _, r := range list {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	args := make([]PromptArgument, 0, len(props))
	for name, raw := range props {
		arg := PromptArgument{Name: name, Required: required[name]}
		if propDoc, ok := raw.(map[string]any); ok {
			if desc, ok := propDoc["description"].(string); ok {
				arg.Description = desc
			}
		}
		args = append(args, arg)
	}
	sort.Slice(args, func(i, j int) bool { return args[i].Name < args[j].Name })
	return args
}

// DecodeSchemaDoc unmarshals a raw JSON Schema document (as carried on a
// tool/prompt registration) into the map[string]any form Validate and
// ExtractPromptArguments expect.
func DecodeSchemaDoc(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema: decode schema document: %w", err)
	}
	return doc, nil
}
