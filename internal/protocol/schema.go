package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// CleanJSONSchema walks a tool input schema and ensures every nested object
// node carries "type": "object" and has a non-nil "properties" map, the
// structural completeness spec §4.6 requires before a schema is forwarded
// upstream. It mutates and returns a cleaned copy; the original is untouched.
func CleanJSONSchema(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`), nil
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("clean_json_schema: invalid schema json: %w", err)
	}
	cleaned := cleanSchemaNode(schema)
	out, err := json.Marshal(cleaned)
	if err != nil {
		return nil, err
	}
	if err := ValidateJSONSchema(out); err != nil {
		return nil, fmt.Errorf("clean_json_schema: cleaned schema fails validation: %w", err)
	}
	return out, nil
}

func cleanSchemaNode(node map[string]any) map[string]any {
	if node == nil {
		node = map[string]any{}
	}
	typ, hasType := node["type"]
	_, hasProps := node["properties"]
	if hasProps && !hasType {
		node["type"] = "object"
	}
	if typ == "object" || hasProps {
		node["type"] = "object"
		props, ok := node["properties"].(map[string]any)
		if !ok {
			props = map[string]any{}
		}
		cleanedProps := make(map[string]any, len(props))
		for k, v := range props {
			if childMap, ok := v.(map[string]any); ok {
				cleanedProps[k] = cleanSchemaNode(childMap)
			} else {
				cleanedProps[k] = v
			}
		}
		node["properties"] = cleanedProps
	}
	if items, ok := node["items"].(map[string]any); ok {
		node["items"] = cleanSchemaNode(items)
	}
	return node
}

// ValidateJSONSchema confirms raw parses as a structurally valid JSON Schema
// document, used as a guard rail after CleanJSONSchema rather than trusting
// the hand-rolled cleaner alone.
func ValidateJSONSchema(raw json.RawMessage) error {
	compiler := jsonschema.NewCompiler()
	const resource = "tool-schema.json"
	if err := compiler.AddResource(resource, bytes.NewReader(raw)); err != nil {
		return err
	}
	_, err := compiler.Compile(resource)
	return err
}

// InboundToolSpec is the union of the three shapes spec §4.6 accepts for an
// inbound tool definition: OpenAI's {type:function,function:{...}}, the
// Anthropic custom-tool shape, and a flat {name, parameters|input_schema}.
type InboundToolSpec struct {
	Type     string          `json:"type,omitempty"`
	Function *toolFunctionDef `json:"function,omitempty"`
	Custom   *toolFunctionDef `json:"custom,omitempty"`
	Name     string          `json:"name,omitempty"`
	Params   json.RawMessage `json:"parameters,omitempty"`
	Schema   json.RawMessage `json:"input_schema,omitempty"`
}

type toolFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// NormalizeTool accepts any of the three inbound shapes and emits the single
// canonical Tool shape, running the schema through CleanJSONSchema.
func NormalizeTool(spec InboundToolSpec) (Tool, error) {
	var name, description string
	var rawSchema json.RawMessage

	switch {
	case spec.Function != nil:
		name = spec.Function.Name
		description = spec.Function.Description
		rawSchema = firstNonEmpty(spec.Function.Parameters, spec.Function.InputSchema)
	case spec.Custom != nil:
		name = spec.Custom.Name
		description = spec.Custom.Description
		rawSchema = firstNonEmpty(spec.Custom.InputSchema, spec.Custom.Parameters)
	case spec.Name != "":
		name = spec.Name
		rawSchema = firstNonEmpty(spec.Params, spec.Schema)
	default:
		return Tool{}, fmt.Errorf("normalize_tool: unrecognized tool shape")
	}

	cleaned, err := CleanJSONSchema(rawSchema)
	if err != nil {
		return Tool{}, err
	}
	return Tool{Name: name, Description: description, InputSchema: cleaned}, nil
}

func firstNonEmpty(candidates ...json.RawMessage) json.RawMessage {
	for _, c := range candidates {
		if len(c) > 0 {
			return c
		}
	}
	return nil
}

// NormalizeToolChoice maps the inbound {auto,none,required} strings or the
// {type:function,function:{name}} object to the canonical ToolChoice.
// Anything unrecognized degrades to "auto" (with the caller expected to log
// a warning), per spec §4.6.
func NormalizeToolChoice(raw json.RawMessage) *ToolChoice {
	if len(raw) == 0 {
		return nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		switch asString {
		case "auto", "none", "required":
			return &ToolChoice{Mode: asString}
		default:
			return &ToolChoice{Mode: "auto"}
		}
	}
	var asObject struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &asObject); err == nil && asObject.Type == "function" && asObject.Function.Name != "" {
		return &ToolChoice{Mode: "function", Name: asObject.Function.Name}
	}
	return &ToolChoice{Mode: "auto"}
}
