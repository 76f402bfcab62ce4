package protocol

import (
	"encoding/json"

	"google.golang.org/genai"
)

// ToGeminiContents renders the canonical Request as Gemini's []*genai.Content,
// used both for dispatching to the in-process Antigravity backend and for
// constructing the upstream request the StreamTransformer (C7) consumes,
// grounded in the teacher's GoogleProvider.convertMessages.
func ToGeminiContents(req *Request) []*genai.Content {
	var out []*genai.Content
	for _, m := range req.Messages {
		content := &genai.Content{}
		switch m.Role {
		case RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}
		for _, b := range m.Content {
			switch b.Type {
			case BlockText:
				content.Parts = append(content.Parts, &genai.Part{Text: b.Text})
			case BlockThinking:
				content.Parts = append(content.Parts, &genai.Part{Text: b.Thought, Thought: true, ThoughtSignature: []byte(b.Signature)})
			case BlockToolUse:
				var args map[string]any
				_ = json.Unmarshal(b.ToolInput, &args)
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: b.ToolName, Args: args},
				})
			case BlockToolResult:
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						Name:     b.ToolResultID,
						Response: map[string]any{"content": b.ToolResultContent},
					},
				})
			case BlockImage:
				if b.ImageData != "" {
					content.Parts = append(content.Parts, &genai.Part{
						InlineData: &genai.Blob{MIMEType: b.ImageMimeType, Data: []byte(b.ImageData)},
					})
				}
			}
		}
		out = append(out, content)
	}
	return out
}

// ToGeminiTools converts canonical tools into Gemini function declarations.
func ToGeminiTools(tools []Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGeminiSchema(t.InputSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func toGeminiSchema(raw json.RawMessage) *genai.Schema {
	var node map[string]any
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil
	}
	return schemaFromMap(node)
}

func schemaFromMap(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	schema := &genai.Schema{}
	if typ, ok := m["type"].(string); ok {
		schema.Type = genai.Type(normalizeGeminiType(typ))
	}
	if desc, ok := m["description"].(string); ok {
		schema.Description = desc
	}
	if enumVals, ok := m["enum"].([]any); ok {
		for _, e := range enumVals {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := m["properties"].(map[string]any); ok {
		schema.Properties = map[string]*genai.Schema{}
		for k, v := range props {
			if childMap, ok := v.(map[string]any); ok {
				schema.Properties[k] = schemaFromMap(childMap)
			}
		}
	}
	if required, ok := m["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		schema.Items = schemaFromMap(items)
	}
	return schema
}

func normalizeGeminiType(typ string) string {
	switch typ {
	case "object", "array", "string", "number", "integer", "boolean", "null":
		return upper(typ)
	default:
		return "STRING"
	}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}
	return string(b)
}
