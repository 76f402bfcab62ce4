package protocol

import (
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// FromOpenAIRequest decodes an inbound /v1/chat/completions body into the
// canonical Request. go-openai's ChatCompletionRequest is a plain
// json-tagged struct (not an opaque SDK param builder), so it unmarshals
// arbitrary client JSON directly, the way the teacher's providers use it for
// its own outbound calls.
func FromOpenAIRequest(body []byte) (*Request, error) {
	var wire openai.ChatCompletionRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("protocol: invalid openai request: %w", err)
	}

	req := &Request{
		Model:     wire.Model,
		MaxTokens: wire.MaxTokens,
		Stream:    wire.Stream,
	}

	for _, m := range wire.Messages {
		switch m.Role {
		case openai.ChatMessageRoleSystem:
			if req.System == "" {
				req.System = m.Content
			} else {
				req.System += "\n" + m.Content
			}
			continue
		case openai.ChatMessageRoleTool:
			req.Messages = append(req.Messages, Message{
				Role:       RoleTool,
				ToolCallID: m.ToolCallID,
				Content:    []ContentBlock{{Type: BlockToolResult, ToolResultID: m.ToolCallID, ToolResultContent: m.Content}},
			})
			continue
		}

		canonical := Message{Role: roleFromOpenAI(m.Role)}
		if m.Content != "" {
			canonical.Content = append(canonical.Content, ContentBlock{Type: BlockText, Text: m.Content})
		}
		for _, part := range m.MultiContent {
			switch part.Type {
			case openai.ChatMessagePartTypeText:
				canonical.Content = append(canonical.Content, ContentBlock{Type: BlockText, Text: part.Text})
			case openai.ChatMessagePartTypeImageURL:
				if part.ImageURL != nil {
					canonical.Content = append(canonical.Content, ContentBlock{Type: BlockImage, ImageURL: part.ImageURL.URL})
				}
			}
		}
		for _, tc := range m.ToolCalls {
			canonical.Content = append(canonical.Content, ContentBlock{
				Type:      BlockToolUse,
				ToolUseID: tc.ID,
				ToolName:  tc.Function.Name,
				ToolInput: json.RawMessage(tc.Function.Arguments),
			})
		}
		req.Messages = append(req.Messages, canonical)
	}

	for _, t := range wire.Tools {
		if t.Function == nil {
			continue
		}
		schemaBytes, err := json.Marshal(t.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("protocol: tool %q has invalid parameters: %w", t.Function.Name, err)
		}
		cleaned, err := CleanJSONSchema(schemaBytes)
		if err != nil {
			return nil, err
		}
		req.Tools = append(req.Tools, Tool{Name: t.Function.Name, Description: t.Function.Description, InputSchema: cleaned})
	}

	if wire.ToolChoice != nil {
		if raw, err := json.Marshal(wire.ToolChoice); err == nil {
			req.ToolChoice = NormalizeToolChoice(raw)
		}
	}

	return req, nil
}

func roleFromOpenAI(role string) Role {
	switch role {
	case openai.ChatMessageRoleAssistant:
		return RoleAssistant
	case openai.ChatMessageRoleUser:
		return RoleUser
	default:
		return RoleUser
	}
}

// ToOpenAIRequest renders the canonical Request as an OpenAI dialect
// ChatCompletionRequest, used both for the /v1/chat/completions response
// shape and for dispatching to an OpenAI-format backend (Kiro, Copilot,
// AnyRouter).
func ToOpenAIRequest(req *Request) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
	}
	if req.System != "" {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		if m.Role == RoleTool {
			out.Messages = append(out.Messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: m.ToolCallID,
				Content:    firstToolResultContent(m.Content),
			})
			continue
		}
		msg := openai.ChatCompletionMessage{Role: string(m.Role)}
		for _, b := range m.Content {
			switch b.Type {
			case BlockText, BlockThinking:
				if msg.Content != "" {
					msg.Content += "\n"
				}
				msg.Content += textOf(b)
			case BlockToolUse:
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   b.ToolUseID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      b.ToolName,
						Arguments: string(b.ToolInput),
					},
				})
			}
		}
		out.Messages = append(out.Messages, msg)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(t.InputSchema),
			},
		})
	}
	if req.ToolChoice != nil {
		out.ToolChoice = toOpenAIToolChoice(req.ToolChoice)
	}
	return out
}

func toOpenAIToolChoice(tc *ToolChoice) any {
	switch tc.Mode {
	case "function":
		return openai.ToolChoice{Type: openai.ToolTypeFunction, Function: openai.ToolFunction{Name: tc.Name}}
	case "none", "required", "auto":
		return tc.Mode
	default:
		return "auto"
	}
}

func textOf(b ContentBlock) string {
	if b.Type == BlockThinking {
		return b.Thought
	}
	return b.Text
}

func firstToolResultContent(blocks []ContentBlock) string {
	for _, b := range blocks {
		if b.Type == BlockToolResult {
			return b.ToolResultContent
		}
	}
	return ""
}
