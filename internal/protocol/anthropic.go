package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
)

// anthropicWireRequest mirrors the documented Anthropic Messages API JSON
// body. Unmarshaling arbitrary inbound client JSON into the SDK's own
// MessageNewParams is fragile (its fields are optional-wrapper types meant
// for outbound construction, not lenient client-side decoding), so inbound
// parsing uses this local mirror while outbound construction below reuses
// the SDK's param builders directly.
type anthropicWireRequest struct {
	Model      string                `json:"model"`
	System     json.RawMessage       `json:"system,omitempty"`
	Messages   []anthropicWireMsg    `json:"messages"`
	Tools      []anthropicWireTool   `json:"tools,omitempty"`
	ToolChoice json.RawMessage       `json:"tool_choice,omitempty"`
	MaxTokens  int                   `json:"max_tokens"`
	Stream     bool                  `json:"stream,omitempty"`
	Thinking   *anthropicWireThink   `json:"thinking,omitempty"`
}

type anthropicWireThink struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type anthropicWireMsg struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anthropicWireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicWireBlock struct {
	Type        BlockType       `json:"type"`
	Text        string          `json:"text,omitempty"`
	Thinking    string          `json:"thinking,omitempty"`
	Signature   string          `json:"signature,omitempty"`
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	ToolUseID   string          `json:"tool_use_id,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	IsError     bool            `json:"is_error,omitempty"`
	Source      *anthropicImage `json:"source,omitempty"`
}

type anthropicImage struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// FromAnthropicRequest decodes an inbound /v1/messages body into the
// canonical Request.
func FromAnthropicRequest(body []byte) (*Request, error) {
	var wire anthropicWireRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("protocol: invalid anthropic request: %w", err)
	}

	req := &Request{
		Model:     wire.Model,
		MaxTokens: wire.MaxTokens,
		Stream:    wire.Stream,
	}
	if len(wire.System) > 0 {
		var asString string
		if err := json.Unmarshal(wire.System, &asString); err == nil {
			req.System = asString
		} else {
			var blocks []anthropicWireBlock
			if err := json.Unmarshal(wire.System, &blocks); err == nil {
				for _, b := range blocks {
					req.System += b.Text
				}
			}
		}
	}
	if wire.Thinking != nil && wire.Thinking.Type == "enabled" {
		req.EnableThinking = true
		req.ThinkingBudget = wire.Thinking.BudgetTokens
	}

	for _, m := range wire.Messages {
		canonical := Message{Role: roleFromAnthropic(m.Role)}
		var asString string
		if err := json.Unmarshal(m.Content, &asString); err == nil {
			canonical.Content = append(canonical.Content, ContentBlock{Type: BlockText, Text: asString})
			req.Messages = append(req.Messages, canonical)
			continue
		}
		var blocks []anthropicWireBlock
		if err := json.Unmarshal(m.Content, &blocks); err != nil {
			return nil, fmt.Errorf("protocol: invalid anthropic message content: %w", err)
		}
		for _, b := range blocks {
			canonical.Content = append(canonical.Content, blockFromAnthropicWire(b))
			if b.Type == BlockToolResult {
				canonical.ToolCallID = b.ToolUseID
			}
		}
		req.Messages = append(req.Messages, canonical)
	}

	for _, t := range wire.Tools {
		cleaned, err := CleanJSONSchema(t.InputSchema)
		if err != nil {
			return nil, err
		}
		req.Tools = append(req.Tools, Tool{Name: t.Name, Description: t.Description, InputSchema: cleaned})
	}
	req.ToolChoice = NormalizeToolChoice(wire.ToolChoice)

	return req, nil
}

func blockFromAnthropicWire(b anthropicWireBlock) ContentBlock {
	switch b.Type {
	case BlockText:
		return ContentBlock{Type: BlockText, Text: b.Text}
	case BlockThinking, BlockRedactedThinking:
		return ContentBlock{Type: b.Type, Thought: b.Thinking, Signature: b.Signature}
	case BlockToolUse:
		return ContentBlock{Type: BlockToolUse, ToolUseID: b.ID, ToolName: b.Name, ToolInput: b.Input}
	case BlockToolResult:
		var content string
		_ = json.Unmarshal(b.Content, &content)
		if content == "" {
			content = string(b.Content)
		}
		return ContentBlock{Type: BlockToolResult, ToolResultID: b.ToolUseID, ToolResultContent: content, ToolResultIsError: b.IsError}
	case BlockImage:
		if b.Source != nil {
			return ContentBlock{Type: BlockImage, ImageMimeType: b.Source.MediaType, ImageData: b.Source.Data, ImageURL: b.Source.URL}
		}
		return ContentBlock{Type: BlockImage}
	default:
		raw, _ := json.Marshal(b)
		return ContentBlock{Type: BlockUnknown, Raw: raw}
	}
}

func roleFromAnthropic(role string) Role {
	if role == "assistant" {
		return RoleAssistant
	}
	return RoleUser
}

// ToAnthropicMessageParams renders the canonical Request using the
// anthropic-sdk-go param builders, reused here (rather than hand-rolled
// maps) for constructing an outbound request to an Anthropic-format
// backend, mirroring how the teacher's AnthropicProvider builds the same
// params for its own SDK calls.
func ToAnthropicMessageParams(req *Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.EnableThinking {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(req.ThinkingBudget))
	}
	for _, m := range req.Messages {
		var content []anthropic.ContentBlockParamUnion
		for _, b := range m.Content {
			switch b.Type {
			case BlockText:
				content = append(content, anthropic.NewTextBlock(b.Text))
			case BlockToolUse:
				var input any
				_ = json.Unmarshal(b.ToolInput, &input)
				content = append(content, anthropic.NewToolUseBlock(b.ToolUseID, input, b.ToolName))
			case BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(b.ToolResultID, b.ToolResultContent, b.ToolResultIsError))
			}
		}
		if len(content) == 0 {
			continue
		}
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(content...))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(content...))
		}
	}
	return params
}
