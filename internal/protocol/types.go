// Package protocol defines the canonical, dialect-agnostic message model that
// every backend translator (Anthropic, OpenAI, Gemini/Antigravity) converts
// to and from. It is grounded in the teacher's internal/agent.CompletionRequest
// family but drops the agent-loop-specific fields (artifacts, tool event
// stores) that this gateway, which proxies rather than executes tools, never
// needs.
package protocol

import "encoding/json"

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType discriminates ContentBlock variants.
type BlockType string

const (
	BlockText             BlockType = "text"
	BlockThinking         BlockType = "thinking"
	BlockRedactedThinking BlockType = "redacted_thinking"
	BlockToolUse          BlockType = "tool_use"
	BlockToolResult       BlockType = "tool_result"
	BlockImage            BlockType = "image"
	BlockUnknown          BlockType = "unknown"
)

// ContentBlock is a tagged union over the content shapes the gateway moves
// between dialects. Only the fields relevant to Type are populated; unknown
// inbound shapes are preserved verbatim in Raw so the sanitizer and
// translator can pass them through untouched (Design Notes, "duck-typing of
// messages").
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text / thinking / redacted_thinking
	Text    string `json:"text,omitempty"`
	Thought string `json:"thinking,omitempty"`

	// thinking / redacted_thinking signature lifecycle
	Signature string `json:"signature,omitempty"`

	// tool_use
	ToolUseID   string          `json:"id,omitempty"`
	ToolName    string          `json:"name,omitempty"`
	ToolInput   json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolResultID      string `json:"tool_use_id,omitempty"`
	ToolResultContent string `json:"content,omitempty"`
	ToolResultIsError bool   `json:"is_error,omitempty"`

	// image
	ImageMimeType string `json:"mime_type,omitempty"`
	ImageData     string `json:"data,omitempty"`
	ImageURL      string `json:"url,omitempty"`

	// Raw preserves an unrecognized block's original JSON so a passthrough
	// round-trip loses nothing.
	Raw json.RawMessage `json:"-"`
}

// Message is the canonical internal representation of one turn.
type Message struct {
	Role Role `json:"role"`

	// Content holds the structured form. Dialects with a flat string content
	// (OpenAI's plain-text assistant turns) are represented as a single
	// BlockText entry; callers that only care about flat text can use Flat().
	Content []ContentBlock `json:"content"`

	// ToolCallID is set on tool-role messages translated from OpenAI's flat
	// {role: tool, tool_call_id, content} shape.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Flat concatenates all text-bearing blocks, mirroring how OpenAI's flat
// message.content is reconstructed from Anthropic-shaped content arrays.
func (m Message) Flat() string {
	var out string
	for _, b := range m.Content {
		switch b.Type {
		case BlockText:
			out += b.Text
		}
	}
	return out
}

// ToolChoice normalizes the three inbound/outbound shapes of tool-choice
// selection described in spec §4.6.
type ToolChoice struct {
	Mode string `json:"mode"` // "auto", "none", "required", "function"
	Name string `json:"name,omitempty"`
}

// Tool is the normalized function-call tool definition after clean_json_schema.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request is a canonical, backend-agnostic completion request built by
// ProtocolTranslator from whichever inbound dialect the client spoke.
type Request struct {
	Model          string
	System         string
	Messages       []Message
	Tools          []Tool
	ToolChoice     *ToolChoice
	MaxTokens      int
	Stream         bool
	EnableThinking bool
	ThinkingBudget int
}
