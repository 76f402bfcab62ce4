package httpapi

import (
	"encoding/json"

	"github.com/nexus-gateway/llmgateway/internal/protocol"
)

// decodedRequest is the view IDECompatMiddleware needs to run the
// sanitizer and then rebuild a wire body: the generic top-level body (so
// fields the canonical Request doesn't model - metadata, anthropic-version
// headers baked into the body, top-level tool_choice shape - survive
// untouched) plus the canonical messages the sanitizer actually operates on.
type decodedRequest struct {
	body            map[string]any
	messages        []protocol.Message
	thinkingEnabled bool
}

// decodeForSanitize parses the inbound body far enough to run the
// sanitizer. Only Anthropic-shaped paths (/v1/messages and its antigravity
// alias) carry a signature lifecycle worth sanitizing: OpenAI's wire
// ChatCompletionMessage has no thinking/signature fields at all, so
// chat/completions paths report a nil decodedRequest and the middleware
// forwards the original body unchanged.
func decodeForSanitize(path string, raw []byte) (*decodedRequest, error) {
	if !isAnthropicPath(path) {
		return nil, nil
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}

	req, err := protocol.FromAnthropicRequest(raw)
	if err != nil {
		return nil, err
	}

	return &decodedRequest{body: body, messages: req.Messages, thinkingEnabled: req.EnableThinking}, nil
}

func isAnthropicPath(path string) bool {
	return path == "/v1/messages" || path == "/antigravity/v1/messages"
}

// reencodeSanitized rebuilds the wire body around the sanitized messages.
// It reports ok=false when there is nothing to rebuild (a dialect with no
// signature lifecycle), which the caller treats as "forward the original
// body unchanged".
func reencodeSanitized(req *decodedRequest, thinkingEnabled bool, sanitizedMsgs []protocol.Message) ([]byte, bool) {
	if req == nil {
		return nil, false
	}

	wireMessages := make([]map[string]any, 0, len(sanitizedMsgs))
	for _, m := range sanitizedMsgs {
		wireMessages = append(wireMessages, map[string]any{
			"role":    string(m.Role),
			"content": toAnthropicWireBlocks(m.Content),
		})
	}
	req.body["messages"] = wireMessages

	if think, ok := req.body["thinking"].(map[string]any); ok {
		if thinkingEnabled {
			think["type"] = "enabled"
		} else {
			think["type"] = "disabled"
		}
	}

	out, err := json.Marshal(req.body)
	if err != nil {
		return nil, false
	}
	return out, true
}

// toAnthropicWireBlocks is the inverse of the gateway's Anthropic inbound
// block parser: it renders canonical ContentBlocks back to the Anthropic
// Messages API's wire shape.
func toAnthropicWireBlocks(blocks []protocol.ContentBlock) []map[string]any {
	out := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		if wire := toAnthropicWireBlock(b); wire != nil {
			out = append(out, wire)
		}
	}
	return out
}

func toAnthropicWireBlock(b protocol.ContentBlock) map[string]any {
	switch b.Type {
	case protocol.BlockText:
		return map[string]any{"type": "text", "text": b.Text}
	case protocol.BlockThinking, protocol.BlockRedactedThinking:
		return map[string]any{"type": string(b.Type), "thinking": b.Thought, "signature": b.Signature}
	case protocol.BlockToolUse:
		var input any = json.RawMessage("{}")
		if len(b.ToolInput) > 0 {
			input = b.ToolInput
		}
		return map[string]any{"type": "tool_use", "id": b.ToolUseID, "name": b.ToolName, "input": input}
	case protocol.BlockToolResult:
		wire := map[string]any{"type": "tool_result", "tool_use_id": b.ToolResultID, "content": b.ToolResultContent}
		if b.ToolResultIsError {
			wire["is_error"] = true
		}
		return wire
	case protocol.BlockImage:
		source := map[string]any{}
		if b.ImageURL != "" {
			source["type"] = "url"
			source["url"] = b.ImageURL
		} else {
			source["type"] = "base64"
			source["media_type"] = b.ImageMimeType
			source["data"] = b.ImageData
		}
		return map[string]any{"type": "image", "source": source}
	case protocol.BlockUnknown:
		var wire map[string]any
		if json.Unmarshal(b.Raw, &wire) == nil {
			return wire
		}
		return nil
	default:
		return nil
	}
}
