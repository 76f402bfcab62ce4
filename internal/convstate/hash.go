package convstate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/nexus-gateway/llmgateway/internal/protocol"
)

// structuralHash computes the dedupe key spec §3 specifies: a hash of
// {role, content, tool_calls?, tool_call_id?}.
func structuralHash(m protocol.Message) string {
	shape := struct {
		Role       protocol.Role          `json:"role"`
		Content    []protocol.ContentBlock `json:"content"`
		ToolCallID string                 `json:"tool_call_id,omitempty"`
	}{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}

	raw, err := json.Marshal(shape)
	if err != nil {
		return ""
	}
	canonical, err := protocol.CanonicalJSON(json.RawMessage(raw))
	if err != nil {
		canonical = raw
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
