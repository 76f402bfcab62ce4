package protocol

import "testing"

func TestFromOpenAIRequest_SystemAndUserMessages(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"max_tokens": 256,
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": "hi there"}
		]
	}`)

	req, err := FromOpenAIRequest(body)
	if err != nil {
		t.Fatalf("FromOpenAIRequest: %v", err)
	}
	if req.System != "be brief" {
		t.Errorf("expected system prompt extracted, got %q", req.System)
	}
	if len(req.Messages) != 1 || req.Messages[0].Flat() != "hi there" {
		t.Fatalf("expected the system message excluded from Messages, got %+v", req.Messages)
	}
}

func TestFromOpenAIRequest_ToolCallRoundTrip(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role": "assistant", "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{\"q\":\"x\"}"}}]},
			{"role": "tool", "tool_call_id": "call_1", "content": "result"}
		]
	}`)

	req, err := FromOpenAIRequest(body)
	if err != nil {
		t.Fatalf("FromOpenAIRequest: %v", err)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(req.Messages))
	}
	toolUse := req.Messages[0].Content[0]
	if toolUse.Type != BlockToolUse || toolUse.ToolUseID != "call_1" || toolUse.ToolName != "lookup" {
		t.Errorf("unexpected tool_use block: %+v", toolUse)
	}
	if req.Messages[1].Role != RoleTool || req.Messages[1].ToolCallID != "call_1" {
		t.Errorf("unexpected tool-role message: %+v", req.Messages[1])
	}
}

func TestToOpenAIRequest_RendersSystemAndToolCalls(t *testing.T) {
	req := &Request{
		Model:  "gpt-4o",
		System: "be brief",
		Messages: []Message{
			{Role: RoleAssistant, Content: []ContentBlock{
				{Type: BlockToolUse, ToolUseID: "call_1", ToolName: "lookup", ToolInput: []byte(`{"q":"x"}`)},
			}},
		},
	}
	out := ToOpenAIRequest(req)
	if len(out.Messages) != 2 {
		t.Fatalf("expected a prepended system message plus the assistant turn, got %d", len(out.Messages))
	}
	if out.Messages[0].Role != "system" || out.Messages[0].Content != "be brief" {
		t.Errorf("unexpected system message: %+v", out.Messages[0])
	}
	if len(out.Messages[1].ToolCalls) != 1 || out.Messages[1].ToolCalls[0].Function.Name != "lookup" {
		t.Errorf("expected the tool call rendered, got %+v", out.Messages[1])
	}
}
