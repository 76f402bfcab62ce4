package protocol

import "testing"

func TestFromAnthropicRequest_FlatStringContent(t *testing.T) {
	body := []byte(`{
		"model": "claude-3-5-sonnet-20241022",
		"max_tokens": 1024,
		"messages": [{"role": "user", "content": "hello"}]
	}`)

	req, err := FromAnthropicRequest(body)
	if err != nil {
		t.Fatalf("FromAnthropicRequest: %v", err)
	}
	if req.Model != "claude-3-5-sonnet-20241022" || req.MaxTokens != 1024 {
		t.Fatalf("unexpected request: %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Flat() != "hello" {
		t.Fatalf("expected a single flattened text message, got %+v", req.Messages)
	}
}

func TestFromAnthropicRequest_ThinkingBlock(t *testing.T) {
	body := []byte(`{
		"model": "claude-3-5-sonnet-20241022",
		"max_tokens": 1024,
		"thinking": {"type": "enabled", "budget_tokens": 2048},
		"messages": [{"role": "assistant", "content": [
			{"type": "thinking", "thinking": "let me think", "signature": "sig-1"},
			{"type": "text", "text": "answer"}
		]}]
	}`)

	req, err := FromAnthropicRequest(body)
	if err != nil {
		t.Fatalf("FromAnthropicRequest: %v", err)
	}
	if !req.EnableThinking || req.ThinkingBudget != 2048 {
		t.Fatalf("expected thinking enabled with budget 2048, got %+v", req)
	}
	if len(req.Messages) != 1 || len(req.Messages[0].Content) != 2 {
		t.Fatalf("expected two content blocks, got %+v", req.Messages)
	}
	think := req.Messages[0].Content[0]
	if think.Type != BlockThinking || think.Thought != "let me think" || think.Signature != "sig-1" {
		t.Errorf("unexpected thinking block: %+v", think)
	}
}

func TestFromAnthropicRequest_ToolUseAndResult(t *testing.T) {
	body := []byte(`{
		"model": "claude-3-5-sonnet-20241022",
		"max_tokens": 100,
		"messages": [
			{"role": "assistant", "content": [{"type": "tool_use", "id": "toolu_1", "name": "lookup", "input": {"q": "x"}}]},
			{"role": "user", "content": [{"type": "tool_result", "tool_use_id": "toolu_1", "content": "result text"}]}
		]
	}`)

	req, err := FromAnthropicRequest(body)
	if err != nil {
		t.Fatalf("FromAnthropicRequest: %v", err)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(req.Messages))
	}
	toolUse := req.Messages[0].Content[0]
	if toolUse.Type != BlockToolUse || toolUse.ToolUseID != "toolu_1" || toolUse.ToolName != "lookup" {
		t.Errorf("unexpected tool_use block: %+v", toolUse)
	}
	if req.Messages[1].ToolCallID != "toolu_1" {
		t.Errorf("expected ToolCallID propagated from tool_result block, got %q", req.Messages[1].ToolCallID)
	}
}

func TestFromAnthropicRequest_InvalidJSON(t *testing.T) {
	if _, err := FromAnthropicRequest([]byte(`not json`)); err == nil {
		t.Fatal("expected an error for invalid JSON")
	}
}

func TestToAnthropicMessageParams_RoundTrip(t *testing.T) {
	req := &Request{
		Model:     "claude-3-5-sonnet-20241022",
		MaxTokens: 512,
		System:    "be concise",
		Messages: []Message{
			{Role: RoleUser, Content: []ContentBlock{{Type: BlockText, Text: "hi"}}},
		},
	}
	params := ToAnthropicMessageParams(req)
	if string(params.Model) != req.Model {
		t.Errorf("expected model to round-trip, got %q", params.Model)
	}
	if len(params.Messages) != 1 {
		t.Errorf("expected one rendered message, got %d", len(params.Messages))
	}
}
