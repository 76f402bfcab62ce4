package stream

import (
	"context"
	"strings"
	"testing"
)

func TestTransformer_TextChunkEmitsMessageStartAndDelta(t *testing.T) {
	tr := New(context.Background(), "claude-3-opus", "scid-1", nil, nil)
	out := tr.ProcessChunk(&GeminiChunk{
		Candidates: []GeminiCandidate{{Content: struct {
			Parts []GeminiPart `json:"parts"`
		}{Parts: []GeminiPart{{Text: "hello"}}}}},
	})
	s := string(out)
	if !strings.Contains(s, "message_start") {
		t.Errorf("expected message_start emitted before any content, got %q", s)
	}
	if !strings.Contains(s, "content_block_start") || !strings.Contains(s, `"type":"text"`) {
		t.Errorf("expected a text content_block_start, got %q", s)
	}
	if !strings.Contains(s, "text_delta") {
		t.Errorf("expected a text_delta event, got %q", s)
	}
}

func TestTransformer_FinishEmitsStopOnce(t *testing.T) {
	tr := New(context.Background(), "claude-3-opus", "scid-1", nil, nil)
	out := tr.ProcessChunk(&GeminiChunk{
		Candidates: []GeminiCandidate{{
			Content:      struct{ Parts []GeminiPart `json:"parts"` }{Parts: []GeminiPart{{Text: "hi"}}},
			FinishReason: "STOP",
		}},
	})
	s := string(out)
	if !strings.Contains(s, "message_stop") {
		t.Errorf("expected a message_stop event on finishReason, got %q", s)
	}
	if !strings.Contains(s, `"stop_reason":"end_turn"`) {
		t.Errorf("expected end_turn stop reason, got %q", s)
	}

	again := tr.Close()
	if len(again) != 0 {
		t.Errorf("expected Close to be a no-op once message_stop already sent, got %q", again)
	}
}

func TestTransformer_ToolUseSetsStopReason(t *testing.T) {
	tr := New(context.Background(), "claude-3-opus", "scid-1", nil, nil)
	out := tr.ProcessChunk(&GeminiChunk{
		Candidates: []GeminiCandidate{{
			Content: struct{ Parts []GeminiPart `json:"parts"` }{Parts: []GeminiPart{
				{FunctionCall: &GeminiFunctionCall{Name: "lookup", Args: map[string]any{"q": "x"}}},
			}},
			FinishReason: "STOP",
		}},
	})
	s := string(out)
	if !strings.Contains(s, `"tool_use"`) {
		t.Errorf("expected a tool_use content block, got %q", s)
	}
	if !strings.Contains(s, `"stop_reason":"tool_use"`) {
		t.Errorf("expected stop_reason tool_use once a function call occurred, got %q", s)
	}
}

func TestTransformer_FunctionCallSuppressedWhenSSOPAlreadyEmitted(t *testing.T) {
	tr := New(context.Background(), "claude-3-opus", "scid-1", nil, nil)
	textChunk := tr.ProcessChunk(&GeminiChunk{
		Candidates: []GeminiCandidate{{Content: struct{ Parts []GeminiPart `json:"parts"` }{Parts: []GeminiPart{
			{Text: `{"command": ["ls"]}`},
		}}}},
	})
	if !strings.Contains(string(textChunk), "tool_use") {
		t.Fatalf("expected the SSOP scan to synthesize a tool_use from the embedded JSON, got %q", textChunk)
	}

	fnChunk := tr.ProcessChunk(&GeminiChunk{
		Candidates: []GeminiCandidate{{Content: struct{ Parts []GeminiPart `json:"parts"` }{Parts: []GeminiPart{
			{FunctionCall: &GeminiFunctionCall{Name: "shell", Args: map[string]any{"command": []any{"ls"}}}},
		}}}},
	})
	if len(fnChunk) != 0 {
		t.Errorf("expected the matching native functionCall suppressed as a duplicate, got %q", fnChunk)
	}
}

func TestTransformer_Cancel_ClosesBlockSilently(t *testing.T) {
	tr := New(context.Background(), "claude-3-opus", "scid-1", nil, nil)
	tr.ProcessChunk(&GeminiChunk{
		Candidates: []GeminiCandidate{{Content: struct{ Parts []GeminiPart `json:"parts"` }{Parts: []GeminiPart{{Text: "partial"}}}}},
	})
	out := tr.Cancel()
	s := string(out)
	if !strings.Contains(s, "content_block_stop") {
		t.Errorf("expected the open block closed on cancel, got %q", s)
	}
	if strings.Contains(s, "message_stop") || strings.Contains(s, "message_delta") {
		t.Errorf("expected no message_stop/message_delta on cancel, got %q", s)
	}
}

func TestTransformer_UsageMetadataTracksTokens(t *testing.T) {
	tr := New(context.Background(), "claude-3-opus", "scid-1", nil, nil)
	out := tr.ProcessChunk(&GeminiChunk{
		UsageMetadata: &GeminiUsageMetadata{PromptTokenCount: 100, CachedContentTokenCount: 20, CandidatesTokenCount: 5},
		Candidates: []GeminiCandidate{{
			Content:      struct{ Parts []GeminiPart `json:"parts"` }{Parts: []GeminiPart{{Text: "hi"}}},
			FinishReason: "STOP",
		}},
	})
	s := string(out)
	if !strings.Contains(s, `"input_tokens":80`) {
		t.Errorf("expected input tokens net of cached content, got %q", s)
	}
	if !strings.Contains(s, `"output_tokens":5`) {
		t.Errorf("expected candidate token count as output tokens, got %q", s)
	}
}
