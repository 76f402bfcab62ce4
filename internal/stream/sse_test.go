package stream

import (
	"strings"
	"testing"
)

func TestFormatSSE_RendersEventAndData(t *testing.T) {
	payload, err := formatSSE("message_start", map[string]any{"type": "message_start"})
	if err != nil {
		t.Fatalf("formatSSE: %v", err)
	}
	s := string(payload)
	if !strings.HasPrefix(s, "event: message_start\n") {
		t.Errorf("expected the event line first, got %q", s)
	}
	if !strings.Contains(s, `data: {"type":"message_start"}`) {
		t.Errorf("expected the marshaled data line, got %q", s)
	}
	if !strings.HasSuffix(s, "\n\n") {
		t.Errorf("expected a trailing blank line, got %q", s)
	}
}

func TestGeminiChunkReader_DecodesDataLines(t *testing.T) {
	r := NewGeminiChunkReader(strings.NewReader("data: {\"responseId\":\"abc\"}\n\n"))
	chunk, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if chunk.ResponseID != "abc" {
		t.Errorf("expected responseId abc, got %q", chunk.ResponseID)
	}
}

func TestGeminiChunkReader_DoneMarker(t *testing.T) {
	r := NewGeminiChunkReader(strings.NewReader("data: [DONE]\n\n"))
	_, err := r.Next()
	if err != ErrStreamDone {
		t.Errorf("expected ErrStreamDone, got %v", err)
	}
}

func TestGeminiChunkReader_SkipsBlankLines(t *testing.T) {
	r := NewGeminiChunkReader(strings.NewReader("\n\ndata: {\"responseId\":\"x\"}\n"))
	chunk, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if chunk.ResponseID != "x" {
		t.Errorf("expected responseId x, got %q", chunk.ResponseID)
	}
}
