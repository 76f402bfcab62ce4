package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexus-gateway/llmgateway/internal/protocol"
	"github.com/nexus-gateway/llmgateway/internal/signature"
)

// blockType is the transformer's notion of the Anthropic content block
// currently open on the outbound side (spec §4.7 state: current_block_type).
type blockType int

const (
	blockNone blockType = iota
	blockText
	blockThinking
	blockToolUse
	blockImage
)

// SignatureCache is the subset of the SignatureStore the transformer needs
// to cache thinking-text/tool-id signature pairs as they stream past.
type SignatureCache interface {
	Set(ctx context.Context, entry signature.Entry)
	ToolSet(ctx context.Context, entry signature.ToolEntry)
}

// Transformer is the StreamTransformer (C7). One instance serves exactly
// one client-facing stream.
type Transformer struct {
	ctx    context.Context
	logger *slog.Logger
	cache  SignatureCache
	scid   string

	model        string
	responseID   string
	estimatedIn  int

	blockType  blockType
	blockIndex int // starts at -1 per spec §4.7

	currentThinkingSignature string
	currentThinkingText      string
	lastThinkingSignature    string
	hasToolUse               bool

	inputTokens  int
	outputTokens int
	finishReason string

	ssop *ssopScanner

	messageStartSent bool
	messageStopSent  bool
}

// New builds a Transformer for one outbound stream. model is the original
// client-facing model name to echo back in message_start. cache may be nil
// (signature caching is then skipped).
func New(ctx context.Context, model string, scid string, cache SignatureCache, logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transformer{
		ctx:        ctx,
		logger:     logger,
		cache:      cache,
		scid:       scid,
		model:      model,
		blockIndex: -1,
		ssop:       newSSOPScanner(),
	}
}

// ProcessChunk consumes one decoded upstream chunk and returns the Anthropic
// SSE bytes it produces (possibly empty, possibly several events).
func (t *Transformer) ProcessChunk(chunk *GeminiChunk) []byte {
	var out []byte

	if chunk.ResponseID != "" && t.responseID == "" {
		t.responseID = chunk.ResponseID
	}
	if chunk.UsageMetadata != nil {
		t.inputTokens = chunk.UsageMetadata.PromptTokenCount - chunk.UsageMetadata.CachedContentTokenCount
		if t.inputTokens < 0 {
			t.inputTokens = 0
		}
		t.outputTokens = chunk.UsageMetadata.CandidatesTokenCount
		t.estimatedIn = t.inputTokens
	}

	if len(chunk.Candidates) == 0 {
		return out
	}
	candidate := chunk.Candidates[0]

	for _, part := range candidate.Content.Parts {
		out = append(out, t.processPart(part)...)
	}

	if candidate.FinishReason != "" {
		t.finishReason = candidate.FinishReason
		out = append(out, t.finish()...)
	}

	return out
}

// Close is called on normal upstream EOF/[DONE] without an explicit
// finishReason ever having arrived; it forces termination.
func (t *Transformer) Close() []byte {
	if t.messageStopSent {
		return nil
	}
	return t.finish()
}

// Cancel is called when the client disconnects. Per spec §4.7 cancellation
// closes any open block and terminates silently: no message_delta/stop, no
// error event.
func (t *Transformer) Cancel() []byte {
	return t.closeBlock()
}

func (t *Transformer) processPart(part GeminiPart) []byte {
	var out []byte

	switch {
	case part.FunctionCall != nil:
		out = append(out, t.processFunctionCall(part)...)

	case part.Thought:
		out = append(out, t.processThinking(part.Text, part.ThoughtSignature)...)

	case part.Text != "" || part.ThoughtSignature != "":
		if part.Text == "" {
			// thoughtSignature-only delta on an already-open thinking block.
			if t.blockType == blockThinking && t.currentThinkingSignature == "" {
				out = append(out, t.emitEnsureStarted()...)
				out = append(out, t.emit("content_block_delta", map[string]any{
					"type":  "content_block_delta",
					"index": t.blockIndex,
					"delta": map[string]any{"type": "signature_delta", "signature": part.ThoughtSignature},
				})...)
				t.currentThinkingSignature = part.ThoughtSignature
			}
			return out
		}
		out = append(out, t.processText(part.Text)...)

	case part.InlineData != nil && part.InlineData.Data != "":
		out = append(out, t.processInlineData(part.InlineData)...)
	}

	return out
}

func (t *Transformer) processThinking(text, sig string) []byte {
	var out []byte
	if t.blockType != blockThinking {
		out = append(out, t.startBlock(blockThinking, map[string]any{"type": "thinking", "thinking": ""})...)
		t.currentThinkingText = ""
		t.currentThinkingSignature = ""
	}
	if text != "" {
		out = append(out, t.emit("content_block_delta", map[string]any{
			"type": "content_block_delta", "index": t.blockIndex,
			"delta": map[string]any{"type": "thinking_delta", "thinking": text},
		})...)
		for _, c := range t.ssop.Feed(text) {
			out = append(out, t.emitSSOPToolUse(c)...)
		}
		t.currentThinkingText += text
	}
	if sig != "" {
		out = append(out, t.emit("content_block_delta", map[string]any{
			"type": "content_block_delta", "index": t.blockIndex,
			"delta": map[string]any{"type": "signature_delta", "signature": sig},
		})...)
		t.currentThinkingSignature = sig
	}
	return out
}

func (t *Transformer) processText(text string) []byte {
	var out []byte
	if t.blockType != blockText {
		out = append(out, t.startBlock(blockText, map[string]any{"type": "text", "text": ""})...)
	}
	out = append(out, t.emit("content_block_delta", map[string]any{
		"type": "content_block_delta", "index": t.blockIndex,
		"delta": map[string]any{"type": "text_delta", "text": text},
	})...)
	for _, c := range t.ssop.Feed(text) {
		out = append(out, t.emitSSOPToolUse(c)...)
	}
	return out
}

func (t *Transformer) processInlineData(data *GeminiInlineData) []byte {
	var out []byte
	out = append(out, t.closeBlock()...)
	out = append(out, t.emit("content_block_start", map[string]any{
		"type": "content_block_start", "index": t.blockIndex + 1,
		"content_block": map[string]any{
			"type":   "image",
			"source": map[string]any{"type": "base64", "media_type": data.MimeType, "data": data.Data},
		},
	})...)
	t.blockIndex++
	t.blockType = blockImage
	out = append(out, t.emit("content_block_stop", map[string]any{"type": "content_block_stop", "index": t.blockIndex})...)
	t.blockType = blockNone
	return out
}

func (t *Transformer) processFunctionCall(part GeminiPart) []byte {
	fc := part.FunctionCall
	var out []byte

	argsJSON, _ := protocol.CanonicalJSON(fc.Args)
	originalID := protocol.DeterministicToolCallID(fc.Name, argsJSON)
	if t.ssop.Seen(originalID) {
		return out // suppressed: SSOP already synthesized this call (spec P3).
	}

	sig := part.ThoughtSignature
	if sig == "" {
		sig = t.currentThinkingSignature
	}
	if sig == "" {
		sig = t.lastThinkingSignature
	}

	out = append(out, t.closeBlock()...)
	t.hasToolUse = true

	encodedID := originalID
	if sig != "" {
		encodedID = protocol.EncodeToolID(originalID, sig)
		if t.currentThinkingText != "" {
			t.cacheSignature(t.currentThinkingText, sig)
		}
		t.cacheToolSignature(originalID, sig)
	}

	out = append(out, t.startBlock(blockToolUse, map[string]any{
		"type": "tool_use", "id": encodedID, "name": fc.Name, "input": map[string]any{},
	})...)

	argsOut, _ := json.Marshal(fc.Args)
	out = append(out, t.emit("content_block_delta", map[string]any{
		"type": "content_block_delta", "index": t.blockIndex,
		"delta": map[string]any{"type": "input_json_delta", "partial_json": string(argsOut)},
	})...)
	out = append(out, t.closeBlock()...)
	return out
}

// emitSSOPToolUse emits the synthetic three-event tool_use sequence for an
// SSOP-detected embedded call, ahead of any native functionCall (spec §4.7).
func (t *Transformer) emitSSOPToolUse(c ssopCandidate) []byte {
	var out []byte
	out = append(out, t.closeBlock()...)
	t.hasToolUse = true
	out = append(out, t.startBlock(blockToolUse, map[string]any{
		"type": "tool_use", "id": c.toolID, "name": c.name, "input": map[string]any{},
	})...)
	argsJSON, _ := json.Marshal(c.args)
	out = append(out, t.emit("content_block_delta", map[string]any{
		"type": "content_block_delta", "index": t.blockIndex,
		"delta": map[string]any{"type": "input_json_delta", "partial_json": string(argsJSON)},
	})...)
	out = append(out, t.closeBlock()...)
	return out
}

func (t *Transformer) startBlock(bt blockType, contentBlock map[string]any) []byte {
	var out []byte
	out = append(out, t.closeBlock()...)
	t.blockIndex++
	out = append(out, t.emit("content_block_start", map[string]any{
		"type": "content_block_start", "index": t.blockIndex, "content_block": contentBlock,
	})...)
	t.blockType = bt
	return out
}

func (t *Transformer) closeBlock() []byte {
	if t.blockType == blockNone {
		return nil
	}
	var out []byte
	if t.blockType == blockThinking {
		if t.currentThinkingText != "" && t.currentThinkingSignature != "" {
			t.cacheSignature(t.currentThinkingText, t.currentThinkingSignature)
			t.lastThinkingSignature = t.currentThinkingSignature
		}
	}
	out = append(out, t.emit("content_block_stop", map[string]any{"type": "content_block_stop", "index": t.blockIndex})...)
	t.blockType = blockNone
	return out
}

func (t *Transformer) finish() []byte {
	var out []byte
	out = append(out, t.closeBlock()...)
	out = append(out, t.emitEnsureStarted()...)

	stopReason := "end_turn"
	switch {
	case t.hasToolUse:
		stopReason = "tool_use"
	case t.finishReason == "MAX_TOKENS":
		stopReason = "max_tokens"
	}

	out = append(out, t.emit("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason, "stop_sequence": nil},
		"usage": map[string]any{"input_tokens": t.inputTokens, "output_tokens": t.outputTokens},
	})...)

	if !t.messageStopSent {
		out = append(out, t.emit("message_stop", map[string]any{"type": "message_stop"})...)
		t.messageStopSent = true
	}
	return out
}

// emitEnsureStarted emits message_start on first use, matching spec §4.7's
// "message_start MUST be the first event" discipline; a no-op thereafter.
func (t *Transformer) emitEnsureStarted() []byte {
	if t.messageStartSent {
		return nil
	}
	t.messageStartSent = true

	id := t.responseID
	if id == "" {
		id = fmt.Sprintf("msg_%s", randomSuffix())
	}
	payload, err := formatSSE("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id": id, "type": "message", "role": "assistant",
			"content": []any{}, "model": t.model,
			"stop_reason": nil, "stop_sequence": nil,
			"usage": map[string]any{"input_tokens": t.estimatedIn, "output_tokens": 0},
		},
	})
	if err != nil {
		t.logger.Error("stream: encode message_start", "error", err)
		return nil
	}
	return payload
}

// emit renders one SSE event. If message_start has not gone out yet, it is
// emitted first so the wire never carries an event ahead of it.
func (t *Transformer) emit(eventType string, data map[string]any) []byte {
	payload, err := formatSSE(eventType, data)
	if err != nil {
		t.logger.Error("stream: encode event", "type", eventType, "error", err)
		return nil
	}
	if !t.messageStartSent {
		return append(t.emitEnsureStarted(), payload...)
	}
	return payload
}

func (t *Transformer) cacheSignature(thinkingText, sig string) {
	if t.cache == nil {
		return
	}
	t.cache.Set(t.ctx, signature.Entry{
		Signature:      sig,
		ThinkingHash:   signature.ThinkingHash(thinkingText),
		ThinkingPrefix: truncate(thinkingText, 80),
		Namespace:      "thinking",
		ConversationID: t.scid,
	})
}

func (t *Transformer) cacheToolSignature(toolID, sig string) {
	if t.cache == nil {
		return
	}
	t.cache.ToolSet(t.ctx, signature.ToolEntry{ToolID: toolID, Signature: sig})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func deterministicToolID(name string, args map[string]any) string {
	canonical, _ := protocol.CanonicalJSON(args)
	return protocol.DeterministicToolCallID(name, canonical)
}

// randomSuffix produces a short opaque id when upstream never supplies a
// responseId; collisions only affect the client-visible message id, never
// correctness.
func randomSuffix() string {
	n := uint64(time.Now().UnixNano())
	b := []byte{
		byte(n >> 56), byte(n >> 48), byte(n >> 40), byte(n >> 32),
		byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n),
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
