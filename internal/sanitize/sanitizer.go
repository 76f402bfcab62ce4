// Package sanitize implements the Sanitizer (C5): validates, repairs, or
// downgrades thinking blocks and reconciles the thinking_enabled flag with
// what actually survives, using SignatureRecovery (C2) to repair signatures
// before a request reaches a backend.
package sanitize

import (
	"context"
	"log/slog"

	"github.com/nexus-gateway/llmgateway/internal/protocol"
	"github.com/nexus-gateway/llmgateway/internal/signature"
)

// Sanitizer is the C5 component.
type Sanitizer struct {
	recovery *signature.Recovery
	store    *signature.Store
	logger   *slog.Logger
}

// New builds a Sanitizer backed by the given recovery pipeline and store.
func New(recovery *signature.Recovery, store *signature.Store, logger *slog.Logger) *Sanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sanitizer{recovery: recovery, store: store, logger: logger}
}

// Sanitize runs the full per-message algorithm of spec §4.5. It never
// panics back to the caller: any unexpected failure is recovered and the
// original messages are returned unchanged, matching the source's "never
// throws" contract.
func (s *Sanitizer) Sanitize(ctx context.Context, messages []protocol.Message, thinkingEnabled bool, scid, lastCtxSignature string) (out []protocol.Message, outThinkingEnabled bool) {
	out, outThinkingEnabled = messages, thinkingEnabled
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sanitize: recovered from panic, returning original messages", "panic", r)
			out, outThinkingEnabled = messages, thinkingEnabled
		}
	}()

	sanitized := make([]protocol.Message, len(messages))
	copy(sanitized, messages)

	anyValidThinkingSurvives := false

	for i, msg := range sanitized {
		if msg.Role != protocol.RoleAssistant {
			continue
		}
		newBlocks := make([]protocol.ContentBlock, 0, len(msg.Content))
		for _, block := range msg.Content {
			switch block.Type {
			case protocol.BlockThinking, protocol.BlockRedactedThinking:
				repaired, kept := s.sanitizeThinkingBlock(ctx, block, scid, lastCtxSignature)
				if kept {
					newBlocks = append(newBlocks, repaired)
					if repaired.Type == protocol.BlockThinking || repaired.Type == protocol.BlockRedactedThinking {
						anyValidThinkingSurvives = true
					}
				}
			case protocol.BlockToolUse:
				newBlocks = append(newBlocks, s.sanitizeToolUseBlock(ctx, block, scid, lastCtxSignature))
			default:
				newBlocks = append(newBlocks, block)
			}
		}
		sanitized[i].Content = newBlocks
	}

	s.checkToolChainIntegrity(sanitized)

	if !anyValidThinkingSurvives {
		thinkingEnabled = false
	}
	return sanitized, thinkingEnabled
}

// sanitizeThinkingBlock implements step 1's thinking/redacted_thinking case.
// It returns the (possibly downgraded) block and whether it should be kept
// at all (false discards it, e.g. an empty downgraded block).
func (s *Sanitizer) sanitizeThinkingBlock(ctx context.Context, block protocol.ContentBlock, scid, lastCtxSignature string) (protocol.ContentBlock, bool) {
	if signature.IsValidSignature(block.Signature) {
		return block, true
	}

	result := s.recovery.RecoverThinking(ctx, signature.ThinkingParams{
		ClientSignature:  block.Signature,
		ContextSignature: lastCtxSignature,
		ThinkingText:     block.Thought,
		Namespace:        "thinking",
		ConversationID:   scid,
		SessionID:        scid,
		UsePlaceholder:   false,
	})

	if result.Found && result.Signature != signature.Sentinel {
		block.Signature = result.Signature
		if result.Source.Cacheable() {
			s.cacheThinking(ctx, block, scid)
		}
		return block, true
	}

	// Downgrade to a text block carrying the original thinking text; drop
	// entirely if the text is empty (spec §4.5 step 1).
	if block.Thought == "" {
		return protocol.ContentBlock{}, false
	}
	return protocol.ContentBlock{Type: protocol.BlockText, Text: block.Thought}, true
}

func (s *Sanitizer) sanitizeToolUseBlock(ctx context.Context, block protocol.ContentBlock, scid, lastCtxSignature string) protocol.ContentBlock {
	result := s.recovery.RecoverToolUse(ctx, signature.ToolParams{
		ClientSignature:  block.Signature,
		ContextSignature: lastCtxSignature,
		EncodedToolID:    block.ToolUseID,
		SessionID:        scid,
		UsePlaceholder:   true,
	})
	if result.Found {
		block.Signature = result.Signature
		if result.Source.Cacheable() {
			s.store.ToolSet(ctx, signature.ToolEntry{ToolID: block.ToolUseID, Signature: result.Signature})
		}
	}
	return block
}

func (s *Sanitizer) cacheThinking(ctx context.Context, block protocol.ContentBlock, scid string) {
	hash := signature.ThinkingHash(block.Thought)
	prefix := block.Thought
	if len(prefix) > 80 {
		prefix = prefix[:80]
	}
	s.store.Set(ctx, signature.Entry{
		Signature:      block.Signature,
		ThinkingHash:   hash,
		ThinkingPrefix: prefix,
		Namespace:      "thinking",
		ConversationID: scid,
	})
}

// checkToolChainIntegrity verifies every tool_use.id has a subsequent
// tool_result.tool_use_id; broken chains are only logged (spec §4.5 step 2
// — "repair belongs to tool-loop recovery").
func (s *Sanitizer) checkToolChainIntegrity(messages []protocol.Message) {
	pending := map[string]bool{}
	for _, msg := range messages {
		for _, b := range msg.Content {
			switch b.Type {
			case protocol.BlockToolUse:
				pending[b.ToolUseID] = true
			case protocol.BlockToolResult:
				delete(pending, b.ToolResultID)
			}
		}
	}
	for id := range pending {
		s.logger.Warn("sanitize: tool_use without matching tool_result", "tool_use_id", id)
	}
}
