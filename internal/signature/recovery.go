package signature

import (
	"context"

	"github.com/nexus-gateway/llmgateway/internal/protocol"
)

// Recovery implements SignatureRecovery (C2): the strict-order fallback
// pipelines for thinking-block and tool-use signatures (spec §4.2).
type Recovery struct {
	store *Store
}

// NewRecovery builds a Recovery pipeline backed by store.
func NewRecovery(store *Store) *Recovery {
	return &Recovery{store: store}
}

// ThinkingParams carries the inputs available to the thinking-block recovery
// pipeline.
type ThinkingParams struct {
	ClientSignature   string // on the block itself
	ContextSignature  string // last signature seen earlier in this request
	ThinkingText      string
	Namespace         string
	ConversationID    string
	SessionID         string
	UsePlaceholder    bool
}

// RecoverThinking runs the 6-layer thinking-block pipeline (spec §4.2).
func (r *Recovery) RecoverThinking(ctx context.Context, p ThinkingParams) Result {
	if sig := NormalizeSignature(p.ClientSignature); IsValidSignature(sig) {
		return Result{Signature: sig, Source: SourceClientSupplied, Found: true}
	}
	if sig := NormalizeSignature(p.ContextSignature); IsValidSignature(sig) {
		return Result{Signature: sig, Source: SourceContextual, Found: true}
	}

	hash := ThinkingHash(p.ThinkingText)
	if e, ok := r.store.Get(ctx, hash, p.Namespace, p.ConversationID); ok && IsValidSignature(e.Signature) {
		return Result{Signature: e.Signature, Source: SourceHashLookup, Found: true}
	}

	if p.SessionID != "" {
		if se, ok := r.store.SessionGet(ctx, p.SessionID); ok && IsValidSignature(se.Signature) {
			return Result{Signature: se.Signature, Source: SourceSessionCache, Found: true}
		}
	}

	if e, ok := r.store.GetMostRecent(ctx); ok && IsValidSignature(e.Signature) {
		return Result{Signature: e.Signature, Source: SourceMostRecent, Found: true}
	}

	if p.UsePlaceholder {
		return Result{Signature: Sentinel, Source: SourceSentinel, Found: true}
	}
	return Result{Source: SourceNone, Found: false}
}

// ToolParams carries the inputs available to the tool-use recovery pipeline.
type ToolParams struct {
	ClientSignature  string
	ContextSignature string
	EncodedToolID    string // the wire-format id, possibly carrying an embedded signature
	SessionID        string
	ThinkingText     string // for the session-cache check
	UsePlaceholder   bool
}

// RecoverToolUse runs the 7-layer tool-use pipeline (spec §4.2), including
// the tool-id decode step that is the system's key durability trick.
func (r *Recovery) RecoverToolUse(ctx context.Context, p ToolParams) Result {
	if sig := NormalizeSignature(p.ClientSignature); IsValidSignature(sig) {
		return Result{Signature: sig, Source: SourceClientSupplied, Found: true}
	}
	if sig := NormalizeSignature(p.ContextSignature); IsValidSignature(sig) {
		return Result{Signature: sig, Source: SourceContextual, Found: true}
	}

	originalID, embedded := protocol.DecodeToolID(p.EncodedToolID)
	if sig := NormalizeSignature(embedded); IsValidSignature(sig) {
		return Result{Signature: sig, Source: SourceToolIDDecode, Found: true}
	}

	if p.SessionID != "" {
		if se, ok := r.store.SessionGet(ctx, p.SessionID); ok && IsValidSignature(se.Signature) {
			return Result{Signature: se.Signature, Source: SourceSessionCache, Found: true}
		}
	}

	if te, ok := r.store.ToolGet(ctx, originalID); ok && IsValidSignature(te.Signature) {
		return Result{Signature: te.Signature, Source: SourceToolIDCache, Found: true}
	}

	if e, ok := r.store.GetMostRecent(ctx); ok && IsValidSignature(e.Signature) {
		return Result{Signature: e.Signature, Source: SourceMostRecent, Found: true}
	}

	if p.UsePlaceholder {
		return Result{Signature: Sentinel, Source: SourceSentinel, Found: true}
	}
	return Result{Source: SourceNone, Found: false}
}
