// Package signature implements the SignatureStore (C1) layered cache and the
// SignatureRecovery (C2) fallback pipeline that together keep Gemini/Claude
// "thought signatures" alive across IDE clients that strip them.
package signature

import "time"

const (
	// Sentinel is emitted when no real signature could be recovered and the
	// caller opted into the placeholder fallback. It must never be accepted
	// as cache input (spec §3).
	Sentinel = "SKIP_VALIDATOR"

	// MinLength is the minimum length a string must have to be considered a
	// structurally valid signature (spec §4.2).
	MinLength = 50
)

// Entry is the canonical SignatureEntry (spec §3).
type Entry struct {
	Signature      string
	ThinkingHash   string
	ThinkingPrefix string
	Model          string
	Namespace      string
	ConversationID string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int
}

// Expired reports whether e has passed its TTL as of now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Key builds the CacheKey = namespace ":" (conversation_id | "_") ":" thinking_hash.
func Key(namespace, conversationID, thinkingHash string) string {
	conv := conversationID
	if conv == "" {
		conv = "_"
	}
	return namespace + ":" + conv + ":" + thinkingHash
}

// ToolEntry is the ToolSignatureEntry (spec §3).
type ToolEntry struct {
	ToolID    string
	Signature string
	ExpiresAt time.Time
}

// SessionEntry is the SessionSignatureEntry (spec §3).
type SessionEntry struct {
	SessionID    string
	Signature    string
	ThinkingText string
	ExpiresAt    time.Time
}

// RecoverySource records which layer of the recovery pipeline produced a
// signature, used both for logging and to decide cacheability (spec §4.2:
// layers 1-4 cache, 5-6 do not).
type RecoverySource string

const (
	SourceClientSupplied RecoverySource = "client_supplied"
	SourceContextual     RecoverySource = "contextual"
	SourceHashLookup     RecoverySource = "hash_lookup"
	SourceSessionCache   RecoverySource = "session_cache"
	SourceToolIDDecode   RecoverySource = "tool_id_decode"
	SourceToolIDCache    RecoverySource = "tool_id_cache"
	SourceMostRecent     RecoverySource = "most_recent"
	SourceSentinel       RecoverySource = "sentinel"
	SourceNone           RecoverySource = "none"
)

// Cacheable reports whether a result from this source should be written
// back into the store, per spec §4.2 ("layers 1-4 cache; 5-6 do not, to
// avoid pollution").
func (s RecoverySource) Cacheable() bool {
	switch s {
	case SourceClientSupplied, SourceContextual, SourceHashLookup, SourceSessionCache, SourceToolIDDecode, SourceToolIDCache:
		return true
	default:
		return false
	}
}

// Result is the outcome of a recovery pipeline run.
type Result struct {
	Signature string
	Source    RecoverySource
	Found     bool
}
