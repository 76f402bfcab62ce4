// Package convstate implements the ConversationStateMachine (C3): the
// per-SCID authoritative transcript that overrules client-replayed history
// when an IDE tampers with or truncates it.
package convstate

import (
	"time"

	"github.com/nexus-gateway/llmgateway/internal/protocol"
)

// ClientType enumerates the ~10 recognized IDE/client variants (spec §3).
type ClientType string

const (
	ClientClaudeCode  ClientType = "claude_code"
	ClientCursor      ClientType = "cursor"
	ClientAugment     ClientType = "augment"
	ClientWindsurf    ClientType = "windsurf"
	ClientCline       ClientType = "cline"
	ClientContinueDev ClientType = "continue_dev"
	ClientAider       ClientType = "aider"
	ClientZed         ClientType = "zed"
	ClientCopilot     ClientType = "copilot"
	ClientOpenAIAPI   ClientType = "openai_api"
	ClientUnknown     ClientType = "unknown"
)

// State is the ConversationState (spec §3).
type State struct {
	SCID                 string
	ClientType           ClientType
	AuthoritativeHistory []protocol.Message
	LastSignature        string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	ExpiresAt            time.Time
	AccessCount          int
}

// DefaultMaxAgeHours is the idle-expiry window (spec §3 "default 24").
const DefaultMaxAgeHours = 24
