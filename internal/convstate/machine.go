package convstate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nexus-gateway/llmgateway/internal/protocol"
)

// Persister is the optional durable-hydrate surface for conversation_state
// (spec §6 schema). A nil Persister means the machine is purely in-memory,
// degrading gracefully per spec §4.3 "Persistence failure -> in-memory
// only; log."
type Persister interface {
	LoadState(ctx context.Context, scid string) (*State, bool, error)
	SaveState(ctx context.Context, s State) error
	DeleteExpired(ctx context.Context, olderThan time.Time) error
}

// Machine is the ConversationStateMachine (C3). A single coarse mutex
// guards the SCID table; individual state mutations happen under that lock
// (spec §5 concurrency model).
type Machine struct {
	mu        sync.Mutex
	states    map[string]*State
	persist   Persister
	logger    *slog.Logger
	maxAge    time.Duration
}

// NewMachine constructs a Machine. persist may be nil.
func NewMachine(persist Persister, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		states:  make(map[string]*State),
		persist: persist,
		logger:  logger,
		maxAge:  DefaultMaxAgeHours * time.Hour,
	}
}

// GetOrCreate returns the existing state for scid, hydrating from L2 on a
// memory miss, or creates an empty one. An empty scid is rejected (spec
// §4.3 "Empty SCID -> raise").
func (m *Machine) GetOrCreate(ctx context.Context, scid string, clientType ClientType) (*State, error) {
	if scid == "" {
		return nil, fmt.Errorf("convstate: scid is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.states[scid]; ok {
		s.AccessCount++
		return s, nil
	}

	if m.persist != nil {
		if s, ok, err := m.persist.LoadState(ctx, scid); err != nil {
			m.logger.Warn("convstate: hydrate failed, starting fresh", "scid", scid, "error", err)
		} else if ok {
			m.states[scid] = s
			return s, nil
		}
	}

	now := time.Now()
	s := &State{
		SCID:       scid,
		ClientType: clientType,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(m.maxAge),
	}
	m.states[scid] = s
	return s, nil
}

// Update appends newUserMsgs and assistantMsg to the authoritative history,
// deduplicating by structural hash, refreshing UpdatedAt, and persisting
// asynchronously (best-effort; failures are logged, not propagated).
func (m *Machine) Update(ctx context.Context, scid string, newUserMsgs []protocol.Message, assistantMsg *protocol.Message, signature string) error {
	m.mu.Lock()
	s, ok := m.states[scid]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("convstate: unknown scid %q", scid)
	}

	seen := make(map[string]struct{}, len(s.AuthoritativeHistory))
	for _, existing := range s.AuthoritativeHistory {
		seen[structuralHash(existing)] = struct{}{}
	}
	appendIfNew := func(m2 protocol.Message) {
		h := structuralHash(m2)
		if _, dup := seen[h]; dup {
			return
		}
		seen[h] = struct{}{}
		s.AuthoritativeHistory = append(s.AuthoritativeHistory, m2)
	}

	for _, um := range newUserMsgs {
		appendIfNew(um)
	}
	if assistantMsg != nil {
		appendIfNew(*assistantMsg)
	}
	if signature != "" {
		s.LastSignature = signature
	}
	s.UpdatedAt = time.Now()
	s.ExpiresAt = s.UpdatedAt.Add(m.maxAge)
	snapshot := *s
	m.mu.Unlock()

	if m.persist != nil {
		if err := m.persist.SaveState(ctx, snapshot); err != nil {
			m.logger.Warn("convstate: persist failed, continuing in-memory only", "scid", scid, "error", err)
		}
	}
	return nil
}

// MergeWithClientHistory implements the anti-tampering merge algorithm (spec
// §4.3, P5): authoritative wins on role agreement, client history is trusted
// when roles diverge (a fork) or when it runs ahead of the server's log.
func (m *Machine) MergeWithClientHistory(scid string, clientMsgs []protocol.Message) ([]protocol.Message, error) {
	m.mu.Lock()
	s, ok := m.states[scid]
	if !ok {
		m.mu.Unlock()
		return clientMsgs, nil
	}
	auth := append([]protocol.Message(nil), s.AuthoritativeHistory...)
	m.mu.Unlock()

	min := len(auth)
	if len(clientMsgs) < min {
		min = len(clientMsgs)
	}

	merged := make([]protocol.Message, 0, max(len(auth), len(clientMsgs)))
	for i := 0; i < min; i++ {
		if auth[i].Role == clientMsgs[i].Role {
			merged = append(merged, auth[i])
		} else {
			m.logger.Warn("convstate: history fork detected", "scid", scid, "index", i,
				"authoritative_role", auth[i].Role, "client_role", clientMsgs[i].Role)
			merged = append(merged, clientMsgs[i])
		}
	}

	switch {
	case len(clientMsgs) > len(auth):
		merged = append(merged, clientMsgs[min:]...)
	case len(auth) > len(clientMsgs):
		merged = append(merged, auth[min:]...)
	}

	return merged, nil
}

// CleanupExpired evicts in-memory states idle beyond maxAgeHours and asks
// the persister to do the same for durable rows.
func (m *Machine) CleanupExpired(ctx context.Context, maxAgeHours int) {
	if maxAgeHours <= 0 {
		maxAgeHours = DefaultMaxAgeHours
	}
	cutoff := time.Now().Add(-time.Duration(maxAgeHours) * time.Hour)

	m.mu.Lock()
	for scid, s := range m.states {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.states, scid)
		}
	}
	m.mu.Unlock()

	if m.persist != nil {
		if err := m.persist.DeleteExpired(ctx, cutoff); err != nil {
			m.logger.Warn("convstate: cleanup_expired persist sweep failed", "error", err)
		}
	}
}
