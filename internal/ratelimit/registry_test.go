package ratelimit

import (
	"testing"
	"time"
)

func TestRegistry_MarkAndIsRateLimited(t *testing.T) {
	r := NewRegistry()

	if r.IsRateLimited("cred-1", "gpt-4o") {
		t.Fatal("fresh registry should report no cooldown")
	}

	r.MarkRateLimited("cred-1", "gpt-4o", 429, "rate limited", 30*time.Second, time.Now().Add(30*time.Second), ReasonRateLimit)

	if !r.IsRateLimited("cred-1", "gpt-4o") {
		t.Error("expected cred-1/gpt-4o to be in cooldown")
	}
	if r.IsRateLimited("cred-1", "claude-3") {
		t.Error("cooldown should be model-scoped, not leak to another model")
	}
	if r.IsRateLimited("cred-2", "gpt-4o") {
		t.Error("cooldown should be credential-scoped, not leak to another credential")
	}
}

func TestRegistry_CooldownExpires(t *testing.T) {
	r := NewRegistry()
	r.MarkRateLimited("cred-1", "*", 500, "server error", time.Second, time.Now().Add(-time.Second), ReasonServerError)

	if r.IsRateLimited("cred-1", "*") {
		t.Error("a cooldown_until in the past must not count as in cooldown")
	}
}

func TestRegistry_ConsecutiveFailures(t *testing.T) {
	r := NewRegistry()
	until := time.Now().Add(time.Minute)

	r.MarkRateLimited("cred-1", "gpt-4o", 429, "one", time.Second, until, ReasonRateLimit)
	r.MarkRateLimited("cred-1", "gpt-4o", 429, "two", time.Second, until, ReasonRateLimit)
	r.MarkRateLimited("cred-1", "gpt-4o", 429, "three", time.Second, until, ReasonRateLimit)

	r.mu.Lock()
	s := r.states[stateKey{"cred-1", "gpt-4o"}]
	r.mu.Unlock()

	if s.ConsecutiveFailures != 3 {
		t.Errorf("expected 3 consecutive failures, got %d", s.ConsecutiveFailures)
	}
	if s.LastError != "three" {
		t.Errorf("expected last_error to reflect the most recent mark, got %q", s.LastError)
	}
}

func TestRegistry_ClearRateLimit(t *testing.T) {
	r := NewRegistry()
	r.MarkRateLimited("cred-1", "gpt-4o", 429, "err", time.Second, time.Now().Add(time.Minute), ReasonRateLimit)
	r.ClearRateLimit("cred-1", "gpt-4o")

	if r.IsRateLimited("cred-1", "gpt-4o") {
		t.Error("expected cooldown to be cleared")
	}
}

func TestRegistry_ClearForCredential(t *testing.T) {
	r := NewRegistry()
	until := time.Now().Add(time.Minute)
	r.MarkRateLimited("cred-1", "gpt-4o", 429, "err", time.Second, until, ReasonRateLimit)
	r.MarkRateLimited("cred-1", "claude-3", 429, "err", time.Second, until, ReasonRateLimit)
	r.MarkRateLimited("cred-2", "gpt-4o", 429, "err", time.Second, until, ReasonRateLimit)

	r.ClearForCredential("cred-1")

	if r.IsRateLimited("cred-1", "gpt-4o") || r.IsRateLimited("cred-1", "claude-3") {
		t.Error("expected all cred-1 entries to be cleared")
	}
	if !r.IsRateLimited("cred-2", "gpt-4o") {
		t.Error("cred-2's entry should be untouched")
	}
}

func TestRegistry_CleanupExpired(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.MarkRateLimited("cred-1", "gpt-4o", 429, "old", time.Second, now.Add(-2*time.Hour), ReasonRateLimit)
	r.MarkRateLimited("cred-2", "gpt-4o", 429, "recent", time.Second, now.Add(time.Minute), ReasonRateLimit)

	removed := r.CleanupExpired(now.Add(-time.Hour))
	if removed != 1 {
		t.Errorf("expected 1 entry removed, got %d", removed)
	}

	r.mu.Lock()
	_, stillThere := r.states[stateKey{"cred-2", "gpt-4o"}]
	r.mu.Unlock()
	if !stillThere {
		t.Error("recent entry should survive cleanup")
	}
}
