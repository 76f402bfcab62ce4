package backend

import "testing"

func TestRouter_GetFallbackBackend_AdvancesChain(t *testing.T) {
	r := NewRegistry()
	r.Register(Config{Name: "primary", Enabled: true})
	r.Register(Config{Name: "secondary", Enabled: true})
	r.SetRules([]ModelRoutingRule{
		{ModelPattern: "claude-3", Backends: []string{"primary", "secondary"}, FallbackOn: map[string]bool{"429": true}},
	})
	rt := NewRouter(r)

	next, ok := rt.GetFallbackBackend("claude-3", "primary", "429", map[string]bool{})
	if !ok || next != "secondary" {
		t.Errorf("expected fallback to secondary, got %q ok=%v", next, ok)
	}
}

func TestRouter_GetFallbackBackend_DeniedByRule(t *testing.T) {
	r := NewRegistry()
	r.Register(Config{Name: "primary", Enabled: true})
	r.Register(Config{Name: "secondary", Enabled: true})
	r.SetRules([]ModelRoutingRule{
		{ModelPattern: "claude-3", Backends: []string{"primary", "secondary"}, FallbackOn: map[string]bool{"429": true}},
	})
	rt := NewRouter(r)

	if _, ok := rt.GetFallbackBackend("claude-3", "primary", "400", map[string]bool{}); ok {
		t.Error("expected no fallback for a trigger outside fallback_on")
	}
}

func TestRouter_GetFallbackBackend_SkipsVisited(t *testing.T) {
	r := NewRegistry()
	r.Register(Config{Name: "primary", Enabled: true})
	r.Register(Config{Name: "secondary", Enabled: true})
	r.Register(Config{Name: "tertiary", Enabled: true})
	r.SetRules([]ModelRoutingRule{
		{ModelPattern: "claude-3", Backends: []string{"primary", "secondary", "tertiary"}, FallbackOn: map[string]bool{"429": true}},
	})
	rt := NewRouter(r)

	next, ok := rt.GetFallbackBackend("claude-3", "primary", "429", map[string]bool{"secondary": true})
	if !ok || next != "tertiary" {
		t.Errorf("expected visited backends skipped in favor of tertiary, got %q ok=%v", next, ok)
	}
}

func TestRouter_GetFallbackBackend_EndOfChain(t *testing.T) {
	r := NewRegistry()
	r.Register(Config{Name: "primary", Enabled: true})
	r.SetRules([]ModelRoutingRule{
		{ModelPattern: "claude-3", Backends: []string{"primary"}, FallbackOn: map[string]bool{"429": true}},
	})
	rt := NewRouter(r)

	if _, ok := rt.GetFallbackBackend("claude-3", "primary", "429", map[string]bool{}); ok {
		t.Error("expected no fallback past the end of the chain")
	}
}
