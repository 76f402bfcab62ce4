package backend

import "testing"

func TestRegistry_BackendChainFor_RuleGoverned(t *testing.T) {
	r := NewRegistry()
	r.Register(Config{Name: "primary", Enabled: true, Priority: 1})
	r.Register(Config{Name: "secondary", Enabled: true, Priority: 2})
	r.Register(Config{Name: "disabled-backend", Enabled: false, Priority: 3})
	r.SetRules([]ModelRoutingRule{
		{ModelPattern: "claude-3", Backends: []string{"primary", "disabled-backend", "secondary"}},
	})

	chain := r.BackendChainFor("claude-3-5-sonnet-20241022")
	if len(chain) != 2 || chain[0] != "primary" || chain[1] != "secondary" {
		t.Errorf("expected the disabled backend filtered out of the rule's chain, got %v", chain)
	}
}

func TestRegistry_BackendChainFor_AntigravityCatchAll(t *testing.T) {
	r := NewRegistry()
	r.Register(Config{Name: "antigravity", Enabled: true})
	r.SetAntigravityPatterns([]string{"gemini"})

	chain := r.BackendChainFor("gemini-1.5-pro")
	if len(chain) != 1 || chain[0] != "antigravity" {
		t.Errorf("expected the antigravity catch-all chain, got %v", chain)
	}
}

func TestRegistry_BackendChainFor_FinalCopilotCatchAll(t *testing.T) {
	r := NewRegistry()
	chain := r.BackendChainFor("some-unmatched-model")
	if len(chain) != 1 || chain[0] != "copilot" {
		t.Errorf("expected the final copilot catch-all, got %v", chain)
	}
}

func TestRegistry_SortedBackends(t *testing.T) {
	r := NewRegistry()
	r.Register(Config{Name: "low-priority", Enabled: true, Priority: 5})
	r.Register(Config{Name: "high-priority", Enabled: true, Priority: 1})
	r.Register(Config{Name: "off", Enabled: false, Priority: 0})

	sorted := r.SortedBackends()
	if len(sorted) != 2 || sorted[0].Name != "high-priority" || sorted[1].Name != "low-priority" {
		t.Errorf("expected only enabled backends sorted by ascending priority, got %+v", sorted)
	}
}
