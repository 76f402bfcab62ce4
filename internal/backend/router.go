package backend

// Router drives chain selection and fallback over a Registry (spec §4.8).
type Router struct {
	registry *Registry
}

// NewRouter builds a Router over registry.
func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// ChainFor returns the ordered backend names to try for model.
func (rt *Router) ChainFor(model string) []string {
	return rt.registry.BackendChainFor(model)
}

// GetFallbackBackend implements spec §4.8's get_fallback_backend: the next
// backend after current in model's chain, provided it is enabled, not
// already in visited (loop prevention is mandatory), and the governing
// rule's fallback_on set allows the trigger. trigger is a status code
// string or one of "timeout"/"connection_error"/"unavailable". When no
// ModelRoutingRule governs model, fallback is always permitted (the
// Kiro-Gateway/Antigravity/copilot catch-all chains are single-element, so
// this only matters for rule-governed chains).
func (rt *Router) GetFallbackBackend(model, current string, trigger string, visited map[string]bool) (string, bool) {
	chain := rt.ChainFor(model)

	rule, hasRule := rt.registry.ruleFor(model)
	if hasRule && !rule.AllowsFallback(trigger) {
		return "", false
	}

	idx := indexOf(chain, current)
	if idx < 0 {
		return "", false
	}
	for i := idx + 1; i < len(chain); i++ {
		name := chain[i]
		if visited[name] {
			continue
		}
		cfg, ok := rt.registry.Get(name)
		if !ok || !cfg.Enabled {
			continue
		}
		return name, true
	}
	return "", false
}

func indexOf(list []string, target string) int {
	for i, v := range list {
		if v == target {
			return i
		}
	}
	return -1
}
