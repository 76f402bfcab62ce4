package backend

import (
	"sort"
	"strings"
	"sync"
)

// Registry holds the configured backend table, keyed by name, with the
// same mutex-guarded-map style the teacher's routing.Router uses for its
// health/cooldown table.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Config
	rules    []ModelRoutingRule

	kiroGatewayPatterns []string
	antigravityPatterns []string
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Config)}
}

// Register adds or replaces a backend's configuration.
func (r *Registry) Register(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[cfg.Name] = cfg
}

// SetRules replaces the ordered ModelRoutingRule table.
func (r *Registry) SetRules(rules []ModelRoutingRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = rules
}

// SetAntigravityPatterns configures the provider-family regex-free pattern
// set used by is_antigravity_supported (spec §4.8 step 3); patterns are
// matched as case-insensitive substrings of the normalized model name, the
// same matching style Config.Matches uses.
func (r *Registry) SetAntigravityPatterns(patterns []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.antigravityPatterns = patterns
}

// SetKiroGatewayPatterns configures the Kiro-Gateway model pattern set
// (spec §4.8 step 2).
func (r *Registry) SetKiroGatewayPatterns(patterns []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kiroGatewayPatterns = patterns
}

// Get returns a backend's config by name.
func (r *Registry) Get(name string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.backends[name]
	return cfg, ok
}

// SortedBackends returns enabled backends in ascending priority order
// (spec §4.8 sorted_backends()).
func (r *Registry) SortedBackends() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Config, 0, len(r.backends))
	for _, cfg := range r.backends {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// BackendChainFor implements spec §4.8's backend_chain_for(model):
//  1. a matching ModelRoutingRule's ordered enabled subset,
//  2. else the Kiro-Gateway catch-all if the normalized model matches,
//  3. else the Antigravity catch-all if is_antigravity_supported,
//  4. else the final copilot catch-all.
func (r *Registry) BackendChainFor(model string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	norm := NormalizeModelName(model)

	for _, rule := range r.rules {
		if rule.Matches(model) {
			return r.enabledSubsetLocked(rule.Backends)
		}
	}

	for _, pattern := range r.kiroGatewayPatterns {
		if matchesPattern(norm, pattern) {
			if r.isEnabledLocked("kiro-gateway") {
				return []string{"kiro-gateway"}
			}
		}
	}

	for _, pattern := range r.antigravityPatterns {
		if matchesPattern(norm, pattern) {
			if r.isEnabledLocked("antigravity") {
				return []string{"antigravity"}
			}
		}
	}

	return []string{"copilot"}
}

func (r *Registry) enabledSubsetLocked(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if r.isEnabledLocked(name) {
			out = append(out, name)
		}
	}
	return out
}

func (r *Registry) isEnabledLocked(name string) bool {
	cfg, ok := r.backends[name]
	return ok && cfg.Enabled
}

// ruleFor returns the ModelRoutingRule that governs model, if any, so the
// Router can consult its fallback_on set.
func (r *Registry) ruleFor(model string) (ModelRoutingRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		if rule.Matches(model) {
			return rule, true
		}
	}
	return ModelRoutingRule{}, false
}

func matchesPattern(norm, pattern string) bool {
	p := strings.ToLower(strings.TrimSpace(pattern))
	if p == "" {
		return false
	}
	return strings.Contains(norm, p)
}
