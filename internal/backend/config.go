// Package backend implements the BackendRegistry and Router (C8): the
// priority-ordered table of upstream LLM backends and the chain-selection
// and fallback logic that picks among them for a given model.
package backend

import "strings"

// APIFormat is the wire dialect a backend's base_url speaks.
type APIFormat string

const (
	FormatOpenAI    APIFormat = "openai"
	FormatAnthropic APIFormat = "anthropic"
)

// Config is the BackendConfig (spec §3).
type Config struct {
	Name            string    `yaml:"name"`
	BaseURLs        []string  `yaml:"base_urls"`
	Priority        int       `yaml:"priority"` // lower = higher priority
	Enabled         bool      `yaml:"enabled"`
	Timeout         int       `yaml:"timeout_seconds"`
	StreamTimeout   int       `yaml:"stream_timeout_seconds"`
	MaxRetries      int       `yaml:"max_retries"`
	SupportedModels []string  `yaml:"supported_models"` // patterns, or ["*"]
	APIFormat       APIFormat `yaml:"api_format"`
}

// Matches reports whether model satisfies one of c's supported patterns.
// A pattern is either "*" or a case-insensitive substring/prefix match on
// the normalized model name.
func (c Config) Matches(model string) bool {
	if len(c.SupportedModels) == 0 {
		return false
	}
	norm := NormalizeModelName(model)
	for _, pattern := range c.SupportedModels {
		if pattern == "*" {
			return true
		}
		if strings.Contains(norm, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// ModelRoutingRule is spec §3's ModelRoutingRule: a model pattern mapped to
// an ordered backend chain plus the trigger set that permits falling
// through to the next backend in the chain.
type ModelRoutingRule struct {
	ModelPattern string          `yaml:"model_pattern"`
	Backends     []string        `yaml:"backends"` // ordered
	FallbackOn   map[string]bool `yaml:"fallback_on"` // status codes (as strings) ∪ {"timeout","connection_error","unavailable"}
}

// Matches reports whether model satisfies the rule's pattern, using the
// same normalization as Config.Matches.
func (r ModelRoutingRule) Matches(model string) bool {
	norm := NormalizeModelName(model)
	pattern := strings.ToLower(r.ModelPattern)
	return pattern == "*" || strings.Contains(norm, pattern)
}

// AllowsFallback reports whether trigger (a status code string, or one of
// "timeout"/"connection_error"/"unavailable") is in the rule's fallback_on
// set.
func (r ModelRoutingRule) AllowsFallback(trigger string) bool {
	return r.FallbackOn[trigger]
}

var suffixesToStrip = []string{"-thinking", "-preview", "-latest"}

// NormalizeModelName lowercases model and strips known suffixes (thinking
// variants, preview tags, and trailing date stamps like "-20241022"), per
// spec §4.8.
func NormalizeModelName(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	for _, suffix := range suffixesToStrip {
		m = strings.TrimSuffix(m, suffix)
	}
	m = stripTrailingDateSuffix(m)
	return m
}

// stripTrailingDateSuffix removes a trailing "-YYYYMMDD" component, the
// shape Anthropic and OpenAI both use for dated model snapshots.
func stripTrailingDateSuffix(m string) string {
	idx := strings.LastIndex(m, "-")
	if idx < 0 || idx == len(m)-1 {
		return m
	}
	suffix := m[idx+1:]
	if len(suffix) == 8 && isAllDigits(suffix) {
		return m[:idx]
	}
	return m
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
