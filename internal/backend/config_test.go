package backend

import "testing"

func TestConfig_Matches(t *testing.T) {
	cfg := Config{SupportedModels: []string{"claude-3", "gpt-4"}}

	cases := []struct {
		model string
		want  bool
	}{
		{"claude-3-5-sonnet-20241022", true},
		{"gpt-4o", true},
		{"gemini-1.5-pro", false},
	}
	for _, tc := range cases {
		if got := cfg.Matches(tc.model); got != tc.want {
			t.Errorf("Matches(%q) = %v, want %v", tc.model, got, tc.want)
		}
	}
}

func TestConfig_Matches_Wildcard(t *testing.T) {
	cfg := Config{SupportedModels: []string{"*"}}
	if !cfg.Matches("anything-goes") {
		t.Error("expected a \"*\" pattern to match any model")
	}
}

func TestConfig_Matches_NoPatterns(t *testing.T) {
	cfg := Config{}
	if cfg.Matches("claude-3") {
		t.Error("expected a backend with no supported_models to match nothing")
	}
}

func TestModelRoutingRule_AllowsFallback(t *testing.T) {
	rule := ModelRoutingRule{
		ModelPattern: "claude-3",
		Backends:     []string{"primary", "secondary"},
		FallbackOn:   map[string]bool{"429": true, "503": true},
	}
	if !rule.AllowsFallback("429") {
		t.Error("expected 429 to be an allowed fallback trigger")
	}
	if rule.AllowsFallback("400") {
		t.Error("expected 400 to not be an allowed fallback trigger")
	}
}

func TestNormalizeModelName(t *testing.T) {
	cases := map[string]string{
		"Claude-3-5-Sonnet-20241022": "claude-3-5-sonnet",
		"gpt-4o-preview":             "gpt-4o",
		"gemini-1.5-pro-latest":      "gemini-1.5-pro",
		"  GPT-4  ":                  "gpt-4",
	}
	for in, want := range cases {
		if got := NormalizeModelName(in); got != want {
			t.Errorf("NormalizeModelName(%q) = %q, want %q", in, got, want)
		}
	}
}
