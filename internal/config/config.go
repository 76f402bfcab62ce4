// Package config loads and validates the gateway's configuration: the
// backend table and routing rules (C8), signature-store and client-limiter
// tuning (C1/C11), and the ambient server/logging/tracing knobs, following
// the teacher's $include-resolving YAML loader and per-concern config files.
package config

import (
	"fmt"
	"time"

	"github.com/nexus-gateway/llmgateway/internal/backend"
	"github.com/nexus-gateway/llmgateway/internal/backoff"
	"github.com/nexus-gateway/llmgateway/internal/observability"
	"github.com/nexus-gateway/llmgateway/internal/ratelimit"
	"github.com/nexus-gateway/llmgateway/internal/signature"
)

// Config is the gateway's root configuration document.
type Config struct {
	Server      ServerConfig            `yaml:"server"`
	Backends    []backend.Config        `yaml:"backends"`
	Routing     []backend.ModelRoutingRule `yaml:"routing"`
	Signature   SignatureConfig         `yaml:"signature"`
	ConvState   ConvStateConfig         `yaml:"conversation_state"`
	ClientLimit ratelimit.Config        `yaml:"client_rate_limit"`
	Retry       RetryConfig             `yaml:"retry"`
	Antigravity AntigravityConfig       `yaml:"antigravity"`
	Logging     observability.LogConfig `yaml:"logging"`
	Tracing     observability.TraceConfig `yaml:"tracing"`
	Metrics     MetricsConfig           `yaml:"metrics"`
}

// ServerConfig configures the gateway's own HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SignatureConfig configures C1's SignatureStore.
type SignatureConfig struct {
	DatabasePath string                `yaml:"database_path"`
	Store        signature.StoreOptions `yaml:"store"`
}

// ConvStateConfig configures C3's persistence.
type ConvStateConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// RetryConfig is the global gate over C10's status-code retry table;
// Engine.ProxyRequest consults Enabled before applying RetryPolicy.Determine.
type RetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AntigravityConfig carries the credentials main.go uses to construct the
// genai.Client handed to httpapi.NewAntigravityHandler. Left zero-value
// (Enabled=false), the in-process Antigravity backend is never registered.
type AntigravityConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// MetricsConfig toggles Prometheus metrics collection and the GET /metrics
// scrape endpoint mounted on the gateway's own HTTP server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads, $include-resolves, decodes, defaults, and validates the
// config file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applySignatureDefaults(&cfg.Signature)
	applyClientLimitDefaults(&cfg.ClientLimit)
	applyLoggingDefaults(&cfg.Logging)
	applyTracingDefaults(&cfg.Tracing)
	for i := range cfg.Backends {
		applyBackendDefaults(&cfg.Backends[i])
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Addr == "" {
		cfg.Addr = ":8089"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 120 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

func applySignatureDefaults(cfg *SignatureConfig) {
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "signatures.db"
	}
	if cfg.Store.L1.MaxSize == 0 {
		cfg.Store.L1.MaxSize = 10000
	}
	if cfg.Store.L1.TTL == 0 {
		cfg.Store.L1.TTL = time.Hour
	}
	if cfg.Store.L1.Eviction == "" {
		cfg.Store.L1.Eviction = signature.EvictLRU
	}
	if cfg.Store.Queue.MaxQueueSize == 0 {
		cfg.Store.Queue.MaxQueueSize = 1000
	}
	if cfg.Store.Queue.BatchSize == 0 {
		cfg.Store.Queue.BatchSize = 50
	}
	if cfg.Store.Queue.BatchTimeout == 0 {
		cfg.Store.Queue.BatchTimeout = 200 * time.Millisecond
	}
	if cfg.Store.Queue.MaxRetries == 0 {
		cfg.Store.Queue.MaxRetries = 3
	}
	if cfg.Store.Queue.Policy.InitialMs == 0 {
		cfg.Store.Queue.Policy = backoffDefaultPolicy()
	}
}

func applyClientLimitDefaults(cfg *ratelimit.Config) {
	if cfg.RequestsPerSecond == 0 && cfg.BurstSize == 0 && !cfg.Enabled {
		*cfg = ratelimit.DefaultConfig()
	}
}

func applyLoggingDefaults(cfg *observability.LogConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyTracingDefaults(cfg *observability.TraceConfig) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "llmgateway"
	}
	if cfg.SamplingRate == 0 {
		cfg.SamplingRate = 1.0
	}
}

func backoffDefaultPolicy() backoff.BackoffPolicy {
	return backoff.BackoffPolicy{InitialMs: 100, MaxMs: 5000, Factor: 2, Jitter: 0.2}
}

func applyBackendDefaults(cfg *backend.Config) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30
	}
	if cfg.StreamTimeout == 0 {
		cfg.StreamTimeout = 300
	}
}

func validateConfig(cfg *Config) error {
	if len(cfg.Backends) == 0 {
		return fmt.Errorf("config: at least one backend is required")
	}
	names := make(map[string]bool, len(cfg.Backends))
	for _, b := range cfg.Backends {
		if b.Name == "" {
			return fmt.Errorf("config: backend entry missing name")
		}
		if names[b.Name] {
			return fmt.Errorf("config: duplicate backend name %q", b.Name)
		}
		names[b.Name] = true
		if b.Enabled && len(b.BaseURLs) == 0 && b.Name != "antigravity" {
			return fmt.Errorf("config: backend %q is enabled but has no base_urls", b.Name)
		}
		switch b.APIFormat {
		case backend.FormatOpenAI, backend.FormatAnthropic, "":
		default:
			return fmt.Errorf("config: backend %q has unknown api_format %q", b.Name, b.APIFormat)
		}
	}
	for _, rule := range cfg.Routing {
		for _, name := range rule.Backends {
			if !names[name] {
				return fmt.Errorf("config: routing rule %q references unknown backend %q", rule.ModelPattern, name)
			}
		}
	}
	if cfg.Antigravity.Enabled && !names["antigravity"] {
		return fmt.Errorf("config: antigravity is enabled but no backend named \"antigravity\" is configured")
	}
	return nil
}
