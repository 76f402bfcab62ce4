package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nexus-gateway/llmgateway/internal/backend"
	"github.com/nexus-gateway/llmgateway/internal/observability"
	"github.com/nexus-gateway/llmgateway/internal/ratelimit"
)

// LocalHandler is the in-process Antigravity special case (spec §4.9): when
// the chosen backend is "antigravity" and the endpoint is "/chat/completions",
// the request is served without a loopback HTTP round-trip.
type LocalHandler func(ctx context.Context, body []byte, stream bool) (*Result, error)

// Result is the outcome of a single proxy_request call: either a complete
// non-streaming body, or an open stream body the caller reads incrementally.
type Result struct {
	StatusCode int
	Headers    http.Header
	Body       []byte        // set when !IsStream
	Stream     io.ReadCloser // set when IsStream
	IsStream   bool
}

// Engine implements proxy_request and route_with_fallback.
type Engine struct {
	client       *http.Client
	rateLimit    *ratelimit.Registry
	retry        *ratelimit.RetryPolicy
	retryEnabled bool
	logger       *slog.Logger
	metrics      *observability.Metrics
	tracer       *observability.Tracer
	local        map[string]LocalHandler // backend name -> in-process handler
	rng          *rand.Rand
}

// NewEngine builds an Engine. httpClient may be nil to use a default client.
// retryEnabled gates C10's status-code retry table (spec §4.10's
// retry_enabled); false forces every attempt to exhaust after the first
// failure regardless of a backend's configured max_retries. metrics and
// tracer may both be nil, in which case the corresponding instrumentation is
// skipped.
func NewEngine(httpClient *http.Client, rateLimit *ratelimit.Registry, retryEnabled bool, logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Engine {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Engine{
		client:       httpClient,
		rateLimit:    rateLimit,
		retry:        ratelimit.NewRetryPolicy(),
		retryEnabled: retryEnabled,
		logger:       logger,
		metrics:      metrics,
		tracer:       tracer,
		local:        make(map[string]LocalHandler),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RegisterLocalHandler wires an in-process handler for backend at endpoint,
// used for the Antigravity loopback-avoidance special case.
func (e *Engine) RegisterLocalHandler(backendName, endpoint string, handler LocalHandler) {
	e.local[backendName+" "+endpoint] = handler
}

// IsRateLimited reports whether (credential, backendName) is in cooldown,
// exposing the C10 registry for /gateway/health's degraded-status check.
func (e *Engine) IsRateLimited(credential, backendName string) bool {
	return e.rateLimit.IsRateLimited(credential, backendName)
}

// ProxyRequest dispatches one attempt-loop against cfg for a single backend,
// implementing spec §4.9's retry rules. credential identifies the caller for
// C10 cooldown bookkeeping.
func (e *Engine) ProxyRequest(ctx context.Context, cfg backend.Config, credential, endpoint, method string, headers map[string][]string, body []byte, stream bool) (ok bool, result *Result, err error) {
	model := modelFromBody(body)
	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.TraceLLMRequest(ctx, cfg.Name, model)
	}
	start := time.Now()
	defer func() {
		if span != nil {
			if err != nil {
				e.tracer.RecordError(span, err)
			}
			span.End()
		}
		if e.metrics != nil {
			status := "success"
			if !ok {
				status = "error"
			}
			e.metrics.RecordBackendRequest(cfg.Name, model, status, time.Since(start).Seconds(), 0, 0)
		}
	}()

	if handler, found := e.local[cfg.Name+" "+endpoint]; found {
		res, herr := handler(ctx, body, stream)
		if herr != nil {
			return false, nil, herr
		}
		return true, res, nil
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if stream {
		timeout = time.Duration(cfg.StreamTimeout) * time.Second
	}

	forwarded := FilterHeaders(headers)
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 || !e.retryEnabled {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		res, status, retryAfter, rerr := e.attempt(ctx, cfg, endpoint, method, forwarded, body, stream, timeout)
		if rerr == nil && status < 400 {
			e.rateLimit.ClearRateLimit(credential, cfg.Name)
			if e.metrics != nil {
				e.metrics.RecordRateLimitCleared(cfg.Name)
				if attempt > 0 {
					e.metrics.RecordRetryAttempt(cfg.Name, "success")
				}
			}
			return true, res, nil
		}

		if rerr != nil {
			lastErr = rerr
			if attempt >= maxRetries || !isTransientNetworkError(rerr) {
				e.recordRetryExhausted(cfg.Name)
				return false, nil, lastErr
			}
			e.recordRetry(cfg.Name)
			if !e.sleepBackoff(ctx, cfg, attempt) {
				return false, nil, ctx.Err()
			}
			continue
		}

		lastErr = fmt.Errorf("backend %s: status %d", cfg.Name, status)

		switch {
		case status == 429:
			strategy := e.retry.Determine(status, bodyPreview(res), e.retryEnabled)
			e.rateLimit.MarkRateLimited(credential, cfg.Name, status, bodyPreview(res), retryAfter, time.Now().Add(retryAfter), ratelimit.ReasonRateLimit)
			if e.metrics != nil {
				e.metrics.RecordRateLimitEntered(cfg.Name, string(ratelimit.ReasonRateLimit))
			}
			if attempt >= maxRetries {
				e.recordRetryExhausted(cfg.Name)
				return false, res, lastErr
			}
			e.recordRetry(cfg.Name)
			delay := e.advisoryDelay(retryAfter, strategy, attempt)
			if !e.sleepDuration(ctx, delay) {
				return false, nil, ctx.Err()
			}
		case status == 500 || status == 502 || status == 504:
			if attempt >= maxRetries {
				e.recordRetryExhausted(cfg.Name)
				return false, res, lastErr
			}
			e.recordRetry(cfg.Name)
			if !e.sleepBackoff(ctx, cfg, attempt) {
				return false, nil, ctx.Err()
			}
		default:
			e.recordRetryExhausted(cfg.Name)
			return false, res, lastErr
		}
	}

	return false, nil, lastErr
}

func (e *Engine) recordRetry(backendName string) {
	if e.metrics != nil {
		e.metrics.RecordRetryAttempt(backendName, "retry")
	}
}

func (e *Engine) recordRetryExhausted(backendName string) {
	if e.metrics != nil {
		e.metrics.RecordRetryAttempt(backendName, "exhausted")
	}
}

// modelFromBody extracts the "model" field from an outbound request body for
// metrics/tracing labels, without the overhead of decoding the full request;
// falls back to "unknown" if it can't find one.
func modelFromBody(body []byte) string {
	idx := bytes.Index(body, []byte(`"model"`))
	if idx < 0 {
		return "unknown"
	}
	rest := body[idx+len(`"model"`):]
	colon := bytes.IndexByte(rest, ':')
	if colon < 0 {
		return "unknown"
	}
	rest = rest[colon+1:]
	start := bytes.IndexByte(rest, '"')
	if start < 0 {
		return "unknown"
	}
	rest = rest[start+1:]
	end := bytes.IndexByte(rest, '"')
	if end < 0 {
		return "unknown"
	}
	return string(rest[:end])
}

func (e *Engine) attempt(ctx context.Context, cfg backend.Config, endpoint, method string, headers map[string][]string, body []byte, stream bool, timeout time.Duration) (*Result, int, time.Duration, error) {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	if cancel != nil && !stream {
		defer cancel()
	}

	baseURL := pickBaseURL(cfg)
	req, err := http.NewRequestWithContext(attemptCtx, method, baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, 0, 0, err
	}
	for name, values := range headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, 0, 0, err
	}

	var retryAfter time.Duration
	if resp.StatusCode >= 400 {
		retryAfter = parseRetryAfter(resp)
	}

	if stream {
		// cancel's ownership passes to cancelingBody.Close, triggered once
		// the caller finishes or abandons reading the stream.
		return &Result{StatusCode: resp.StatusCode, Headers: resp.Header, Stream: &cancelingBody{ReadCloser: resp.Body, cancel: cancel}, IsStream: true}, resp.StatusCode, retryAfter, nil
	}

	defer resp.Body.Close()
	if cancel != nil {
		defer cancel()
	}
	data, rerr := io.ReadAll(resp.Body)
	if rerr != nil && !isBenignIncompleteChunkedRead(rerr) {
		return nil, 0, 0, rerr
	}
	return &Result{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}, resp.StatusCode, retryAfter, nil
}

// RouteWithFallback implements route_with_fallback: drives router's chain
// for model, calling ProxyRequest against each candidate in turn, skipping
// backends already in visited, until one succeeds or the chain is
// exhausted (spec §4.9).
func (e *Engine) RouteWithFallback(ctx context.Context, router *backend.Router, registry *backend.Registry, model, credential, endpoint, method string, headers map[string][]string, body []byte, stream bool) (*Result, error) {
	chain := router.ChainFor(model)
	if len(chain) == 0 {
		return nil, fmt.Errorf("503 All backends failed: no backend chain for model %q", model)
	}

	visited := make(map[string]bool)
	current := chain[0]

	for {
		cfg, found := registry.Get(current)
		if !found || !cfg.Enabled {
			visited[current] = true
		} else {
			ok, result, err := e.ProxyRequest(ctx, cfg, credential, endpoint, method, headers, body, stream)
			visited[current] = true
			if ok {
				return result, nil
			}
			trigger := triggerFor(err)
			next, canFallback := router.GetFallbackBackend(model, current, trigger, visited)
			if !canFallback {
				return nil, fmt.Errorf("503 All backends failed: %w", err)
			}
			current = next
			continue
		}

		next, canFallback := router.GetFallbackBackend(model, current, "unavailable", visited)
		if !canFallback {
			return nil, fmt.Errorf("503 All backends failed: backend %q disabled or unknown", current)
		}
		current = next
	}
}

func triggerFor(err error) string {
	if err == nil {
		return "unavailable"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "status 429"):
		return "429"
	case strings.Contains(msg, "status 500"):
		return "500"
	case strings.Contains(msg, "status 502"):
		return "502"
	case strings.Contains(msg, "status 503"):
		return "503"
	case strings.Contains(msg, "status 504"):
		return "504"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "connection"):
		return "connection_error"
	default:
		return "unavailable"
	}
}

func (e *Engine) sleepBackoff(ctx context.Context, cfg backend.Config, attempt int) bool {
	strategy := ratelimit.Strategy{Kind: ratelimit.KindExponential, BaseMS: 1000, MaxMS: 60000, JitterRatio: 0.2}
	delay := strategy.ComputeDelay(attempt, nil, e.rng)
	return e.sleepDuration(ctx, delay)
}

func (e *Engine) advisoryDelay(retryAfter time.Duration, strategy ratelimit.Strategy, attempt int) time.Duration {
	if retryAfter > 0 {
		ms := int(retryAfter / time.Millisecond)
		return strategy.ComputeDelay(attempt, &ms, e.rng)
	}
	return strategy.ComputeDelay(attempt, nil, e.rng)
}

func (e *Engine) sleepDuration(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func isTransientNetworkError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "eof")
}

// isBenignIncompleteChunkedRead matches the same upstream-mis-termination
// shape internal/stream's chunk reader tolerates (spec §4.9/§7): many
// backends close the connection right after a final chunk without a clean
// terminator, which surfaces as an "unexpected EOF"/"incomplete chunked
// read" error from net/http's body reader.
func isBenignIncompleteChunkedRead(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unexpected eof") || strings.Contains(msg, "incomplete chunked read")
}

func parseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	if resp.Body == nil {
		return 0
	}
	var peek bytes.Buffer
	_, _ = io.CopyN(&peek, resp.Body, 4096)
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(&peek, resp.Body), resp.Body}
	text := peek.String()
	if idx := strings.Index(text, `"retryDelay"`); idx >= 0 {
		if d, ok := extractQuotedValue(text[idx:]); ok {
			if dur, parsed := ratelimit.ParseRetryDelay(d); parsed {
				return dur
			}
		}
	}
	if idx := strings.Index(text, `"quotaResetDelay"`); idx >= 0 {
		if d, ok := extractQuotedValue(text[idx:]); ok {
			if dur, parsed := ratelimit.ParseRetryDelay(d); parsed {
				return dur
			}
		}
	}
	return 0
}

// extractQuotedValue pulls the first quoted string value following a `"key":`
// prefix, a minimal scan that avoids a full JSON decode of a body we've only
// partially read.
func extractQuotedValue(s string) (string, bool) {
	colon := strings.Index(s, ":")
	if colon < 0 {
		return "", false
	}
	rest := s[colon+1:]
	start := strings.Index(rest, `"`)
	if start < 0 {
		return "", false
	}
	rest = rest[start+1:]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

func bodyPreview(r *Result) string {
	if r == nil {
		return ""
	}
	if len(r.Body) > 0 {
		return string(r.Body)
	}
	return ""
}

func pickBaseURL(cfg backend.Config) string {
	if len(cfg.BaseURLs) == 0 {
		return ""
	}
	return cfg.BaseURLs[0]
}

// cancelingBody wraps a streaming response body so its per-attempt timeout
// context is canceled when the caller finishes (or abandons) reading it.
type cancelingBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelingBody) Close() error {
	err := c.ReadCloser.Close()
	if c.cancel != nil {
		c.cancel()
	}
	return err
}
