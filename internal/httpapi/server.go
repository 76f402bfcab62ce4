package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/nexus-gateway/llmgateway/internal/backend"
	"github.com/nexus-gateway/llmgateway/internal/clientdetect"
	"github.com/nexus-gateway/llmgateway/internal/convstate"
	"github.com/nexus-gateway/llmgateway/internal/observability"
	"github.com/nexus-gateway/llmgateway/internal/protocol"
	"github.com/nexus-gateway/llmgateway/internal/proxy"
	"github.com/nexus-gateway/llmgateway/internal/ratelimit"
	"github.com/nexus-gateway/llmgateway/internal/sanitize"
)

// requestIDHeader is the response header a caller can correlate against this
// gateway's logs, mirroring the request_id the structured logger attaches to
// every line for this request's lifetime.
const requestIDHeader = "X-Request-Id"

// Server wires together C1-C11 behind the wire endpoints spec §6 names.
// Each handler picks its outbound wire dialect from the endpoint the client
// used (Anthropic shape for /v1/messages, OpenAI shape for
// /v1/chat/completions): operators are expected to route a dialect's model
// chain only to backends speaking that same dialect, so no cross-dialect
// response translation happens on the hot path.
type Server struct {
	Registry *backend.Registry
	Router   *backend.Router
	Engine   *proxy.Engine
	Logger   *slog.Logger

	// ClientLimiter throttles inbound requests per client IP ahead of
	// C10's credential-cooldown logic — a distinct, defensive concern (a
	// noisy client vs. an upstream backend in cooldown). Nil disables it.
	ClientLimiter *ratelimit.Limiter

	// ConvState tracks each SCID's authoritative message history so a
	// tampered or truncated client-sent history can be detected and
	// repaired before it reaches a backend (C3). Nil disables the check.
	ConvState *convstate.Machine

	// Metrics records gateway-side HTTP metrics and, when non-nil, exposes a
	// Prometheus scrape endpoint at GET /metrics. Nil disables both.
	Metrics *observability.Metrics

	// Tracer instruments conversation-state reconciliation (C3) spans. Nil
	// disables tracing for this server.
	Tracer *observability.Tracer
}

// NewServer builds a Server. logger may be nil. The client limiter is
// enabled by default (10 req/s, burst 20 per IP); pass a disabled
// ratelimit.Config to turn it off.
func NewServer(registry *backend.Registry, router *backend.Router, engine *proxy.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Registry:      registry,
		Router:        router,
		Engine:        engine,
		Logger:        logger,
		ClientLimiter: ratelimit.NewLimiter(ratelimit.DefaultConfig()),
	}
}

// Mux builds the gateway's top-level handler: a per-IP throttle, then
// IDECompatMiddleware, then the routed endpoints. If s.Metrics is non-nil, a
// GET /metrics Prometheus scrape endpoint is also registered and every
// request's latency/status is recorded.
func (s *Server) Mux(sanitizer *sanitize.Sanitizer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", s.handleOpenAIChat)
	mux.HandleFunc("POST /antigravity/v1/chat/completions", s.handleOpenAIChat)
	mux.HandleFunc("POST /v1/messages", s.handleAnthropicMessages)
	mux.HandleFunc("POST /antigravity/v1/messages", s.handleAnthropicMessages)
	mux.HandleFunc("POST /v1/messages/count_tokens", s.handleCountTokens)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /gateway/health", s.handleHealth)
	if s.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return s.withRequestID(s.throttle(s.withMetrics(IDECompatMiddleware(sanitizer, s.Logger)(mux))))
}

// withMetrics records RecordHTTPRequest for every request. A no-op when
// s.Metrics is nil. The routes this gateway serves are a small fixed set
// (spec §6), so the raw path never carries unbounded label cardinality.
func (s *Server) withMetrics(next http.Handler) http.Handler {
	if s.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.Metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
}

// statusRecorder captures the status code a handler wrote so withMetrics can
// label it, since http.ResponseWriter otherwise only exposes it via Write.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestID stamps every request with a UUID, both on the response (so a
// caller can report it back for support) and on the request context (so
// every observability.Logger call for the rest of the handler chain includes
// it automatically via observability.GetRequestID).
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := observability.AddRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// throttle rejects a client IP once it exceeds ClientLimiter's bucket,
// with 429 and no Retry-After — burst recovery is sub-second by design.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.ClientLimiter == nil || s.ClientLimiter.Allow(clientIP(r)) {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to
// RemoteAddr with its port stripped.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	if idx := strings.LastIndex(r.RemoteAddr, ":"); idx >= 0 {
		return r.RemoteAddr[:idx]
	}
	return r.RemoteAddr
}

func (s *Server) handleOpenAIChat(w http.ResponseWriter, r *http.Request) {
	s.handleCompletion(w, r, protocol.FromOpenAIRequest)
}

func (s *Server) handleAnthropicMessages(w http.ResponseWriter, r *http.Request) {
	s.handleCompletion(w, r, protocol.FromAnthropicRequest)
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request, decode func([]byte) (*protocol.Request, error)) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	req, err := decode(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	s.reconcileConversationState(r, req, raw)

	outbound, err := buildOutboundBody(r.URL.Path, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	credential := r.Header.Get("Authorization")
	headers := map[string][]string(r.Header)

	result, err := s.Engine.RouteWithFallback(r.Context(), s.Router, s.Registry, req.Model, credential, r.URL.Path, http.MethodPost, headers, outbound, req.Stream)
	if err != nil {
		s.Logger.Error("completion: all backends failed", "model", req.Model, "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	if result.IsStream {
		defer result.Stream.Close()
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(result.StatusCode)
		flusher, _ := w.(http.Flusher)
		buf := make([]byte, 4096)
		for {
			n, rerr := result.Stream.Read(buf)
			if n > 0 {
				w.Write(buf[:n])
				if flusher != nil {
					flusher.Flush()
				}
			}
			if rerr != nil {
				return
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.StatusCode)
	w.Write(result.Body)
}

// reconcileConversationState resolves the request's SCID and, if C3 is
// enabled, replaces req.Messages with the server's merged view of the
// conversation's history. It never fails the request: a missing SCID,
// unknown client type, or persistence error just falls back to trusting the
// client-supplied history as-is.
func (s *Server) reconcileConversationState(r *http.Request, req *protocol.Request, raw []byte) {
	if s.ConvState == nil {
		return
	}
	det := clientdetect.Detect(r.Header, clientdetect.ParseBody(raw))
	if det.SCID == "" {
		return
	}

	ctx := r.Context()
	if s.Tracer != nil {
		var span trace.Span
		ctx, span = s.Tracer.TraceConversationTurn(ctx, det.SCID, string(det.ClientType))
		defer span.End()
	}

	if _, err := s.ConvState.GetOrCreate(ctx, det.SCID, det.ClientType); err != nil {
		s.Logger.Warn("convstate: get or create failed", "scid", det.SCID, "error", err)
		s.recordReconciliation("error")
		return
	}
	merged, err := s.ConvState.MergeWithClientHistory(det.SCID, req.Messages)
	if err != nil {
		s.Logger.Warn("convstate: merge failed", "scid", det.SCID, "error", err)
		s.recordReconciliation("fallback")
		return
	}
	req.Messages = merged
	s.recordReconciliation("merged")
}

func (s *Server) recordReconciliation(outcome string) {
	if s.Metrics != nil {
		s.Metrics.RecordConversationReconciliation(outcome)
	}
}

// buildOutboundBody serializes req in the wire dialect matching path, which
// is also the dialect every backend reachable from this path's model chain
// is expected to speak.
func buildOutboundBody(path string, req *protocol.Request) ([]byte, error) {
	if isAnthropicPath(path) {
		params := protocol.ToAnthropicMessageParams(req)
		return json.Marshal(params)
	}
	return json.Marshal(protocol.ToOpenAIRequest(req))
}

// countTokensRequest mirrors /v1/messages/count_tokens's inbound shape: the
// same message list as /v1/messages, without max_tokens.
type countTokensRequest struct {
	Model    string          `json:"model"`
	System   json.RawMessage `json:"system,omitempty"`
	Messages json.RawMessage `json:"messages"`
}

func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	// count_tokens never needs max_tokens, which FromAnthropicRequest
	// otherwise accepts as optional and defaults to zero; reuse it directly
	// since the shared message/content parsing is identical.
	req, err := protocol.FromAnthropicRequest(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	total := estimateTokens(req)
	writeJSON(w, http.StatusOK, map[string]any{"input_tokens": total})
}

// estimateTokens implements spec §6's estimator: max(1, total_chars/4),
// with each image counted as 4000 chars.
func estimateTokens(req *protocol.Request) int {
	chars := len(req.System)
	for _, m := range req.Messages {
		for _, b := range m.Content {
			switch b.Type {
			case protocol.BlockImage:
				chars += 4000
			case protocol.BlockText:
				chars += len(b.Text)
			case protocol.BlockThinking, protocol.BlockRedactedThinking:
				chars += len(b.Thought)
			case protocol.BlockToolResult:
				chars += len(b.ToolResultContent)
			case protocol.BlockToolUse:
				chars += len(b.ToolInput)
			}
		}
	}
	tokens := chars / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	seen := map[string]bool{}
	var models []modelEntry
	for _, cfg := range s.Registry.SortedBackends() {
		if !cfg.Enabled {
			continue
		}
		for _, pattern := range cfg.SupportedModels {
			if pattern == "*" || seen[pattern] {
				continue
			}
			seen[pattern] = true
			models = append(models, modelEntry{ID: pattern, Object: "model", OwnedBy: "gateway"})
		}
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": models})
}

type backendHealth struct {
	URL      string `json:"url"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
	Healthy  bool   `json:"healthy"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	backends := map[string]backendHealth{}
	status := "healthy"
	for _, cfg := range s.Registry.SortedBackends() {
		healthy := cfg.Enabled && !s.Engine.IsRateLimited("health-check", cfg.Name)
		if cfg.Enabled && !healthy {
			status = "degraded"
		}
		var url string
		if len(cfg.BaseURLs) > 0 {
			url = cfg.BaseURLs[0]
		}
		backends[cfg.Name] = backendHealth{URL: url, Priority: cfg.Priority, Enabled: cfg.Enabled, Healthy: healthy}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"backends":  backends,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"message": message}})
}
