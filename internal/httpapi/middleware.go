// Package httpapi wires the gateway's external interfaces (spec §6): the
// OpenAI- and Anthropic-shaped completion endpoints, token counting, model
// listing, and health check, plus the IDECompatMiddleware (C11) that sits in
// front of the completion endpoints.
package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nexus-gateway/llmgateway/internal/clientdetect"
	"github.com/nexus-gateway/llmgateway/internal/sanitize"
)

// sanitizedPaths is the exact path set IDECompatMiddleware applies to (spec
// §4.11). Every other path passes through untouched.
var sanitizedPaths = map[string]bool{
	"/v1/messages":                     true,
	"/antigravity/v1/messages":         true,
	"/v1/chat/completions":             true,
	"/antigravity/v1/chat/completions": true,
}

// IDECompatMiddleware rewrites the thinking/tool_use content of inbound IDE
// requests so backends never see a signature they can't verify. It must
// never fail a request on its own: any error in detection, parsing, or
// sanitization falls back to forwarding the original, untouched request.
func IDECompatMiddleware(sanitizer *sanitize.Sanitizer, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || !sanitizedPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			raw, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
			r.Body.Close()
			if err != nil {
				logger.Warn("idecompat: failed to read body, forwarding unmodified", "error", err)
				r.Body = io.NopCloser(bytes.NewReader(nil))
				next.ServeHTTP(w, r)
				return
			}

			sanitized, ok := trySanitize(r, raw, sanitizer, logger)
			if !ok {
				r.Body = io.NopCloser(bytes.NewReader(raw))
				r.ContentLength = int64(len(raw))
				r.Header.Set("Content-Length", strconv.Itoa(len(raw)))
				next.ServeHTTP(w, r)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(sanitized))
			r.ContentLength = int64(len(sanitized))
			r.Header.Set("Content-Length", strconv.Itoa(len(sanitized)))
			next.ServeHTTP(w, r)
		})
	}
}

// trySanitize runs the body-parse / detect / sanitize pipeline and recovers
// from any panic, reporting ok=false so the caller forwards raw unchanged.
func trySanitize(r *http.Request, raw []byte, sanitizer *sanitize.Sanitizer, logger *slog.Logger) (out []byte, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("idecompat: recovered from panic, forwarding original request", "panic", rec)
			out, ok = nil, false
		}
	}()

	if !json.Valid(raw) {
		return nil, false
	}

	body := clientdetect.ParseBody(raw)
	det := clientdetect.Detect(r.Header, body)
	if !det.Capabilities.NeedsSanitization {
		return nil, false
	}

	req, err := decodeForSanitize(r.URL.Path, raw)
	if err != nil {
		logger.Warn("idecompat: failed to decode request for sanitization", "path", r.URL.Path, "error", err)
		return nil, false
	}
	if req == nil {
		// No signature lifecycle exists for this dialect (OpenAI wire); the
		// original body already is the sanitized body.
		return nil, false
	}

	lastCtxSig := r.Header.Get("X-Last-Context-Signature")
	sanitizedMsgs, outThinking := sanitizer.Sanitize(r.Context(), req.messages, req.thinkingEnabled, det.SCID, lastCtxSig)

	return reencodeSanitized(req, outThinking, sanitizedMsgs)
}
