// Package proxy implements the ProxyEngine (C9): dispatching a translated
// request against a chosen backend, with retries, per-attempt timeouts, and
// a streaming/non-streaming split, plus route_with_fallback driving
// internal/backend's chain over C9's own dispatch.
package proxy

import "strings"

// allowedHeaderPrefixes and allowedHeaders implement spec §4.9's forwarding
// allowlist: only these client headers are forwarded upstream, everything
// else (cookies, auth headers meant for this gateway, etc.) is dropped.
var (
	allowedHeaders = map[string]bool{
		"user-agent":             true,
		"x-forwarded-user-agent": true,
		"x-request-id":           true,
	}
	allowedHeaderPrefixes = []string{
		"x-augment-",
		"x-bugment-",
		"x-signature-",
	}
)

func isAllowedHeader(name string) bool {
	lower := strings.ToLower(name)
	if allowedHeaders[lower] {
		return true
	}
	for _, prefix := range allowedHeaderPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// FilterHeaders returns the subset of headers permitted by the forwarding
// allowlist, preserving multi-value headers.
func FilterHeaders(headers map[string][]string) map[string][]string {
	out := make(map[string][]string)
	for name, values := range headers {
		if isAllowedHeader(name) {
			out[name] = values
		}
	}
	return out
}
