package signature

import "strings"

// NormalizeSignature strips surrounding whitespace and rejects control
// characters before validity checking, folding in the Python original's
// thoughtSignature_fix.py normalization step (SPEC_FULL §5).
func NormalizeSignature(raw string) string {
	trimmed := strings.TrimSpace(raw)
	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		if r < 0x20 {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsValidSignature implements the validity predicate from spec §4.2: a
// string of at least MinLength characters drawn from [A-Za-z0-9+/=_-], and
// never the sentinel.
func IsValidSignature(sig string) bool {
	if sig == "" || sig == Sentinel {
		return false
	}
	if len(sig) < MinLength {
		return false
	}
	for _, r := range sig {
		if !isSignatureChar(r) {
			return false
		}
	}
	return true
}

func isSignatureChar(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '+', r == '/', r == '=', r == '_', r == '-':
		return true
	default:
		return false
	}
}

// ThinkingHash computes the SHA-256 hex digest of normalized thinking text,
// used as the signature_cache's content-addressing key.
func ThinkingHash(thinkingText string) string {
	return sha256Hex(strings.TrimSpace(thinkingText))
}
