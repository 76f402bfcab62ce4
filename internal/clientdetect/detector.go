// Package clientdetect implements the ClientDetector (C4): classifying
// inbound requests by User-Agent and headers into one of the recognized IDE
// client variants, and extracting the Server Conversation ID.
package clientdetect

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/nexus-gateway/llmgateway/internal/convstate"
)

// pattern is one row of the ordered lookup table (spec §4.4): higher
// specificity patterns precede generic ones so e.g. "Cursor" is matched
// before a generic VSCode/Electron fallback.
type pattern struct {
	clientType  convstate.ClientType
	displayName string
	uaRegexes   []*regexp.Regexp
	versionRe   *regexp.Regexp
}

// Table is the ordered pattern list. Order matters: the first match wins.
var Table = []pattern{
	{
		clientType:  convstate.ClientClaudeCode,
		displayName: "Claude Code",
		uaRegexes:   []*regexp.Regexp{regexp.MustCompile(`(?i)claude-?code`)},
		versionRe:   regexp.MustCompile(`claude-code/([\d.]+)`),
	},
	{
		clientType:  convstate.ClientCursor,
		displayName: "Cursor",
		uaRegexes:   []*regexp.Regexp{regexp.MustCompile(`(?i)cursor`)},
		versionRe:   regexp.MustCompile(`[Cc]ursor/([\d.]+)`),
	},
	{
		clientType:  convstate.ClientWindsurf,
		displayName: "Windsurf",
		uaRegexes:   []*regexp.Regexp{regexp.MustCompile(`(?i)windsurf|codeium`)},
		versionRe:   regexp.MustCompile(`[Ww]indsurf/([\d.]+)`),
	},
	{
		clientType:  convstate.ClientAugment,
		displayName: "Augment",
		uaRegexes:   []*regexp.Regexp{regexp.MustCompile(`(?i)augment`)},
		versionRe:   regexp.MustCompile(`[Aa]ugment/([\d.]+)`),
	},
	{
		clientType:  convstate.ClientCline,
		displayName: "Cline",
		uaRegexes:   []*regexp.Regexp{regexp.MustCompile(`(?i)cline`)},
		versionRe:   regexp.MustCompile(`[Cc]line/([\d.]+)`),
	},
	{
		clientType:  convstate.ClientContinueDev,
		displayName: "Continue",
		uaRegexes:   []*regexp.Regexp{regexp.MustCompile(`(?i)continue[-.]?dev|continuedev`)},
		versionRe:   regexp.MustCompile(`continue/([\d.]+)`),
	},
	{
		clientType:  convstate.ClientAider,
		displayName: "Aider",
		uaRegexes:   []*regexp.Regexp{regexp.MustCompile(`(?i)aider`)},
		versionRe:   regexp.MustCompile(`aider/([\d.]+)`),
	},
	{
		clientType:  convstate.ClientZed,
		displayName: "Zed",
		uaRegexes:   []*regexp.Regexp{regexp.MustCompile(`(?i)zed`)},
		versionRe:   regexp.MustCompile(`[Zz]ed/([\d.]+)`),
	},
	{
		clientType:  convstate.ClientCopilot,
		displayName: "GitHub Copilot",
		uaRegexes:   []*regexp.Regexp{regexp.MustCompile(`(?i)github-copilot|copilot-chat`)},
		versionRe:   regexp.MustCompile(`copilot[-/]([\d.]+)`),
	},
	{
		clientType:  convstate.ClientOpenAIAPI,
		displayName: "OpenAI SDK",
		uaRegexes:   []*regexp.Regexp{regexp.MustCompile(`(?i)^openai-(python|node|go)`)},
		versionRe:   regexp.MustCompile(`openai-\w+/([\d.]+)`),
	},
}

// Capabilities are the flags ClientDetector emits for each detected client
// (spec §4.4).
type Capabilities struct {
	NeedsSanitization       bool
	EnableCrossPoolFallback bool
}

// Detection is the full result of Detect.
type Detection struct {
	ClientType   convstate.ClientType
	DisplayName  string
	Version      string
	SCID         string
	Capabilities Capabilities
}

// Detect classifies a request from its headers and, if present, its parsed
// JSON body.
func Detect(headers http.Header, body map[string]any) Detection {
	ua := headers.Get("User-Agent")
	if fwd := headers.Get("X-Forwarded-User-Agent"); fwd != "" {
		ua = fwd
	}

	det := Detection{ClientType: convstate.ClientUnknown, DisplayName: "Unknown"}
	for _, p := range Table {
		for _, re := range p.uaRegexes {
			if re.MatchString(ua) {
				det.ClientType = p.clientType
				det.DisplayName = p.displayName
				if p.versionRe != nil {
					if m := p.versionRe.FindStringSubmatch(ua); len(m) > 1 {
						det.Version = m[1]
					}
				}
				goto matched
			}
		}
	}
matched:
	det.SCID = extractSCID(headers, body)
	det.Capabilities = capabilitiesFor(det.ClientType)
	return det
}

// capabilitiesFor implements: needs_sanitization is true for every IDE class
// and Unknown, false only for native Claude Code and the raw OpenAI SDK
// (spec §4.4).
func capabilitiesFor(ct convstate.ClientType) Capabilities {
	switch ct {
	case convstate.ClientClaudeCode, convstate.ClientOpenAIAPI:
		return Capabilities{NeedsSanitization: false, EnableCrossPoolFallback: true}
	default:
		return Capabilities{NeedsSanitization: true, EnableCrossPoolFallback: true}
	}
}

// extractSCID implements the ordered lookup spec §4.4 describes: the
// X-AG-Conversation-Id header, then X-Conversation-Id, then the request
// body's conversation_id/session_id field.
func extractSCID(headers http.Header, body map[string]any) string {
	if v := headers.Get("X-AG-Conversation-Id"); v != "" {
		return v
	}
	if v := headers.Get("X-Conversation-Id"); v != "" {
		return v
	}
	if body == nil {
		return ""
	}
	if v, ok := body["conversation_id"].(string); ok && v != "" {
		return v
	}
	if v, ok := body["session_id"].(string); ok && v != "" {
		return v
	}
	return ""
}

// ParseBody is a small helper for callers that have a raw JSON body and want
// the map form Detect expects; malformed JSON yields a nil map (SCID
// extraction then falls back to headers only).
func ParseBody(raw []byte) map[string]any {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil
	}
	return body
}
