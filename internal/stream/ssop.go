package stream

import (
	"encoding/json"
	"strings"
)

// ssopCandidate is a tool call synthesized by the scanner before the
// matching native functionCall part (if any) arrives.
type ssopCandidate struct {
	toolID string
	name   string
	args   map[string]any
}

// ssopScanner watches the concatenated text/thinking buffer for embedded
// JSON tool-call shapes (spec §4.7 SSOP). It tracks brace depth to find
// complete top-level objects rather than using a regular expression, per
// spec §9's "regex-less detection" redesign note; a streaming JSON
// tokenizer would be the fuller rewrite, but brace counting plus a trailing
// json.Unmarshal attempt is adequate for SSE chunk boundaries that split
// mid-object.
type ssopScanner struct {
	buf         strings.Builder
	depth       int
	objStart    int
	emittedIDs  map[string]bool
}

func newSSOPScanner() *ssopScanner {
	return &ssopScanner{objStart: -1, emittedIDs: map[string]bool{}}
}

// Feed appends text to the scan buffer and returns any newly completed
// embedded tool calls, in order.
func (s *ssopScanner) Feed(text string) []ssopCandidate {
	var found []ssopCandidate
	start := s.buf.Len()
	s.buf.WriteString(text)
	full := s.buf.String()

	for i := start; i < len(full); i++ {
		switch full[i] {
		case '{':
			if s.depth == 0 {
				s.objStart = i
			}
			s.depth++
		case '}':
			if s.depth > 0 {
				s.depth--
				if s.depth == 0 && s.objStart >= 0 {
					if c, ok := s.tryMatch(full[s.objStart : i+1]); ok {
						found = append(found, c)
					}
					s.objStart = -1
				}
			}
		}
	}
	return found
}

// tryMatch attempts to parse raw as one of the three SSOP shapes (spec
// §4.7). It returns false for well-formed-but-irrelevant JSON objects.
func (s *ssopScanner) tryMatch(raw string) (ssopCandidate, bool) {
	var generic map[string]any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return ssopCandidate{}, false
	}

	var name string
	var args map[string]any

	switch {
	case generic["command"] != nil:
		// Shape 1: {"command": [...]} or {"command": "shell"|"local_shell", "args|arguments|params": ...}
		name = "shell"
		if cmdList, ok := generic["command"].([]any); ok {
			args = map[string]any{"command": cmdList}
		} else if cmdStr, ok := generic["command"].(string); ok {
			params := firstNonNilKey(generic, "args", "arguments", "params")
			args = map[string]any{"command": cmdStr}
			if params != nil {
				args["params"] = params
			}
		} else {
			return ssopCandidate{}, false
		}

	case generic["path"] != nil && generic["content"] != nil:
		// Shape 3: implicit write_file.
		path, pOK := generic["path"].(string)
		content, cOK := generic["content"].(string)
		if !pOK || !cOK {
			return ssopCandidate{}, false
		}
		name = "write_file"
		args = map[string]any{"path": path, "content": content}

	default:
		// Shape 2: generic {"name"|"tool"|"function": "...", "arguments"|"args"|"parameters"|"input": {...}}
		rawName := firstNonEmptyString(generic, "name", "tool", "function")
		if rawName == "" {
			return ssopCandidate{}, false
		}
		argVal := firstNonNilKey(generic, "arguments", "args", "parameters", "input")
		argMap, ok := argVal.(map[string]any)
		if !ok {
			return ssopCandidate{}, false
		}
		name = rawName
		args = argMap
	}

	id := deterministicToolID(name, args)
	if s.emittedIDs[id] {
		return ssopCandidate{}, false
	}
	s.emittedIDs[id] = true
	return ssopCandidate{toolID: id, name: name, args: args}, true
}

// Seen reports whether id was already produced by a prior SSOP match, so the
// native functionCall path can deduplicate against it.
func (s *ssopScanner) Seen(id string) bool {
	return s.emittedIDs[id]
}

// MarkSeen records id as emitted without running it through the scanner,
// used when the native functionCall path emits first.
func (s *ssopScanner) MarkSeen(id string) {
	s.emittedIDs[id] = true
}

func firstNonEmptyString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func firstNonNilKey(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
