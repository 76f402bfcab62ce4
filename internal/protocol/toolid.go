package protocol

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Separator is embedded between a tool-id and its base64url-encoded
// signature on the wire. It must never occur in a legitimate tool id, so it
// is chosen from characters no provider or IDE generates on its own.
//
// IDEs routinely strip unrecognized custom fields from tool_use blocks but
// preserve the id verbatim, so this is the durability trick spec §4.6
// describes: the signature rides inside the id itself.
const Separator = "␟␟"

// EncodeToolID appends SEPARATOR + base64url(signature) to id when a
// signature is known. With an empty signature it returns id unchanged.
func EncodeToolID(id, signature string) string {
	if signature == "" {
		return id
	}
	return id + Separator + base64.RawURLEncoding.EncodeToString([]byte(signature))
}

// DecodeToolID splits an id produced by EncodeToolID back into the original
// id and the embedded signature. If the separator is absent, signature is
// empty and originalID is the input unchanged.
func DecodeToolID(encoded string) (originalID, signature string) {
	idx := strings.LastIndex(encoded, Separator)
	if idx < 0 {
		return encoded, ""
	}
	originalID = encoded[:idx]
	encodedSig := encoded[idx+len(Separator):]
	decoded, err := base64.RawURLEncoding.DecodeString(encodedSig)
	if err != nil {
		return encoded, ""
	}
	return originalID, string(decoded)
}

// CanonicalJSON marshals v with map keys sorted and no extraneous
// whitespace, so that semantically identical argument sets always produce
// byte-identical output regardless of field order on the wire.
func CanonicalJSON(v any) ([]byte, error) {
	normalized, err := normalizeForCanonicalJSON(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

func normalizeForCanonicalJSON(v any) (any, error) {
	switch raw := v.(type) {
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, err
		}
		return normalizeForCanonicalJSON(decoded)
	case map[string]any:
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			child, err := normalizeForCanonicalJSON(raw[k])
			if err != nil {
				return nil, err
			}
			ordered = append(ordered, kv{k, child})
		}
		return ordered, nil
	case []any:
		out := make([]any, len(raw))
		for i, item := range raw {
			child, err := normalizeForCanonicalJSON(item)
			if err != nil {
				return nil, err
			}
			out[i] = child
		}
		return out, nil
	default:
		return raw, nil
	}
}

type kv struct {
	Key   string
	Value any
}

// orderedMap marshals as a JSON object preserving insertion order, which for
// CanonicalJSON is always key-sorted order.
type orderedMap []kv

func (m orderedMap) MarshalJSON() ([]byte, error) {
	var buf []byte
	buf = append(buf, '{')
	for i, pair := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(pair.Key)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		valJSON, err := json.Marshal(pair.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// DeterministicToolCallID derives "call_" + H(name + canonical_json(args))
// so the SSOP scanner (stream package) and a native functionCall event agree
// on the same id for identical tool calls, enabling deduplication (spec §4.6,
// P3).
func DeterministicToolCallID(name string, args json.RawMessage) string {
	canonical, err := CanonicalJSON(args)
	if err != nil {
		canonical = args
	}
	h := sha256.Sum256(append([]byte(name), canonical...))
	return "call_" + hex.EncodeToString(h[:])[:24]
}
