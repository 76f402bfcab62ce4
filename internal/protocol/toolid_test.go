package protocol

import "testing"

func TestEncodeDecodeToolID_RoundTrip(t *testing.T) {
	encoded := EncodeToolID("toolu_1", "signature-bytes")
	id, sig := DecodeToolID(encoded)
	if id != "toolu_1" || sig != "signature-bytes" {
		t.Errorf("expected round-trip id/signature, got id=%q sig=%q", id, sig)
	}
}

func TestEncodeToolID_EmptySignature(t *testing.T) {
	if got := EncodeToolID("toolu_1", ""); got != "toolu_1" {
		t.Errorf("expected id unchanged with no signature, got %q", got)
	}
}

func TestDecodeToolID_NoSeparator(t *testing.T) {
	id, sig := DecodeToolID("plain-id")
	if id != "plain-id" || sig != "" {
		t.Errorf("expected the original id back with an empty signature, got id=%q sig=%q", id, sig)
	}
}

func TestCanonicalJSON_KeyOrderIndependent(t *testing.T) {
	a, err := CanonicalJSON(map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	b, err := CanonicalJSON(map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("expected canonical JSON independent of input key order, got %q vs %q", a, b)
	}
	if string(a) != `{"a":1,"b":2}` {
		t.Errorf("unexpected canonical form: %s", a)
	}
}

func TestDeterministicToolCallID_Stable(t *testing.T) {
	id1 := DeterministicToolCallID("lookup", []byte(`{"a":1,"b":2}`))
	id2 := DeterministicToolCallID("lookup", []byte(`{"b":2,"a":1}`))
	if id1 != id2 {
		t.Errorf("expected the same deterministic id regardless of argument key order, got %q vs %q", id1, id2)
	}
	id3 := DeterministicToolCallID("lookup", []byte(`{"a":1,"b":3}`))
	if id1 == id3 {
		t.Error("expected different arguments to produce a different id")
	}
}
