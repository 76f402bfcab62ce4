package protocol

import (
	"encoding/json"
	"testing"
)

func TestCleanJSONSchema_EmptyDefaultsToObject(t *testing.T) {
	out, err := CleanJSONSchema(nil)
	if err != nil {
		t.Fatalf("CleanJSONSchema: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unmarshal cleaned schema: %v", err)
	}
	if decoded["type"] != "object" {
		t.Errorf("expected type=object for an empty schema, got %+v", decoded)
	}
}

func TestCleanJSONSchema_InfersObjectFromProperties(t *testing.T) {
	out, err := CleanJSONSchema([]byte(`{"properties": {"q": {"type": "string"}}}`))
	if err != nil {
		t.Fatalf("CleanJSONSchema: %v", err)
	}
	var decoded map[string]any
	json.Unmarshal(out, &decoded)
	if decoded["type"] != "object" {
		t.Errorf("expected type inferred as object, got %+v", decoded)
	}
}

func TestCleanJSONSchema_NestedObjects(t *testing.T) {
	out, err := CleanJSONSchema([]byte(`{
		"properties": {
			"nested": {"properties": {"inner": {"type": "string"}}}
		}
	}`))
	if err != nil {
		t.Fatalf("CleanJSONSchema: %v", err)
	}
	var decoded map[string]any
	json.Unmarshal(out, &decoded)
	props := decoded["properties"].(map[string]any)
	nested := props["nested"].(map[string]any)
	if nested["type"] != "object" {
		t.Errorf("expected a nested object node to also get type=object, got %+v", nested)
	}
}

func TestNormalizeTool_OpenAIFunctionShape(t *testing.T) {
	spec := InboundToolSpec{
		Function: &toolFunctionDef{
			Name:        "lookup",
			Description: "look something up",
			Parameters:  []byte(`{"properties":{"q":{"type":"string"}}}`),
		},
	}
	tool, err := NormalizeTool(spec)
	if err != nil {
		t.Fatalf("NormalizeTool: %v", err)
	}
	if tool.Name != "lookup" || tool.Description != "look something up" {
		t.Errorf("unexpected tool: %+v", tool)
	}
}

func TestNormalizeTool_FlatShape(t *testing.T) {
	spec := InboundToolSpec{Name: "lookup", Params: []byte(`{"properties":{}}`)}
	tool, err := NormalizeTool(spec)
	if err != nil {
		t.Fatalf("NormalizeTool: %v", err)
	}
	if tool.Name != "lookup" {
		t.Errorf("expected flat-shape name preserved, got %q", tool.Name)
	}
}

func TestNormalizeTool_UnrecognizedShape(t *testing.T) {
	if _, err := NormalizeTool(InboundToolSpec{}); err == nil {
		t.Fatal("expected an error for a tool spec matching none of the three known shapes")
	}
}

func TestNormalizeToolChoice(t *testing.T) {
	cases := []struct {
		raw  string
		mode string
		name string
	}{
		{`"auto"`, "auto", ""},
		{`"none"`, "none", ""},
		{`"required"`, "required", ""},
		{`"something-unknown"`, "auto", ""},
		{`{"type":"function","function":{"name":"lookup"}}`, "function", "lookup"},
	}
	for _, tc := range cases {
		tc := tc
		got := NormalizeToolChoice([]byte(tc.raw))
		if got == nil || got.Mode != tc.mode || got.Name != tc.name {
			t.Errorf("NormalizeToolChoice(%s) = %+v, want mode=%q name=%q", tc.raw, got, tc.mode, tc.name)
		}
	}
}

func TestNormalizeToolChoice_Empty(t *testing.T) {
	if got := NormalizeToolChoice(nil); got != nil {
		t.Errorf("expected nil for empty input, got %+v", got)
	}
}
