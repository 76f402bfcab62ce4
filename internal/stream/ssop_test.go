package stream

import "testing"

func TestSSOPScanner_DetectsShellCommand(t *testing.T) {
	s := newSSOPScanner()
	found := s.Feed(`before {"command": ["ls", "-la"]} after`)
	if len(found) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(found))
	}
	if found[0].name != "shell" {
		t.Errorf("expected shell tool name, got %q", found[0].name)
	}
}

func TestSSOPScanner_DetectsGenericFunctionShape(t *testing.T) {
	s := newSSOPScanner()
	found := s.Feed(`{"name": "lookup", "arguments": {"q": "weather"}}`)
	if len(found) != 1 || found[0].name != "lookup" {
		t.Fatalf("expected a lookup candidate, got %+v", found)
	}
	if found[0].args["q"] != "weather" {
		t.Errorf("expected args propagated, got %+v", found[0].args)
	}
}

func TestSSOPScanner_DetectsImplicitWriteFile(t *testing.T) {
	s := newSSOPScanner()
	found := s.Feed(`{"path": "a.txt", "content": "hi"}`)
	if len(found) != 1 || found[0].name != "write_file" {
		t.Fatalf("expected a write_file candidate, got %+v", found)
	}
}

func TestSSOPScanner_IgnoresIrrelevantObjects(t *testing.T) {
	s := newSSOPScanner()
	found := s.Feed(`{"foo": "bar"}`)
	if len(found) != 0 {
		t.Errorf("expected no candidates for an irrelevant object, got %+v", found)
	}
}

func TestSSOPScanner_SplitAcrossFeeds(t *testing.T) {
	s := newSSOPScanner()
	first := s.Feed(`{"command": "shell`)
	if len(first) != 0 {
		t.Fatalf("expected no candidate before the object closes, got %+v", first)
	}
	second := s.Feed(`"}`)
	if len(second) != 1 {
		t.Fatalf("expected the candidate once the object completes across feeds, got %+v", second)
	}
}

func TestSSOPScanner_DedupesIdenticalCalls(t *testing.T) {
	s := newSSOPScanner()
	s.Feed(`{"command": ["ls"]}`)
	second := s.Feed(`{"command": ["ls"]}`)
	if len(second) != 0 {
		t.Errorf("expected a repeated identical call suppressed, got %+v", second)
	}
}

func TestSSOPScanner_SeenAndMarkSeen(t *testing.T) {
	s := newSSOPScanner()
	if s.Seen("x") {
		t.Error("expected x not seen yet")
	}
	s.MarkSeen("x")
	if !s.Seen("x") {
		t.Error("expected x marked as seen")
	}
}
