package privacy

import (
	"errors"
	"strings"
	"testing"
)

func TestScrubStripRemovesNestedBannedKeys(t *testing.T) {
	payload := map[string]any{
		"session_id": "s1",
		"details": map[string]any{
			"prompt": "secret",
			"delta":  0.4,
		},
		"events": []any{
			map[string]any{"response_text": "secret", "severity": 0.5},
		},
	}
	cleaned, err := Scrub(payload, ModeStrip)
	if err != nil {
		t.Fatalf("scrub: %v", err)
	}
	if ContainsBannedKey(cleaned) {
		t.Fatalf("banned key survived strip: %+v", cleaned)
	}
	m := cleaned.(map[string]any)
	if m["details"].(map[string]any)["delta"] != 0.4 {
		t.Fatalf("sibling keys should survive")
	}
}

func TestScrubRejectNamesPath(t *testing.T) {
	payload := map[string]any{"details": map[string]any{"user_id": "u1"}}
	_, err := Scrub(payload, ModeReject)
	if !errors.Is(err, ErrBannedKey) {
		t.Fatalf("expected ErrBannedKey, got %v", err)
	}
	if !strings.Contains(err.Error(), "details") {
		t.Fatalf("error should name the path: %v", err)
	}
}

func TestScrubInvalidMode(t *testing.T) {
	if _, err := Scrub(map[string]any{}, Mode("bogus")); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

func TestFindForbiddenContentTokenMarker(t *testing.T) {
	payload := map[string]any{"notes": "auth token: llk_abc123"}
	if path := FindForbiddenContent(payload); path != "notes" {
		t.Fatalf("expected hit at notes, got %q", path)
	}
}

func TestFindForbiddenContentFreeText(t *testing.T) {
	long := strings.Repeat("some words here ", 40)
	if path := FindForbiddenContent(map[string]any{"blob": long}); path == "" {
		t.Fatalf("long free text should be flagged")
	}
	if path := FindForbiddenContent(map[string]any{"hash": strings.Repeat("a", 600)}); path != "" {
		t.Fatalf("long opaque value without whitespace should pass, got %q", path)
	}
}

func TestFindForbiddenContentClean(t *testing.T) {
	payload := map[string]any{
		"session_id":    "s1",
		"trigger":       "fatigue_risk_index",
		"response_hash": "d4c2",
		"scores":        map[string]any{"a": 0.1},
	}
	if path := FindForbiddenContent(payload); path != "" {
		t.Fatalf("clean payload flagged at %q", path)
	}
}
