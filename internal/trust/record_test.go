package trust

import (
	"errors"
	"testing"
)

func buildInput() BuildInput {
	turn := 2
	aggregate := 0.2
	return BuildInput{
		SessionID:      "s1",
		TurnIndex:      &turn,
		ModelID:        "model-x",
		PromptType:     "qa",
		AggregateScore: &aggregate,
		ResponseText:   "the quick brown fox.",
		Timestamp:      "2026-08-01T00:00:00Z",
	}
}

func TestBuildRecord(t *testing.T) {
	rec, err := Build(buildInput(), DefaultParams())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rec.TrustScore != 0.8 {
		t.Fatalf("score = %v, want 0.8 from aggregate 0.2", rec.TrustScore)
	}
	if rec.TrustLabel != LabelTrusted {
		t.Fatalf("label = %q", rec.TrustLabel)
	}
	if rec.TrustLogicVersion != DefaultTrustLogicVersion {
		t.Fatalf("version = %q", rec.TrustLogicVersion)
	}
	if rec.CodeFingerprint == "" {
		t.Fatalf("fingerprint missing")
	}
	if rec.ResponseHash != HashResponse("the quick brown fox.") {
		t.Fatalf("response hash = %q", rec.ResponseHash)
	}
	if rec.Badge != BadgeInsufficientData {
		t.Fatalf("single point should be insufficient data, got %q", rec.Badge)
	}
	if rec.PseudonymousUserKey != "" {
		t.Fatalf("no salt configured, key must be empty")
	}
	if err := rec.Validate(); err != nil {
		t.Fatalf("built record failed validation: %v", err)
	}
}

func TestBuildRecordPseudonymousKeyRequiresSalt(t *testing.T) {
	in := buildInput()
	in.UserID = "user-1"
	rec, err := Build(in, DefaultParams())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rec.PseudonymousUserKey != "" {
		t.Fatalf("user id without salt must not produce a key")
	}

	p := DefaultParams()
	p.Salt = "pepper"
	rec, err = Build(in, p)
	if err != nil {
		t.Fatalf("build with salt: %v", err)
	}
	want := PseudonymousUserKey("user-1", "pepper")
	if rec.PseudonymousUserKey != want {
		t.Fatalf("key = %q, want %q", rec.PseudonymousUserKey, want)
	}
	if rec.PseudonymousUserKey == PseudonymousUserKey("user-1", "different") {
		t.Fatalf("key must depend on the salt")
	}
}

func TestBuildRecordMissingRisk(t *testing.T) {
	in := buildInput()
	in.AggregateScore = nil
	if _, err := Build(in, DefaultParams()); !errors.Is(err, ErrMissingRisk) {
		t.Fatalf("expected ErrMissingRisk, got %v", err)
	}
}

func TestBuildRecordScrubsBannedKeys(t *testing.T) {
	in := buildInput()
	in.SignalSummary = map[string]any{
		"overall_risk": 0.3,
		"components":   map[string]any{"repetition_loopiness": 0.4},
	}
	in.ModelConfigSnapshot = map[string]any{
		"model_id": "model-x",
		"prompt":   "leaked",
	}
	rec, err := Build(in, DefaultParams())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, leaked := rec.ModelConfigSnapshot["prompt"]; leaked {
		t.Fatalf("banned key survived sanitize")
	}
	if rec.SignalSummary["components"] == nil {
		t.Fatalf("components dropped")
	}
}

func TestBuildRecordDriftOverHistory(t *testing.T) {
	in := buildInput()
	for i := 0; i < 39; i++ {
		if i < 20 {
			in.ScoreHistory = append(in.ScoreHistory, 0.9)
		} else {
			in.ScoreHistory = append(in.ScoreHistory, 0.4)
		}
		in.Timestamps = append(in.Timestamps, "2026-08-01T00:00:00Z")
	}
	risk := 0.6 // score 0.4 joins the depressed recent window
	in.AggregateScore = &risk
	rec, err := Build(in, DefaultParams())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !rec.Drift.Detected {
		t.Fatalf("expected drift over degraded history: %+v", rec.Drift)
	}
	if rec.Badge != BadgeDrifting {
		t.Fatalf("badge = %q, want drifting", rec.Badge)
	}
	hasFlag := false
	for _, f := range rec.TriggerFlags {
		if f == "drift_detected" {
			hasFlag = true
		}
	}
	if !hasFlag {
		t.Fatalf("drift flag missing: %v", rec.TriggerFlags)
	}
}

func TestNormalizePromptType(t *testing.T) {
	cases := map[string]string{
		"qa":       "qa",
		" Code ":   "code",
		"creative": "creative",
		"weird":    "other",
		"":         "other",
	}
	for in, want := range cases {
		if got := NormalizePromptType(in); got != want {
			t.Fatalf("NormalizePromptType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSignalSummaryFallsBackToAggregate(t *testing.T) {
	aggregate := 0.35
	summary, err := SignalSummary(map[string]any{"signal_scores": map[string]any{"a": 0.1}}, &aggregate)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary["overall_risk"] != 0.35 {
		t.Fatalf("overall_risk = %v", summary["overall_risk"])
	}
	if summary["components"] == nil {
		t.Fatalf("signal_scores should map to components")
	}
	if _, err := SignalSummary(map[string]any{}, nil); !errors.Is(err, ErrMissingRisk) {
		t.Fatalf("expected ErrMissingRisk, got %v", err)
	}
}
