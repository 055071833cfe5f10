package telemetry

import (
	"errors"
	"strings"
	"testing"

	"github.com/lionlock/lionlock/internal/anomaly"
	"github.com/lionlock/lionlock/internal/gate"
	"github.com/lionlock/lionlock/internal/privacy"
	"github.com/lionlock/lionlock/internal/scoring"
	"github.com/lionlock/lionlock/internal/tokenauth"
	"github.com/lionlock/lionlock/internal/trust"
)

func testMeta() RowMeta {
	return RowMeta{
		SessionID:         "s1",
		TurnIndex:         3,
		Timestamp:         "2026-08-01T00:00:00Z",
		TrustLogicVersion: "TO-0.1.0",
		CodeFingerprint:   "fp",
		PromptType:        "qa",
		ResponseHash:      "abc123",
	}
}

func testAnomalyEvent(kind string) anomaly.Event {
	return anomaly.Event{
		Type:              kind,
		Severity:          0.7,
		Details:           map[string]any{"current": 0.7},
		SessionID:         "s1",
		TurnIndex:         3,
		Timestamp:         "2026-08-01T00:00:00Z",
		TrustLogicVersion: "TO-0.1.0",
		CodeFingerprint:   "fp",
		ResponseHash:      "abc123",
	}
}

func TestSignalRow(t *testing.T) {
	bundle := scoring.Bundle{SchemaVersion: "SE-0.2.0"}
	decision := gate.Decision{
		Severity:          "orange",
		Decision:          "warn",
		AggregateScore:    0.7,
		DecisionRiskScore: 0.72,
		TriggerSignal:     "hallucination_risk",
	}
	row, err := SignalRow(testMeta(), bundle, decision)
	if err != nil {
		t.Fatalf("signal row: %v", err)
	}
	if row["event_type"] != "signal_turn" {
		t.Fatalf("event_type = %v", row["event_type"])
	}
	if row["gating_decision"] != "REFRESH" {
		t.Fatalf("decision not canonicalized: %v", row["gating_decision"])
	}
	if row["event_severity"] != 0.7 {
		t.Fatalf("event_severity = %v", row["event_severity"])
	}
	payload, _ := row["signal_bundle"].(string)
	if !strings.Contains(payload, "SE-0.2.0") {
		t.Fatalf("bundle payload missing schema version: %s", payload)
	}
}

func TestAnomalyRow(t *testing.T) {
	row, err := AnomalyRow(testMeta(), testAnomalyEvent("fatigue_spike"))
	if err != nil {
		t.Fatalf("anomaly row: %v", err)
	}
	if row["anomaly_type"] != "fatigue_spike" || row["severity"] != 0.7 {
		t.Fatalf("discriminators = %v / %v", row["anomaly_type"], row["severity"])
	}
	details, _ := row["details_json"].(string)
	if !strings.Contains(details, "current") {
		t.Fatalf("details_json = %s", details)
	}
}

func TestAnomalyRowRejectsInvalidEvent(t *testing.T) {
	ev := testAnomalyEvent("fatigue_spike")
	ev.Type = "made_up"
	if _, err := AnomalyRow(testMeta(), ev); err == nil {
		t.Fatalf("invalid anomaly type should fail")
	}
}

func TestMissedSignalRow(t *testing.T) {
	ev := testAnomalyEvent("missed_signal_event")
	ev.Details = map[string]any{
		"miss_reason":       "threshold",
		"expected_decision": "BLOCK",
		"actual_decision":   "ALLOW",
		"response_hash":     "abc123",
	}
	row, err := MissedSignalRow(testMeta(), ev)
	if err != nil {
		t.Fatalf("missed signal row: %v", err)
	}
	if row["expected_decision"] != "BLOCK" || row["actual_decision"] != "ALLOW" {
		t.Fatalf("decisions = %v / %v", row["expected_decision"], row["actual_decision"])
	}
	if row["miss_reason"] != "threshold" {
		t.Fatalf("miss_reason = %v", row["miss_reason"])
	}
	if _, ok := row["anomaly_type"]; ok {
		t.Fatalf("anomaly discriminators should be stripped")
	}
}

func TestTrustRow(t *testing.T) {
	turn := 3
	rec := trust.Record{
		TrustLogicVersion: "TO-0.1.0",
		CodeFingerprint:   "fp",
		Timestamp:         "2026-08-01T00:00:00Z",
		SessionID:         "s1",
		TurnIndex:         &turn,
		TrustScore:        0.82,
		TrustLabel:        "TRUSTED",
		Badge:             "STABLE",
		PromptType:        "qa",
		ResponseHash:      "abc123",
	}
	row, err := TrustRow(testMeta(), rec)
	if err != nil {
		t.Fatalf("trust row: %v", err)
	}
	if row["trust_score"] != 0.82 || row["trust_label"] != "TRUSTED" {
		t.Fatalf("trust columns = %v / %v", row["trust_score"], row["trust_label"])
	}
	overlay, _ := row["overlay_json"].(string)
	if !strings.Contains(overlay, "STABLE") {
		t.Fatalf("overlay_json = %s", overlay)
	}
}

func TestSinkEmitFillsAuthDefaults(t *testing.T) {
	s := openTestStore(t)
	w, err := NewWriter(s, SinkEvents, "lionlock_signals", WriterOptions{})
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	sink := NewSink(w, tokenauth.NewVerifier(tokenauth.Config{Enabled: false}))

	row := testRow("s1", 1)
	delete(row, "auth_token_id")
	delete(row, "auth_signature")
	if err := sink.Emit(row); err != nil {
		t.Fatalf("emit: %v", err)
	}
	w.Stop()

	var tokenID, signature string
	err = s.QueryRow("SELECT auth_token_id, auth_signature FROM lionlock_signals").Scan(&tokenID, &signature)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !strings.HasPrefix(tokenID, "noauth:") || len(tokenID) < 12 {
		t.Fatalf("auth_token_id = %q", tokenID)
	}
	if len(signature) != 64 {
		t.Fatalf("auth_signature length = %d", len(signature))
	}
}

func TestSinkEmitRejectsBannedKeys(t *testing.T) {
	s := openTestStore(t)
	w, err := NewWriter(s, SinkEvents, "lionlock_signals", WriterOptions{})
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	defer w.Stop()
	sink := NewSink(w, nil)

	row := testRow("s1", 1)
	row["prompt"] = "raw content"
	if err := sink.Emit(row); !errors.Is(err, privacy.ErrBannedKey) {
		t.Fatalf("expected ErrBannedKey, got %v", err)
	}

	nested := testRow("s1", 2)
	nested["details_json_extra"] = map[string]any{"response_text": "raw content"}
	if err := sink.Emit(nested); !errors.Is(err, privacy.ErrBannedKey) {
		t.Fatalf("nested banned key: expected ErrBannedKey, got %v", err)
	}

	leaky := testRow("s1", 3)
	leaky["trigger_signal"] = "auth token: llk_abcdef0123456789abcdef0123456789"
	if err := sink.Emit(leaky); !errors.Is(err, privacy.ErrForbiddenContent) {
		t.Fatalf("expected ErrForbiddenContent, got %v", err)
	}

	if written, _, _ := sink.Stats(); written != 0 {
		t.Fatalf("rejected rows should not be written")
	}
}

func TestSinkEmitRequiresValidAuth(t *testing.T) {
	s := openTestStore(t)
	w, err := NewWriter(s, SinkEvents, "lionlock_signals", WriterOptions{})
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	defer w.Stop()
	verifier := tokenauth.NewVerifier(tokenauth.Config{
		Enabled:     true,
		Mode:        tokenauth.ModeRequired,
		TokenHashes: []string{tokenauth.HashToken("llk_sometokenvalue")},
	})
	sink := NewSink(w, verifier)

	if err := sink.Emit(testRow("s1", 1)); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestSinkEmitWithSignedRow(t *testing.T) {
	s := openTestStore(t)
	w, err := NewWriter(s, SinkEvents, "lionlock_signals", WriterOptions{})
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	token := tokenauth.GenerateToken()
	verifier := tokenauth.NewVerifier(tokenauth.Config{
		Enabled:     true,
		Mode:        tokenauth.ModeRequired,
		TokenHashes: []string{tokenauth.HashToken(token)},
	})
	sink := NewSink(w, verifier)

	row := testRow("s1", 1)
	delete(row, "auth_token_id")
	delete(row, "auth_signature")
	payload := map[string]any(row)
	signed, err := tokenauth.AttachAuthFields(payload, token)
	if err != nil {
		t.Fatalf("attach auth: %v", err)
	}
	if err := sink.Emit(Row(signed)); err != nil {
		t.Fatalf("emit signed: %v", err)
	}
	w.Stop()

	var tokenID string
	if err := s.QueryRow("SELECT auth_token_id FROM lionlock_signals").Scan(&tokenID); err != nil {
		t.Fatalf("select: %v", err)
	}
	if tokenID != tokenauth.TokenID(token) {
		t.Fatalf("auth_token_id = %q, want id of signing token", tokenID)
	}
}
