package telemetry

import (
	"fmt"

	"github.com/lionlock/lionlock/internal/anomaly"
	"github.com/lionlock/lionlock/internal/canonical"
	"github.com/lionlock/lionlock/internal/gate"
	"github.com/lionlock/lionlock/internal/privacy"
	"github.com/lionlock/lionlock/internal/scoring"
	"github.com/lionlock/lionlock/internal/tokenauth"
	"github.com/lionlock/lionlock/internal/trust"
)

// RowMeta carries the identity fields shared by every sink row.
type RowMeta struct {
	SessionID         string
	TurnIndex         int
	Timestamp         string
	TrustLogicVersion string
	CodeFingerprint   string
	PromptType        string
	ResponseHash      string
	ReplayID          string
}

func (m RowMeta) base() Row {
	row := Row{
		"session_id":          m.SessionID,
		"turn_index":          m.TurnIndex,
		"timestamp":           m.Timestamp,
		"trust_logic_version": m.TrustLogicVersion,
		"code_fingerprint":    m.CodeFingerprint,
		"prompt_type":         m.PromptType,
		"response_hash":       m.ResponseHash,
	}
	if m.ReplayID != "" {
		row["replay_id"] = m.ReplayID
	}
	return row
}

// SignalRow builds the events-table row for one scored turn.
func SignalRow(meta RowMeta, bundle scoring.Bundle, decision gate.Decision) (Row, error) {
	payload, err := canonical.Marshal(bundle.Map())
	if err != nil {
		return nil, fmt.Errorf("telemetry: serialize signal bundle: %w", err)
	}
	row := meta.base()
	row["signal_bundle"] = string(payload)
	row["gating_decision"] = gate.CanonicalDecision(decision.Decision)
	row["decision_risk_score"] = decision.DecisionRiskScore
	row["trigger_signal"] = decision.TriggerSignal
	row["event_type"] = "signal_turn"
	row["event_severity"] = decision.AggregateScore
	return row, nil
}

// AnomalyRow builds the anomalies-table row for one detector event. The
// event is sanitized and validated before serialization.
func AnomalyRow(meta RowMeta, ev anomaly.Event) (Row, error) {
	ev = ev.Sanitize()
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	details, err := canonical.Marshal(ev.Details)
	if err != nil {
		return nil, fmt.Errorf("telemetry: serialize anomaly details: %w", err)
	}
	row := meta.base()
	if ev.SessionID != "" {
		row["session_id"] = ev.SessionID
	}
	row["turn_index"] = ev.TurnIndex
	if ev.Timestamp != "" {
		row["timestamp"] = ev.Timestamp
	}
	if ev.ResponseHash != "" {
		row["response_hash"] = ev.ResponseHash
	}
	row["anomaly_type"] = ev.Type
	row["severity"] = ev.Severity
	row["details_json"] = string(details)
	return row, nil
}

// MissedSignalRow builds the missed-signals row from an evaluated
// missed_signal_event.
func MissedSignalRow(meta RowMeta, ev anomaly.Event) (Row, error) {
	ev = ev.Sanitize()
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	row, err := AnomalyRow(meta, ev)
	if err != nil {
		return nil, err
	}
	delete(row, "anomaly_type")
	delete(row, "severity")
	delete(row, "details_json")
	missReason, _ := ev.Details["miss_reason"].(string)
	expected, _ := ev.Details["expected_decision"].(string)
	actual, _ := ev.Details["actual_decision"].(string)
	row["miss_reason"] = missReason
	row["expected_decision"] = expected
	row["actual_decision"] = actual
	return row, nil
}

// TrustRow builds the trust-overlay row from a built record.
func TrustRow(meta RowMeta, rec trust.Record) (Row, error) {
	overlay, err := canonical.Marshal(rec.Map())
	if err != nil {
		return nil, fmt.Errorf("telemetry: serialize trust record: %w", err)
	}
	row := meta.base()
	row["session_id"] = rec.SessionID
	if rec.TurnIndex != nil {
		row["turn_index"] = *rec.TurnIndex
	}
	row["timestamp"] = rec.Timestamp
	row["trust_logic_version"] = rec.TrustLogicVersion
	row["code_fingerprint"] = rec.CodeFingerprint
	row["prompt_type"] = rec.PromptType
	row["response_hash"] = rec.ResponseHash
	row["trust_score"] = rec.TrustScore
	row["trust_label"] = rec.TrustLabel
	row["overlay_json"] = string(overlay)
	return row, nil
}

// Sink pairs one writer with the token verifier guarding it. Every row
// passes the auth and privacy gates before it reaches the queue.
type Sink struct {
	writer   *Writer
	verifier *tokenauth.Verifier
}

func NewSink(writer *Writer, verifier *tokenauth.Verifier) *Sink {
	return &Sink{writer: writer, verifier: verifier}
}

// Emit authenticates, privacy-checks, and enqueues one row.
func (s *Sink) Emit(row Row) error {
	payload := make(map[string]any, len(row)+3)
	for k, v := range row {
		payload[k] = v
	}
	if s.verifier != nil {
		ok, reason, prepared := s.verifier.PrepareForSQL(payload)
		if !ok {
			return fmt.Errorf("%w: %s", ErrAuthFailed, reason)
		}
		payload = prepared
	}
	fillAuthDefaults(payload)
	if _, err := privacy.Scrub(payload, privacy.ModeReject); err != nil {
		return err
	}
	if path := privacy.FindForbiddenContent(payload); path != "" {
		return fmt.Errorf("%w: %s", privacy.ErrForbiddenContent, path)
	}
	out := make(Row, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return s.writer.Enqueue(out)
}

// Stats exposes the underlying writer counters.
func (s *Sink) Stats() (written, duplicates, dropped int64) {
	return s.writer.Stats()
}

// fillAuthDefaults backfills the auth columns when auth is disabled so
// the NOT NULL length checks still hold. The synthetic values are
// derived from the row content and cannot collide with real token ids.
func fillAuthDefaults(payload map[string]any) {
	if id, _ := payload[tokenauth.TokenIDField].(string); len(id) >= 12 {
		if sig, _ := payload[tokenauth.SignatureField].(string); len(sig) >= 64 {
			return
		}
	}
	serialized, err := canonical.Marshal(payload)
	if err != nil {
		serialized = []byte(fmt.Sprint(payload))
	}
	digest := canonical.DigestHex(serialized)
	payload[tokenauth.SignatureField] = digest
	payload[tokenauth.TokenIDField] = "noauth:" + digest[:12]
}
