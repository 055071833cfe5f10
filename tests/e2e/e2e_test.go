//go:build e2e

package e2e

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/lionlock/lionlock/internal/anomaly"
	"github.com/lionlock/lionlock/internal/config"
	"github.com/lionlock/lionlock/internal/gate"
	"github.com/lionlock/lionlock/internal/scoring"
	"github.com/lionlock/lionlock/internal/telemetry"
	"github.com/lionlock/lionlock/internal/tokenauth"
	"github.com/lionlock/lionlock/internal/trust"
)

// TestE2ESessionPipeline runs a full multi-turn session through scoring,
// gating, anomaly detection, trust overlay, and every persistence sink,
// then verifies the rollups.
func TestE2ESessionPipeline(t *testing.T) {
	cfg := config.Default()
	dir := t.TempDir()

	registry := telemetry.NewRegistry(5 * time.Second)
	defer registry.StopAll()
	uri := "sqlite:///" + filepath.Join(dir, "e2e.db")

	store, err := registry.Store(uri)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.EnsureSessions("lionlock_sessions"); err != nil {
		t.Fatalf("ensure sessions: %v", err)
	}
	if err := store.EnsureDiagnostics("lionlock_session_diagnostics"); err != nil {
		t.Fatalf("ensure diagnostics: %v", err)
	}

	newSink := func(kind telemetry.SinkKind, table string) *telemetry.Sink {
		w, err := registry.Writer(telemetry.SinkConfig{Kind: kind, URI: uri, Table: table})
		if err != nil {
			t.Fatalf("writer %s: %v", table, err)
		}
		return telemetry.NewSink(w, tokenauth.NewVerifier(tokenauth.Config{Enabled: false}))
	}
	signals := newSink(telemetry.SinkEvents, "lionlock_signals")
	anomalies := newSink(telemetry.SinkAnomalies, "lionlock_anomalies")
	missed := newSink(telemetry.SinkMissedSignal, "lionlock_missed_signals")
	overlay := newSink(telemetry.SinkTrustOverlay, "lionlock_trust")

	eventLog := &telemetry.EventLog{Dir: filepath.Join(dir, "events"), Verbosity: "normal"}

	const sessionID = "e2e-session"
	configHash := telemetry.ConfigHash(cfg.Gating.Enabled, cfg.Gating.Thresholds.Resolve(),
		cfg.Gating.HallucinationMode, cfg.Signals.Enabled, cfg.Signals.Weights)
	if err := store.BeginSession("lionlock_sessions", telemetry.SessionInfo{
		SessionID:       sessionID,
		LionLockVersion: "0.4.0",
		Model:           "model-x",
		ConfigHash:      configHash,
	}); err != nil {
		t.Fatalf("begin session: %v", err)
	}

	st := &anomaly.State{}
	var history []float64
	var timestamps []string
	totalAnomalies := 0

	prompt := "Explain the maintenance window to the customer."
	for turn := 1; turn <= 8; turn++ {
		// Later turns degenerate into a repetition loop.
		response := "The maintenance window is scheduled overnight and customer impact stays minimal."
		if turn > 4 {
			response = "window window window window window window window window"
		}
		bundle := scoring.Score(prompt, response, map[string]any{
			"turn_index":    turn,
			"entropy_decay": 0.1 * float64(turn),
			"drift_slope":   0.02,
			"duration_ms":   900 + 50*turn,
		})
		aggregate := scoring.Aggregate(bundle.Scores, cfg.Signals.Weights, cfg.Signals.Enabled)
		decision := gate.Decide(bundle, aggregate, cfg.Policy())

		timestamp := trust.UTCNow()
		responseHash := trust.HashResponse(response)
		meta := telemetry.RowMeta{
			SessionID:         sessionID,
			TurnIndex:         turn,
			Timestamp:         timestamp,
			TrustLogicVersion: "TO-0.1.0",
			CodeFingerprint:   "e2e-fp",
			PromptType:        "qa",
			ResponseHash:      responseHash,
		}

		row, err := telemetry.SignalRow(meta, bundle, decision)
		if err != nil {
			t.Fatalf("turn %d signal row: %v", turn, err)
		}
		if err := signals.Emit(row); err != nil {
			t.Fatalf("turn %d emit signal: %v", turn, err)
		}

		in := anomaly.Input{
			SessionID:         sessionID,
			TurnIndex:         turn,
			Timestamp:         timestamp,
			TrustLogicVersion: "TO-0.1.0",
			CodeFingerprint:   "e2e-fp",
			PromptType:        "qa",
			ResponseHash:      responseHash,
			Bundle:            &bundle,
			Aggregate:         &aggregate,
			Decision:          decision.Decision,
			GatingEnabled:     cfg.Gating.Enabled,
			Thresholds:        cfg.Gating.Thresholds.Resolve(),
		}
		events := anomaly.Detect(in, st, cfg.Anomaly.Params())
		totalAnomalies += len(events)
		for _, ev := range events {
			row, err := telemetry.AnomalyRow(meta, ev)
			if err != nil {
				t.Fatalf("turn %d anomaly row: %v", turn, err)
			}
			if err := anomalies.Emit(row); err != nil {
				t.Fatalf("turn %d emit anomaly: %v", turn, err)
			}
		}
		if ev := anomaly.EvaluateMissedSignal(in, events, cfg.Anomaly.Params()); ev != nil {
			row, err := telemetry.MissedSignalRow(meta, *ev)
			if err != nil {
				t.Fatalf("turn %d missed row: %v", turn, err)
			}
			if err := missed.Emit(row); err != nil {
				t.Fatalf("turn %d emit missed: %v", turn, err)
			}
		}

		turnCopy := turn
		record, err := trust.Build(trust.BuildInput{
			SessionID:      sessionID,
			TurnIndex:      &turnCopy,
			ModelID:        "model-x",
			PromptType:     "qa",
			SignalSummary:  bundle.Map(),
			AggregateScore: &aggregate,
			ResponseText:   response,
			ResponseHash:   responseHash,
			ScoreHistory:   history,
			Timestamps:     timestamps,
			Timestamp:      timestamp,
		}, cfg.TrustOverlay.Params())
		if err != nil {
			t.Fatalf("turn %d trust build: %v", turn, err)
		}
		history = append(history, record.TrustScore)
		timestamps = append(timestamps, timestamp)
		if _, err := trust.AppendRecord(record, filepath.Join(dir, "trust")); err != nil {
			t.Fatalf("turn %d trust log: %v", turn, err)
		}
		trustRow, err := telemetry.TrustRow(meta, record)
		if err != nil {
			t.Fatalf("turn %d trust row: %v", turn, err)
		}
		if err := overlay.Emit(trustRow); err != nil {
			t.Fatalf("turn %d emit trust: %v", turn, err)
		}

		err = eventLog.Append(map[string]any{
			"timestamp":           timestamp,
			"session_id":          sessionID,
			"turn_index":          turn,
			"event_type":          "signal_turn",
			"decision":            decision.Decision,
			"severity":            decision.Severity,
			"aggregate_score":     decision.AggregateScore,
			"decision_risk_score": decision.DecisionRiskScore,
			"config_hash":         configHash,
			"response_hash":       responseHash,
		})
		if err != nil {
			t.Fatalf("turn %d event log: %v", turn, err)
		}

		severity, tag := anomaly.Score(events, cfg.Anomaly.Params().SeverityBands)
		if err := store.UpsertDiagnostics("lionlock_session_diagnostics", sessionID, totalAnomalies, severity, tag); err != nil {
			t.Fatalf("turn %d diagnostics: %v", turn, err)
		}
		if err := store.UpdateSessionAnomalies("lionlock_sessions", sessionID, totalAnomalies, severity, tag); err != nil {
			t.Fatalf("turn %d session anomalies: %v", turn, err)
		}
	}

	if err := store.CloseSession("lionlock_sessions", sessionID); err != nil {
		t.Fatalf("close session: %v", err)
	}
	registry.StopAll()

	verify, err := telemetry.Open(uri, 5*time.Second)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer verify.Close()

	count := func(table string) int {
		var n int
		if err := verify.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		return n
	}
	if got := count("lionlock_signals"); got != 8 {
		t.Fatalf("signal rows = %d, want 8", got)
	}
	if got := count("lionlock_trust"); got != 8 {
		t.Fatalf("trust rows = %d, want 8", got)
	}
	if totalAnomalies == 0 {
		t.Fatalf("degraded turns should raise anomalies")
	}
	if got := count("lionlock_anomalies"); got != totalAnomalies {
		t.Fatalf("anomaly rows = %d, want %d", got, totalAnomalies)
	}

	var status string
	if err := verify.QueryRow("SELECT session_status FROM lionlock_sessions WHERE session_id = ?", sessionID).Scan(&status); err != nil {
		t.Fatalf("session status: %v", err)
	}
	if status != "closed" {
		t.Fatalf("session status = %q", status)
	}
	stored, err := verify.SessionAnomalyCount("lionlock_sessions", sessionID)
	if err != nil {
		t.Fatalf("anomaly count: %v", err)
	}
	if stored != totalAnomalies {
		t.Fatalf("session anomaly count = %d, want %d", stored, totalAnomalies)
	}
}
