package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lionlock/lionlock/internal/canonical"
	"github.com/lionlock/lionlock/internal/gate"
	"github.com/lionlock/lionlock/internal/privacy"
)

// PublicEventFields is the closed set of keys allowed into the JSONL
// event log. Anything outside it is dropped before serialization.
var PublicEventFields = map[string]struct{}{
	"timestamp":             {},
	"session_id":            {},
	"turn_index":            {},
	"event_type":            {},
	"decision":              {},
	"severity":              {},
	"reason_code":           {},
	"aggregate_score":       {},
	"decision_risk_score":   {},
	"trigger_signal":        {},
	"signal_scores":         {},
	"derived_signals":       {},
	"signal_schema_version": {},
	"missing_inputs":        {},
	"config_hash":           {},
	"trust_logic_version":   {},
	"code_fingerprint":      {},
	"prompt_type":           {},
	"response_hash":         {},
	"replay_id":             {},
	"notes":                 {},
}

const maxNoteLength = 120

// ConfigHash fingerprints the behavior-relevant configuration subset:
// gating and signal settings only, so unrelated config edits do not
// churn the hash.
func ConfigHash(gatingEnabled bool, thresholds gate.Thresholds, hallucinationMode string, signalsEnabled []string, weights map[string]float64) string {
	subset := map[string]any{
		"gating": map[string]any{
			"enabled": gatingEnabled,
			"thresholds": map[string]any{
				"yellow": thresholds.Yellow,
				"orange": thresholds.Orange,
				"red":    thresholds.Red,
			},
			"hallucination_mode": hallucinationMode,
		},
		"signals": map[string]any{
			"enabled": signalsEnabled,
			"weights": weights,
		},
	}
	data, err := canonical.Marshal(subset)
	if err != nil {
		return ""
	}
	return canonical.DigestHex(data)
}

// EventLog appends public, content-free events to daily JSONL files.
type EventLog struct {
	Dir       string
	Verbosity string // "normal" or "debug"
}

// CanonicalDecision folds a decision string into the public vocabulary,
// letting the ERROR marker pass through unchanged.
func CanonicalDecision(decision string) string {
	if strings.EqualFold(strings.TrimSpace(decision), "ERROR") {
		return "ERROR"
	}
	return gate.CanonicalDecision(decision)
}

func (l *EventLog) sanitizeNotes(raw any) (string, bool) {
	if l.Verbosity != "debug" {
		return "", false
	}
	notes, ok := raw.(string)
	if !ok {
		return "", false
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return "", false
	}
	if len(notes) > maxNoteLength {
		notes = notes[:maxNoteLength]
	}
	if privacy.StringHasForbiddenContent(notes) {
		return "", false
	}
	return notes, true
}

// Append filters an event down to the public field set and writes one
// JSONL line. The timestamp and decision are normalized; notes survive
// only at debug verbosity after a content scan.
func (l *EventLog) Append(event map[string]any) error {
	public := make(map[string]any, len(event))
	for k, v := range event {
		if _, ok := PublicEventFields[k]; !ok {
			continue
		}
		public[k] = v
	}
	if raw, ok := public["decision"]; ok {
		if d, ok := raw.(string); ok {
			public["decision"] = CanonicalDecision(d)
		}
	}
	if raw, ok := public["notes"]; ok {
		if notes, keep := l.sanitizeNotes(raw); keep {
			public["notes"] = notes
		} else {
			delete(public, "notes")
		}
	}
	if _, ok := public["timestamp"]; !ok {
		public["timestamp"] = utcStamp()
	}
	if _, err := privacy.Scrub(public, privacy.ModeReject); err != nil {
		return err
	}
	if path := privacy.FindForbiddenContent(public); path != "" {
		return fmt.Errorf("%w: %s", privacy.ErrForbiddenContent, path)
	}
	line, err := canonical.Marshal(public)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return err
	}
	day := time.Now().UTC().Format("2006-01-02")
	path := filepath.Join(l.Dir, "lionlock_events_"+day+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Prune removes event log files older than the retention window.
func (l *EventLog) Prune(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "lionlock_events_") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, "lionlock_events_"), ".jsonl")
		day, err := time.Parse("2006-01-02", stamp)
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			if err := os.Remove(filepath.Join(l.Dir, name)); err != nil {
				return err
			}
		}
	}
	return nil
}
