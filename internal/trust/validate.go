package trust

import (
	"fmt"

	"github.com/lionlock/lionlock/internal/privacy"
)

var allowedLabels = map[string]bool{
	LabelTrusted:   true,
	LabelMonitor:   true,
	LabelAtRisk:    true,
	LabelUntrusted: true,
}

var allowedBadges = map[string]bool{
	BadgeInsufficientData: true,
	BadgeStable:           true,
	BadgeVolatile:         true,
	BadgeDrifting:         true,
	BadgeRecovering:       true,
	BadgeCleanRun:         true,
}

var allowedPromptTypes = map[string]bool{
	"qa":       true,
	"code":     true,
	"creative": true,
	"other":    true,
}

// Sanitize strips banned keys from the record's nested maps at every
// depth, returning a copy safe for persistence.
func (r Record) Sanitize() Record {
	r.ModelConfigSnapshot = scrubMap(r.ModelConfigSnapshot)
	r.DeploymentSnapshot = scrubMap(r.DeploymentSnapshot)
	r.SignalSummary = scrubMap(r.SignalSummary)
	return r
}

func scrubMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	scrubbed, err := privacy.Scrub(m, privacy.ModeStrip)
	if err != nil {
		return map[string]any{}
	}
	if clean, ok := scrubbed.(map[string]any); ok {
		return clean
	}
	return map[string]any{}
}

// Validate enforces the persistence contract: required identity fields,
// closed label/badge/prompt-type sets, a bounded score, risk present in
// the signal summary, and no banned key anywhere in the record.
func (r Record) Validate() error {
	required := map[string]string{
		"trust_logic_version": r.TrustLogicVersion,
		"code_fingerprint":    r.CodeFingerprint,
		"timestamp":           r.Timestamp,
		"session_id":          r.SessionID,
		"model_id":            r.ModelID,
	}
	for field, value := range required {
		if value == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, field)
		}
	}
	if !allowedPromptTypes[r.PromptType] {
		return fmt.Errorf("%w: prompt_type %q", ErrInvalidField, r.PromptType)
	}
	if !allowedLabels[r.TrustLabel] {
		return fmt.Errorf("%w: trust_label %q", ErrInvalidField, r.TrustLabel)
	}
	if r.Badge != "" && !allowedBadges[r.Badge] {
		return fmt.Errorf("%w: badge %q", ErrInvalidField, r.Badge)
	}
	if r.TrustScore < 0 || r.TrustScore > 1 {
		return fmt.Errorf("%w: %v", ErrScoreOutOfRange, r.TrustScore)
	}
	if r.ConfidenceBand.Method == "" {
		return fmt.Errorf("%w: confidence_band.method", ErrMissingField)
	}
	if r.Drift.Method == "" {
		return fmt.Errorf("%w: drift.method", ErrMissingField)
	}
	if r.ModelConfigSnapshot == nil {
		return fmt.Errorf("%w: model_config_snapshot", ErrMissingField)
	}
	if r.DeploymentSnapshot == nil {
		return fmt.Errorf("%w: deployment_context_snapshot", ErrMissingField)
	}
	if r.SignalSummary == nil {
		return fmt.Errorf("%w: signal_summary", ErrMissingField)
	}
	if _, err := ScoreFromSummary(r.SignalSummary); err != nil {
		return err
	}
	if path := privacy.FindForbiddenContent(r.Map()); path != "" {
		return fmt.Errorf("%w at %s", ErrBannedKeyPresent, path)
	}
	return nil
}
