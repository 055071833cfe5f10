package anomaly

import (
	"fmt"
	"strings"

	"github.com/lionlock/lionlock/internal/privacy"
)

// NormalizePromptType lowers and trims the prompt type, mapping empty to
// "unknown" and anything outside the taxonomy to "other".
func NormalizePromptType(promptType string) string {
	lowered := strings.ToLower(strings.TrimSpace(promptType))
	if lowered == "" {
		return "unknown"
	}
	if AllowedPromptTypes[lowered] {
		return lowered
	}
	return "other"
}

// Validate checks an event against the persistence schema: closed type
// set, bounded severity, required identity fields, no banned keys at any
// depth, and the extra detail contract for missed_signal_event.
func (e Event) Validate() error {
	if !Types[e.Type] {
		return fmt.Errorf("%w: %q", ErrInvalidType, e.Type)
	}
	if e.Severity < 0 || e.Severity > 1 {
		return fmt.Errorf("%w: %v", ErrSeverityOutOfRange, e.Severity)
	}
	if e.SessionID == "" {
		return fmt.Errorf("%w: session_id", ErrMissingField)
	}
	if e.TurnIndex < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeTurnIndex, e.TurnIndex)
	}
	if e.Timestamp == "" {
		return fmt.Errorf("%w: timestamp", ErrMissingField)
	}
	if e.TrustLogicVersion == "" {
		return fmt.Errorf("%w: trust_logic_version", ErrMissingField)
	}
	if e.CodeFingerprint == "" {
		return fmt.Errorf("%w: code_fingerprint", ErrMissingField)
	}
	if e.Details == nil {
		return fmt.Errorf("%w: details", ErrMissingField)
	}
	if e.PromptType != "" && !AllowedPromptTypes[e.PromptType] {
		return fmt.Errorf("%w: prompt_type %q", ErrInvalidField, e.PromptType)
	}
	if path := privacy.FindForbiddenContent(e.Map()); path != "" {
		return fmt.Errorf("%w at %s", privacy.ErrBannedKey, path)
	}
	if e.Type == "missed_signal_event" {
		for _, key := range []string{"expected_decision", "actual_decision", "miss_reason", "response_hash"} {
			if _, ok := e.Details[key]; !ok {
				return fmt.Errorf("%w: details.%s", ErrMissingField, key)
			}
		}
		expected, _ := e.Details["expected_decision"].(string)
		if !AllowedDecisions[expected] {
			return fmt.Errorf("%w: expected_decision %q", ErrInvalidField, expected)
		}
		actual, _ := e.Details["actual_decision"].(string)
		if !AllowedDecisions[actual] {
			return fmt.Errorf("%w: actual_decision %q", ErrInvalidField, actual)
		}
		reason, _ := e.Details["miss_reason"].(string)
		if !AllowedMissReasons[reason] {
			return fmt.Errorf("%w: miss_reason %q", ErrInvalidField, reason)
		}
	}
	return nil
}

// Sanitize strips banned keys from the event's details at every depth,
// returning a copy safe for persistence.
func (e Event) Sanitize() Event {
	if e.Details == nil {
		return e
	}
	scrubbed, err := privacy.Scrub(map[string]any(e.Details), privacy.ModeStrip)
	if err != nil {
		e.Details = map[string]any{}
		return e
	}
	if m, ok := scrubbed.(map[string]any); ok {
		e.Details = m
	}
	return e
}
