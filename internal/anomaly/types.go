// Package anomaly detects per-turn behavioral anomalies from the scored
// signal bundle, the gate outcome, and bounded per-session state.
package anomaly

// Types is the closed set of persistable anomaly types.
var Types = map[string]bool{
	"fatigue_spike":              true,
	"hallucination_jump":         true,
	"minor_signal_drift":         true,
	"prompt_injection_suspected": true,
	"gate_mismatch":              true,
	"gate_override_failure":      true,
	"scoring_nan":                true,
	"model_degradation":          true,
	"model_congestion":           true,
	"missed_signal_event":        true,
}

// AllowedDecisions covers the canonical gate outputs plus the legacy WARN
// alias still accepted on input.
var AllowedDecisions = map[string]bool{
	"ALLOW":   true,
	"REFRESH": true,
	"WARN":    true,
	"BLOCK":   true,
	"UNKNOWN": true,
}

// AllowedMissReasons for missed_signal_event details.
var AllowedMissReasons = map[string]bool{
	"threshold": true,
	"masking":   true,
	"conflict":  true,
}

// AllowedPromptTypes is the coarse prompt taxonomy persisted with events.
var AllowedPromptTypes = map[string]bool{
	"qa":       true,
	"code":     true,
	"creative": true,
	"other":    true,
	"unknown":  true,
}

// Event is one detected anomaly, shaped for persistence.
type Event struct {
	Type              string         `json:"anomaly_type"`
	Severity          float64        `json:"severity"`
	Details           map[string]any `json:"details"`
	SessionID         string         `json:"session_id"`
	TurnIndex         int            `json:"turn_index"`
	Timestamp         string         `json:"timestamp"`
	TrustLogicVersion string         `json:"trust_logic_version"`
	CodeFingerprint   string         `json:"code_fingerprint"`
	PromptType        string         `json:"prompt_type,omitempty"`
	ResponseHash      string         `json:"response_hash,omitempty"`
	RelatedRequestID  string         `json:"related_request_id,omitempty"`
}

// Map flattens the event for sanitization and persistence. Optional
// fields are omitted when empty.
func (e Event) Map() map[string]any {
	m := map[string]any{
		"anomaly_type":        e.Type,
		"severity":            e.Severity,
		"details":             e.Details,
		"session_id":          e.SessionID,
		"turn_index":          e.TurnIndex,
		"timestamp":           e.Timestamp,
		"trust_logic_version": e.TrustLogicVersion,
		"code_fingerprint":    e.CodeFingerprint,
	}
	if e.PromptType != "" {
		m["prompt_type"] = e.PromptType
	}
	if e.ResponseHash != "" {
		m["response_hash"] = e.ResponseHash
	}
	if e.RelatedRequestID != "" {
		m["related_request_id"] = e.RelatedRequestID
	}
	return m
}

// State is the mutable per-session detector state. The caller owns one
// State per session, created at the first turn and updated on every call.
type State struct {
	LastAggregate     *float64
	LastHallucination *float64
	LastFatigue       *float64
	Reliability       []float64
	Congestion        []float64
	FirstSeen         string
	LastSeen          string
}

// SeverityBands classify the per-turn total anomaly severity.
type SeverityBands struct {
	NormalMax   float64 `yaml:"normal_max"`
	UnstableMax float64 `yaml:"unstable_max"`
	CriticalMin float64 `yaml:"critical_min"`
}

// Params are the detector tunables resolved from configuration.
type Params struct {
	Enabled                bool
	Weights                map[string]float64
	FatigueSpikeDelta      float64
	HallucinationJumpDelta float64
	MinorSignalThreshold   float64
	CongestionThreshold    float64
	CongestionWindow       int
	DegradationWindow      int
	DegradationMinPoints   int
	DegradationDelta       float64
	MissedWarnThreshold    float64
	MissedBlockThreshold   float64
	SeverityBands          SeverityBands
}

// DefaultParams returns the stock detector configuration.
func DefaultParams() Params {
	return Params{
		Enabled: true,
		Weights: map[string]float64{
			"minor_signal_drift":         0.20,
			"fatigue_spike":              0.40,
			"hallucination_jump":         0.50,
			"scoring_nan":                0.60,
			"gate_mismatch":              0.70,
			"prompt_injection_suspected": 0.80,
			"gate_override_failure":      1.00,
			"model_degradation":          0.55,
			"model_congestion":           0.45,
			"missed_signal_event":        0.90,
		},
		FatigueSpikeDelta:      0.25,
		HallucinationJumpDelta: 0.30,
		MinorSignalThreshold:   0.75,
		CongestionThreshold:    0.60,
		CongestionWindow:       20,
		DegradationWindow:      20,
		DegradationMinPoints:   12,
		DegradationDelta:       0.08,
		MissedWarnThreshold:    0.75,
		MissedBlockThreshold:   0.90,
		SeverityBands: SeverityBands{
			NormalMax:   0.30,
			UnstableMax: 0.60,
			CriticalMin: 0.61,
		},
	}
}
