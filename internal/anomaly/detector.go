package anomaly

import (
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/lionlock/lionlock/internal/gate"
	"github.com/lionlock/lionlock/internal/scoring"
	"github.com/lionlock/lionlock/internal/stats"
)

var promptInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all|any|previous) instructions`),
	regexp.MustCompile(`(?i)system prompt`),
	regexp.MustCompile(`(?i)developer message`),
	regexp.MustCompile(`(?i)jailbreak`),
	regexp.MustCompile(`(?i)disregard (all|any|previous) instructions`),
}

// Input is everything the detector sees for one turn. PromptText is used
// only for the injection pattern check and is never carried into events.
type Input struct {
	SessionID         string
	TurnIndex         int
	Timestamp         string
	TrustLogicVersion string
	CodeFingerprint   string
	PromptType        string
	ResponseHash      string
	RequestID         string

	PromptText string
	Bundle     *scoring.Bundle
	Aggregate  *float64
	// Decision is the actual gate output, canonicalized before comparison.
	Decision      string
	GatingEnabled bool
	Thresholds    gate.Thresholds

	// Optional transport-side congestion observations.
	LatencyJitter        *float64
	SyntacticAbnormality *float64
}

// missingFields reports which of the detector's required inputs were
// absent this turn. The list rides along in every emitted event's details
// so downstream consumers can judge how much the detector actually saw.
func missingFields(in Input) []string {
	var missing []string
	if in.SessionID == "" {
		missing = append(missing, "session_id")
	}
	if in.TurnIndex < 0 {
		missing = append(missing, "turn_index")
	}
	if in.Timestamp == "" {
		missing = append(missing, "timestamp")
	}
	if in.Bundle == nil {
		missing = append(missing, "signal_scores")
	}
	if in.Aggregate == nil {
		missing = append(missing, "aggregate_score")
	}
	if in.Decision == "" {
		missing = append(missing, "decision")
	}
	if in.Thresholds == (gate.Thresholds{}) {
		missing = append(missing, "thresholds")
	}
	if in.TrustLogicVersion == "" {
		missing = append(missing, "trust_logic_version")
	}
	if in.CodeFingerprint == "" {
		missing = append(missing, "code_fingerprint")
	}
	if in.ResponseHash == "" {
		missing = append(missing, "response_hash")
	}
	return missing
}

type emitter struct {
	in      Input
	params  Params
	missing []string
	events  []Event
}

func (e *emitter) add(anomalyType string, details map[string]any) {
	weight := e.params.Weights[anomalyType]
	if weight <= 0 {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	if len(e.missing) > 0 {
		fields := make([]any, len(e.missing))
		for i, f := range e.missing {
			fields[i] = f
		}
		details["missing_fields"] = fields
	}
	e.events = append(e.events, Event{
		Type:              anomalyType,
		Severity:          stats.Clamp01(weight),
		Details:           details,
		SessionID:         e.in.SessionID,
		TurnIndex:         e.in.TurnIndex,
		Timestamp:         e.in.Timestamp,
		TrustLogicVersion: e.in.TrustLogicVersion,
		CodeFingerprint:   e.in.CodeFingerprint,
		PromptType:        NormalizePromptType(e.in.PromptType),
		ResponseHash:      e.in.ResponseHash,
		RelatedRequestID:  e.in.RequestID,
	})
}

// Detect runs every weighted rule against one turn and mutates st with
// the turn's observations. Deterministic for identical inputs and state.
func Detect(in Input, st *State, params Params) []Event {
	if !params.Enabled || st == nil {
		return nil
	}
	e := &emitter{in: in, params: params, missing: missingFields(in)}

	var fatigue, hallucination *float64
	rawScores := map[string]float64{}
	if in.Bundle != nil {
		f := in.Bundle.Derived.FatigueRiskIndex
		fatigue = &f
		h := in.Bundle.Scores.HallucinationRisk
		hallucination = &h
		rawScores = in.Bundle.Scores.Map()
	}
	aggFinite := in.Aggregate != nil && isFinite(*in.Aggregate)

	if in.Bundle == nil {
		e.add("scoring_nan", map[string]any{"reason": "signal_scores_missing"})
	} else {
		keys := make([]string, 0, len(rawScores))
		for k := range rawScores {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !isFinite(rawScores[k]) {
				e.add("scoring_nan", map[string]any{"reason": "non_finite:" + k})
				break
			}
		}
	}
	if !aggFinite {
		e.add("scoring_nan", map[string]any{"reason": "aggregate_missing"})
	}

	if hallucination != nil && st.LastHallucination != nil {
		delta := *hallucination - *st.LastHallucination
		if delta > params.HallucinationJumpDelta {
			e.add("hallucination_jump", map[string]any{"delta": delta})
		}
	}

	if fatigue != nil && st.LastFatigue != nil {
		delta := *fatigue - *st.LastFatigue
		if delta > params.FatigueSpikeDelta {
			e.add("fatigue_spike", map[string]any{"delta": delta, "source": "fatigue_risk_index"})
		}
	} else if fatigue == nil && in.Aggregate != nil && st.LastAggregate != nil {
		delta := *in.Aggregate - *st.LastAggregate
		if delta > params.FatigueSpikeDelta {
			e.add("fatigue_spike", map[string]any{"delta": delta, "source": "aggregate_score"})
		}
	}

	if in.Aggregate != nil && len(rawScores) > 0 {
		highSignal := false
		for _, v := range rawScores {
			if v > params.MinorSignalThreshold {
				highSignal = true
				break
			}
		}
		if highSignal && *in.Aggregate < thresholdsOrDefault(in.Thresholds).Yellow {
			e.add("minor_signal_drift", map[string]any{"reason": "high_signal_low_aggregate"})
		}
	}

	if in.PromptText != "" {
		for _, pattern := range promptInjectionPatterns {
			if pattern.MatchString(in.PromptText) {
				e.add("prompt_injection_suspected", map[string]any{"pattern": pattern.String()})
				break
			}
		}
	}

	if aggFinite {
		actual := gate.CanonicalDecision(in.Decision)
		if in.GatingEnabled {
			expected := gate.SeverityBand(*in.Aggregate, thresholdsOrDefault(in.Thresholds))
			switch {
			case expected == gate.SeverityRed && actual != gate.DecisionBlock:
				e.add("gate_mismatch", map[string]any{"expected": "block", "actual_decision": actual})
			case (expected == gate.SeverityYellow || expected == gate.SeverityOrange) && actual == gate.DecisionAllow:
				e.add("gate_mismatch", map[string]any{"expected": "refresh", "actual_decision": actual})
			case expected == gate.SeverityGreen && (actual == gate.DecisionRefresh || actual == gate.DecisionBlock):
				e.add("gate_mismatch", map[string]any{"expected": "allow", "actual_decision": actual})
			}
		} else if actual != gate.DecisionAllow {
			e.add("gate_override_failure", map[string]any{"reason": "gating_disabled", "actual_decision": actual})
		}
	}

	congestion := 0.0
	if in.Bundle != nil {
		congestion = in.Bundle.Derived.CongestionSignature
	}
	if in.LatencyJitter != nil && *in.LatencyJitter > congestion {
		congestion = *in.LatencyJitter
	}
	if in.SyntacticAbnormality != nil && *in.SyntacticAbnormality > congestion {
		congestion = *in.SyntacticAbnormality
	}
	st.Congestion = stats.PushBounded(st.Congestion, congestion, params.CongestionWindow)
	if congestion >= params.CongestionThreshold {
		e.add("model_congestion", map[string]any{
			"congestion": congestion,
			"window_n":   len(st.Congestion),
		})
	}

	if aggFinite {
		worst := *in.Aggregate
		if hallucination != nil && *hallucination > worst {
			worst = *hallucination
		}
		if fatigue != nil && *fatigue > worst {
			worst = *fatigue
		}
		reliability := stats.Clamp01(1 - worst)
		st.Reliability = stats.PushBounded(st.Reliability, reliability, params.DegradationWindow)
		if len(st.Reliability) >= params.DegradationMinPoints {
			recentN := len(st.Reliability) / 2
			baseline := st.Reliability[:len(st.Reliability)-recentN]
			recent := st.Reliability[len(st.Reliability)-recentN:]
			drop := stats.Mean(baseline) - stats.Mean(recent)
			if drop >= params.DegradationDelta {
				e.add("model_degradation", map[string]any{
					"baseline_mean": stats.Mean(baseline),
					"recent_mean":   stats.Mean(recent),
					"drop":          drop,
				})
			}
		}
	}

	if aggFinite {
		st.LastAggregate = in.Aggregate
	}
	if hallucination != nil && isFinite(*hallucination) {
		st.LastHallucination = hallucination
	}
	if fatigue != nil && isFinite(*fatigue) {
		st.LastFatigue = fatigue
	}
	now := in.Timestamp
	if now == "" {
		now = time.Now().UTC().Format(time.RFC3339)
	}
	if st.FirstSeen == "" {
		st.FirstSeen = now
	}
	st.LastSeen = now

	return e.events
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func thresholdsOrDefault(t gate.Thresholds) gate.Thresholds {
	if t == (gate.Thresholds{}) {
		return gate.DefaultThresholds()
	}
	return t
}

// Score sums event severities into a clamped per-turn total and maps it to
// a band tag. Totals in the open gap between unstable_max and critical_min
// classify as unstable.
func Score(events []Event, bands SeverityBands) (float64, string) {
	total := 0.0
	for _, ev := range events {
		total += ev.Severity
	}
	total = stats.Clamp01(total)
	switch {
	case total <= bands.NormalMax:
		return total, "normal"
	case total <= bands.UnstableMax:
		return total, "unstable"
	case total >= bands.CriticalMin:
		return total, "critical"
	default:
		return total, "unstable"
	}
}

// EvaluateMissedSignal runs the post-hoc check: if this turn's combined
// anomaly and risk picture says the gate should have intervened but the
// actual decision let the response through, emit a missed_signal_event.
func EvaluateMissedSignal(in Input, events []Event, params Params) *Event {
	if params.Weights["missed_signal_event"] <= 0 {
		return nil
	}
	total, _ := Score(events, params.SeverityBands)
	risk := total
	if in.Bundle != nil {
		if h := in.Bundle.Scores.HallucinationRisk; h > risk {
			risk = h
		}
		if f := in.Bundle.Derived.FatigueRiskIndex; f > risk {
			risk = f
		}
	}
	risk = stats.Clamp01(risk)

	actual := gate.CanonicalDecision(in.Decision)
	if actual != gate.DecisionAllow && actual != gate.DecisionRefresh {
		return nil
	}
	if risk < params.MissedWarnThreshold {
		return nil
	}
	expected := gate.DecisionRefresh
	if risk >= params.MissedBlockThreshold {
		expected = gate.DecisionBlock
	}
	if expected == actual {
		return nil
	}

	details := map[string]any{
		"expected_decision":    expected,
		"actual_decision":      actual,
		"miss_reason":          "threshold",
		"posthoc_failure_risk": risk,
		"response_hash":        in.ResponseHash,
	}
	if missing := missingFields(in); len(missing) > 0 {
		fields := make([]any, len(missing))
		for i, f := range missing {
			fields[i] = f
		}
		details["missing_fields"] = fields
	}
	return &Event{
		Type:              "missed_signal_event",
		Severity:          stats.Clamp01(params.Weights["missed_signal_event"]),
		Details:           details,
		SessionID:         in.SessionID,
		TurnIndex:         in.TurnIndex,
		Timestamp:         in.Timestamp,
		TrustLogicVersion: in.TrustLogicVersion,
		CodeFingerprint:   in.CodeFingerprint,
		PromptType:        NormalizePromptType(in.PromptType),
		ResponseHash:      in.ResponseHash,
		RelatedRequestID:  in.RequestID,
	}
}
