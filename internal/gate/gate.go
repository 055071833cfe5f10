// Package gate turns a signal bundle into a gating decision: severity
// band, decision risk score, trigger signal, reason code, and the final
// ALLOW/REFRESH/BLOCK outcome.
package gate

import (
	"strings"

	"github.com/lionlock/lionlock/internal/scoring"
	"github.com/lionlock/lionlock/internal/stats"
)

// Severity bands, ordered by increasing risk.
const (
	SeverityGreen  = "green"
	SeverityYellow = "yellow"
	SeverityOrange = "orange"
	SeverityRed    = "red"
)

// Canonical decisions. WARN is accepted as a legacy input alias and
// normalized to REFRESH on output.
const (
	DecisionAllow   = "ALLOW"
	DecisionRefresh = "REFRESH"
	DecisionBlock   = "BLOCK"
	DecisionUnknown = "UNKNOWN"
)

// Hallucination modes.
const (
	HallucinationWarnOnly = "warn_only"
	HallucinationEnforce  = "enforce"
)

// Thresholds are the severity band cutoffs over the decision risk score.
type Thresholds struct {
	Yellow float64 `yaml:"yellow"`
	Orange float64 `yaml:"orange"`
	Red    float64 `yaml:"red"`
}

// DefaultThresholds returns the stock band cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{Yellow: 0.45, Orange: 0.65, Red: 0.80}
}

// DefaultHardGateReasons lists every reason code eligible for a hard
// block. Trimming this set downgrades red severities for the removed
// reasons to orange.
var DefaultHardGateReasons = []string{
	"repetition_loop",
	"low_novelty",
	"low_coherence",
	"context_drift",
	"hallucination_risk",
}

// reasonCodeMap translates a trigger signal into an operator-facing
// reason code. Derived triggers fall through to policy_violation.
var reasonCodeMap = map[string]string{
	"repetition_loopiness":  "repetition_loop",
	"novelty_entropy_proxy": "low_novelty",
	"coherence_structure":   "low_coherence",
	"context_adherence":     "context_drift",
	"hallucination_risk":    "hallucination_risk",
}

// triggerPriority breaks ties when several channels share the maximum
// value: earlier entries win.
var triggerPriority = []string{
	"fatigue_risk_index",
	"congestion_signature",
	"low_conf_halluc",
	"hallucination_risk",
	"context_adherence",
	"coherence_structure",
	"novelty_entropy_proxy",
	"repetition_loopiness",
}

// Decision is the full gating verdict for one turn, carrying a snapshot
// of the scored bundle it was made from so the verdict stands on its own.
type Decision struct {
	Severity          string         `json:"severity"`
	Decision          string         `json:"decision"`
	ReasonCode        string         `json:"reason_code"`
	AggregateScore    float64        `json:"aggregate_score"`
	DecisionRiskScore float64        `json:"decision_risk_score"`
	TriggerSignal     string         `json:"trigger_signal"`
	Bundle            scoring.Bundle `json:"signal_bundle"`
}

// Policy carries the gate tunables resolved from configuration.
type Policy struct {
	Enabled           bool
	Thresholds        Thresholds
	HallucinationMode string
	// HardGateReasons nil means no filtering; an explicit set downgrades
	// red severities whose reason code is outside it.
	HardGateReasons []string
}

// DefaultPolicy returns the stock gate policy.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:           true,
		Thresholds:        DefaultThresholds(),
		HallucinationMode: HallucinationWarnOnly,
	}
}

// CanonicalDecision normalizes free-form decision text to the canonical
// set. Empty input maps to UNKNOWN, WARN to REFRESH, anything
// unrecognized to UNKNOWN.
func CanonicalDecision(text string) string {
	normalized := strings.ToUpper(strings.TrimSpace(text))
	switch normalized {
	case "":
		return DecisionUnknown
	case "WARN":
		return DecisionRefresh
	case DecisionAllow, DecisionRefresh, DecisionBlock, DecisionUnknown:
		return normalized
	default:
		return DecisionUnknown
	}
}

// SeverityBand maps a risk score onto the highest band whose threshold is
// met.
func SeverityBand(score float64, t Thresholds) string {
	switch {
	case score >= t.Red:
		return SeverityRed
	case score >= t.Orange:
		return SeverityOrange
	case score >= t.Yellow:
		return SeverityYellow
	default:
		return SeverityGreen
	}
}

// DecisionRisk folds the aggregate score with the derived indices that
// can independently force a gate.
func DecisionRisk(aggregate float64, derived scoring.Derived) float64 {
	risk := aggregate
	for _, v := range []float64{derived.FatigueRiskIndex, derived.LowConfHalluc, derived.CongestionSignature} {
		if v > risk {
			risk = v
		}
	}
	return stats.Clamp01(risk)
}

// TriggerSignal returns the channel carrying the global maximum across
// the raw and derived maps. The derived map wins ties between the two
// maps; within a map, triggerPriority breaks ties.
func TriggerSignal(raw, derived map[string]float64) string {
	rawName, rawMax := maxByPriority(raw)
	derivedName, derivedMax := maxByPriority(derived)
	if derivedName != "" && derivedMax >= rawMax {
		return derivedName
	}
	if rawName != "" {
		return rawName
	}
	return derivedName
}

func maxByPriority(values map[string]float64) (string, float64) {
	best := ""
	bestValue := 0.0
	for _, name := range triggerPriority {
		v, ok := values[name]
		if !ok {
			continue
		}
		if best == "" || v > bestValue {
			best = name
			bestValue = v
		}
	}
	return best, bestValue
}

// ReasonCode maps a trigger signal to its reason code, defaulting to
// policy_violation for derived or unknown triggers.
func ReasonCode(trigger string) string {
	if code, ok := reasonCodeMap[trigger]; ok {
		return code
	}
	return "policy_violation"
}

// Decide evaluates the gate for one scored turn.
func Decide(bundle scoring.Bundle, aggregate float64, p Policy) Decision {
	if p.Thresholds == (Thresholds{}) {
		p.Thresholds = DefaultThresholds()
	}
	risk := DecisionRisk(aggregate, bundle.Derived)
	severity := SeverityBand(risk, p.Thresholds)
	trigger := TriggerSignal(bundle.Scores.Map(), bundle.Derived.Map())
	reason := ReasonCode(trigger)

	if severity == SeverityRed && p.HallucinationMode == HallucinationWarnOnly && reason == "hallucination_risk" {
		severity = SeverityOrange
	}
	if severity == SeverityRed && p.HardGateReasons != nil {
		enabled := false
		for _, allowed := range p.HardGateReasons {
			if allowed == reason {
				enabled = true
				break
			}
		}
		if !enabled {
			severity = SeverityOrange
		}
	}

	decision := DecisionAllow
	if p.Enabled {
		switch severity {
		case SeverityRed:
			decision = DecisionBlock
		case SeverityYellow, SeverityOrange:
			decision = DecisionRefresh
		}
	}

	return Decision{
		Severity:          severity,
		Decision:          decision,
		ReasonCode:        reason,
		AggregateScore:    stats.Clamp01(aggregate),
		DecisionRiskScore: risk,
		TriggerSignal:     trigger,
		Bundle:            bundle,
	}
}
