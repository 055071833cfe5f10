// Package scoring computes the per-turn signal bundle: five raw text
// signals plus the derived fatigue, low-confidence-hallucination, and
// congestion indices.
package scoring

import (
	"math"
	"regexp"
	"strings"

	"github.com/lionlock/lionlock/internal/stats"
)

// SchemaVersion stamps every bundle so persisted rows can be replayed
// against the scorer revision that produced them.
const SchemaVersion = "SE-0.2.0"

var tokenRe = regexp.MustCompile(`[A-Za-z0-9']+`)

// DefaultWeights is the aggregate weighting over the raw channels.
// hallucination_risk carries zero weight in the mean but still gates
// independently through the derived indices.
var DefaultWeights = map[string]float64{
	"repetition_loopiness":  0.30,
	"novelty_entropy_proxy": 0.25,
	"coherence_structure":   0.25,
	"context_adherence":     0.20,
	"hallucination_risk":    0.00,
}

const (
	fatigueSigmoidGain = 4.0
	fatigueSigmoidBias = 1.5

	fatigueWeightEntropy = 0.4
	fatigueWeightTurns   = 0.4
	fatigueWeightDrift   = 0.2
)

// Scores are the five raw channels, each in [0,1].
type Scores struct {
	RepetitionLoopiness float64 `json:"repetition_loopiness"`
	NoveltyEntropyProxy float64 `json:"novelty_entropy_proxy"`
	CoherenceStructure  float64 `json:"coherence_structure"`
	ContextAdherence    float64 `json:"context_adherence"`
	HallucinationRisk   float64 `json:"hallucination_risk"`
}

// Map returns the channel values keyed by wire name.
func (s Scores) Map() map[string]float64 {
	return map[string]float64{
		"repetition_loopiness":  s.RepetitionLoopiness,
		"novelty_entropy_proxy": s.NoveltyEntropyProxy,
		"coherence_structure":   s.CoherenceStructure,
		"context_adherence":     s.ContextAdherence,
		"hallucination_risk":    s.HallucinationRisk,
	}
}

// Derived are the second-order indices computed from the raw channels and
// session metadata, each in [0,1].
type Derived struct {
	FatigueRiskIndex    float64 `json:"fatigue_risk_index"`
	FatigueRisk25T      float64 `json:"fatigue_risk_25t"`
	FatigueRisk50T      float64 `json:"fatigue_risk_50t"`
	LowConfHalluc       float64 `json:"low_conf_halluc"`
	CongestionSignature float64 `json:"congestion_signature"`
}

// Map returns the derived values keyed by wire name.
func (d Derived) Map() map[string]float64 {
	return map[string]float64{
		"fatigue_risk_index":   d.FatigueRiskIndex,
		"fatigue_risk_25t":     d.FatigueRisk25T,
		"fatigue_risk_50t":     d.FatigueRisk50T,
		"low_conf_halluc":      d.LowConfHalluc,
		"congestion_signature": d.CongestionSignature,
	}
}

// Bundle is the canonical per-turn scoring result. It is the only bundle
// shape in the codebase; persistence layers serialize it as-is.
type Bundle struct {
	SchemaVersion string   `json:"signal_schema_version"`
	Scores        Scores   `json:"signal_scores"`
	Derived       Derived  `json:"derived_signals"`
	MissingInputs []string `json:"missing_inputs"`
}

// Map flattens the bundle into the shape persisted by the telemetry layer.
func (b Bundle) Map() map[string]any {
	raw := make(map[string]any, len(b.Scores.Map()))
	for k, v := range b.Scores.Map() {
		raw[k] = v
	}
	derived := make(map[string]any, len(b.Derived.Map()))
	for k, v := range b.Derived.Map() {
		derived[k] = v
	}
	missing := make([]any, len(b.MissingInputs))
	for i, m := range b.MissingInputs {
		missing[i] = m
	}
	return map[string]any{
		"signal_schema_version": b.SchemaVersion,
		"signal_scores":         raw,
		"derived_signals":       derived,
		"missing_inputs":        missing,
	}
}

func sigmoid(value, gain, bias float64) float64 {
	z := -gain * (value - bias)
	if z > 60 {
		return 0
	}
	if z < -60 {
		return 1
	}
	return 1 / (1 + math.Exp(z))
}

func safeRatio(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

// Tokenize splits text on alphanumeric/apostrophe runs and lowercases.
func Tokenize(text string) []string {
	raw := tokenRe.FindAllString(text, -1)
	tokens := make([]string, len(raw))
	for i, t := range raw {
		tokens[i] = strings.ToLower(t)
	}
	return tokens
}

type missingTracker struct {
	seen map[string]bool
	keys []string
}

func (m *missingTracker) add(key string) {
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	if m.seen[key] {
		return
	}
	m.seen[key] = true
	m.keys = append(m.keys, key)
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case bool:
		return 0, false
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, !math.IsInf(v, 0) && !math.IsNaN(v)
	case float32:
		f := float64(v)
		return f, !math.IsInf(f, 0) && !math.IsNaN(f)
	}
	return 0, false
}

func unitInterval(meta map[string]any, key string, missing *missingTracker) float64 {
	if f, ok := asFloat(meta[key]); ok {
		return stats.Clamp01(f)
	}
	missing.add(key)
	return 0
}

func turnIndex(meta map[string]any, missing *missingTracker) float64 {
	if f, ok := asFloat(meta["turn_index"]); ok {
		if f < 0 {
			return 0
		}
		return math.Trunc(f)
	}
	missing.add("turn_index")
	return 0
}

func durationMS(meta map[string]any, missing *missingTracker) float64 {
	if f, ok := asFloat(meta["duration_ms"]); ok {
		return math.Max(0, f)
	}
	missing.add("duration_ms")
	return 0
}

func latencyWindow(meta map[string]any, missing *missingTracker) []float64 {
	raw, ok := meta["latency_window_stats"].([]any)
	if !ok {
		if typed, isTyped := meta["latency_window_stats"].([]float64); isTyped {
			raw = make([]any, len(typed))
			for i, v := range typed {
				raw[i] = v
			}
		} else {
			missing.add("latency_window_stats")
			return nil
		}
	}
	var filtered []float64
	for _, item := range raw {
		if f, fok := asFloat(item); fok && f >= 0 {
			filtered = append(filtered, f)
		}
	}
	if len(filtered) == 0 {
		missing.add("latency_window_stats")
		return nil
	}
	return filtered
}

func fatigueRisk(entropyDecay, turn, driftSlope, turnCap float64) float64 {
	if turn < 0 {
		turn = 0
	}
	normalizedTurns := math.Min(turn, turnCap) / turnCap
	weighted := fatigueWeightEntropy*entropyDecay +
		fatigueWeightTurns*normalizedTurns +
		fatigueWeightDrift*driftSlope
	return stats.Clamp01(sigmoid(weighted, fatigueSigmoidGain, fatigueSigmoidBias))
}

func latencyJitter(latencies []float64) float64 {
	if len(latencies) < 2 {
		return 0
	}
	mean := stats.Mean(latencies)
	if mean <= 0 {
		return 0
	}
	return stats.Clamp01(stats.PStdDev(latencies) / mean)
}

func scoreRawSignals(prompt, response string) Scores {
	promptTokens := Tokenize(prompt)
	responseTokens := Tokenize(response)

	total := len(responseTokens)
	uniq := map[string]bool{}
	for _, t := range responseTokens {
		uniq[t] = true
	}
	repetition := stats.Clamp01(1 - safeRatio(float64(len(uniq)), float64(total)))

	novelty := 0.0
	if total > 1 {
		bigrams := map[[2]string]bool{}
		for i := 0; i < total-1; i++ {
			bigrams[[2]string{responseTokens[i], responseTokens[i+1]}] = true
		}
		diversity := safeRatio(float64(len(bigrams)), float64(total-1))
		novelty = stats.Clamp01(1 - diversity)
	}

	sentences := 0
	for _, chunk := range sentenceRe.Split(response, -1) {
		if strings.TrimSpace(chunk) != "" {
			sentences++
		}
	}
	var coherence float64
	if sentences == 0 {
		coherence = 0.8
	} else {
		avgLen := safeRatio(float64(total), float64(sentences))
		longRisk := stats.Clamp01((avgLen - 30) / 50)
		shortRisk := stats.Clamp01((5 - avgLen) / 5)
		coherence = stats.Clamp01(longRisk + shortRisk)
	}

	promptSet := map[string]bool{}
	for _, t := range promptTokens {
		promptSet[t] = true
	}
	overlap := 0
	for t := range uniq {
		if promptSet[t] {
			overlap++
		}
	}
	adherence := 0.0
	if len(promptSet) > 0 {
		adherence = stats.Clamp01(1 - safeRatio(float64(overlap), float64(len(promptSet))))
	}

	hallucination := stats.Clamp01((adherence + coherence) / 2)

	return Scores{
		RepetitionLoopiness: repetition,
		NoveltyEntropyProxy: novelty,
		CoherenceStructure:  coherence,
		ContextAdherence:    adherence,
		HallucinationRisk:   hallucination,
	}
}

var sentenceRe = regexp.MustCompile(`[.!?]+`)

// Score builds the canonical bundle for one turn. metadata may be nil;
// absent or non-finite fields default to zero and are recorded once, in
// first-seen order, in MissingInputs.
func Score(prompt, response string, metadata map[string]any) Bundle {
	missing := &missingTracker{}

	entropyDecay := unitInterval(metadata, "entropy_decay", missing)
	turn := turnIndex(metadata, missing)
	driftSlope := unitInterval(metadata, "drift_slope", missing)
	_ = durationMS(metadata, missing)
	latencies := latencyWindow(metadata, missing)

	raw := scoreRawSignals(prompt, response)

	fatigue25 := fatigueRisk(entropyDecay, turn, driftSlope, 25)
	fatigue50 := fatigueRisk(entropyDecay, turn, driftSlope, 50)

	lowConf := stats.Clamp01(stats.Clamp01(1-raw.NoveltyEntropyProxy) * stats.Clamp01(1-raw.HallucinationRisk))
	congestion := stats.Clamp01(latencyJitter(latencies) * raw.NoveltyEntropyProxy * raw.CoherenceStructure)

	return Bundle{
		SchemaVersion: SchemaVersion,
		Scores:        raw,
		Derived: Derived{
			FatigueRiskIndex:    fatigue50,
			FatigueRisk25T:      fatigue25,
			FatigueRisk50T:      fatigue50,
			LowConfHalluc:       lowConf,
			CongestionSignature: congestion,
		},
		MissingInputs: missing.keys,
	}
}

// Aggregate returns the weighted mean of the enabled raw channels. A nil
// weights map falls back to DefaultWeights; a nil enabled list means all
// channels. Zero total weight yields 0.
func Aggregate(scores Scores, weights map[string]float64, enabled []string) float64 {
	if weights == nil {
		weights = DefaultWeights
	}
	var allowed map[string]bool
	if enabled != nil {
		allowed = make(map[string]bool, len(enabled))
		for _, name := range enabled {
			allowed[name] = true
		}
	}
	weightedSum := 0.0
	weightTotal := 0.0
	for key, value := range scores.Map() {
		if allowed != nil && !allowed[key] {
			continue
		}
		w := weights[key]
		weightedSum += value * w
		weightTotal += w
	}
	if weightTotal == 0 {
		return 0
	}
	return weightedSum / weightTotal
}
