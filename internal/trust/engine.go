// Package trust computes per-session trust overlay records: a trust
// score with label, confidence band, volatility, drift analysis, and a
// stability badge, persisted without any raw content.
package trust

import (
	"strings"
	"time"

	"github.com/lionlock/lionlock/internal/stats"
)

// Overlay tunables resolved from configuration.
type Params struct {
	Profile                  string
	TrustLogicVersion        string
	RuntimeMode              string
	ScoreWindowN             int
	VolatilityWindowN        int
	DriftLookbackDays        int
	DriftMinPoints           int
	VolatilitySpikeThreshold float64
	Salt                     string
}

// DefaultParams returns the stock overlay configuration.
func DefaultParams() Params {
	return Params{
		Profile:                  DefaultProfile,
		TrustLogicVersion:        DefaultTrustLogicVersion,
		RuntimeMode:              "oss",
		ScoreWindowN:             50,
		VolatilityWindowN:        20,
		DriftLookbackDays:        30,
		DriftMinPoints:           20,
		VolatilitySpikeThreshold: 0.20,
	}
}

// ConfidenceBand is a symmetric std-band around the current score.
type ConfidenceBand struct {
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
	Method string  `json:"method"`
	N      int     `json:"n"`
	Std    float64 `json:"std"`
	K      float64 `json:"k"`
}

// Map flattens the band for persistence.
func (b ConfidenceBand) Map() map[string]any {
	return map[string]any{
		"lower":  b.Lower,
		"upper":  b.Upper,
		"method": b.Method,
		"n":      b.N,
		"std":    b.Std,
		"k":      b.K,
	}
}

// Drift is the two-window mean comparison over the trust history.
type Drift struct {
	Detected     bool    `json:"drift_detected"`
	Method       string  `json:"method"`
	RecentMean   float64 `json:"recent_mean"`
	BaselineMean float64 `json:"baseline_mean"`
	Delta        float64 `json:"delta"`
	Threshold    float64 `json:"threshold"`
	RecentN      int     `json:"recent_n"`
	BaselineN    int     `json:"baseline_n"`
}

// Map flattens the drift result for persistence.
func (d Drift) Map() map[string]any {
	return map[string]any{
		"drift_detected": d.Detected,
		"method":         d.Method,
		"recent_mean":    d.RecentMean,
		"baseline_mean":  d.BaselineMean,
		"delta":          d.Delta,
		"threshold":      d.Threshold,
		"recent_n":       d.RecentN,
		"baseline_n":     d.BaselineN,
	}
}

func upperTrim(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ScoreFromSummary derives the trust score from a signal summary's
// overall risk. The legacy fatigue_score key is honored when overall_risk
// is absent; missing both is an error.
func ScoreFromSummary(summary map[string]any) (float64, error) {
	risk, ok := numericValue(summary["overall_risk"])
	if !ok {
		risk, ok = numericValue(summary["fatigue_score"])
	}
	if !ok {
		return 0, ErrMissingRisk
	}
	return stats.Clamp01(1 - risk), nil
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// MapLabel assigns the four-tier label using the profile's cutoffs.
func MapLabel(score float64, profile string) string {
	t := Thresholds(profile)
	switch {
	case score >= t.Trusted:
		return LabelTrusted
	case score >= t.Monitor:
		return LabelMonitor
	case score >= t.AtRisk:
		return LabelAtRisk
	default:
		return LabelUntrusted
	}
}

// Volatility is the clamped population stddev over the trailing window.
func Volatility(history []float64, windowN int) float64 {
	window := stats.Tail(history, windowN)
	if len(window) < 2 {
		return 0
	}
	return stats.Clamp01(stats.PStdDev(window))
}

// Band computes the std confidence band around the latest score in
// history. current is used when history is empty.
func Band(history []float64, current float64, windowN int, k float64) ConfidenceBand {
	window := history
	if windowN > 0 {
		window = stats.Tail(history, windowN)
	}
	std := 0.0
	if len(window) > 1 {
		std = stats.PStdDev(window)
	}
	score := current
	if len(history) > 0 {
		score = history[len(history)-1]
	}
	return ConfidenceBand{
		Lower:  stats.Clamp01(score - k*std),
		Upper:  stats.Clamp01(score + k*std),
		Method: "std-band",
		N:      len(window),
		Std:    std,
		K:      k,
	}
}

// ParseTimestamp accepts RFC 3339 with a trailing Z or numeric offset and
// treats a missing offset as UTC.
func ParseTimestamp(value string) (time.Time, bool) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return time.Time{}, false
	}
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// DetectDrift compares a recent window against the baseline immediately
// before it. Timestamps, when aligned with scores, bound the history to
// the lookback window ending at the latest parsable timestamp.
func DetectDrift(history []float64, timestamps []string, p Params) Drift {
	threshold := DriftThreshold(p.Profile)
	scores := history

	if len(timestamps) > 0 && len(timestamps) == len(scores) {
		type point struct {
			at    time.Time
			score float64
		}
		var parsed []point
		for i, ts := range timestamps {
			if at, ok := ParseTimestamp(ts); ok {
				parsed = append(parsed, point{at: at, score: scores[i]})
			}
		}
		if len(parsed) > 0 {
			cutoff := parsed[len(parsed)-1].at.AddDate(0, 0, -p.DriftLookbackDays)
			var bounded []float64
			for _, pt := range parsed {
				if !pt.at.Before(cutoff) {
					bounded = append(bounded, pt.score)
				}
			}
			scores = bounded
		}
	}

	empty := Drift{Method: "two_window_mean", Threshold: threshold}
	if len(scores) < p.DriftMinPoints {
		return empty
	}

	recentN := len(scores)
	if recentN > 20 {
		recentN = 20
	}
	baselineN := len(scores) - recentN
	if baselineN > 80 {
		baselineN = 80
	}
	if recentN <= 0 || baselineN <= 0 {
		empty.RecentN = recentN
		empty.BaselineN = baselineN
		return empty
	}

	recent := scores[len(scores)-recentN:]
	baseline := scores[len(scores)-recentN-baselineN : len(scores)-recentN]
	recentMean := stats.Mean(recent)
	baselineMean := stats.Mean(baseline)
	delta := recentMean - baselineMean

	return Drift{
		Detected:     delta <= threshold,
		Method:       "two_window_mean",
		RecentMean:   recentMean,
		BaselineMean: baselineMean,
		Delta:        delta,
		Threshold:    threshold,
		RecentN:      recentN,
		BaselineN:    baselineN,
	}
}

// AssignBadge picks the stability badge by fixed priority.
func AssignBadge(score, volatility float64, drift Drift, p Params) string {
	if drift.RecentN+drift.BaselineN < p.DriftMinPoints {
		return BadgeInsufficientData
	}
	if drift.Detected {
		return BadgeDrifting
	}
	if volatility >= p.VolatilitySpikeThreshold {
		return BadgeVolatile
	}
	if drift.Delta > drift.Threshold/2 && score >= drift.RecentMean {
		return BadgeRecovering
	}
	return BadgeStable
}

// TriggerFlags lists the conditions that should draw operator attention.
func TriggerFlags(score, volatility float64, drift Drift, p Params) []string {
	var flags []string
	label := MapLabel(score, p.Profile)
	if label == LabelAtRisk || label == LabelUntrusted {
		flags = append(flags, "score_below_threshold")
	}
	if drift.Detected {
		flags = append(flags, "drift_detected")
	}
	if volatility >= p.VolatilitySpikeThreshold {
		flags = append(flags, "volatility_spike")
	}
	return flags
}
