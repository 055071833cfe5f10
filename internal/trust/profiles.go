package trust

// Trust labels, ordered by decreasing trust.
const (
	LabelTrusted   = "TRUSTED"
	LabelMonitor   = "MONITOR"
	LabelAtRisk    = "AT_RISK"
	LabelUntrusted = "UNTRUSTED"
)

// Badges summarize the stability picture of a session's trust history.
const (
	BadgeInsufficientData = "INSUFFICIENT_DATA"
	BadgeStable           = "STABLE"
	BadgeVolatile         = "VOLATILE"
	BadgeDrifting         = "DRIFTING"
	BadgeRecovering       = "RECOVERING"
	BadgeCleanRun         = "CLEAN_RUN"
)

// DefaultTrustLogicVersion stamps records when no version is configured.
const DefaultTrustLogicVersion = "TO-0.1.0"

// DefaultProfile is used for empty or unrecognized profile names.
const DefaultProfile = "STANDARD"

// ProfileThresholds holds the label cutoffs for one scoring profile.
type ProfileThresholds struct {
	Trusted float64
	Monitor float64
	AtRisk  float64
}

var profileThresholds = map[string]ProfileThresholds{
	"STANDARD": {Trusted: 0.75, Monitor: 0.55, AtRisk: 0.35},
	"STRICT":   {Trusted: 0.85, Monitor: 0.65, AtRisk: 0.45},
	"LENIENT":  {Trusted: 0.65, Monitor: 0.45, AtRisk: 0.25},
}

// Drift is flagged when recent mean minus baseline mean falls at or below
// these negative deltas.
var driftThresholds = map[string]float64{
	"STANDARD": -0.10,
	"STRICT":   -0.08,
	"LENIENT":  -0.12,
}

// ResolveProfile uppercases the name and falls back to STANDARD for
// anything unrecognized.
func ResolveProfile(name string) string {
	upper := upperTrim(name)
	if _, ok := profileThresholds[upper]; ok {
		return upper
	}
	return DefaultProfile
}

// Thresholds returns the label cutoffs for a profile name.
func Thresholds(profile string) ProfileThresholds {
	return profileThresholds[ResolveProfile(profile)]
}

// DriftThreshold returns the profile's drift delta cutoff.
func DriftThreshold(profile string) float64 {
	return driftThresholds[ResolveProfile(profile)]
}
