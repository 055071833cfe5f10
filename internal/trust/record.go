package trust

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/lionlock/lionlock/internal/canonical"
)

// Record is the persisted trust overlay result for one turn.
type Record struct {
	TrustLogicVersion   string         `json:"trust_logic_version"`
	CodeFingerprint     string         `json:"code_fingerprint"`
	Timestamp           string         `json:"timestamp"`
	SessionID           string         `json:"session_id"`
	TurnIndex           *int           `json:"turn_index"`
	ModelID             string         `json:"model_id"`
	TrustScore          float64        `json:"trust_score"`
	TrustLabel          string         `json:"trust_label"`
	ConfidenceBand      ConfidenceBand `json:"confidence_band"`
	Volatility          float64        `json:"volatility"`
	Drift               Drift          `json:"drift"`
	Badge               string         `json:"badge"`
	PromptType          string         `json:"prompt_type"`
	ModelConfigSnapshot map[string]any `json:"model_config_snapshot"`
	DeploymentSnapshot  map[string]any `json:"deployment_context_snapshot"`
	SignalSummary       map[string]any `json:"signal_summary"`
	TriggerFlags        []string       `json:"trigger_flags"`
	ResponseHash        string         `json:"response_hash"`
	PseudonymousUserKey string         `json:"pseudonymous_user_key,omitempty"`
}

// Map flattens the record for sanitization and persistence.
func (r Record) Map() map[string]any {
	flags := make([]any, len(r.TriggerFlags))
	for i, f := range r.TriggerFlags {
		flags[i] = f
	}
	m := map[string]any{
		"trust_logic_version":         r.TrustLogicVersion,
		"code_fingerprint":            r.CodeFingerprint,
		"timestamp":                   r.Timestamp,
		"session_id":                  r.SessionID,
		"turn_index":                  nil,
		"model_id":                    r.ModelID,
		"trust_score":                 r.TrustScore,
		"trust_label":                 r.TrustLabel,
		"confidence_band":             r.ConfidenceBand.Map(),
		"volatility":                  r.Volatility,
		"drift":                       r.Drift.Map(),
		"badge":                       r.Badge,
		"prompt_type":                 r.PromptType,
		"model_config_snapshot":       r.ModelConfigSnapshot,
		"deployment_context_snapshot": r.DeploymentSnapshot,
		"signal_summary":              r.SignalSummary,
		"trigger_flags":               flags,
		"response_hash":               r.ResponseHash,
	}
	if r.TurnIndex != nil {
		m["turn_index"] = *r.TurnIndex
	}
	if r.PseudonymousUserKey != "" {
		m["pseudonymous_user_key"] = r.PseudonymousUserKey
	}
	return m
}

// NormalizePromptType maps free-form prompt types onto the overlay's
// closed taxonomy. Anything outside it, including empty, becomes "other".
func NormalizePromptType(promptType string) string {
	lowered := strings.ToLower(strings.TrimSpace(promptType))
	switch lowered {
	case "qa", "code", "creative", "other":
		return lowered
	default:
		return "other"
	}
}

// HashResponse returns the sha256 hex digest of response text. The hash
// is the only trace of the response that may be persisted.
func HashResponse(text string) string {
	return canonical.HashText(text)
}

// PseudonymousUserKey derives the HMAC-SHA256 keyed user tag. Callers
// must only invoke it with an explicitly configured salt.
func PseudonymousUserKey(userID, salt string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

// UTCNow renders the current instant the way records carry timestamps.
func UTCNow() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.999999Z07:00")
}

// SignalSummary normalizes a raw summary for record embedding. The risk
// key is mandatory unless an aggregate score can stand in for it.
func SignalSummary(raw map[string]any, aggregate *float64) (map[string]any, error) {
	summary := map[string]any{}
	if v, ok := raw["overall_risk"]; ok {
		summary["overall_risk"] = v
	} else if v, ok := raw["fatigue_score"]; ok {
		summary["fatigue_score"] = v
	}
	if len(summary) == 0 {
		if aggregate == nil {
			return nil, ErrMissingRisk
		}
		summary["overall_risk"] = *aggregate
	}
	if components, ok := raw["components"].(map[string]any); ok {
		summary["components"] = components
	} else if scores, ok := raw["signal_scores"].(map[string]any); ok {
		summary["components"] = scores
	}
	if notes, ok := raw["notes"].(string); ok && notes != "" {
		summary["notes"] = notes
	}
	if _, err := ScoreFromSummary(summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// BuildInput carries everything the record builder needs for one turn.
// ResponseText, when set, is hashed and discarded; UserID is only ever
// HMAC'd, and only when a salt is configured.
type BuildInput struct {
	SessionID           string
	TurnIndex           *int
	ModelID             string
	PromptType          string
	SignalSummary       map[string]any
	AggregateScore      *float64
	ResponseText        string
	ResponseHash        string
	ScoreHistory        []float64
	Timestamps          []string
	UserID              string
	ModelConfigSnapshot map[string]any
	DeploymentSnapshot  map[string]any
	Timestamp           string
	LionlockVersion     string
}

// Build computes the full trust record for one turn: the current score is
// appended to the history before volatility, band, and drift run over it.
func Build(in BuildInput, p Params) (Record, error) {
	p.Profile = ResolveProfile(p.Profile)
	if p.TrustLogicVersion == "" {
		p.TrustLogicVersion = DefaultTrustLogicVersion
	}

	summary, err := SignalSummary(in.SignalSummary, in.AggregateScore)
	if err != nil {
		return Record{}, err
	}
	score, err := ScoreFromSummary(summary)
	if err != nil {
		return Record{}, err
	}

	timestamp := in.Timestamp
	if timestamp == "" {
		timestamp = UTCNow()
	}

	history := append(append([]float64{}, in.ScoreHistory...), score)
	timestamps := append(append([]string{}, in.Timestamps...), timestamp)

	volatility := Volatility(history, p.VolatilityWindowN)
	band := Band(history, score, p.ScoreWindowN, 1.0)
	drift := DetectDrift(history, timestamps, p)
	badge := AssignBadge(score, volatility, drift, p)
	label := MapLabel(score, p.Profile)
	flags := TriggerFlags(score, volatility, drift, p)

	responseHash := in.ResponseHash
	if responseHash == "" && in.ResponseText != "" {
		responseHash = HashResponse(in.ResponseText)
	}

	pseudonymousKey := ""
	if p.Salt != "" && in.UserID != "" {
		pseudonymousKey = PseudonymousUserKey(in.UserID, p.Salt)
	}

	fingerprint := CodeFingerprint()
	modelSnapshot := in.ModelConfigSnapshot
	if modelSnapshot == nil {
		modelSnapshot = ModelConfig{ModelID: in.ModelID}.Snapshot()
	}
	deploymentSnapshot := in.DeploymentSnapshot
	if deploymentSnapshot == nil {
		deploymentSnapshot = DeploymentSnapshot(p.TrustLogicVersion, fingerprint, p.RuntimeMode, in.LionlockVersion)
	}

	record := Record{
		TrustLogicVersion:   p.TrustLogicVersion,
		CodeFingerprint:     fingerprint,
		Timestamp:           timestamp,
		SessionID:           in.SessionID,
		TurnIndex:           in.TurnIndex,
		ModelID:             in.ModelID,
		TrustScore:          score,
		TrustLabel:          label,
		ConfidenceBand:      band,
		Volatility:          volatility,
		Drift:               drift,
		Badge:               badge,
		PromptType:          NormalizePromptType(in.PromptType),
		ModelConfigSnapshot: modelSnapshot,
		DeploymentSnapshot:  deploymentSnapshot,
		SignalSummary:       summary,
		TriggerFlags:        flags,
		ResponseHash:        responseHash,
		PseudonymousUserKey: pseudonymousKey,
	}
	record = record.Sanitize()
	if err := record.Validate(); err != nil {
		return Record{}, err
	}
	return record, nil
}
