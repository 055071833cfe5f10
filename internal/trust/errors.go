package trust

import "errors"

var (
	ErrMissingRisk      = errors.New("trust: signal summary missing overall_risk or fatigue_score")
	ErrMissingField     = errors.New("trust: missing required field")
	ErrInvalidField     = errors.New("trust: invalid field value")
	ErrScoreOutOfRange  = errors.New("trust: trust_score out of range")
	ErrBannedKeyPresent = errors.New("trust: record contains banned key")
)
