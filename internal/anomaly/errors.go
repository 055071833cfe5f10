package anomaly

import "errors"

var (
	ErrInvalidType        = errors.New("anomaly: invalid anomaly type")
	ErrSeverityOutOfRange = errors.New("anomaly: severity out of range")
	ErrMissingField       = errors.New("anomaly: missing required field")
	ErrNegativeTurnIndex  = errors.New("anomaly: negative turn index")
	ErrInvalidField       = errors.New("anomaly: invalid field value")
)
