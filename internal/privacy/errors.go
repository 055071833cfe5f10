package privacy

import "errors"

var (
	ErrBannedKey        = errors.New("forbidden key in payload")
	ErrForbiddenContent = errors.New("forbidden content in payload")
	ErrInvalidMode      = errors.New("invalid scrub mode")
)
