package telemetry

import "errors"

var (
	ErrEmptyURI          = errors.New("telemetry: empty database URI")
	ErrUnsupportedScheme = errors.New("telemetry: unsupported database URI scheme")
	ErrMissingTable      = errors.New("telemetry: required table missing")
	ErrMissingColumn     = errors.New("telemetry: required column missing")
	ErrForbiddenColumn   = errors.New("telemetry: forbidden raw-content column present")
	ErrAuthFailed        = errors.New("telemetry: token authentication failed")
	ErrWriterClosed      = errors.New("telemetry: writer is closed")
	ErrUnknownSink       = errors.New("telemetry: unknown sink kind")
)
