// Package errors carries coded errors through the hub. The code selects the
// HTTP status at the API edge and the error_code field in logs.
package errors

// ErrorCode names a failure class, e.g. "invalid_argument". Codes are stable
// and appear verbatim in API error bodies.
type ErrorCode string

// Error is a coded error. WithMessage and WithData return a copy, so a shared
// Error is never mutated by a caller adding context.
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	WithData(data any) Error
	// GetData returns the value attached by WithData, typically the offending
	// input (a metric name, an interval).
	GetData() any
	Unwrap() error
}

// Factory builds coded errors. Wrap keeps the cause reachable through
// errors.Is and errors.As.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
