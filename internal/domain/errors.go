package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrInvalidRange        = errors.New("invalid date range")
	ErrEmptyRange          = errors.New("no content in date range")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrUnknownSourceType   = errors.New("unknown source type")
	ErrProviderUnavailable = errors.New("llm provider unavailable")
	ErrChannelUnavailable  = errors.New("notification channel unavailable")
)

// ErrorKind is the classification exposed to API callers.
type ErrorKind string

const (
	KindNotFound    ErrorKind = "not_found"
	KindConflict    ErrorKind = "conflict"
	KindInvalid     ErrorKind = "invalid"
	KindUnavailable ErrorKind = "unavailable"
	KindInternal    ErrorKind = "internal"
)

// Kind classifies err by the sentinel it wraps.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInvalidRange),
		errors.Is(err, ErrEmptyRange),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrUnknownSourceType):
		return KindInvalid
	case errors.Is(err, ErrProviderUnavailable), errors.Is(err, ErrChannelUnavailable):
		return KindUnavailable
	default:
		return KindInternal
	}
}
