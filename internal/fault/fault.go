// Package fault defines the typed failures surfaced by a weather acquisition.
//
// Every failure belongs to exactly one Kind. Collaborator errors are wrapped,
// never replaced, so callers can still reach the underlying cause with
// errors.Unwrap while matching on the kind with errors.Is.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one of the five disjoint acquisition failure kinds.
type Kind int

const (
	KindUnknown Kind = iota
	KindLocationUnavailable
	KindLocationTimeout
	KindNetworkFailure
	KindMalformedResponse
	KindAPIError
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindLocationUnavailable:
		return "LOCATION_UNAVAILABLE"
	case KindLocationTimeout:
		return "LOCATION_TIMEOUT"
	case KindNetworkFailure:
		return "NETWORK_FAILURE"
	case KindMalformedResponse:
		return "MALFORMED_RESPONSE"
	case KindAPIError:
		return "API_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Error is an acquisition failure.
type Error struct {
	Kind Kind

	// StatusCode is the upstream HTTP status. Only set for KindAPIError.
	StatusCode int

	// Err is the collaborator error that caused the failure, if any.
	Err error
}

// Sentinels for errors.Is matching. ErrAPIError matches any status code.
var (
	ErrLocationUnavailable = &Error{Kind: KindLocationUnavailable}
	ErrLocationTimeout     = &Error{Kind: KindLocationTimeout}
	ErrNetworkFailure      = &Error{Kind: KindNetworkFailure}
	ErrMalformedResponse   = &Error{Kind: KindMalformedResponse}
	ErrAPIError            = &Error{Kind: KindAPIError}
)

func (e *Error) Error() string {
	msg := "weather acquisition failed: " + e.Kind.String()
	if e.Kind == KindAPIError && e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d %s)", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. A target with a
// zero StatusCode matches every status.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.StatusCode == 0 || t.StatusCode == e.StatusCode
}

// LocationUnavailable wraps err as a KindLocationUnavailable failure.
func LocationUnavailable(err error) *Error {
	return &Error{Kind: KindLocationUnavailable, Err: err}
}

// LocationTimeout wraps err as a KindLocationTimeout failure.
func LocationTimeout(err error) *Error {
	return &Error{Kind: KindLocationTimeout, Err: err}
}

// NetworkFailure wraps err as a KindNetworkFailure failure.
func NetworkFailure(err error) *Error {
	return &Error{Kind: KindNetworkFailure, Err: err}
}

// MalformedResponse wraps err as a KindMalformedResponse failure.
func MalformedResponse(err error) *Error {
	return &Error{Kind: KindMalformedResponse, Err: err}
}

// APIError creates a KindAPIError failure carrying the upstream status.
func APIError(statusCode int) *Error {
	return &Error{Kind: KindAPIError, StatusCode: statusCode}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StatusCode returns the upstream HTTP status carried by an API error.
func StatusCode(err error) (int, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindAPIError {
		return e.StatusCode, true
	}
	return 0, false
}

// IsClientStatus reports whether err is an API error with a 4xx status.
func IsClientStatus(err error) bool {
	code, ok := StatusCode(err)
	return ok && code >= 400 && code < 500
}

// Retryable reports whether a failed acquisition may succeed when repeated.
// Location permission problems and 4xx responses other than 429 will not.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrLocationUnavailable):
		return false
	case IsClientStatus(err):
		code, _ := StatusCode(err)
		return code == http.StatusTooManyRequests
	default:
		return true
	}
}
