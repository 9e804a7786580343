package coordinator

import (
	"fmt"
	"net/http"

	"zord/internal/quota"
)

// Kind classifies every failure the coordinator can return.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindTimeout       Kind = "timeout"
	KindBackend       Kind = "backend"
	KindInternal      Kind = "internal"
)

// Reasons refining a Kind.
const (
	ReasonCanceled    = "canceled"
	ReasonBusy        = "busy"
	ReasonUnavailable = "unavailable"
	ReasonPanic       = "panic"
)

// Error is the only error type that leaves Handle. Message is safe to show
// to an end user.
type Error struct {
	Kind      Kind
	Reason    string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// StatusCode maps the error to the HTTP status the API returns for it.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindQuotaExceeded:
		if e.Reason == string(quota.ReasonTransient) {
			return http.StatusServiceUnavailable
		}
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindBackend:
		if e.Reason == ReasonBusy {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// IsKind reports whether err is a coordinator error of kind k.
func IsKind(err error, k Kind) bool {
	ce, ok := err.(*Error)
	return ok && ce != nil && ce.Kind == k
}

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func internalError(msg string) *Error {
	return &Error{Kind: KindInternal, Reason: ReasonPanic, Message: msg}
}
