// Package apierr defines the error taxonomy shared by every handler.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	KindAuthentication   Kind = "authentication"
	KindRateLimit        Kind = "rate_limit"
	KindQuotaExceeded    Kind = "quota_exceeded"
	KindServerError      Kind = "server_error"
	KindValidation       Kind = "validation_error"
	KindUnsupportedModel Kind = "unsupported_model"
	KindWrongHandler     Kind = "wrong_handler"
	KindUpstream         Kind = "upstream_error"
	KindTimeout          Kind = "timeout"
	KindJobFailed        Kind = "job_failed"
)

// Error is a classified failure tagged with the endpoint that produced it.
type Error struct {
	Kind       Kind
	Endpoint   string
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Endpoint != "" {
		msg = fmt.Sprintf("%s (%s): %s", e.Kind, e.Endpoint, msg)
	} else {
		msg = fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	if e.RequestID != "" {
		msg += " (request_id: " + e.RequestID + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind so errors.Is(err, apierr.Timeout) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Endpoint == "" && t.Message == ""
}

// HTTPStatus maps the kind to the status the HTTP API answers with.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindQuotaExceeded:
		return http.StatusPaymentRequired
	case KindUnsupportedModel, KindWrongHandler, KindValidation:
		return http.StatusBadRequest
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindServerError, KindUpstream, KindJobFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is comparisons.
var (
	Authentication   = &Error{Kind: KindAuthentication}
	RateLimit        = &Error{Kind: KindRateLimit}
	QuotaExceeded    = &Error{Kind: KindQuotaExceeded}
	ServerError      = &Error{Kind: KindServerError}
	UnsupportedModel = &Error{Kind: KindUnsupportedModel}
	WrongHandler     = &Error{Kind: KindWrongHandler}
	Upstream         = &Error{Kind: KindUpstream}
	Timeout          = &Error{Kind: KindTimeout}
	JobFailed        = &Error{Kind: KindJobFailed}
)

// New creates an error of the given kind.
func New(kind Kind, endpoint, format string, args ...any) *Error {
	return &Error{Kind: kind, Endpoint: endpoint, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and endpoint to err.
func Wrap(kind Kind, endpoint string, err error) *Error {
	return &Error{Kind: kind, Endpoint: endpoint, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindForStatus classifies an upstream HTTP status and error code.
func KindForStatus(status int, code string) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuthentication
	case status == http.StatusTooManyRequests:
		if isQuotaCode(code) {
			return KindQuotaExceeded
		}
		return KindRateLimit
	case status == http.StatusForbidden && isQuotaCode(code):
		return KindQuotaExceeded
	case status >= 500:
		return KindServerError
	default:
		return KindUpstream
	}
}

func isQuotaCode(code string) bool {
	return code == "quota_exceeded" || code == "insufficient_quota"
}
