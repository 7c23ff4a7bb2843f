package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrWorkerPanic       = fmt.Errorf("worker panic")
	ErrSinkClosed        = fmt.Errorf("sink closed")
	ErrSinkFull          = fmt.Errorf("sink buffer full")
	ErrSessionNotActive  = fmt.Errorf("session not active")
	ErrMissingHeaders    = fmt.Errorf("missing required headers")
	ErrInvalidSignature  = fmt.Errorf("invalid signature")
	ErrInvalidAPIKey     = fmt.Errorf("invalid api key")
	ErrInvalidChannelID  = fmt.Errorf("invalid channel id")
	ErrEmptyRoom         = fmt.Errorf("room name is required")
	ErrUnknownProvider   = fmt.Errorf("unknown provider")
	ErrUserNotFound      = fmt.Errorf("user not found")
	ErrChannelNotFound   = fmt.Errorf("channel not found")
	ErrEmptyCensoredList = fmt.Errorf("no censored words have been provided")
)

// Kind classifies a failure so every boundary can turn it into the right
// client event or HTTP status.
type Kind int

const (
	KindInternal Kind = iota
	KindAuth
	KindMalformed
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth_failure"
	case KindMalformed:
		return "malformed_input"
	case KindUpstream:
		return "upstream_failure"
	default:
		return "internal_failure"
	}
}

// Error is a classified failure. Public is the only part a client may see.
type Error struct {
	Kind   Kind
	Op     string
	Public string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func AuthFailure(op string, err error) error {
	return &Error{Kind: KindAuth, Op: op, Public: "Forbidden", Err: err}
}

func MalformedInput(op, public string, err error) error {
	return &Error{Kind: KindMalformed, Op: op, Public: public, Err: err}
}

func UpstreamFailure(op, public string, err error) error {
	return &Error{Kind: KindUpstream, Op: op, Public: public, Err: err}
}

func InternalFailure(op string, err error) error {
	return &Error{Kind: KindInternal, Op: op, Public: "Internal error", Err: err}
}

// KindOf returns the kind of the first classified error in the chain.
// Unclassified errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage returns the human-readable reason to show a client.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Public != "" {
		return e.Public
	}
	return "Internal error"
}

// HTTPStatus maps an error to the status returned to webhook callers.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindAuth:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }
