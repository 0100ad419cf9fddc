package flow

import (
	"errors"
	"fmt"
)

// Kind classifies why a login attempt did not succeed.
type Kind int

const (
	AlreadyInProgress Kind = iota + 1
	BindFailed
	Timeout
	ProviderDenied
	ExchangeFailed
	InvalidCallback
	Cancelled
	StoreFailed
)

func (k Kind) String() string {
	switch k {
	case AlreadyInProgress:
		return "already in progress"
	case BindFailed:
		return "callback port unavailable"
	case Timeout:
		return "timed out waiting for callback"
	case ProviderDenied:
		return "denied by provider"
	case ExchangeFailed:
		return "token exchange failed"
	case InvalidCallback:
		return "invalid callback"
	case Cancelled:
		return "cancelled"
	case StoreFailed:
		return "credentials not persisted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// AuthError is returned by every failed login operation. errors.Is matches on Kind,
// so callers can compare against the Err* values below.
type AuthError struct {
	Kind   Kind
	Reason string
	Err    error
}

var (
	ErrAlreadyInProgress = &AuthError{Kind: AlreadyInProgress}
	ErrBindFailed        = &AuthError{Kind: BindFailed}
	ErrTimeout           = &AuthError{Kind: Timeout}
	ErrProviderDenied    = &AuthError{Kind: ProviderDenied}
	ErrExchangeFailed    = &AuthError{Kind: ExchangeFailed}
	ErrInvalidCallback   = &AuthError{Kind: InvalidCallback}
	ErrCancelled         = &AuthError{Kind: Cancelled}
	ErrStoreFailed       = &AuthError{Kind: StoreFailed}
)

func newError(kind Kind, reason string, err error) *AuthError {
	return &AuthError{Kind: kind, Reason: reason, Err: err}
}

func (e *AuthError) Error() string {
	msg := "login " + e.Kind.String()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func (e *AuthError) Is(target error) bool {
	var t *AuthError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of err, or 0 when err is not an AuthError.
func KindOf(err error) Kind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return 0
}
