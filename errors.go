package secretgate

import (
	"errors"
	"fmt"
)

var (
	// store level
	ErrUserNotFound = errors.New("user not found")

	// validation
	ErrDuplicateUsername = errors.New("username already taken")
	ErrInvalidInput      = errors.New("invalid input")

	// authentication
	ErrNoSuchUser      = errors.New("no such user")
	ErrBadCredential   = errors.New("bad credential")
	ErrUnauthenticated = errors.New("unauthenticated")

	ErrUnknownProvider = errors.New("unknown identity provider")
)

// ErrorKind classifies failures by how the route layer surfaces them
type ErrorKind int

const (
	// KindUpstream covers storage and provider failures. Logged, never shown.
	KindUpstream ErrorKind = iota
	// KindValidation sends the caller back to the originating form
	KindValidation
	// KindAuth always degrades to "redirect to login" without saying why
	KindAuth
	// KindNotFound is a stale session whose user vanished. Logged, no-op.
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	}
	return "upstream"
}

// Error codes carried on AuthError
const (
	ErrCodeMissingField    = "missing_field"
	ErrCodeInvalidUsername = "invalid_username"
	ErrCodeInvalidPassword = "invalid_password"
	ErrCodeUsernameTaken   = "username_taken"
	ErrCodeInvalidCreds    = "invalid_credentials"
	ErrCodeProviderFailure = "provider_failure"
	ErrCodeUnknownProvider = "unknown_provider"
)

// AuthError is a classified failure from one of the authentication flows
type AuthError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Field   string
	Err     error
}

func NewAuthError(kind ErrorKind, code, message, field string, err error) *AuthError {
	return &AuthError{Kind: kind, Code: code, Message: message, Field: field, Err: err}
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// KindOf classifies err. Errors that carry no classification are upstream
// failures.
func KindOf(err error) ErrorKind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	switch {
	case errors.Is(err, ErrDuplicateUsername), errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrNoSuchUser), errors.Is(err, ErrBadCredential), errors.Is(err, ErrUnauthenticated):
		return KindAuth
	case errors.Is(err, ErrUserNotFound):
		return KindNotFound
	}
	return KindUpstream
}
