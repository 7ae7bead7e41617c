package secretgate

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxUsernameLength = 64
	MaxPasswordLength = 256
)

// Credentials represents a username/password pair submitted to register or login
type Credentials struct {
	Username string
	Password string
}

// SignupValidator validates credentials during registration
type SignupValidator func(creds *Credentials) *AuthError

// DefaultSignupValidator accepts any non-empty username without control
// characters and any non-empty password, within the length limits.
var DefaultSignupValidator SignupValidator = func(creds *Credentials) *AuthError {
	if creds.Username == "" {
		return NewAuthError(KindValidation, ErrCodeMissingField, "username required", "username", ErrInvalidInput)
	}
	if utf8.RuneCountInString(creds.Username) > MaxUsernameLength {
		return NewAuthError(KindValidation, ErrCodeInvalidUsername, "username too long", "username", ErrInvalidInput)
	}
	if strings.IndexFunc(creds.Username, unicode.IsControl) >= 0 {
		return NewAuthError(KindValidation, ErrCodeInvalidUsername, "username contains control characters", "username", ErrInvalidInput)
	}

	if creds.Password == "" {
		return NewAuthError(KindValidation, ErrCodeMissingField, "password required", "password", ErrInvalidInput)
	}
	if len(creds.Password) > MaxPasswordLength {
		return NewAuthError(KindValidation, ErrCodeInvalidPassword, "password too long", "password", ErrInvalidInput)
	}
	return nil
}

// NormalizeUsername trims surrounding whitespace. Usernames are otherwise
// case sensitive, like the records they are matched against.
func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}
