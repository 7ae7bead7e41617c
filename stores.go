package secretgate

import (
	"context"
	"time"
)

// Provider identifies an external identity provider a user can sign in with
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
)

// Providers lists every provider the gateway knows how to federate with
var Providers = []Provider{ProviderGoogle, ProviderFacebook}

// ParseProvider maps a route segment such as "google" onto a known Provider
func ParseProvider(name string) (Provider, error) {
	for _, p := range Providers {
		if string(p) == name {
			return p, nil
		}
	}
	return "", ErrUnknownProvider
}

func (p Provider) String() string { return string(p) }

// User is the only persisted entity.
//
// A user is created either by local registration (Username, PasswordHash and
// Salt set) or by a first federated login (exactly one of GoogleID/FacebookID
// set). Secret stays empty until the user submits one and is overwritten on
// resubmission.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username,omitempty"`
	PasswordHash string    `json:"password_hash,omitempty"`
	Salt         string    `json:"salt,omitempty"`
	GoogleID     string    `json:"google_id,omitempty"`
	FacebookID   string    `json:"facebook_id,omitempty"`
	Secret       string    `json:"secret,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasLocalCredential reports whether the user can sign in with a password
func (u *User) HasLocalCredential() bool {
	return u.Username != "" && u.PasswordHash != ""
}

// FederatedID returns the subject id linked for the given provider, if any
func (u *User) FederatedID(provider Provider) string {
	switch provider {
	case ProviderGoogle:
		return u.GoogleID
	case ProviderFacebook:
		return u.FacebookID
	}
	return ""
}

// SetFederatedID links subjectID for provider on u
func (u *User) SetFederatedID(provider Provider, subjectID string) error {
	switch provider {
	case ProviderGoogle:
		u.GoogleID = subjectID
	case ProviderFacebook:
		u.FacebookID = subjectID
	default:
		return ErrUnknownProvider
	}
	return nil
}

// UserStore persists users.
//
// Implementations must enforce uniqueness of Username, GoogleID and FacebookID
// themselves (index, transaction or exclusive create) so that concurrent
// CreateLocalUser and FindOrCreateFederated calls never produce duplicates.
type UserStore interface {
	// CreateLocalUser stores a new local-credential user.
	// Returns ErrDuplicateUsername if the username is taken.
	CreateLocalUser(ctx context.Context, username, passwordHash, salt string) (*User, error)

	// GetUserById returns ErrUserNotFound if no such user exists
	GetUserById(ctx context.Context, userId string) (*User, error)

	// GetUserByUsername returns ErrUserNotFound if no local user has this username
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// FindOrCreateFederated atomically returns the user linked to
	// (provider, subjectId), creating it if needed. created is true only for
	// the single call that inserted the record.
	FindOrCreateFederated(ctx context.Context, provider Provider, subjectId string) (user *User, created bool, err error)

	// SetSecret overwrites the user's secret. Returns ErrUserNotFound if the
	// user no longer exists.
	SetSecret(ctx context.Context, userId, secret string) error

	// ListUsersWithSecrets returns users with a non-empty secret, oldest first
	ListUsersWithSecrets(ctx context.Context) ([]*User, error)
}
