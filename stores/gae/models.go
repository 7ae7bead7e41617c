//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
	sg "github.com/panyam/secretgate"
)

// UserEntity is the Datastore entity for users
type UserEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	Username     string         `datastore:"username"`
	PasswordHash string         `datastore:"password_hash,noindex"`
	Salt         string         `datastore:"salt,noindex"`
	GoogleID     string         `datastore:"google_id"`
	FacebookID   string         `datastore:"facebook_id"`
	Secret       string         `datastore:"secret,noindex"`
	HasSecret    bool           `datastore:"has_secret"`
	CreatedAt    time.Time      `datastore:"created_at"`
	UpdatedAt    time.Time      `datastore:"updated_at"`
}

func (e *UserEntity) ToUser() *sg.User {
	return &sg.User{
		ID:           e.Key.Name,
		Username:     e.Username,
		PasswordHash: e.PasswordHash,
		Salt:         e.Salt,
		GoogleID:     e.GoogleID,
		FacebookID:   e.FacebookID,
		Secret:       e.Secret,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

// LinkEntity points a unique key (username or provider subject) at a user.
// Used for both the Username and FederatedLink kinds.
type LinkEntity struct {
	UserID    string    `datastore:"user_id,noindex"`
	CreatedAt time.Time `datastore:"created_at,noindex"`
}
