//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	sg "github.com/panyam/secretgate"
)

// UserModel is the GORM model for users. The optional identifiers are
// pointers so unset values are stored as NULL and stay out of the unique
// indexes.
type UserModel struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Username     *string   `gorm:"size:255;uniqueIndex"`
	PasswordHash string    `gorm:"size:1024"`
	Salt         string    `gorm:"size:128"`
	GoogleID     *string   `gorm:"size:255;uniqueIndex"`
	FacebookID   *string   `gorm:"size:255;uniqueIndex"`
	Secret       string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *sg.User {
	return &sg.User{
		ID:           m.ID,
		Username:     deref(m.Username),
		PasswordHash: m.PasswordHash,
		Salt:         m.Salt,
		GoogleID:     deref(m.GoogleID),
		FacebookID:   deref(m.FacebookID),
		Secret:       m.Secret,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// SessionModel is the GORM model for scs sessions
type SessionModel struct {
	Token  string    `gorm:"primaryKey;size:64"`
	Data   []byte    `gorm:"not null"`
	Expiry time.Time `gorm:"not null;index"`
}

func (SessionModel) TableName() string {
	return "sessions"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
