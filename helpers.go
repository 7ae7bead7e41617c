package secretgate

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// PasswordHasher derives and checks salted password hashes.
//
// Hash returns the hash and the salt to persist next to it. Hashers that embed
// the salt in the hash (bcrypt) return an empty salt. Compare must return
// ErrBadCredential on mismatch and compare in constant time.
type PasswordHasher interface {
	Hash(password string) (hash, salt string, err error)
	Compare(hash, salt, password string) error
}

// PBKDF2Hasher stores hex encoded PBKDF2-HMAC-SHA256 hashes with a separate
// random salt. The defaults match records written by passport-local-mongoose,
// so existing user collections can be served without a password reset.
type PBKDF2Hasher struct {
	Iterations int
	KeyLength  int
	SaltLength int
}

func NewPBKDF2Hasher() *PBKDF2Hasher {
	return &PBKDF2Hasher{Iterations: 25000, KeyLength: 512, SaltLength: 32}
}

func (h *PBKDF2Hasher) Hash(password string) (string, string, error) {
	salt := make([]byte, h.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("failed to generate salt: %w", err)
	}
	// the hex string (not the raw bytes) is the salt fed into the KDF
	saltHex := hex.EncodeToString(salt)
	key := pbkdf2.Key([]byte(password), []byte(saltHex), h.Iterations, h.KeyLength, sha256.New)
	return hex.EncodeToString(key), saltHex, nil
}

func (h *PBKDF2Hasher) Compare(hash, salt, password string) error {
	expected, err := hex.DecodeString(hash)
	if err != nil || salt == "" {
		return ErrBadCredential
	}
	key := pbkdf2.Key([]byte(password), []byte(salt), h.Iterations, len(expected), sha256.New)
	if subtle.ConstantTimeCompare(key, expected) != 1 {
		return ErrBadCredential
	}
	return nil
}

// BcryptHasher uses bcrypt, whose hashes carry their own salt
type BcryptHasher struct {
	Cost int
}

func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{Cost: bcrypt.DefaultCost}
}

func (h *BcryptHasher) Hash(password string) (string, string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), "", nil
}

func (h *BcryptHasher) Compare(hash, salt, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrBadCredential
	}
	// malformed stored hash
	return fmt.Errorf("%w: %v", ErrBadCredential, err)
}

// NewPasswordHasher picks a hasher by name ("pbkdf2" or "bcrypt")
func NewPasswordHasher(name string) (PasswordHasher, error) {
	switch name {
	case "", "pbkdf2":
		return NewPBKDF2Hasher(), nil
	case "bcrypt":
		return NewBcryptHasher(), nil
	}
	return nil, fmt.Errorf("unknown password hash %q", name)
}
