package secretgate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
)

const (
	DefaultSessionCookieName = "secretgate_session"
	DefaultSessionLifetime   = 24 * time.Hour

	sessionUserIDKey = "userID"
)

// SessionManager maps an opaque session token onto a single user id.
//
// Only the id is stored in the session; the full user is re-read from the
// UserStore on every Resolve. All methods expect a context that has been
// loaded by LoadAndSave (or Load for token based access).
type SessionManager struct {
	*scs.SessionManager
	Users UserStore
}

// SessionConfig tunes the session cookie and backing store
type SessionConfig struct {
	// Store keeps session data server side. Defaults to an in-memory store.
	Store        scs.Store
	Lifetime     time.Duration
	CookieName   string
	CookieSecure bool
}

func NewSessionManager(users UserStore, config SessionConfig) *SessionManager {
	sm := scs.New()
	if config.Store != nil {
		sm.Store = config.Store
	}
	sm.Lifetime = config.Lifetime
	if sm.Lifetime <= 0 {
		sm.Lifetime = DefaultSessionLifetime
	}
	sm.Cookie.Name = config.CookieName
	if sm.Cookie.Name == "" {
		sm.Cookie.Name = DefaultSessionCookieName
	}
	sm.Cookie.HttpOnly = true
	sm.Cookie.Path = "/"
	// Lax so the cookie survives the top level redirect back from a provider
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Secure = config.CookieSecure
	return &SessionManager{SessionManager: sm, Users: users}
}

// Establish binds the session in ctx to user. The token is renewed first so a
// token planted before login never becomes authenticated.
func (s *SessionManager) Establish(ctx context.Context, user *User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("%w: cannot establish session without a user id", ErrInvalidInput)
	}
	if err := s.RenewToken(ctx); err != nil {
		return fmt.Errorf("failed to renew session token: %w", err)
	}
	s.Put(ctx, sessionUserIDKey, user.ID)
	return nil
}

// Resolve returns the user bound to the session in ctx.
// Fails with ErrUnauthenticated when there is no binding or the bound user no
// longer exists; other errors come from the UserStore.
func (s *SessionManager) Resolve(ctx context.Context) (*User, error) {
	userID := s.GetString(ctx, sessionUserIDKey)
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	user, err := s.Users.GetUserById(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		s.Remove(ctx, sessionUserIDKey)
		return nil, ErrUnauthenticated
	} else if err != nil {
		return nil, fmt.Errorf("failed to resolve session user: %w", err)
	}
	return user, nil
}

// Destroy invalidates the session in ctx. Destroying a session that was never
// established or is already destroyed is not an error.
func (s *SessionManager) Destroy(ctx context.Context) error {
	if err := s.SessionManager.Destroy(ctx); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// Viewer is the per-request authentication state: User is nil for anonymous
// requests.
type Viewer struct {
	User *User
}

func (v Viewer) Authenticated() bool { return v.User != nil }

// ViewerFor resolves the viewer of r. Storage failures are returned alongside
// an anonymous viewer so callers can log them and carry on unauthenticated.
func (s *SessionManager) ViewerFor(r *http.Request) (Viewer, error) {
	user, err := s.Resolve(r.Context())
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return Viewer{}, nil
		}
		return Viewer{}, err
	}
	return Viewer{User: user}, nil
}
