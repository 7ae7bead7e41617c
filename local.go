package secretgate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/panyam/secretgate/internal/logutil"
)

// LocalAuth registers and verifies username/password credentials
type LocalAuth struct {
	Store  UserStore
	Hasher PasswordHasher

	// Validates credentials during registration. Defaults to DefaultSignupValidator.
	ValidateSignup SignupValidator

	// Sessions is used by the HTTP handlers to establish a session on success
	Sessions *SessionManager

	// Form field names
	UsernameField string
	PasswordField string

	// Redirect targets
	SuccessURL  string
	LoginURL    string
	RegisterURL string

	// hash used to equalize timing for unknown usernames
	dummyOnce            sync.Once
	dummyHash, dummySalt string
}

func NewLocalAuth(store UserStore, hasher PasswordHasher, sessions *SessionManager) *LocalAuth {
	if hasher == nil {
		hasher = NewPBKDF2Hasher()
	}
	return &LocalAuth{
		Store:    store,
		Hasher:   hasher,
		Sessions: sessions,
	}
}

// Register creates a local-credential user.
// Fails with a validation AuthError for malformed input or ErrDuplicateUsername.
func (a *LocalAuth) Register(ctx context.Context, username, password string) (*User, error) {
	creds := &Credentials{Username: NormalizeUsername(username), Password: password}
	if authErr := a.getSignupValidator()(creds); authErr != nil {
		return nil, authErr
	}

	hash, salt, err := a.Hasher.Hash(creds.Password)
	if err != nil {
		return nil, err
	}

	user, err := a.Store.CreateLocalUser(ctx, creds.Username, hash, salt)
	if err != nil {
		if errors.Is(err, ErrDuplicateUsername) {
			return nil, NewAuthError(KindValidation, ErrCodeUsernameTaken, "username is already taken", "username", ErrDuplicateUsername)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	logutil.FromContext(ctx).Info().Str("user_id", user.ID).Msg("registered local user")
	return user, nil
}

// Verify checks a username/password pair.
// Fails with ErrNoSuchUser or ErrBadCredential (wrapped in an AuthError of
// KindAuth), or with a storage error.
func (a *LocalAuth) Verify(ctx context.Context, username, password string) (*User, error) {
	username = NormalizeUsername(username)
	if username == "" || password == "" {
		return nil, NewAuthError(KindAuth, ErrCodeInvalidCreds, "invalid credentials", "username", ErrBadCredential)
	}

	user, err := a.Store.GetUserByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		// burn the same work as a real comparison so timing does not reveal
		// whether the username exists
		a.compareDummy(password)
		return nil, NewAuthError(KindAuth, ErrCodeInvalidCreds, "invalid credentials", "username", ErrNoSuchUser)
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if !user.HasLocalCredential() {
		a.compareDummy(password)
		return nil, NewAuthError(KindAuth, ErrCodeInvalidCreds, "invalid credentials", "password", ErrBadCredential)
	}
	if err := a.Hasher.Compare(user.PasswordHash, user.Salt, password); err != nil {
		return nil, NewAuthError(KindAuth, ErrCodeInvalidCreds, "invalid credentials", "password", ErrBadCredential)
	}
	return user, nil
}

func (a *LocalAuth) compareDummy(password string) {
	a.dummyOnce.Do(func() {
		a.dummyHash, a.dummySalt, _ = a.Hasher.Hash("not-a-real-password")
	})
	_ = a.Hasher.Compare(a.dummyHash, a.dummySalt, password)
}

// HandleRegister handles POST /register
func (a *LocalAuth) HandleRegister(w http.ResponseWriter, r *http.Request) {
	log := logutil.FromContext(r.Context())
	username, password, err := a.parseForm(r)
	if err != nil {
		log.Debug().Err(err).Msg("malformed register form")
		http.Redirect(w, r, a.getRegisterURL(), http.StatusFound)
		return
	}

	user, err := a.Register(r.Context(), username, password)
	if err != nil {
		switch KindOf(err) {
		case KindValidation:
			log.Info().Err(err).Msg("registration rejected")
		default:
			log.Error().Err(err).Msg("registration failed")
		}
		http.Redirect(w, r, a.getRegisterURL(), http.StatusFound)
		return
	}
	a.completeLogin(w, r, user)
}

// HandleLogin handles POST /login. Every failure looks the same to the
// client: a redirect back to the login page and no session.
func (a *LocalAuth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	log := logutil.FromContext(r.Context())
	username, password, err := a.parseForm(r)
	if err != nil {
		log.Debug().Err(err).Msg("malformed login form")
		http.Redirect(w, r, a.getLoginURL(), http.StatusFound)
		return
	}

	user, err := a.Verify(r.Context(), username, password)
	if err != nil {
		if KindOf(err) == KindAuth {
			log.Info().Err(err).Msg("login rejected")
		} else {
			log.Error().Err(err).Msg("login failed")
		}
		http.Redirect(w, r, a.getLoginURL(), http.StatusFound)
		return
	}
	a.completeLogin(w, r, user)
}

func (a *LocalAuth) completeLogin(w http.ResponseWriter, r *http.Request, user *User) {
	if err := a.Sessions.Establish(r.Context(), user); err != nil {
		logutil.FromContext(r.Context()).Error().Err(err).Msg("could not establish session")
		http.Redirect(w, r, a.getLoginURL(), http.StatusFound)
		return
	}
	http.Redirect(w, r, a.getSuccessURL(), http.StatusFound)
}

func (a *LocalAuth) parseForm(r *http.Request) (username, password string, err error) {
	if err = r.ParseForm(); err != nil {
		return "", "", fmt.Errorf("error parsing form: %w", err)
	}
	return r.PostFormValue(a.getUsernameField()), r.PostFormValue(a.getPasswordField()), nil
}

func (a *LocalAuth) getSignupValidator() SignupValidator {
	if a.ValidateSignup != nil {
		return a.ValidateSignup
	}
	return DefaultSignupValidator
}

func (a *LocalAuth) getUsernameField() string {
	if a.UsernameField != "" {
		return a.UsernameField
	}
	return "username"
}

func (a *LocalAuth) getPasswordField() string {
	if a.PasswordField != "" {
		return a.PasswordField
	}
	return "password"
}

func (a *LocalAuth) getSuccessURL() string {
	if a.SuccessURL != "" {
		return a.SuccessURL
	}
	return "/secrets"
}

func (a *LocalAuth) getLoginURL() string {
	if a.LoginURL != "" {
		return a.LoginURL
	}
	return "/login"
}

func (a *LocalAuth) getRegisterURL() string {
	if a.RegisterURL != "" {
		return a.RegisterURL
	}
	return "/register"
}
