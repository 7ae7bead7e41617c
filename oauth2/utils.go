package oauth2

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// stateClaims is carried (signed) in the state parameter. The nonce must also
// match the state cookie, which ties the callback to the browser that started
// the login.
type stateClaims struct {
	Provider string `json:"prv"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// newState sets the nonce cookie on w and returns the signed state parameter
func (f *Flow) newState(w http.ResponseWriter) (string, error) {
	if len(f.StateKey) == 0 {
		return "", fmt.Errorf("oauth state key not configured")
	}
	nonce, err := generateNonce()
	if err != nil {
		return "", err
	}

	now := time.Now()
	ttl := f.getStateTTL()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{
		Provider: f.Provider.Name,
		Nonce:    nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	state, err := token.SignedString(f.StateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     f.getStateCookieName(),
		Value:    nonce,
		Path:     "/",
		Expires:  now.Add(ttl),
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   f.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return state, nil
}

// checkState verifies the signed state against this flow's provider and the
// nonce cookie on r
func (f *Flow) checkState(r *http.Request, state string) error {
	if state == "" {
		return fmt.Errorf("%w: no state parameter", ErrStateMismatch)
	}
	cookie, err := r.Cookie(f.getStateCookieName())
	if err != nil || cookie.Value == "" {
		return fmt.Errorf("%w: no state cookie", ErrStateMismatch)
	}

	var claims stateClaims
	_, err = jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (any, error) {
		return f.StateKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStateMismatch, err)
	}
	if claims.Provider != f.Provider.Name {
		return fmt.Errorf("%w: state issued for %q", ErrStateMismatch, claims.Provider)
	}
	if subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(cookie.Value)) != 1 {
		return fmt.Errorf("%w: nonce does not match cookie", ErrStateMismatch)
	}
	return nil
}

func (f *Flow) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     f.getStateCookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   f.CookieSecure,
	})
}
