// Package oauth2 drives the OAuth2 authorization-code flow against an
// external identity provider.
//
// A Provider carries the provider specific bits (endpoints, scopes, how to
// read the caller's profile). A Flow runs the same two-step state machine for
// any Provider:
//
//  1. HandleRedirect sends the browser to the provider's consent page with a
//     signed state parameter and a matching nonce cookie.
//  2. Complete validates the callback, exchanges the code for a token and
//     fetches the caller's Profile.
package oauth2

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

var (
	ErrStateMismatch  = errors.New("oauth state mismatch")
	ErrProviderDenied = errors.New("provider denied authorization")
	ErrMissingCode    = errors.New("authorization code missing")
	ErrExchange       = errors.New("code exchange failed")
	ErrProfile        = errors.New("profile lookup failed")
)

// Profile is the identity asserted by a provider
type Profile struct {
	Provider  string
	SubjectID string
	Name      string
	Email     string
}

// ProfileFetcher reads the caller's profile using an authorized client
type ProfileFetcher func(ctx context.Context, client *http.Client) (*Profile, error)

// Provider is one identity provider variant
type Provider struct {
	Name         string
	Config       oauth2.Config
	FetchProfile ProfileFetcher

	// Extra options added to the consent URL
	AuthCodeOptions []oauth2.AuthCodeOption
}

const (
	DefaultStateTTL        = 10 * time.Minute
	DefaultStateCookieName = "oauthstate"
)

// Flow runs the authorization-code flow for a single provider
type Flow struct {
	Provider *Provider

	// StateKey signs the state parameter. Required.
	StateKey []byte

	// How long a started login stays valid. Defaults to DefaultStateTTL.
	StateTTL time.Duration

	StateCookieName string
	CookieSecure    bool

	// HTTPClient is used for the token exchange and profile lookups.
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

func NewFlow(provider *Provider, stateKey []byte) *Flow {
	return &Flow{Provider: provider, StateKey: stateKey}
}

// HandleRedirect starts a login by redirecting to the provider's consent page
func (f *Flow) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	state, err := f.newState(w)
	if err != nil {
		http.Error(w, "could not start login", http.StatusInternalServerError)
		return
	}
	u := f.Provider.Config.AuthCodeURL(state, f.Provider.AuthCodeOptions...)
	http.Redirect(w, r, u, http.StatusFound)
}

// Complete validates the provider callback in r and returns the asserted
// profile. When w is non-nil the state cookie is expired whatever the outcome.
func (f *Flow) Complete(w http.ResponseWriter, r *http.Request) (*Profile, error) {
	if w != nil {
		f.clearStateCookie(w)
	}

	query := r.URL.Query()
	if e := query.Get("error"); e != "" {
		return nil, fmt.Errorf("%w: %s %s", ErrProviderDenied, e, query.Get("error_description"))
	}
	if err := f.checkState(r, query.Get("state")); err != nil {
		return nil, err
	}
	code := query.Get("code")
	if code == "" {
		return nil, ErrMissingCode
	}

	ctx := f.clientContext(r.Context())
	token, err := f.Provider.Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchange, err)
	}

	profile, err := f.Provider.FetchProfile(ctx, f.Provider.Config.Client(ctx, token))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfile, err)
	}
	if profile.SubjectID == "" {
		return nil, fmt.Errorf("%w: provider returned no subject id", ErrProfile)
	}
	profile.Provider = f.Provider.Name
	return profile, nil
}

// clientContext makes the oauth2 package use our HTTP client
func (f *Flow) clientContext(ctx context.Context) context.Context {
	if f.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, f.HTTPClient)
}

func (f *Flow) getStateTTL() time.Duration {
	if f.StateTTL > 0 {
		return f.StateTTL
	}
	return DefaultStateTTL
}

func (f *Flow) getStateCookieName() string {
	if f.StateCookieName != "" {
		return f.StateCookieName
	}
	return DefaultStateCookieName
}
