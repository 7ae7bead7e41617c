package secretgate

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/panyam/secretgate/internal/logutil"
	"github.com/panyam/secretgate/oauth2"
)

// FederatedResolver links provider-issued subject ids to local users
type FederatedResolver struct {
	Store UserStore
}

// FindOrCreate returns the user linked to (provider, subjectID), creating one
// on first sight. Atomicity comes from the store; concurrent calls for the
// same pair all return the same user.
func (f *FederatedResolver) FindOrCreate(ctx context.Context, provider Provider, subjectID string) (*User, error) {
	if _, err := ParseProvider(string(provider)); err != nil {
		return nil, NewAuthError(KindValidation, ErrCodeUnknownProvider, fmt.Sprintf("unknown provider %q", provider), "provider", err)
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, NewAuthError(KindValidation, ErrCodeMissingField, "subject id required", "subject", ErrInvalidInput)
	}

	user, created, err := f.Store.FindOrCreateFederated(ctx, provider, subjectID)
	if err != nil {
		return nil, fmt.Errorf("find or create %s user: %w", provider, err)
	}
	if created {
		logutil.FromContext(ctx).Info().
			Str("provider", string(provider)).
			Str("user_id", user.ID).
			Msg("created federated user")
	}
	return user, nil
}

// FederatedAuth glues one provider's OAuth2 flow to the resolver and the
// session manager.
type FederatedAuth struct {
	Provider Provider
	Flow     *oauth2.Flow
	Resolver *FederatedResolver
	Sessions *SessionManager

	SuccessURL string
	FailureURL string
}

// HandleRedirect starts the authorization-code dance (GET /auth/{provider})
func (f *FederatedAuth) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	f.Flow.HandleRedirect(w, r)
}

// HandleCallback finishes the dance (GET /auth/{provider}/secrets). Any
// failure sends the browser back to the login page without a session.
func (f *FederatedAuth) HandleCallback(w http.ResponseWriter, r *http.Request) {
	user, err := f.Authenticate(w, r)
	if err != nil {
		logutil.FromContext(r.Context()).Warn().Err(err).
			Str("provider", string(f.Provider)).
			Msg("federated login failed")
		http.Redirect(w, r, f.getFailureURL(), http.StatusFound)
		return
	}

	if err := f.Sessions.Establish(r.Context(), user); err != nil {
		logutil.FromContext(r.Context()).Error().Err(err).Msg("could not establish session")
		http.Redirect(w, r, f.getFailureURL(), http.StatusFound)
		return
	}
	http.Redirect(w, r, f.getSuccessURL(), http.StatusFound)
}

// Authenticate completes the provider flow for the callback request r and
// resolves the asserted identity to a local user.
func (f *FederatedAuth) Authenticate(w http.ResponseWriter, r *http.Request) (*User, error) {
	profile, err := f.Flow.Complete(w, r)
	if err != nil {
		return nil, NewAuthError(KindUpstream, ErrCodeProviderFailure, "provider flow failed", "", err)
	}
	logutil.FromContext(r.Context()).Debug().
		Str("provider", profile.Provider).
		Str("name", profile.Name).
		Msg("provider asserted identity")
	return f.Resolver.FindOrCreate(r.Context(), f.Provider, profile.SubjectID)
}

func (f *FederatedAuth) getSuccessURL() string {
	if f.SuccessURL != "" {
		return f.SuccessURL
	}
	return "/secrets"
}

func (f *FederatedAuth) getFailureURL() string {
	if f.FailureURL != "" {
		return f.FailureURL
	}
	return "/login"
}
