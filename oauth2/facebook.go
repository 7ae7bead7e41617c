package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
)

const (
	ProviderFacebook = "facebook"

	DefaultFacebookGraphURL = "https://graph.facebook.com/v19.0"
)

// NewFacebookProvider configures Facebook login. Empty arguments fall back to
// OAUTH2_FACEBOOK_CLIENT_ID, OAUTH2_FACEBOOK_CLIENT_SECRET and
// OAUTH2_FACEBOOK_CALLBACK_URL.
func NewFacebookProvider(clientId string, clientSecret string, callbackUrl string) *Provider {
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv("OAUTH2_FACEBOOK_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_FACEBOOK_CLIENT_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv("OAUTH2_FACEBOOK_CALLBACK_URL"))
	}

	return &Provider{
		Name: ProviderFacebook,
		Config: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
			Endpoint:     facebook.Endpoint,
			Scopes:       []string{"public_profile"},
		},
		FetchProfile: FacebookProfileFetcher(DefaultFacebookGraphURL),
	}
}

// FacebookProfileFetcher reads /me from the Graph API rooted at graphURL
func FacebookProfileFetcher(graphURL string) ProfileFetcher {
	return func(ctx context.Context, client *http.Client) (*Profile, error) {
		u := strings.TrimSuffix(graphURL, "/") + "/me?" + url.Values{"fields": {"id,name,email"}}.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		response, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed getting user info from facebook: %w", err)
		}
		defer response.Body.Close()

		contents, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("failed read response: %w", err)
		}
		if response.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("facebook graph returned %d: %s", response.StatusCode, contents)
		}

		var me struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Email string `json:"email"`
		}
		if err := json.Unmarshal(contents, &me); err != nil {
			return nil, fmt.Errorf("failed to parse user info: %w", err)
		}
		return &Profile{SubjectID: me.ID, Name: me.Name, Email: me.Email}, nil
	}
}
