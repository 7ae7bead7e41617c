package oauth2

import (
	"context"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

const ProviderGoogle = "google"

// NewGoogleProvider configures Google sign-in. Empty arguments fall back to
// OAUTH2_GOOGLE_CLIENT_ID, OAUTH2_GOOGLE_CLIENT_SECRET and
// OAUTH2_GOOGLE_CALLBACK_URL.
func NewGoogleProvider(clientId string, clientSecret string, callbackUrl string) *Provider {
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv("OAUTH2_GOOGLE_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_GOOGLE_CLIENT_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv("OAUTH2_GOOGLE_CALLBACK_URL"))
	}

	return &Provider{
		Name: ProviderGoogle,
		Config: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				googleoauth2.UserinfoEmailScope,
				googleoauth2.UserinfoProfileScope,
			},
		},
		FetchProfile: GoogleProfileFetcher(""),
	}
}

// GoogleProfileFetcher reads the userinfo resource. endpoint overrides the
// API base URL and is only set in tests.
func GoogleProfileFetcher(endpoint string) ProfileFetcher {
	return func(ctx context.Context, client *http.Client) (*Profile, error) {
		opts := []option.ClientOption{option.WithHTTPClient(client)}
		if endpoint != "" {
			opts = append(opts, option.WithEndpoint(endpoint))
		}
		svc, err := googleoauth2.NewService(ctx, opts...)
		if err != nil {
			return nil, err
		}
		info, err := svc.Userinfo.Get().Context(ctx).Do()
		if err != nil {
			return nil, err
		}
		return &Profile{
			SubjectID: info.Id,
			Name:      info.Name,
			Email:     info.Email,
		}, nil
	}
}
