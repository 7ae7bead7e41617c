package secretgate_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	sg "github.com/panyam/secretgate"
	"github.com/panyam/secretgate/oauth2"
	"github.com/panyam/secretgate/stores/fs"
	"github.com/stretchr/testify/require"
	oauth2lib "golang.org/x/oauth2"
)

var testStateKey = []byte("test-state-key-0123456789abcdef")

// mockProvider plays both Google and Facebook. The authorization code is
// echoed back as the subject id, so a test picks who logs in by choosing the
// code it sends to the callback.
type mockProvider struct {
	server     *httptest.Server
	failTokens bool
}

func newMockProvider(t *testing.T) *mockProvider {
	m := &mockProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if m.failTokens {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + r.PostForm.Get("code"),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	profile := func(w http.ResponseWriter, r *http.Request) {
		subject := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer tok-")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": subject, "name": "User " + subject})
	}
	mux.HandleFunc("/oauth2/v2/userinfo", profile)
	mux.HandleFunc("/me", profile)
	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockProvider) providers(baseURL string) []*oauth2.Provider {
	endpoint := oauth2lib.Endpoint{
		AuthURL:   m.server.URL + "/auth",
		TokenURL:  m.server.URL + "/token",
		AuthStyle: oauth2lib.AuthStyleInParams,
	}
	google := oauth2.NewGoogleProvider("google-id", "google-secret", baseURL+"/auth/google/secrets")
	google.Config.Endpoint = endpoint
	google.FetchProfile = oauth2.GoogleProfileFetcher(m.server.URL + "/")

	facebook := oauth2.NewFacebookProvider("fb-id", "fb-secret", baseURL+"/auth/facebook/secrets")
	facebook.Config.Endpoint = endpoint
	facebook.FetchProfile = oauth2.FacebookProfileFetcher(m.server.URL)
	return []*oauth2.Provider{google, facebook}
}

type testGateway struct {
	Dir      string
	Store    *fs.UserStore
	App      *sg.App
	Server   *httptest.Server
	Provider *mockProvider
}

func setupGateway(t *testing.T) *testGateway {
	g := &testGateway{Dir: t.TempDir(), Provider: newMockProvider(t)}
	g.Store = fs.NewUserStore(g.Dir)

	// the server URL is needed for callback URLs before the app exists
	var handler http.Handler
	g.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(g.Server.Close)

	app, err := sg.NewApp(sg.AppConfig{
		Users:     g.Store,
		StateKey:  testStateKey,
		Hasher:    fastHasher,
		Providers: g.Provider.providers(g.Server.URL),
	})
	require.NoError(t, err)
	g.App = app
	handler = app
	return g
}

// browser is a cookie keeping client that reports redirects instead of
// following them
type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func (g *testGateway) newBrowser(t *testing.T) *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:    t,
		base: g.Server.URL,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

type page struct {
	Status   int
	Location string
	Body     string
	Cookies  []*http.Cookie
}

func (b *browser) do(req *http.Request) *page {
	b.t.Helper()
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return &page{
		Status:   resp.StatusCode,
		Location: resp.Header.Get("Location"),
		Body:     string(body),
		Cookies:  resp.Cookies(),
	}
}

func (b *browser) get(path string) *page {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.resolve(path), nil)
	require.NoError(b.t, err)
	return b.do(req)
}

func (b *browser) post(path string, form url.Values) *page {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodPost, b.resolve(path), strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) resolve(path string) string {
	if strings.HasPrefix(path, "http") {
		return path
	}
	return b.base + path
}

// federatedLogin runs the redirect leg, then calls back with code as if the
// provider had approved the login
func (b *browser) federatedLogin(provider, code string) *page {
	b.t.Helper()
	start := b.get("/auth/" + provider)
	require.Equal(b.t, http.StatusFound, start.Status)
	consent, err := url.Parse(start.Location)
	require.NoError(b.t, err)
	state := consent.Query().Get("state")
	require.NotEmpty(b.t, state)

	callback := url.Values{"state": {state}, "code": {code}}
	return b.get("/auth/" + provider + "/secrets?" + callback.Encode())
}

func (p *page) cookie(name string) *http.Cookie {
	for _, c := range p.Cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
