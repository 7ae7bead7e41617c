package secretgate_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	sg "github.com/panyam/secretgate"
	"github.com/panyam/secretgate/stores/fs"
	"github.com/steinfletcher/apitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionCookie = "secretgate_session"

func countUsers(t *testing.T, dir string) int {
	entries, err := os.ReadDir(filepath.Join(dir, "users"))
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n
}

func bodyContains(s string) func(*http.Response, *http.Request) error {
	return func(res *http.Response, _ *http.Request) error {
		body, err := io.ReadAll(res.Body)
		if err != nil {
			return err
		}
		if !strings.Contains(string(body), s) {
			return fmt.Errorf("body does not contain %q", s)
		}
		return nil
	}
}

func TestPublicPages(t *testing.T) {
	g := setupGateway(t)

	for _, path := range []string{"/", "/login", "/register"} {
		apitest.New(path).
			Handler(g.App).
			Get(path).
			Expect(t).
			Status(http.StatusOK).
			CookieNotPresent(sessionCookie).
			End()
	}

	apitest.New().
		Handler(g.App).
		Get("/login").
		Expect(t).
		Status(http.StatusOK).
		Assert(bodyContains(`href="/auth/google"`)).
		Assert(bodyContains(`href="/auth/facebook"`)).
		End()

	apitest.New().
		Handler(g.App).
		Get("/css/styles.css").
		Expect(t).
		Status(http.StatusOK).
		End()
}

func TestStaticDirectoriesAreNotListed(t *testing.T) {
	g := setupGateway(t)

	for _, path := range []string{"/css/", "/css", "/css/missing.css"} {
		apitest.New(path).
			Handler(g.App).
			Get(path).
			Expect(t).
			Status(http.StatusNotFound).
			End()
	}
}

func TestProtectedRoutesRedirectToLogin(t *testing.T) {
	g := setupGateway(t)

	apitest.New().
		Handler(g.App).
		Get("/secrets").
		Expect(t).
		Status(http.StatusFound).
		Header("Location", "/login").
		Body("").
		End()

	apitest.New().
		Handler(g.App).
		Get("/submit").
		Expect(t).
		Status(http.StatusFound).
		Header("Location", "/login").
		End()

	apitest.New().
		Handler(g.App).
		Post("/submit").
		FormData("secret", "hi").
		Expect(t).
		Status(http.StatusFound).
		Header("Location", "/login").
		End()

	assert.Equal(t, 0, countUsers(t, g.Dir))
}

func TestUnknownProviderIsNotFound(t *testing.T) {
	g := setupGateway(t)

	for _, path := range []string{"/auth/myspace", "/auth/myspace/secrets", "/auth/Google"} {
		apitest.New(path).
			Handler(g.App).
			Get(path).
			Expect(t).
			Status(http.StatusNotFound).
			End()
	}
}

func TestDisabledProviderIsNotFound(t *testing.T) {
	app, err := sg.NewApp(sg.AppConfig{Users: fs.NewUserStore(t.TempDir()), Hasher: fastHasher})
	require.NoError(t, err)
	assert.Empty(t, app.EnabledProviders())

	apitest.New().
		Handler(app).
		Get("/auth/google").
		Expect(t).
		Status(http.StatusNotFound).
		End()
}

func TestNewAppValidation(t *testing.T) {
	_, err := sg.NewApp(sg.AppConfig{})
	assert.Error(t, err)

	mock := newMockProvider(t)
	_, err = sg.NewApp(sg.AppConfig{
		Users:     fs.NewUserStore(t.TempDir()),
		Providers: mock.providers("http://localhost"),
	})
	assert.Error(t, err, "providers need a state key")
}

func TestLocalJourney(t *testing.T) {
	g := setupGateway(t)
	alice := g.newBrowser(t)

	p := alice.post("/register", url.Values{"username": {"alice"}, "password": {"pw1"}})
	require.Equal(t, http.StatusFound, p.Status)
	assert.Equal(t, "/secrets", p.Location)
	require.NotNil(t, p.cookie(sessionCookie))
	assert.True(t, p.cookie(sessionCookie).HttpOnly)

	p = alice.get("/secrets")
	require.Equal(t, http.StatusOK, p.Status)
	assert.Contains(t, p.Body, "No secrets yet.")

	p = alice.post("/submit", url.Values{"secret": {"hi"}})
	require.Equal(t, http.StatusFound, p.Status)
	assert.Equal(t, "/secrets", p.Location)

	p = alice.get("/secrets")
	require.Equal(t, http.StatusOK, p.Status)
	assert.Contains(t, p.Body, `<p class="secret-text">hi</p>`)

	p = alice.get("/logout")
	require.Equal(t, http.StatusFound, p.Status)
	assert.Equal(t, "/", p.Location)

	p = alice.get("/secrets")
	assert.Equal(t, http.StatusFound, p.Status)
	assert.Equal(t, "/login", p.Location)

	// logging back in sees the stored secret
	p = alice.post("/login", url.Values{"username": {"alice"}, "password": {"pw1"}})
	require.Equal(t, http.StatusFound, p.Status)
	assert.Equal(t, "/secrets", p.Location)
	p = alice.get("/secrets")
	assert.Contains(t, p.Body, "hi")
}

func TestSecretsAreVisibleToEveryone(t *testing.T) {
	g := setupGateway(t)

	alice := g.newBrowser(t)
	alice.post("/register", url.Values{"username": {"alice"}, "password": {"pw1"}})
	alice.post("/submit", url.Values{"secret": {"first"}})
	// resubmitting overwrites
	alice.post("/submit", url.Values{"secret": {"  I like <b>tea</b>  "}})

	bob := g.newBrowser(t)
	bob.federatedLogin("google", "g-bob")
	p := bob.get("/secrets")
	require.Equal(t, http.StatusOK, p.Status)
	assert.NotContains(t, p.Body, "first")
	assert.Contains(t, p.Body, "I like &lt;b&gt;tea&lt;/b&gt;")
}

func TestSubmitEmptySecret(t *testing.T) {
	g := setupGateway(t)
	alice := g.newBrowser(t)
	alice.post("/register", url.Values{"username": {"alice"}, "password": {"pw1"}})

	p := alice.post("/submit", url.Values{"secret": {"   "}})
	assert.Equal(t, http.StatusFound, p.Status)
	assert.Equal(t, "/submit", p.Location)

	users, err := g.Store.ListUsersWithSecrets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestRegisterFailures(t *testing.T) {
	g := setupGateway(t)
	first := g.newBrowser(t)
	first.post("/register", url.Values{"username": {"alice"}, "password": {"pw1"}})

	tests := []struct {
		name string
		form url.Values
	}{
		{"duplicate", url.Values{"username": {"alice"}, "password": {"other"}}},
		{"missing password", url.Values{"username": {"bob"}}},
		{"missing username", url.Values{"password": {"pw1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apitest.New().
				Handler(g.App).
				Post("/register").
				FormData("username", tt.form.Get("username")).
				FormData("password", tt.form.Get("password")).
				Expect(t).
				Status(http.StatusFound).
				Header("Location", "/register").
				CookieNotPresent(sessionCookie).
				End()
		})
	}
	assert.Equal(t, 1, countUsers(t, g.Dir))
}

func TestLoginFailures(t *testing.T) {
	g := setupGateway(t)
	alice := g.newBrowser(t)
	alice.post("/register", url.Values{"username": {"alice"}, "password": {"pw1"}})

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "alice", "pw2"},
		{"unknown user", "mallory", "pw1"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := g.newBrowser(t)
			p := b.post("/login", url.Values{"username": {tt.username}, "password": {tt.password}})
			assert.Equal(t, http.StatusFound, p.Status)
			assert.Equal(t, "/login", p.Location)
			assert.Nil(t, p.cookie(sessionCookie))

			p = b.get("/secrets")
			assert.Equal(t, http.StatusFound, p.Status)
			assert.Equal(t, "/login", p.Location)
		})
	}
}

func TestStaleSessionAfterUserRemoval(t *testing.T) {
	g := setupGateway(t)
	alice := g.newBrowser(t)
	p := alice.post("/register", url.Values{"username": {"alice"}, "password": {"pw1"}})
	require.Equal(t, "/secrets", p.Location)

	files, err := filepath.Glob(filepath.Join(g.Dir, "users", "*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.NoError(t, os.Remove(files[0]))

	p = alice.get("/secrets")
	assert.Equal(t, http.StatusFound, p.Status)
	assert.Equal(t, "/login", p.Location)
}

func TestFederatedJourney(t *testing.T) {
	g := setupGateway(t)
	b := g.newBrowser(t)

	p := b.get("/auth/google")
	require.Equal(t, http.StatusFound, p.Status)
	assert.True(t, strings.HasPrefix(p.Location, g.Provider.server.URL+"/auth?"))
	assert.NotNil(t, p.cookie("oauthstate"))

	p = b.federatedLogin("google", "g-123")
	require.Equal(t, http.StatusFound, p.Status)
	assert.Equal(t, "/secrets", p.Location)
	require.NotNil(t, p.cookie(sessionCookie))

	p = b.get("/secrets")
	assert.Equal(t, http.StatusOK, p.Status)

	// a second login with the same subject reuses the account
	other := g.newBrowser(t)
	other.federatedLogin("google", "g-123")
	assert.Equal(t, 1, countUsers(t, g.Dir))

	// same subject id at facebook is another user
	fb := g.newBrowser(t)
	p = fb.federatedLogin("facebook", "g-123")
	assert.Equal(t, "/secrets", p.Location)
	assert.Equal(t, 2, countUsers(t, g.Dir))
}

func TestConcurrentFederatedFirstLogin(t *testing.T) {
	g := setupGateway(t)

	const n = 8
	browsers := make([]*browser, n)
	states := make([]string, n)
	for i := range browsers {
		browsers[i] = g.newBrowser(t)
		p := browsers[i].get("/auth/google")
		require.Equal(t, http.StatusFound, p.Status)
		consent, err := url.Parse(p.Location)
		require.NoError(t, err)
		states[i] = consent.Query().Get("state")
	}

	// every callback lands at once
	pages := make([]*page, n)
	var wg sync.WaitGroup
	for i := range browsers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := url.Values{"state": {states[i]}, "code": {"g-123"}}
			req, err := http.NewRequest(http.MethodGet, g.Server.URL+"/auth/google/secrets?"+q.Encode(), nil)
			if err != nil {
				return
			}
			resp, err := browsers[i].client.Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
			pages[i] = &page{Status: resp.StatusCode, Location: resp.Header.Get("Location")}
		}(i)
	}
	wg.Wait()

	for i, p := range pages {
		require.NotNil(t, p, "callback %d failed", i)
		assert.Equal(t, "/secrets", p.Location, "callback %d", i)
	}
	assert.Equal(t, 1, countUsers(t, g.Dir))
	for _, b := range browsers {
		assert.Equal(t, http.StatusOK, b.get("/secrets").Status)
	}
}

func TestFederatedCallbackFailures(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		g := setupGateway(t)
		b := g.newBrowser(t)
		b.get("/auth/google")
		p := b.get("/auth/google/secrets?error=access_denied")
		assert.Equal(t, http.StatusFound, p.Status)
		assert.Equal(t, "/login", p.Location)
		assert.Nil(t, p.cookie(sessionCookie))
	})

	t.Run("forged state", func(t *testing.T) {
		g := setupGateway(t)
		b := g.newBrowser(t)
		b.get("/auth/google")
		p := b.get("/auth/google/secrets?state=forged&code=g-1")
		assert.Equal(t, "/login", p.Location)
		assert.Equal(t, 0, countUsers(t, g.Dir))
	})

	t.Run("state from another browser", func(t *testing.T) {
		g := setupGateway(t)
		victim := g.newBrowser(t)
		attacker := g.newBrowser(t)

		p := attacker.get("/auth/google")
		consent, err := url.Parse(p.Location)
		require.NoError(t, err)
		victim.get("/auth/google")

		q := url.Values{"state": {consent.Query().Get("state")}, "code": {"g-attacker"}}
		p = victim.get("/auth/google/secrets?" + q.Encode())
		assert.Equal(t, "/login", p.Location)
		assert.Equal(t, 0, countUsers(t, g.Dir))
	})

	t.Run("state for another provider", func(t *testing.T) {
		g := setupGateway(t)
		b := g.newBrowser(t)
		p := b.get("/auth/facebook")
		consent, err := url.Parse(p.Location)
		require.NoError(t, err)

		q := url.Values{"state": {consent.Query().Get("state")}, "code": {"g-1"}}
		p = b.get("/auth/google/secrets?" + q.Encode())
		assert.Equal(t, "/login", p.Location)
		assert.Equal(t, 0, countUsers(t, g.Dir))
	})

	t.Run("token exchange fails", func(t *testing.T) {
		g := setupGateway(t)
		g.Provider.failTokens = true
		b := g.newBrowser(t)
		p := b.federatedLogin("facebook", "fb-1")
		assert.Equal(t, "/login", p.Location)
		assert.Equal(t, 0, countUsers(t, g.Dir))

		p = b.get("/secrets")
		assert.Equal(t, "/login", p.Location)
	})
}
