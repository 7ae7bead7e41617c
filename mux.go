package secretgate

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
	"github.com/panyam/secretgate/internal/logutil"
	"github.com/panyam/secretgate/oauth2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

// AppConfig carries everything NewApp needs. Users and StateKey are required.
type AppConfig struct {
	Users UserStore

	// Server side session storage. Defaults to an in-memory store.
	SessionStore    scs.Store
	SessionLifetime time.Duration
	CookieSecure    bool

	// Signs the OAuth state parameter
	StateKey []byte

	// Defaults to PBKDF2
	Hasher PasswordHasher

	// Enabled identity providers. Providers not listed answer 404.
	Providers []*oauth2.Provider

	// Used for token exchange and profile calls. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Request logger. Defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// App is the HTTP surface of the gateway
type App struct {
	Users      UserStore
	Sessions   *SessionManager
	Local      *LocalAuth
	Federated  map[Provider]*FederatedAuth
	Middleware Middleware

	views   *Views
	router  *mux.Router
	handler http.Handler
}

func NewApp(config AppConfig) (*App, error) {
	if config.Users == nil {
		return nil, errors.New("a user store is required")
	}
	views, err := LoadViews()
	if err != nil {
		return nil, err
	}

	sessions := NewSessionManager(config.Users, SessionConfig{
		Store:        config.SessionStore,
		Lifetime:     config.SessionLifetime,
		CookieSecure: config.CookieSecure,
	})
	a := &App{
		Users:      config.Users,
		Sessions:   sessions,
		Local:      NewLocalAuth(config.Users, config.Hasher, sessions),
		Federated:  map[Provider]*FederatedAuth{},
		Middleware: Middleware{Sessions: sessions},
		views:      views,
	}

	resolver := &FederatedResolver{Store: config.Users}
	for _, p := range config.Providers {
		provider, err := ParseProvider(p.Name)
		if err != nil {
			return nil, err
		}
		if len(config.StateKey) == 0 {
			return nil, fmt.Errorf("a state key is required to enable %s", provider)
		}
		flow := oauth2.NewFlow(p, config.StateKey)
		flow.CookieSecure = config.CookieSecure
		flow.HTTPClient = config.HTTPClient
		a.Federated[provider] = &FederatedAuth{
			Provider: provider,
			Flow:     flow,
			Resolver: resolver,
			Sessions: sessions,
		}
	}

	a.setupRoutes()

	logger := config.Logger
	if logger == nil {
		logger = &log.Logger
	}
	var h http.Handler = a.router
	h = sessions.LoadAndSave(h)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(h)
	h = hlog.RemoteAddrHandler("ip")(h)
	h = hlog.RequestIDHandler("req_id", "X-Request-Id")(h)
	h = hlog.NewHandler(*logger)(h)
	a.handler = h
	return a, nil
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

// EnabledProviders lists the providers with a configured client, in a fixed order
func (a *App) EnabledProviders() []string {
	var out []string
	for _, p := range Providers {
		if _, ok := a.Federated[p]; ok {
			out = append(out, p.String())
		}
	}
	return out
}

func (a *App) setupRoutes() {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(a.notFound)

	r.Handle("/", a.Middleware.WithViewer(a.handleHome)).Methods(http.MethodGet)
	r.Handle("/login", a.Middleware.WithViewer(a.pageHandler("login"))).Methods(http.MethodGet)
	r.HandleFunc("/login", a.Local.HandleLogin).Methods(http.MethodPost)
	r.Handle("/register", a.Middleware.WithViewer(a.pageHandler("register"))).Methods(http.MethodGet)
	r.HandleFunc("/register", a.Local.HandleRegister).Methods(http.MethodPost)

	r.HandleFunc("/auth/{provider}", a.withProvider((*FederatedAuth).HandleRedirect)).Methods(http.MethodGet)
	r.HandleFunc("/auth/{provider}/secrets", a.withProvider((*FederatedAuth).HandleCallback)).Methods(http.MethodGet)

	r.Handle("/secrets", a.Middleware.RequireUser(a.handleSecrets)).Methods(http.MethodGet)
	r.Handle("/submit", a.Middleware.RequireUser(a.handleSubmitForm)).Methods(http.MethodGet)
	r.Handle("/submit", a.Middleware.RequireUser(a.handleSubmit)).Methods(http.MethodPost)
	r.HandleFunc("/logout", a.handleLogout).Methods(http.MethodGet)

	r.PathPrefix("/css/").Handler(a.views.Static()).Methods(http.MethodGet)
	a.router = r
}

func (a *App) page(viewer Viewer) *PageData {
	return &PageData{Viewer: viewer, Providers: a.EnabledProviders()}
}

func (a *App) handleHome(w http.ResponseWriter, r *http.Request, viewer Viewer) {
	a.views.Render(w, r, http.StatusOK, "home", a.page(viewer))
}

func (a *App) pageHandler(name string) ViewerHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, viewer Viewer) {
		a.views.Render(w, r, http.StatusOK, name, a.page(viewer))
	}
}

// withProvider resolves {provider} to an enabled provider; anything else is a 404
func (a *App) withProvider(handler func(*FederatedAuth, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, err := ParseProvider(mux.Vars(r)["provider"])
		if err != nil {
			a.notFound(w, r)
			return
		}
		fed, ok := a.Federated[provider]
		if !ok {
			a.notFound(w, r)
			return
		}
		handler(fed, w, r)
	}
}

func (a *App) handleSecrets(w http.ResponseWriter, r *http.Request, user *User) {
	users, err := a.Users.ListUsersWithSecrets(r.Context())
	if err != nil {
		logutil.FromContext(r.Context()).Error().Err(err).Msg("could not list secrets")
		a.views.Render(w, r, http.StatusInternalServerError, "error", a.page(Viewer{User: user}))
		return
	}
	data := a.page(Viewer{User: user})
	data.Secrets = make([]string, 0, len(users))
	for _, u := range users {
		data.Secrets = append(data.Secrets, u.Secret)
	}
	a.views.Render(w, r, http.StatusOK, "secrets", data)
}

func (a *App) handleSubmitForm(w http.ResponseWriter, r *http.Request, user *User) {
	a.views.Render(w, r, http.StatusOK, "submit", a.page(Viewer{User: user}))
}

// handleSubmit stores the submitted secret on the signed in user. The user is
// read again right before the write; if it has vanished the request still
// completes normally without touching storage.
func (a *App) handleSubmit(w http.ResponseWriter, r *http.Request, user *User) {
	log := logutil.FromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		log.Debug().Err(err).Msg("malformed submit form")
		http.Redirect(w, r, "/submit", http.StatusFound)
		return
	}
	secret := strings.TrimSpace(r.PostFormValue("secret"))
	if secret == "" {
		http.Redirect(w, r, "/submit", http.StatusFound)
		return
	}

	current, err := a.Users.GetUserById(r.Context(), user.ID)
	if err == nil {
		err = a.Users.SetSecret(r.Context(), current.ID, secret)
	}
	switch {
	case errors.Is(err, ErrUserNotFound):
		log.Warn().Str("user_id", user.ID).Msg("user vanished before secret was saved")
	case err != nil:
		log.Error().Err(err).Str("user_id", user.ID).Msg("could not save secret")
	}
	http.Redirect(w, r, "/secrets", http.StatusFound)
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.Sessions.Destroy(r.Context()); err != nil {
		logutil.FromContext(r.Context()).Error().Err(err).Msg("logout failed")
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (a *App) notFound(w http.ResponseWriter, r *http.Request) {
	http.NotFound(w, r)
}
