package secretgate

import (
	"net/http"

	"github.com/panyam/secretgate/internal/logutil"
)

// UserHandlerFunc is a handler that runs only for authenticated requests and
// receives the resolved user explicitly.
type UserHandlerFunc func(w http.ResponseWriter, r *http.Request, user *User)

// ViewerHandlerFunc receives the viewer of the request, which may be anonymous
type ViewerHandlerFunc func(w http.ResponseWriter, r *http.Request, viewer Viewer)

type Middleware struct {
	Sessions *SessionManager

	// Where unauthenticated requests to protected routes are sent. Defaults to /login.
	LoginURL string
}

// RequireUser resolves the session of every request and calls next with the
// user. Requests without a live session (including sessions whose user has
// been deleted) are redirected to the login page with no body.
func (m *Middleware) RequireUser(next UserHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		viewer, err := m.Sessions.ViewerFor(r)
		if err != nil {
			logutil.FromContext(r.Context()).Error().Err(err).Msg("session lookup failed")
		}
		if !viewer.Authenticated() {
			w.Header().Set("Location", m.getLoginURL())
			w.WriteHeader(http.StatusFound)
			return
		}
		next(w, r, viewer.User)
	})
}

// WithViewer resolves the viewer and calls next whether or not anyone is
// signed in. Lookup failures degrade to an anonymous viewer.
func (m *Middleware) WithViewer(next ViewerHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		viewer, err := m.Sessions.ViewerFor(r)
		if err != nil {
			logutil.FromContext(r.Context()).Error().Err(err).Msg("session lookup failed")
		}
		next(w, r, viewer)
	})
}

func (m *Middleware) getLoginURL() string {
	if m.LoginURL != "" {
		return m.LoginURL
	}
	return "/login"
}
