// Package secretgate is a small authentication gateway in front of a shared
// board of anonymous secrets.
//
// Visitors sign in with a local username and password, or through Google or
// Facebook. Once signed in they can read every secret that has been posted and
// post (or replace) their own.
//
// # Architecture
//
// User: one account record. A user has either a local credential (username
// plus salted password hash) or a link to exactly one provider subject id.
//
// LocalAuth: registers and verifies local credentials. Failures never reveal
// whether a username exists.
//
// FederatedResolver: maps (provider, subject id) to a user, creating the user
// on first sight. The UserStore guarantees this is atomic, so concurrent
// callbacks for the same subject produce one record.
//
// SessionManager: binds an opaque session cookie to a user id. The user is
// re-read from the store on every request.
//
// App: the HTTP surface. Each handler asks the session manager for a Viewer
// and protected handlers receive the resolved *User as an argument.
//
// # Basic Usage
//
//	backend, err := stores.Open(ctx, "file://./data")
//	...
//	app, err := secretgate.NewApp(secretgate.AppConfig{
//	    Users:         backend.Users,
//	    SessionStore:  backend.Sessions,
//	    StateKey:      []byte(os.Getenv("SESSION_SECRET")),
//	    Providers:     []*oauth2.Provider{oauth2.NewGoogleProvider(id, secret, callback)},
//	})
//	http.ListenAndServe(":3000", app)
//
// # Store Implementations
//
// The stores subpackages provide file, GORM (SQLite and PostgreSQL), Cloud
// Datastore and MongoDB backends. All of them pass the same conformance suite
// in stores/storetest.
//
// # Security
//
// Passwords default to PBKDF2-HMAC-SHA256 with a per-user salt; bcrypt is
// available instead. Session tokens are renewed on every login. The OAuth state
// parameter is a short lived signed token tied to a cookie nonce.
package secretgate
