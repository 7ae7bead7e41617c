package main

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	sg "github.com/panyam/secretgate"
	"github.com/panyam/secretgate/internal/config"
	"github.com/panyam/secretgate/internal/httpserver"
	"github.com/panyam/secretgate/internal/logutil"
	"github.com/panyam/secretgate/oauth2"
	"github.com/panyam/secretgate/stores"
)

const sessionCleanupInterval = 10 * time.Minute

func serveCmd() *cli.Command {
	var addr string
	var migrate bool
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the gateway until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "Address to listen on, overrides SECRETGATE_ADDR",
				Destination: &addr,
			},
			&cli.BoolFlag{
				Name:        "migrate",
				Usage:       "Prepare the storage backend before serving",
				Value:       true,
				Destination: &migrate,
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}

			backend, err := stores.Open(c.Context, cfg.Storage.URL)
			if err != nil {
				return err
			}
			defer backend.Close()
			if migrate {
				if err := backend.Migrate(c.Context); err != nil {
					return err
				}
			}
			backend.StartCleanup(c.Context, sessionCleanupInterval)

			app, err := newApp(cfg, backend)
			if err != nil {
				return err
			}
			log.Info().
				Str("storage", backend.Kind).
				Strs("providers", app.EnabledProviders()).
				Str("base_url", cfg.HTTP.BaseURL).
				Msg("secretgate ready")
			ctx := logutil.WithLogger(c.Context, log.With().Str("service", "secretgate").Logger())
			return httpserver.Serve(ctx, cfg.HTTP.Addr, app)
		},
	}
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create tables, indexes or directories for the configured storage and exit",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			backend, err := stores.Open(c.Context, cfg.Storage.URL)
			if err != nil {
				return err
			}
			defer backend.Close()
			if err := backend.Migrate(c.Context); err != nil {
				return err
			}
			log.Info().Str("storage", backend.Kind).Msg("storage ready")
			return nil
		},
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return config.Config{}, err
	}
	if err := logutil.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newApp wires the HTTP surface to an opened backend
func newApp(cfg config.Config, backend *stores.Backend) (*sg.App, error) {
	hasher, err := sg.NewPasswordHasher(cfg.Storage.PasswordHash)
	if err != nil {
		return nil, err
	}

	var providers []*oauth2.Provider
	if cfg.Google.Enabled() {
		providers = append(providers, oauth2.NewGoogleProvider(
			cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.CallbackURL(oauth2.ProviderGoogle)))
	}
	if cfg.Facebook.Enabled() {
		providers = append(providers, oauth2.NewFacebookProvider(
			cfg.Facebook.ClientID, cfg.Facebook.ClientSecret, cfg.CallbackURL(oauth2.ProviderFacebook)))
	}

	return sg.NewApp(sg.AppConfig{
		Users:           backend.Users,
		SessionStore:    backend.Sessions,
		SessionLifetime: cfg.Session.Lifetime,
		CookieSecure:    cfg.Session.CookieSecure,
		StateKey:        []byte(cfg.Session.Secret),
		Hasher:          hasher,
		Providers:       providers,
	})
}
