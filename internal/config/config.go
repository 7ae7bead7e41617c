package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const minSessionSecretLength = 16

type Config struct {
	HTTP     HTTPConfig
	Storage  StorageConfig
	Session  SessionConfig
	Google   ProviderConfig `env-prefix:"GOOGLE_"`
	Facebook ProviderConfig `env-prefix:"FACEBOOK_"`
	Log      LogConfig
}

type HTTPConfig struct {
	Addr string `env:"SECRETGATE_ADDR" env-default:":3000"`
	// Public origin of the gateway; provider callbacks are built from it
	BaseURL string `env:"BASE_URL" env-default:"http://localhost:3000"`
}

type StorageConfig struct {
	URL string `env:"STORAGE_URL" env-default:"file://./data"`
	// pbkdf2 or bcrypt
	PasswordHash string `env:"PASSWORD_HASH" env-default:"pbkdf2"`
}

type SessionConfig struct {
	Secret       string        `env:"SESSION_SECRET" env-required:"true"`
	Lifetime     time.Duration `env:"SESSION_LIFETIME" env-default:"24h"`
	CookieSecure bool          `env:"COOKIE_SECURE" env-default:"false"`
}

// ProviderConfig is one OAuth client. A provider is enabled when its client
// id is set.
type ProviderConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

func (p ProviderConfig) Enabled() bool { return p.ClientID != "" }

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" env-default:"info"`
	Format string `env:"LOG_FORMAT" env-default:"console"`
}

// CallbackURL is where the named provider sends the browser back to
func (c *Config) CallbackURL(provider string) string {
	return strings.TrimSuffix(c.HTTP.BaseURL, "/") + "/auth/" + provider + "/secrets"
}

// Load reads the environment. When envFile is set, variables it defines are
// added to the environment first; variables that are already set win.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("read %s: %w", envFile, err)
		}
	}
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Session.Secret) < minSessionSecretLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLength)
	}
	if c.Session.Lifetime <= 0 {
		return fmt.Errorf("SESSION_LIFETIME must be positive")
	}
	switch c.Storage.PasswordHash {
	case "pbkdf2", "bcrypt":
	default:
		return fmt.Errorf("PASSWORD_HASH must be pbkdf2 or bcrypt, got %q", c.Storage.PasswordHash)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.Log.Format)
	}
	if c.Google.Enabled() && c.Google.ClientSecret == "" {
		return fmt.Errorf("GOOGLE_CLIENT_SECRET is required when GOOGLE_CLIENT_ID is set")
	}
	if c.Facebook.Enabled() && c.Facebook.ClientSecret == "" {
		return fmt.Errorf("FACEBOOK_CLIENT_SECRET is required when FACEBOOK_CLIENT_ID is set")
	}
	return nil
}
