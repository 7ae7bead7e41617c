package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "0123456789abcdef")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.HTTP.Addr)
	assert.Equal(t, "http://localhost:3000", cfg.HTTP.BaseURL)
	assert.Equal(t, "file://./data", cfg.Storage.URL)
	assert.Equal(t, "pbkdf2", cfg.Storage.PasswordHash)
	assert.Equal(t, 24*time.Hour, cfg.Session.Lifetime)
	assert.False(t, cfg.Session.CookieSecure)
	assert.False(t, cfg.Google.Enabled())
	assert.False(t, cfg.Facebook.Enabled())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "http://localhost:3000/auth/google/secrets", cfg.CallbackURL("google"))
}

func TestLoadProviders(t *testing.T) {
	t.Setenv("SESSION_SECRET", "0123456789abcdef")
	t.Setenv("GOOGLE_CLIENT_ID", "gid")
	t.Setenv("GOOGLE_CLIENT_SECRET", "gsecret")
	t.Setenv("BASE_URL", "https://secrets.example.com/")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Google.Enabled())
	assert.Equal(t, "gsecret", cfg.Google.ClientSecret)
	assert.False(t, cfg.Facebook.Enabled())
	assert.Equal(t, "https://secrets.example.com/auth/facebook/secrets", cfg.CallbackURL("facebook"))
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret":    {},
		"short secret":      {"SESSION_SECRET": "short"},
		"bad hash":          {"SESSION_SECRET": "0123456789abcdef", "PASSWORD_HASH": "md5"},
		"bad log format":    {"SESSION_SECRET": "0123456789abcdef", "LOG_FORMAT": "xml"},
		"half a provider":   {"SESSION_SECRET": "0123456789abcdef", "FACEBOOK_CLIENT_ID": "fb"},
		"bad lifetime":      {"SESSION_SECRET": "0123456789abcdef", "SESSION_LIFETIME": "soon"},
		"negative lifetime": {"SESSION_SECRET": "0123456789abcdef", "SESSION_LIFETIME": "-1h"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("SESSION_SECRET", "")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.env")
	require.NoError(t, os.WriteFile(path, []byte("SESSION_SECRET=from-the-env-file!\nSTORAGE_URL=sqlite://gate.db\nSECRETGATE_ADDR=:4000\n"), 0600))
	t.Setenv("SECRETGATE_ADDR", ":5000")
	// godotenv only adds variables, so undo them afterwards
	t.Cleanup(func() {
		os.Unsetenv("SESSION_SECRET")
		os.Unsetenv("STORAGE_URL")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-the-env-file!", cfg.Session.Secret)
	assert.Equal(t, "sqlite://gate.db", cfg.Storage.URL)
	// variables already in the environment win over the file
	assert.Equal(t, ":5000", cfg.HTTP.Addr)
}
