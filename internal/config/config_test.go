package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Server.Hostname = "displex.example.com"
	cfg.Discord.ClientID = "123"
	cfg.Discord.ClientSecret = "secret"
	cfg.Plex.ServerID = "abc"
	cfg.Session.SecretKey = "0123456789abcdef0123456789abcdef"
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Server.SecureCookies)
	assert.Equal(t, SessionBackendCookie, cfg.Session.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 0, cfg.Tautulli.QueryDays)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "displex.yaml")
	content := []byte(`
application_name: My Plex
server:
  hostname: displex.example.com
  port: 9000
plex:
  server_id: from-file
session:
  ttl: 5m
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("DISPLEX_PLEX_SERVER_ID", "from-env")
	t.Setenv("DISPLEX_DISCORD_CLIENT_ID", "42")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "My Plex", cfg.ApplicationName)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Plex.ServerID)
	assert.Equal(t, "42", cfg.Discord.ClientID)
	assert.Equal(t, 5*time.Minute, cfg.Session.TTL)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DISPLEX_TAUTULLI_URL=http://tautulli:8181\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("DISPLEX_TAUTULLI_URL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://tautulli:8181", cfg.Tautulli.URL)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing hostname", func(c *Config) { c.Server.Hostname = "" }, true},
		{"missing discord secret", func(c *Config) { c.Discord.ClientSecret = "" }, true},
		{"missing plex server", func(c *Config) { c.Plex.ServerID = "" }, true},
		{"short session secret", func(c *Config) { c.Session.SecretKey = "short" }, true},
		{"unknown backend", func(c *Config) { c.Session.Backend = "redis" }, true},
		{"missing session secret", func(c *Config) { c.Session.SecretKey = "" }, true},
		{"database backend", func(c *Config) { c.Session.Backend = SessionBackendDatabase }, false},
		{"database backend without secret", func(c *Config) {
			c.Session.Backend = SessionBackendDatabase
			c.Session.SecretKey = ""
		}, false},
		{"zero ttl", func(c *Config) { c.Session.TTL = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServerConfig_URLs(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 8080, Hostname: "displex.example.com"}
	assert.Equal(t, "127.0.0.1:8080", s.Address())
	assert.Equal(t, "https://displex.example.com", s.BaseURL())
}
