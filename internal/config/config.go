package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Version is set at build time.
var Version = "dev"

// Session backends.
const (
	SessionBackendCookie   = "cookie"
	SessionBackendDatabase = "database"
)

// Config holds all application configuration.
type Config struct {
	ApplicationName string         `mapstructure:"application_name"`
	Server          ServerConfig   `mapstructure:"server"`
	Database        DatabaseConfig `mapstructure:"database"`
	Logging         LoggingConfig  `mapstructure:"logging"`
	Session         SessionConfig  `mapstructure:"session"`
	Discord         DiscordConfig  `mapstructure:"discord"`
	Plex            PlexConfig     `mapstructure:"plex"`
	Tautulli        TautulliConfig `mapstructure:"tautulli"`
	HTTP            HTTPConfig     `mapstructure:"http"`
	Security        SecurityConfig `mapstructure:"security"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Hostname is the public hostname used to build callback URLs.
	Hostname      string `mapstructure:"hostname"`
	SecureCookies bool   `mapstructure:"secure_cookies"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SessionConfig holds link session configuration.
type SessionConfig struct {
	SecretKey string        `mapstructure:"secret_key"`
	Backend   string        `mapstructure:"backend"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// DiscordConfig holds Discord application credentials.
type DiscordConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	BotToken     string `mapstructure:"bot_token"`
	// RegisterMetadata pushes the role connection metadata schema on startup.
	RegisterMetadata bool `mapstructure:"register_metadata"`
}

// PlexConfig holds plex.tv configuration.
type PlexConfig struct {
	// ClientID identifies this application to plex.tv. Generated when empty.
	ClientID string `mapstructure:"client_id"`
	// ServerID is the clientIdentifier of the server users must have access to.
	ServerID string `mapstructure:"server_id"`
}

// TautulliConfig holds Tautulli API configuration.
type TautulliConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
	// QueryDays is the statistics window in days; 0 means all time.
	QueryDays int `mapstructure:"query_days"`
}

// HTTPConfig holds settings for the shared upstream HTTP client.
type HTTPConfig struct {
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	Timeout            time.Duration `mapstructure:"timeout"`
	AcceptInvalidCerts bool          `mapstructure:"accept_invalid_certs"`
}

// SecurityConfig holds encryption settings for stored tokens.
type SecurityConfig struct {
	TokenKey string `mapstructure:"token_key"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		ApplicationName: "Plex",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "./data/displex.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Session: SessionConfig{
			Backend: SessionBackendCookie,
			TTL:     10 * time.Minute,
		},
		HTTP: HTTPConfig{
			ConnectTimeout: 10 * time.Second,
			Timeout:        30 * time.Second,
		},
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > .env file > config file > defaults
func Load(configPath string) (*Config, error) {
	// A missing .env file is fine; real environment variables still win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.displex")
	}

	v.SetEnvPrefix("DISPLEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values in viper. Every key is registered so that
// AutomaticEnv can override it even when no config file mentions it.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("application_name", d.ApplicationName)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.hostname", "")
	v.SetDefault("server.secure_cookies", true)

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("session.secret_key", "")
	v.SetDefault("session.backend", d.Session.Backend)
	v.SetDefault("session.ttl", d.Session.TTL)

	v.SetDefault("discord.client_id", "")
	v.SetDefault("discord.client_secret", "")
	v.SetDefault("discord.bot_token", "")
	v.SetDefault("discord.register_metadata", false)

	v.SetDefault("plex.client_id", "")
	v.SetDefault("plex.server_id", "")

	v.SetDefault("tautulli.url", "")
	v.SetDefault("tautulli.api_key", "")
	v.SetDefault("tautulli.query_days", 0)

	v.SetDefault("http.connect_timeout", d.HTTP.ConnectTimeout)
	v.SetDefault("http.timeout", d.HTTP.Timeout)
	v.SetDefault("http.accept_invalid_certs", false)

	v.SetDefault("security.token_key", "")
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	switch {
	case c.Server.Hostname == "":
		return errors.New("server.hostname is required")
	case c.Discord.ClientID == "" || c.Discord.ClientSecret == "":
		return errors.New("discord.client_id and discord.client_secret are required")
	case c.Plex.ServerID == "":
		return errors.New("plex.server_id is required")
	case c.Session.Backend != SessionBackendCookie && c.Session.Backend != SessionBackendDatabase:
		return fmt.Errorf("session.backend must be %q or %q", SessionBackendCookie, SessionBackendDatabase)
	case c.Session.Backend == SessionBackendCookie && c.Session.SecretKey == "":
		return errors.New("session.secret_key is required for the cookie backend")
	case c.Session.Backend == SessionBackendCookie && len(c.Session.SecretKey) < 32:
		return errors.New("session.secret_key must be at least 32 characters")
	case c.Session.TTL <= 0:
		return errors.New("session.ttl must be positive")
	}
	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BaseURL returns the public https URL of the service.
func (c *ServerConfig) BaseURL() string {
	return "https://" + c.Hostname
}
