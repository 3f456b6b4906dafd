package config

import (
	"fmt"
	"net/url"
	"time"
)

// Identity modes.
const (
	IdentityLocal = "local"
	IdentityOAuth = "oauth"
)

// Config holds client and development server configuration values.
type Config struct {
	// APIURL is the REST base including the version path, e.g. http://localhost:8080/api/v1.
	APIURL string `mapstructure:"api_url" yaml:"api_url"`
	// WSHost overrides the host used for realtime channels. Derived from APIURL when empty.
	WSHost             string        `mapstructure:"ws_host" yaml:"ws_host"`
	Profile            string        `mapstructure:"profile" yaml:"profile"`
	CredentialsDB      string        `mapstructure:"credentials_db" yaml:"credentials_db"`
	TokenLifetime      time.Duration `mapstructure:"token_lifetime" yaml:"token_lifetime"`
	RevalidateInterval time.Duration `mapstructure:"revalidate_interval" yaml:"revalidate_interval"`
	LogLevel           string        `mapstructure:"log_level" yaml:"log_level"`

	Identity IdentityConfig `mapstructure:"identity" yaml:"identity"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
}

// IdentityConfig selects and configures the identity provider.
type IdentityConfig struct {
	Mode string `mapstructure:"mode" yaml:"mode"`

	// local mode
	AccountsFile string `mapstructure:"accounts_file" yaml:"accounts_file"`
	Secret       string `mapstructure:"secret" yaml:"secret"`
	Issuer       string `mapstructure:"issuer" yaml:"issuer"`
	Audience     string `mapstructure:"audience" yaml:"audience"`
	// TokenTTL is the lifetime of issued tokens. It must exceed Config.TokenLifetime.
	TokenTTL time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`

	// oauth mode
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
	TokenURL     string `mapstructure:"token_url" yaml:"token_url"`
}

// ServerConfig holds development backend settings.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// MessageRateLimit caps realtime user messages per connection per minute. Zero disables it.
	MessageRateLimit int `mapstructure:"message_rate_limit" yaml:"message_rate_limit"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		APIURL:             "http://localhost:8080/api/v1",
		Profile:            "default",
		CredentialsDB:      "credentials.db",
		TokenLifetime:      55 * time.Minute,
		RevalidateInterval: time.Minute,
		LogLevel:           "info",
		Identity: IdentityConfig{
			Mode:         IdentityLocal,
			AccountsFile: "accounts.yaml",
			Secret:       "dev-secret-change-me",
			Issuer:       "agencyctl",
			Audience:     "agency-backend",
			TokenTTL:     time.Hour,
		},
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
			MessageRateLimit:  60,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.APIURL != "" {
		c.APIURL = other.APIURL
	}
	if other.WSHost != "" {
		c.WSHost = other.WSHost
	}
	if other.Profile != "" {
		c.Profile = other.Profile
	}
	if other.CredentialsDB != "" {
		c.CredentialsDB = other.CredentialsDB
	}
	if other.TokenLifetime != 0 {
		c.TokenLifetime = other.TokenLifetime
	}
	if other.RevalidateInterval != 0 {
		c.RevalidateInterval = other.RevalidateInterval
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.Identity.Mode != "" {
		c.Identity.Mode = other.Identity.Mode
	}
	if other.Identity.TokenTTL != 0 {
		c.Identity.TokenTTL = other.Identity.TokenTTL
	}
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.ReadHeaderTimeout != 0 {
		c.Server.ReadHeaderTimeout = other.Server.ReadHeaderTimeout
	}
	if other.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}
	if other.Server.MessageRateLimit != 0 {
		c.Server.MessageRateLimit = other.Server.MessageRateLimit
	}
}

// Validate checks settings that only make sense together.
func (c *Config) Validate() error {
	if c.TokenLifetime <= 0 {
		return fmt.Errorf("token_lifetime must be positive, got %v", c.TokenLifetime)
	}
	if c.Identity.Mode == IdentityLocal && c.Identity.TokenTTL <= c.TokenLifetime {
		return fmt.Errorf("identity.token_ttl (%v) must exceed token_lifetime (%v)", c.Identity.TokenTTL, c.TokenLifetime)
	}
	return nil
}

// RealtimeHost returns the host realtime channels connect to.
func (c *Config) RealtimeHost() string {
	if c.WSHost != "" {
		return c.WSHost
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Host == "" {
		return "localhost"
	}
	return u.Host
}
