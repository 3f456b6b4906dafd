package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "AGENCY_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
	appDirName           = "agencyctl"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix("AGENCY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	// Relative data files live next to the config file.
	if cfg.CredentialsDB != ":memory:" {
		cfg.CredentialsDB = besideConfig(configPath, cfg.CredentialsDB)
	}
	cfg.Identity.AccountsFile = besideConfig(configPath, cfg.Identity.AccountsFile)

	if err := cfg.Validate(); err != nil {
		return cfg, configPath, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, configPath, nil
}

func besideConfig(configPath, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(filepath.Dir(configPath), path)
}

// setDefaults registers every key so AutomaticEnv can override nested values.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("api_url", cfg.APIURL)
	v.SetDefault("ws_host", cfg.WSHost)
	v.SetDefault("profile", cfg.Profile)
	v.SetDefault("credentials_db", cfg.CredentialsDB)
	v.SetDefault("token_lifetime", cfg.TokenLifetime)
	v.SetDefault("revalidate_interval", cfg.RevalidateInterval)
	v.SetDefault("log_level", cfg.LogLevel)

	v.SetDefault("identity.mode", cfg.Identity.Mode)
	v.SetDefault("identity.accounts_file", cfg.Identity.AccountsFile)
	v.SetDefault("identity.secret", cfg.Identity.Secret)
	v.SetDefault("identity.issuer", cfg.Identity.Issuer)
	v.SetDefault("identity.audience", cfg.Identity.Audience)
	v.SetDefault("identity.token_ttl", cfg.Identity.TokenTTL)
	v.SetDefault("identity.client_id", cfg.Identity.ClientID)
	v.SetDefault("identity.client_secret", cfg.Identity.ClientSecret)
	v.SetDefault("identity.token_url", cfg.Identity.TokenURL)

	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.read_header_timeout", cfg.Server.ReadHeaderTimeout)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("server.message_rate_limit", cfg.Server.MessageRateLimit)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, appDirName, defaultConfigName)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
