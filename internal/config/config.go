// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"github.com/user/nostrgit/internal/identity"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Nostr     NostrConfig     `mapstructure:"nostr"`
	Session   SessionConfig   `mapstructure:"session"`
	Remotes   RemotesConfig   `mapstructure:"remotes"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig selects and configures the cache backend.
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"` // sqlite or redis
	Path       string `mapstructure:"path"`
	RedisURL   string `mapstructure:"redis_url"`
	QuotaBytes int    `mapstructure:"quota_bytes"` // per value, 0 for unlimited
}

// NostrConfig holds relay configuration.
type NostrConfig struct {
	Relays    []string `mapstructure:"relays"`
	RepoKinds []int    `mapstructure:"repo_kinds"`
}

// SessionConfig identifies the local user.
type SessionConfig struct {
	Pubkey      string `mapstructure:"pubkey"` // npub or hex
	DisplayName string `mapstructure:"display_name"`
}

// RemotesConfig holds the hosts git remote URLs are built against.
type RemotesConfig struct {
	SSHHost      string   `mapstructure:"ssh_host"`
	BridgeURLs   []string `mapstructure:"bridge_urls"`
	NativeRelays []string `mapstructure:"native_relays"`
}

// ReconcileConfig tunes the repository list reconciler.
type ReconcileConfig struct {
	BadEntities []string `mapstructure:"bad_entities"`
}

// IngestConfig tunes event ingestion.
type IngestConfig struct {
	StrictRecency bool `mapstructure:"strict_recency"`
	NoticeBuffer  int  `mapstructure:"notice_buffer"`
}

// GitHubConfig holds GitHub API configuration.
type GitHubConfig struct {
	Token string `mapstructure:"token"`
}

// TelegramConfig holds Telegram bot configuration. The bot is disabled
// without a token.
type TelegramConfig struct {
	Token string `mapstructure:"token"`
	Debug bool   `mapstructure:"debug"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/nostrgit.db")
	v.SetDefault("database.redis_url", "")
	v.SetDefault("database.quota_bytes", 5<<20)
	v.SetDefault("nostr.relays", []string{"wss://relay.damus.io", "wss://nos.lol"})
	v.SetDefault("nostr.repo_kinds", []int{30617, 30618})
	v.SetDefault("session.pubkey", "")
	v.SetDefault("session.display_name", "")
	v.SetDefault("remotes.ssh_host", "")
	v.SetDefault("remotes.bridge_urls", []string{})
	v.SetDefault("remotes.native_relays", []string{})
	v.SetDefault("reconcile.bad_entities", []string{"gittr.space"})
	v.SetDefault("ingest.strict_recency", false)
	v.SetDefault("ingest.notice_buffer", 100)
	v.SetDefault("github.token", "")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.debug", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("NOSTRGIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks if all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Session.Pubkey != "" && identity.Resolve(c.Session.Pubkey) == "" {
		return fmt.Errorf("session pubkey %q is not an npub or hex key", c.Session.Pubkey)
	}

	if len(c.Nostr.Relays) == 0 {
		return fmt.Errorf("at least one relay is required")
	}
	for _, r := range c.Nostr.Relays {
		u, err := url.Parse(r)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("relay %q is not a ws:// or wss:// URL", r)
		}
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required")
		}
	case "redis":
		if c.Database.RedisURL == "" {
			return fmt.Errorf("database redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Database.QuotaBytes < 0 {
		return fmt.Errorf("database quota_bytes must not be negative")
	}
	return nil
}

// SessionHex returns the session owner as lowercase hex, or "".
func (c *Config) SessionHex() string {
	return identity.Resolve(c.Session.Pubkey)
}

// ServerAddress returns the full server address.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
