package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const appName = "waves-connect"

const (
	DefaultDeviceName        = "waves-connect"
	DefaultLogLevel          = "info"
	DefaultDealerURL         = "wss://gew-dealer.spotify.com/"
	DefaultAPIURL            = "https://api.spotify.com/v1/track-playback/v1"
	DefaultTokenURL          = "https://accounts.spotify.com/api/token"
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 3 * time.Second
)

type Config struct {
	DeviceName  string `koanf:"device_name"`
	DeviceID    string `koanf:"device_id"` // empty means use the stored or a generated id
	LogLevel    string `koanf:"log_level"`
	DealerURL   string `koanf:"dealer_url"`
	APIURL      string `koanf:"api_url"`
	TokenURL    string `koanf:"token_url"`
	MetricsAddr string `koanf:"metrics_addr"` // e.g. ":9090", empty disables the endpoint
	StatePath   string `koanf:"state_path"`   // sqlite file, empty means the XDG data dir

	Credentials CredentialsConfig `koanf:"credentials"`

	// Last.fm scrobbling (enables scrobbling when configured)
	Lastfm LastfmConfig `koanf:"lastfm"`

	Heartbeat HeartbeatConfig `koanf:"heartbeat"`
}

// CredentialsConfig holds the account credentials used to obtain access
// tokens. Either a refresh token with client credentials, or a bare
// access token.
type CredentialsConfig struct {
	AccessToken  string `koanf:"access_token"  env:"WAVES_CONNECT_ACCESS_TOKEN"`
	RefreshToken string `koanf:"refresh_token" env:"WAVES_CONNECT_REFRESH_TOKEN"`
	ClientID     string `koanf:"client_id"     env:"WAVES_CONNECT_CLIENT_ID"`
	ClientSecret string `koanf:"client_secret" env:"WAVES_CONNECT_CLIENT_SECRET"`
}

// LastfmConfig holds Last.fm scrobbling configuration.
type LastfmConfig struct {
	APIKey     string `koanf:"api_key"     env:"WAVES_CONNECT_LASTFM_API_KEY"`
	APISecret  string `koanf:"api_secret"  env:"WAVES_CONNECT_LASTFM_API_SECRET"`
	SessionKey string `koanf:"session_key" env:"WAVES_CONNECT_LASTFM_SESSION_KEY"`
}

// HeartbeatConfig tunes the push channel keepalive.
type HeartbeatConfig struct {
	Interval time.Duration `koanf:"interval"`
	Timeout  time.Duration `koanf:"timeout"`
}

func Load() (*Config, error) {
	return load(getConfigPaths())
}

func load(paths []string) (*Config, error) {
	k := koanf.New(".")

	// Later files override earlier ones
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Secrets from the environment win over the files
	if err := env.Parse(&cfg.Credentials); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := env.Parse(&cfg.Lastfm); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()

	if cfg.StatePath != "" {
		cfg.StatePath = expandPath(cfg.StatePath)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DeviceName == "" {
		c.DeviceName = DefaultDeviceName
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.DealerURL == "" {
		c.DealerURL = DefaultDealerURL
	}
	c.APIURL = strings.TrimSuffix(c.APIURL, "/")
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.Heartbeat.Interval <= 0 {
		c.Heartbeat.Interval = DefaultHeartbeatInterval
	}
	if c.Heartbeat.Timeout <= 0 {
		c.Heartbeat.Timeout = DefaultHeartbeatTimeout
	}
}

func getConfigPaths() []string {
	return []string{
		// 1. $XDG_CONFIG_HOME/waves-connect/config.toml
		filepath.Join(xdg.ConfigHome, appName, "config.toml"),
		// 2. ./config.toml (pwd, highest priority)
		"config.toml",
	}
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// HasRefreshCredentials returns true if tokens can be refreshed.
func (c *Config) HasRefreshCredentials() bool {
	return c.Credentials.RefreshToken != "" && c.Credentials.ClientID != "" && c.Credentials.ClientSecret != ""
}

// HasLastfmConfig returns true if Last.fm scrobbling is configured.
func (c *Config) HasLastfmConfig() bool {
	return c.Lastfm.APIKey != "" && c.Lastfm.APISecret != "" && c.Lastfm.SessionKey != ""
}
