// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Sources SourcesConfig `yaml:"sources"`
	Player  PlayerConfig  `yaml:"player"`
	Catalog CatalogConfig `yaml:"catalog"`
	Spotify SpotifyConfig `yaml:"spotify"`
	LastFM  LastFMConfig  `yaml:"lastfm"`
	Sentry  SentryConfig  `yaml:"sentry"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr            string `yaml:"addr" default:":8080"`
	Token           string `yaml:"token"` // Optional API token required in X-Player-Token
	ShutdownTimeout int    `yaml:"shutdown_timeout_sec" default:"10" validate:"gte=1,lte=120"`
}

// StoreConfig represents durable store configuration.
type StoreConfig struct {
	Driver string `yaml:"driver" default:"sqlite" validate:"oneof=sqlite memory"`
	Path   string `yaml:"path" default:"data/player.db"`
}

// SourcesConfig represents the audio source providers.
type SourcesConfig struct {
	PlaybackEndpoint string `yaml:"playback_endpoint" default:"https://spotify.elfar.my.id/api/spotify" validate:"required,url"`
	DownloadEndpoint string `yaml:"download_endpoint" default:"https://api.ferdev.my.id/downloader/spotify" validate:"omitempty,url"`
	ProbeLink        string `yaml:"probe_link" default:"https://open.spotify.com/track/4cOdK2wGLETKBW3PvgPWqT"`
	TimeoutSec       int    `yaml:"timeout_sec" default:"20" validate:"gte=1,lte=120"`
}

// PlayerConfig represents Player Core tuning.
type PlayerConfig struct {
	CacheTTLHours       int     `yaml:"cache_ttl_hours" default:"24" validate:"gte=1"`
	HistoryLimit        int     `yaml:"history_limit" default:"50" validate:"gte=2,lte=500"`
	PlayLimit           int     `yaml:"play_limit" default:"20" validate:"gte=1"`
	DownloadLimit       int     `yaml:"download_limit" default:"10" validate:"gte=1"`
	CompletionThreshold float64 `yaml:"completion_threshold" default:"0.95" validate:"gt=0,lte=1"`
	WarmCount           int     `yaml:"warm_count" default:"5" validate:"gte=0,lte=20"`
}

// CatalogConfig represents catalog search configuration.
type CatalogConfig struct {
	ResultLimit int              `yaml:"result_limit" default:"20" validate:"gte=1,lte=50"`
	Feeds       []FeedConfig     `yaml:"feeds" validate:"dive"`
	Providers   []ProviderConfig `yaml:"providers" validate:"required,min=1,dive"`
}

// FeedConfig represents a home feed backed by a fixed search query.
type FeedConfig struct {
	Title string `yaml:"title" validate:"required"`
	Query string `yaml:"query" validate:"required"`
}

// ProviderConfig represents a single catalog provider configuration.
type ProviderConfig struct {
	Type        string         `yaml:"type" validate:"required,oneof=http spotify lastfm"`
	DisplayName string         `yaml:"display_name" validate:"required"`
	Settings    map[string]any `yaml:"settings"`
}

// SpotifyConfig represents Spotify API configuration.
// Credentials are only required when a spotify catalog provider is configured.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
}

// LastFMConfig represents Last.fm API configuration.
// The key is used by lastfm catalog providers that do not set their own api_key.
type LastFMConfig struct {
	APIKey string `yaml:"api_key"`
}

// SentryConfig represents error reporting configuration. An empty DSN disables reporting.
type SentryConfig struct {
	DSN              string  `yaml:"dsn"`
	Environment      string  `yaml:"environment" default:"development"`
	TracesSampleRate float64 `yaml:"traces_sample_rate" validate:"gte=0,lte=1"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("PLAYER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("PLAYER_API_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("PLAYER_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("PLAYER_PLAYBACK_ENDPOINT"); v != "" {
		c.Sources.PlaybackEndpoint = v
	}
	if v := os.Getenv("PLAYER_DOWNLOAD_ENDPOINT"); v != "" {
		c.Sources.DownloadEndpoint = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
	if v := os.Getenv("LASTFM_API_KEY"); v != "" {
		c.LastFM.APIKey = v
	}
	if v := os.Getenv("SENTRY_DSN"); v != "" {
		c.Sentry.DSN = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		return errors.New("store.path is required for the sqlite driver")
	}

	if c.NeedsSpotify() && (c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "") {
		return errors.New("spotify client_id and client_secret are required by the spotify and lastfm catalog providers")
	}

	for i, p := range c.Catalog.Providers {
		if p.Type != "lastfm" || c.LastFM.APIKey != "" {
			continue
		}
		if key, _ := p.Settings["api_key"].(string); key == "" {
			return errors.Newf("catalog provider %d (%s): lastfm api_key is required", i, p.DisplayName)
		}
	}

	return nil
}

// UsesProvider reports whether a catalog provider of the given type is configured.
func (c *Config) UsesProvider(providerType string) bool {
	for _, p := range c.Catalog.Providers {
		if p.Type == providerType {
			return true
		}
	}
	return false
}

// NeedsSpotify reports whether a configured catalog provider uses the Spotify API.
func (c *Config) NeedsSpotify() bool {
	return c.UsesProvider("spotify") || c.UsesProvider("lastfm")
}

// CacheTTL returns the resolved URL lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Player.CacheTTLHours) * time.Hour
}

// SourceTimeout returns the per-request timeout for the source providers.
func (c *Config) SourceTimeout() time.Duration {
	return time.Duration(c.Sources.TimeoutSec) * time.Second
}

// ShutdownTimeout returns the graceful shutdown timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}
