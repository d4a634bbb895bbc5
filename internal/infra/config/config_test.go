package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg := Config{
		Catalog: CatalogConfig{
			Providers: []ProviderConfig{
				{
					Type:        "http",
					DisplayName: "Worker search",
					Settings:    map[string]any{"endpoint": "https://search.example.com/search"},
				},
			},
		},
	}
	require.NoError(t, defaults.Set(&cfg))
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "no catalog providers",
			mutate:  func(c *Config) { c.Catalog.Providers = nil },
			wantErr: true,
		},
		{
			name: "unknown provider type",
			mutate: func(c *Config) {
				c.Catalog.Providers = append(c.Catalog.Providers, ProviderConfig{Type: "deezer", DisplayName: "Deezer"})
			},
			wantErr: true,
		},
		{
			name: "lastfm provider without api key",
			mutate: func(c *Config) {
				c.Catalog.Providers = append(c.Catalog.Providers, ProviderConfig{Type: "lastfm", DisplayName: "Last.fm"})
				c.Spotify.ClientID = "id"
				c.Spotify.ClientSecret = "secret"
			},
			wantErr: true,
			errMsg:  "lastfm api_key is required",
		},
		{
			name: "lastfm provider with shared api key",
			mutate: func(c *Config) {
				c.Catalog.Providers = append(c.Catalog.Providers, ProviderConfig{Type: "lastfm", DisplayName: "Last.fm"})
				c.Spotify.ClientID = "id"
				c.Spotify.ClientSecret = "secret"
				c.LastFM.APIKey = "key"
			},
		},
		{
			name: "lastfm provider without spotify credentials",
			mutate: func(c *Config) {
				c.Catalog.Providers = append(c.Catalog.Providers, ProviderConfig{
					Type: "lastfm", DisplayName: "Last.fm", Settings: map[string]any{"api_key": "key"},
				})
			},
			wantErr: true,
			errMsg:  "spotify client_id and client_secret",
		},
		{
			name: "spotify provider without credentials",
			mutate: func(c *Config) {
				c.Catalog.Providers = append(c.Catalog.Providers, ProviderConfig{Type: "spotify", DisplayName: "Spotify"})
			},
			wantErr: true,
			errMsg:  "spotify client_id and client_secret",
		},
		{
			name: "spotify provider with credentials",
			mutate: func(c *Config) {
				c.Catalog.Providers = append(c.Catalog.Providers, ProviderConfig{Type: "spotify", DisplayName: "Spotify"})
				c.Spotify.ClientID = "id"
				c.Spotify.ClientSecret = "secret"
			},
		},
		{
			name:    "invalid playback endpoint",
			mutate:  func(c *Config) { c.Sources.PlaybackEndpoint = "not a url" },
			wantErr: true,
		},
		{
			name:    "unknown store driver",
			mutate:  func(c *Config) { c.Store.Driver = "redis" },
			wantErr: true,
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Store.Path = "" },
			wantErr: true,
			errMsg:  "store.path",
		},
		{
			name:   "memory store without path",
			mutate: func(c *Config) { c.Store.Driver = "memory"; c.Store.Path = "" },
		},
		{
			name:    "completion threshold above one",
			mutate:  func(c *Config) { c.Player.CompletionThreshold = 1.5 },
			wantErr: true,
		},
		{
			name:    "invalid market",
			mutate:  func(c *Config) { c.Spotify.Market = "JPN" },
			wantErr: true,
		},
		{
			name:    "feed without query",
			mutate:  func(c *Config) { c.Catalog.Feeds = []FeedConfig{{Title: "Trending"}} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  addr: ":9090"
player:
  play_limit: 5
catalog:
  feeds:
    - title: Trending 2026
      query: trending 2026
  providers:
    - type: http
      display_name: Worker search
      settings:
        endpoint: https://search.example.com/search
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	t.Setenv("PLAYER_API_TOKEN", "env-token")
	t.Setenv("SENTRY_DSN", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "env-token", cfg.Server.Token)
	assert.Equal(t, 5, cfg.Player.PlayLimit)
	assert.Equal(t, 10, cfg.Player.DownloadLimit)
	assert.Equal(t, 0.95, cfg.Player.CompletionThreshold)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL())
	assert.Equal(t, 20*time.Second, cfg.SourceTimeout())
	assert.Len(t, cfg.Catalog.Feeds, 1)
	assert.Equal(t, "https://search.example.com/search", cfg.Catalog.Providers[0].Settings["endpoint"])
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)

	path = filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":8080\"\n"), 0o644))
	_, err = Load(path)
	assert.Error(t, err, "catalog providers are required")
}
