package catalog

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19play/internal/infra/config"
)

// withDefaultAPIKey returns settings with api_key set to key when it is missing.
func withDefaultAPIKey(settings map[string]any, key string) map[string]any {
	if v, _ := settings["api_key"].(string); v != "" || key == "" {
		return settings
	}
	merged := make(map[string]any, len(settings)+1)
	for k, v := range settings {
		merged[k] = v
	}
	merged["api_key"] = key
	return merged
}

// NewChainFromConfig creates a provider chain from configuration.
// spotify may be nil when no spotify provider is configured.
func NewChainFromConfig(cfg *config.Config, spotify SpotifyClient) (*Chain, error) {
	if len(cfg.Catalog.Providers) == 0 {
		return nil, errors.New("no catalog providers configured")
	}

	var providers []ProviderWithMetadata

	for i, pcfg := range cfg.Catalog.Providers {
		var provider Provider
		var err error
		zlog.Debug().Msgf("creating catalog provider: index=%d type=%s", i+1, pcfg.Type)
		switch pcfg.Type {
		case "http":
			provider, err = NewHTTPProvider(pcfg.Settings)

		case "spotify":
			provider, err = NewSpotifyProvider(spotify, pcfg.Settings)

		case "lastfm":
			provider, err = NewLastFmProvider(spotify, withDefaultAPIKey(pcfg.Settings, cfg.LastFM.APIKey))

		default:
			return nil, errors.Newf("unsupported provider type: %s (provider index %d)", pcfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create provider (index %d, type %s)", i, pcfg.Type)
		}

		providers = append(providers, ProviderWithMetadata{
			Provider:    provider,
			DisplayName: pcfg.DisplayName,
		})

		zlog.Info().Msgf("registered catalog provider: index=%d type=%s display_name=%s", i+1, pcfg.Type, pcfg.DisplayName)
	}

	return NewChain(providers), nil
}
