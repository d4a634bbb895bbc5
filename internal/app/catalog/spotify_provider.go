package catalog

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/19play/internal/domain/track"
)

type SpotifyProviderConfig struct {
	MaxResults int `yaml:"max_results" mapstructure:"max_results" default:"20" validate:"gte=1,lte=50"`
}

// SpotifyProvider searches the Spotify catalog.
type SpotifyProvider struct {
	spotify SpotifyClient
	config  *SpotifyProviderConfig
}

// NewSpotifyProvider creates a new SpotifyProvider.
func NewSpotifyProvider(spotify SpotifyClient, settings map[string]any) (*SpotifyProvider, error) {
	if spotify == nil {
		return nil, errors.New("spotify client is not configured")
	}

	var config SpotifyProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	return &SpotifyProvider{spotify: spotify, config: &config}, nil
}

// Search searches Spotify for tracks.
// A pasted track URL or URI is looked up directly.
func (p *SpotifyProvider) Search(ctx context.Context, query string, limit int) ([]track.Track, error) {
	if strings.HasPrefix(track.IDFromLink(query), "spotify:track:") {
		t, err := p.spotify.GetTrack(ctx, query)
		if err != nil {
			return nil, errors.Wrap(err, "spotify track lookup failed")
		}
		return []track.Track{t}, nil
	}

	if limit <= 0 || limit > p.config.MaxResults {
		limit = p.config.MaxResults
	}
	tracks, err := p.spotify.Search(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "spotify search failed")
	}
	return tracks, nil
}

// Name returns the provider type.
func (p *SpotifyProvider) Name() string {
	return "spotify"
}
