package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19play/internal/domain/track"
	"github.com/osa030/19play/internal/infra/lastfm"
)

// LastFmClient defines the Last.fm operations used by the lastfm provider.
type LastFmClient interface {
	GetTopTracks(ctx context.Context, tagName string, limit int) ([]lastfm.TopTrack, error)
	GetChartTopTracks(ctx context.Context, limit int) ([]lastfm.TopTrack, error)
}

// Last.fm provider modes.
const (
	LastFmModeTag   = "tag"   // The query is a Last.fm tag
	LastFmModeChart = "chart" // The query is ignored, global charts are used
)

type LastFmProviderConfig struct {
	APIKey      string `yaml:"api_key" mapstructure:"api_key" validate:"required"`
	Mode        string `yaml:"mode" mapstructure:"mode" default:"tag" validate:"oneof=tag chart"`
	MaxResults  int    `yaml:"max_results" mapstructure:"max_results" default:"20" validate:"gte=1,lte=50"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency" default:"4" validate:"gte=1,lte=16"`
	CacheTTLMin int    `yaml:"cache_ttl_min" mapstructure:"cache_ttl_min" default:"60" validate:"gte=1"`
}

// LastFmProvider lists Last.fm tag or chart top tracks and maps each one to a
// Spotify track so that it can be resolved for playback.
type LastFmProvider struct {
	lastfm  LastFmClient
	spotify SpotifyClient
	config  *LastFmProviderConfig

	// Cache for Spotify lookups; nil marks a track with no match
	spotifySearchCache map[string]*track.Track
	cacheMutex         sync.RWMutex
}

// NewLastFmProvider creates a new LastFmProvider.
func NewLastFmProvider(spotify SpotifyClient, settings map[string]any) (*LastFmProvider, error) {
	config, err := decodeLastFmConfig(settings)
	if err != nil {
		return nil, err
	}
	client, err := lastfm.New(lastfm.Config{
		APIKey:   config.APIKey,
		CacheTTL: time.Duration(config.CacheTTLMin) * time.Minute,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create last.fm client")
	}
	return newLastFmProvider(client, spotify, config)
}

func decodeLastFmConfig(settings map[string]any) (*LastFmProviderConfig, error) {
	if len(settings) == 0 {
		return nil, errors.New("settings are required")
	}

	var config LastFmProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	return &config, nil
}

func newLastFmProvider(client LastFmClient, spotify SpotifyClient, config *LastFmProviderConfig) (*LastFmProvider, error) {
	if spotify == nil {
		return nil, errors.New("spotify client is required")
	}
	return &LastFmProvider{
		lastfm:             client,
		spotify:            spotify,
		config:             config,
		spotifySearchCache: make(map[string]*track.Track),
	}, nil
}

// Search returns the top tracks for query, in Last.fm order.
// Tracks without a Spotify match are dropped.
func (p *LastFmProvider) Search(ctx context.Context, query string, limit int) ([]track.Track, error) {
	if limit <= 0 || limit > p.config.MaxResults {
		limit = p.config.MaxResults
	}

	var (
		top []lastfm.TopTrack
		err error
	)
	switch p.config.Mode {
	case LastFmModeChart:
		top, err = p.lastfm.GetChartTopTracks(ctx, limit)
	default:
		top, err = p.lastfm.GetTopTracks(ctx, strings.ToLower(strings.TrimSpace(query)), limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "last.fm lookup failed")
	}

	// Map on Spotify in parallel, keeping the Last.fm order
	matches := make([]*track.Track, len(top))
	sem := make(chan struct{}, p.config.Concurrency)
	var wg sync.WaitGroup
	for i, t := range top {
		wg.Add(1)
		go func(i int, t lastfm.TopTrack) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			matches[i] = p.searchOnSpotify(ctx, t.Name, t.Artist)
		}(i, t)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tracks := make([]track.Track, 0, len(matches))
	for _, m := range matches {
		if m != nil {
			tracks = append(tracks, *m)
		}
	}
	zlog.Debug().Msgf("catalog: lastfm mapped tracks: mode=%s query=%s found=%d mapped=%d", p.config.Mode, query, len(top), len(tracks))
	return tracks, nil
}

// searchOnSpotify searches for a track on Spotify with caching.
func (p *LastFmProvider) searchOnSpotify(ctx context.Context, trackName, artistName string) *track.Track {
	key := strings.ToLower(fmt.Sprintf("%s:%s", trackName, artistName))

	// Check cache
	p.cacheMutex.RLock()
	if cached, ok := p.spotifySearchCache[key]; ok {
		p.cacheMutex.RUnlock()
		return cached
	}
	p.cacheMutex.RUnlock()

	query := fmt.Sprintf("track:%s artist:%s", trackName, artistName)
	results, err := p.spotify.Search(ctx, query, 1)
	if err != nil {
		// Transient failures are not cached
		zlog.Debug().Msgf("catalog: spotify lookup failed: query=%s error=%v", query, err)
		return nil
	}

	var found *track.Track
	if len(results) > 0 && results[0].ID != "" {
		found = &results[0]
	}

	// Cache nil to avoid repeated failed searches
	p.cacheMutex.Lock()
	p.spotifySearchCache[key] = found
	p.cacheMutex.Unlock()

	return found
}

// Name returns the provider type.
func (p *LastFmProvider) Name() string {
	return "lastfm"
}
