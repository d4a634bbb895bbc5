// Package lastfm provides a client for the Last.fm API.
package lastfm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// DefaultCacheTTL is how long tag and chart results are reused.
const DefaultCacheTTL = time.Hour

// cacheEntry represents a cached top tracks result.
type cacheEntry struct {
	tracks  []TopTrack
	expires time.Time
}

// Client is a Last.fm API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	cacheTTL   time.Duration
	now        func() time.Time

	// Cache for tag and chart top tracks
	cache   map[string]cacheEntry
	cacheMu sync.RWMutex
}

// Config represents Last.fm client configuration.
type Config struct {
	APIKey   string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// TopTrack represents a chart or tag track.
type TopTrack struct {
	Name   string
	Artist string
}

// topTracksResponse is shared by tag.getTopTracks and chart.getTopTracks.
type topTracksResponse struct {
	Tracks struct {
		Track []trackItem `json:"track"`
	} `json:"tracks"`
}

type trackItem struct {
	Name   string `json:"name"`
	Artist struct {
		Name string `json:"name"`
	} `json:"artist"`
}

// apiError represents an error response from Last.fm API.
type apiError struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// New creates a new Last.fm client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("last.fm API key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    "https://ws.audioscrobbler.com/2.0/",
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cacheTTL:   cfg.CacheTTL,
		now:        time.Now,
		cache:      make(map[string]cacheEntry),
	}, nil
}

// GetTopTracks retrieves top tracks for a tag from Last.fm.
// Reference: https://www.last.fm/api/show/tag.getTopTracks
func (c *Client) GetTopTracks(ctx context.Context, tagName string, limit int) ([]TopTrack, error) {
	tagName = strings.TrimSpace(tagName)
	if tagName == "" {
		return nil, errors.New("tag name is required")
	}
	limit = clampLimit(limit)

	return c.cached(fmt.Sprintf("tagtracks:%s:%d", strings.ToLower(tagName), limit), func() ([]TopTrack, error) {
		params := url.Values{}
		params.Set("method", "tag.getTopTracks")
		params.Set("tag", tagName)
		params.Set("limit", fmt.Sprintf("%d", limit))

		var response topTracksResponse
		if err := c.call(ctx, params, &response); err != nil {
			return nil, err
		}
		return toTopTracks(response.Tracks.Track), nil
	})
}

// GetChartTopTracks retrieves global top tracks from Last.fm charts.
// Reference: https://www.last.fm/api/show/chart.getTopTracks
func (c *Client) GetChartTopTracks(ctx context.Context, limit int) ([]TopTrack, error) {
	limit = clampLimit(limit)

	return c.cached(fmt.Sprintf("chart:%d", limit), func() ([]TopTrack, error) {
		params := url.Values{}
		params.Set("method", "chart.getTopTracks")
		params.Set("limit", fmt.Sprintf("%d", limit))

		var response topTracksResponse
		if err := c.call(ctx, params, &response); err != nil {
			return nil, err
		}
		return toTopTracks(response.Tracks.Track), nil
	})
}

// cached returns the cached result for key, calling fetch on a miss or expiry.
func (c *Client) cached(key string, fetch func() ([]TopTrack, error)) ([]TopTrack, error) {
	now := c.now()

	c.cacheMu.RLock()
	entry, ok := c.cache[key]
	c.cacheMu.RUnlock()
	if ok && now.Before(entry.expires) {
		zlog.Debug().Msgf("lastfm: using cached tracks: key=%s", key)
		return entry.tracks, nil
	}

	tracks, err := fetch()
	if err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	c.cache[key] = cacheEntry{tracks: tracks, expires: now.Add(c.cacheTTL)}
	c.cacheMu.Unlock()
	zlog.Debug().Msgf("lastfm: cached tracks: key=%s count=%d", key, len(tracks))

	return tracks, nil
}

// call performs a GET against the API and decodes the JSON response into out.
func (c *Client) call(ctx context.Context, params url.Values, out any) error {
	params.Set("api_key", c.apiKey)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	// Check for Last.fm API errors
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != 0 {
		return errors.Errorf("last.fm API error %d: %s", apiErr.Error, apiErr.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("last.fm returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "failed to parse response")
	}
	return nil
}

func toTopTracks(items []trackItem) []TopTrack {
	tracks := make([]TopTrack, 0, len(items))
	for _, t := range items {
		if t.Name == "" || t.Artist.Name == "" {
			continue
		}
		tracks = append(tracks, TopTrack{
			Name:   t.Name,
			Artist: t.Artist.Name,
		})
	}
	return tracks
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
