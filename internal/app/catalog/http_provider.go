package catalog

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19play/internal/domain/track"
)

type HTTPProviderConfig struct {
	Endpoint      string `yaml:"endpoint" mapstructure:"endpoint" validate:"required,url"`
	QueryParam    string `yaml:"query_param" mapstructure:"query_param" default:"q"`
	TimeoutSec    int    `yaml:"timeout_sec" mapstructure:"timeout_sec" default:"15" validate:"gte=1,lte=120"`
	DefaultArtist string `yaml:"default_artist" mapstructure:"default_artist" default:"Various Artists"`
	DefaultImage  string `yaml:"default_image" mapstructure:"default_image" default:"https://images.unsplash.com/photo-1514525253440-b393452e8d26?w=400&h=400&fit=crop"`
}

// HTTPProvider searches a JSON search endpoint (GET <endpoint>?q=<query>).
type HTTPProvider struct {
	config     *HTTPProviderConfig
	httpClient *http.Client
}

// item lists the accepted field names of a search result item.
type item struct {
	Title      string `mapstructure:"title"`
	Name       string `mapstructure:"name"`
	Artist     string `mapstructure:"artist"`
	Subtitle   string `mapstructure:"subtitle"`
	Image      string `mapstructure:"image"`
	Cover      string `mapstructure:"cover"`
	Thumbnail  string `mapstructure:"thumbnail"`
	Link       string `mapstructure:"link"`
	URL        string `mapstructure:"url"`
	SpotifyURL string `mapstructure:"spotify_url"`
}

// NewHTTPProvider creates a new HTTPProvider.
func NewHTTPProvider(settings map[string]any) (*HTTPProvider, error) {
	var config HTTPProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	zlog.Debug().Msgf("http catalog provider config: %+v", config)
	if err := validator.New().Struct(config); err != nil {
		zlog.Error().Msgf("http catalog provider validation failed: %v", err)
		return nil, errors.Wrap(err, "validation failed")
	}

	return &HTTPProvider{
		config:     &config,
		httpClient: &http.Client{Timeout: time.Duration(config.TimeoutSec) * time.Second},
	}, nil
}

// Search queries the endpoint and maps the returned items to stubs.
func (p *HTTPProvider) Search(ctx context.Context, query string, limit int) ([]track.Track, error) {
	params := url.Values{}
	params.Set(p.config.QueryParam, query)

	sep := "?"
	if strings.Contains(p.config.Endpoint, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.Endpoint+sep+params.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Newf("search endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	raw, err := rawItems(body)
	if err != nil {
		return nil, err
	}

	tracks := make([]track.Track, 0, len(raw))
	for _, r := range raw {
		t, ok := p.mapItem(r)
		if !ok {
			continue
		}
		tracks = append(tracks, t)
		if limit > 0 && len(tracks) == limit {
			break
		}
	}
	return tracks, nil
}

// Name returns the provider type.
func (p *HTTPProvider) Name() string {
	return "http"
}

func (p *HTTPProvider) mapItem(raw any) (track.Track, bool) {
	var it item
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &it,
	})
	if err != nil {
		return track.Track{}, false
	}
	if err := decoder.Decode(raw); err != nil {
		zlog.Debug().Msgf("catalog: partially decoded item: error=%v", err)
	}

	link := firstNonEmpty(it.Link, it.URL, it.SpotifyURL)
	title := firstNonEmpty(it.Title, it.Name)
	if link == "" || title == "" {
		return track.Track{}, false
	}

	return track.New(
		title,
		firstNonEmpty(it.Artist, it.Subtitle, p.config.DefaultArtist),
		firstNonEmpty(it.Image, it.Cover, it.Thumbnail, p.config.DefaultImage),
		link,
	), true
}

// rawItems accepts a bare array or an object carrying the array in items or data.
func rawItems(body []byte) ([]any, error) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, errors.Wrap(err, "failed to decode search response")
	}

	switch v := decoded.(type) {
	case []any:
		return v, nil
	case map[string]any:
		for _, key := range []string{"items", "data"} {
			if list, ok := v[key].([]any); ok {
				return list, nil
			}
		}
	}
	return []any{}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
