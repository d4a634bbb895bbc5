package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19play/internal/domain/track"
	"github.com/osa030/19play/internal/infra/config"
	"github.com/osa030/19play/internal/infra/lastfm"
)

type stubProvider struct {
	tracks []track.Track
	err    error
	calls  int
}

func (p *stubProvider) Search(context.Context, string, int) ([]track.Track, error) {
	p.calls++
	return p.tracks, p.err
}

func (p *stubProvider) Name() string { return "stub" }

func TestChain_Search(t *testing.T) {
	failing := &stubProvider{err: errors.New("down")}
	empty := &stubProvider{}
	working := &stubProvider{tracks: []track.Track{
		track.New("A", "X", "", "https://open.spotify.com/track/a"),
		track.New("A again", "X", "", "https://open.spotify.com/track/a?si=2"),
		track.New("No link", "X", "", ""),
		track.New("B", "Y", "", "https://open.spotify.com/track/b"),
	}}
	unused := &stubProvider{tracks: []track.Track{track.New("C", "Z", "", "c")}}

	chain := NewChain([]ProviderWithMetadata{
		{Provider: failing, DisplayName: "failing"},
		{Provider: empty, DisplayName: "empty"},
		{Provider: working, DisplayName: "working"},
		{Provider: unused, DisplayName: "unused"},
	})

	res, err := chain.Search(context.Background(), "query", 10)
	require.NoError(t, err)
	assert.Equal(t, "working", res.Source)
	require.Len(t, res.Tracks, 2)
	assert.Equal(t, "spotify:track:a", res.Tracks[0].ID)
	assert.Equal(t, "spotify:track:b", res.Tracks[1].ID)
	assert.Equal(t, 0, unused.calls)

	res, err = chain.Search(context.Background(), "query", 1)
	require.NoError(t, err)
	assert.Len(t, res.Tracks, 1)
}

func TestChain_AllFail(t *testing.T) {
	chain := NewChain([]ProviderWithMetadata{
		{Provider: &stubProvider{err: errors.New("down")}, DisplayName: "failing"},
	})
	_, err := chain.Search(context.Background(), "query", 10)
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestHTTPProvider_Search(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []track.Track
	}{
		{
			name: "bare array",
			body: `[{"title":"Song","artist":"Band","image":"https://img/1","link":"https://open.spotify.com/track/a"}]`,
			want: []track.Track{track.New("Song", "Band", "https://img/1", "https://open.spotify.com/track/a")},
		},
		{
			name: "items with fallback field names",
			body: `{"items":[{"name":"Song","subtitle":"Band","cover":"https://img/2","url":"https://open.spotify.com/track/b"}]}`,
			want: []track.Track{track.New("Song", "Band", "https://img/2", "https://open.spotify.com/track/b")},
		},
		{
			name: "data with defaults",
			body: `{"data":[{"title":"Song","spotify_url":"https://open.spotify.com/track/c"}]}`,
			want: []track.Track{track.New("Song", "Various Artists", "https://img/default", "https://open.spotify.com/track/c")},
		},
		{
			name: "items without link are skipped",
			body: `[{"title":"No link"},{"title":"Song","link":"https://open.spotify.com/track/d","duration":215}]`,
			want: []track.Track{track.New("Song", "Various Artists", "https://img/default", "https://open.spotify.com/track/d")},
		},
		{
			name: "unknown shape",
			body: `{"results":[]}`,
			want: []track.Track{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "trending 2026", r.URL.Query().Get("q"))
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			p, err := NewHTTPProvider(map[string]any{
				"endpoint":      server.URL + "/search",
				"default_image": "https://img/default",
			})
			require.NoError(t, err)

			got, err := p.Search(context.Background(), "trending 2026", 10)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPProvider_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "broken" {
			fmt.Fprint(w, `<html>`)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p, err := NewHTTPProvider(map[string]any{"endpoint": server.URL})
	require.NoError(t, err)

	_, err = p.Search(context.Background(), "broken", 10)
	assert.Error(t, err)
	_, err = p.Search(context.Background(), "status", 10)
	assert.Error(t, err)
}

func TestNewHTTPProvider_Validation(t *testing.T) {
	_, err := NewHTTPProvider(map[string]any{})
	assert.Error(t, err)

	_, err = NewHTTPProvider(map[string]any{"endpoint": "not a url"})
	assert.Error(t, err)

	p, err := NewHTTPProvider(map[string]any{"endpoint": "https://search.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "q", p.config.QueryParam)
	assert.Equal(t, "Various Artists", p.config.DefaultArtist)
}

type fakeSpotify struct {
	limit int
}

func (s *fakeSpotify) Search(_ context.Context, query string, limit int) ([]track.Track, error) {
	s.limit = limit
	return []track.Track{track.New(query, "Artist", "", "spotify:track:x")}, nil
}

func (s *fakeSpotify) GetTrack(_ context.Context, trackID string) (track.Track, error) {
	return track.New("Pasted", "Artist", "", trackID), nil
}

func TestSpotifyProvider(t *testing.T) {
	_, err := NewSpotifyProvider(nil, nil)
	assert.Error(t, err)

	sc := &fakeSpotify{}
	p, err := NewSpotifyProvider(sc, map[string]any{"max_results": 10})
	require.NoError(t, err)

	got, err := p.Search(context.Background(), "song", 0)
	require.NoError(t, err)
	assert.Equal(t, 10, sc.limit)
	assert.Equal(t, "spotify:track:x", got[0].ID)

	got, err = p.Search(context.Background(), "https://open.spotify.com/track/abc?si=1", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Pasted", got[0].Title)
	assert.Equal(t, "spotify:track:abc", got[0].ID)
}

func TestNewChainFromConfig(t *testing.T) {
	tests := []struct {
		name      string
		providers []config.ProviderConfig
		spotify   SpotifyClient
		noKey     bool
		wantErr   bool
	}{
		{
			name: "http and spotify",
			providers: []config.ProviderConfig{
				{Type: "http", DisplayName: "Worker", Settings: map[string]any{"endpoint": "https://search.example.com"}},
				{Type: "spotify", DisplayName: "Spotify"},
			},
			spotify: &fakeSpotify{},
		},
		{
			name:    "no providers",
			wantErr: true,
		},
		{
			name:      "unsupported type",
			providers: []config.ProviderConfig{{Type: "deezer", DisplayName: "Deezer"}},
			wantErr:   true,
		},
		{
			name:      "lastfm with shared key",
			providers: []config.ProviderConfig{{Type: "lastfm", DisplayName: "Last.fm", Settings: map[string]any{"mode": "chart"}}},
			spotify:   &fakeSpotify{},
		},
		{
			name:      "lastfm without key",
			providers: []config.ProviderConfig{{Type: "lastfm", DisplayName: "Last.fm", Settings: map[string]any{"mode": "chart"}}},
			spotify:   &fakeSpotify{},
			noKey:     true,
			wantErr:   true,
		},
		{
			name:      "spotify without client",
			providers: []config.ProviderConfig{{Type: "spotify", DisplayName: "Spotify"}},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Catalog: config.CatalogConfig{Providers: tt.providers}}
			if !tt.noKey {
				cfg.LastFM.APIKey = "shared-key"
			}
			chain, err := NewChainFromConfig(cfg, tt.spotify)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, chain.providers, len(tt.providers))
		})
	}
}

type fakeLastFm struct {
	tags  map[string][]lastfm.TopTrack
	chart []lastfm.TopTrack
}

func (f *fakeLastFm) GetTopTracks(_ context.Context, tag string, _ int) ([]lastfm.TopTrack, error) {
	tracks, ok := f.tags[tag]
	if !ok {
		return nil, errors.New("unknown tag")
	}
	return tracks, nil
}

func (f *fakeLastFm) GetChartTopTracks(context.Context, int) ([]lastfm.TopTrack, error) {
	return f.chart, nil
}

// mappingSpotify answers "track:<name> artist:<artist>" queries from a fixed table.
type mappingSpotify struct {
	mu      sync.Mutex
	links   map[string]string
	queries []string
}

func (s *mappingSpotify) Search(_ context.Context, query string, _ int) ([]track.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	link, ok := s.links[query]
	if !ok {
		return nil, nil
	}
	return []track.Track{track.New(query, "Artist", "", link)}, nil
}

func (s *mappingSpotify) GetTrack(context.Context, string) (track.Track, error) {
	return track.Track{}, errors.New("not supported")
}

func (s *mappingSpotify) Queries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

func TestLastFmProvider_Search(t *testing.T) {
	lfm := &fakeLastFm{
		tags: map[string][]lastfm.TopTrack{"rock": {
			{Name: "One", Artist: "A"},
			{Name: "Missing", Artist: "B"},
			{Name: "Two", Artist: "C"},
		}},
		chart: []lastfm.TopTrack{{Name: "Two", Artist: "C"}},
	}
	sp := &mappingSpotify{links: map[string]string{
		"track:One artist:A": "https://open.spotify.com/track/one",
		"track:Two artist:C": "https://open.spotify.com/track/two",
	}}

	tests := []struct {
		name    string
		mode    string
		query   string
		wantIDs []string
		wantErr bool
	}{
		{name: "tag keeps order and drops unmatched", mode: LastFmModeTag, query: " Rock ", wantIDs: []string{"spotify:track:one", "spotify:track:two"}},
		{name: "chart ignores query", mode: LastFmModeChart, query: "anything", wantIDs: []string{"spotify:track:two"}},
		{name: "unknown tag", mode: LastFmModeTag, query: "polka", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := decodeLastFmConfig(map[string]any{"api_key": "key", "mode": tt.mode})
			require.NoError(t, err)
			p, err := newLastFmProvider(lfm, sp, cfg)
			require.NoError(t, err)

			got, err := p.Search(context.Background(), tt.query, 10)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, g := range got {
				ids = append(ids, g.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestLastFmProvider_CachesSpotifyLookups(t *testing.T) {
	lfm := &fakeLastFm{chart: []lastfm.TopTrack{{Name: "One", Artist: "A"}, {Name: "Missing", Artist: "B"}}}
	sp := &mappingSpotify{links: map[string]string{"track:One artist:A": "https://open.spotify.com/track/one"}}

	cfg, err := decodeLastFmConfig(map[string]any{"api_key": "key", "mode": "chart"})
	require.NoError(t, err)
	p, err := newLastFmProvider(lfm, sp, cfg)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := p.Search(context.Background(), "", 10)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	}
	assert.Equal(t, 2, sp.Queries())
}

func TestNewLastFmProvider_Validation(t *testing.T) {
	tests := []struct {
		name     string
		spotify  SpotifyClient
		settings map[string]any
	}{
		{name: "no settings", spotify: &fakeSpotify{}},
		{name: "no api key", spotify: &fakeSpotify{}, settings: map[string]any{"mode": "tag"}},
		{name: "unknown mode", spotify: &fakeSpotify{}, settings: map[string]any{"api_key": "key", "mode": "similar"}},
		{name: "no spotify", settings: map[string]any{"api_key": "key"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLastFmProvider(tt.spotify, tt.settings)
			assert.Error(t, err)
		})
	}
}
