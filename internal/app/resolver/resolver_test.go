package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19play/internal/app/entitlement"
	"github.com/osa030/19play/internal/domain/track"
	"github.com/osa030/19play/internal/infra/source"
	"github.com/osa030/19play/internal/infra/store"
)

type fakePlayback struct {
	mu    sync.Mutex
	url   string
	err   error
	calls int
	hook  func(ctx context.Context)
}

func (p *fakePlayback) Lookup(ctx context.Context, _ string) (string, error) {
	p.mu.Lock()
	p.calls++
	hook := p.hook
	p.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	return p.url, p.err
}

func (p *fakePlayback) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeDownload struct {
	mu     sync.Mutex
	url    string
	err    error
	tokens []string
}

func (d *fakeDownload) DownloadLink(_ context.Context, _ string, token string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, token)
	return d.url, d.err
}

func newTestMeter(t *testing.T, playLimit, downloadLimit int) *entitlement.Meter {
	t.Helper()
	m, err := entitlement.NewMeter(store.NewMemory(), nil, entitlement.Config{PlayLimit: playLimit, DownloadLimit: downloadLimit})
	require.NoError(t, err)
	return m
}

func stub() track.Track {
	return track.New("Song", "Artist", "", "https://open.spotify.com/track/abc")
}

func TestResolve(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	fresh := stub()
	fresh.AudioURL = "https://cdn/cached.mp3"
	fresh.ResolvedAt = now.Add(-time.Hour)

	stale := stub()
	stale.AudioURL = "https://cdn/old.mp3"
	stale.ResolvedAt = now.Add(-25 * time.Hour)

	tests := []struct {
		name      string
		input     track.Track
		exhausted bool
		lookupURL string
		lookupErr error
		wantURL   string
		wantErr   error
		wantCalls int
		wantPlays int
	}{
		{name: "resolves stub", input: stub(), lookupURL: "https://cdn/a.mp3", wantURL: "https://cdn/a.mp3", wantCalls: 1, wantPlays: 1},
		{name: "fresh track is returned as is", input: fresh, wantURL: "https://cdn/cached.mp3"},
		{name: "fresh track is returned when quota is exhausted", input: fresh, exhausted: true, wantURL: "https://cdn/cached.mp3"},
		{name: "stale track is resolved again", input: stale, lookupURL: "https://cdn/new.mp3", wantURL: "https://cdn/new.mp3", wantCalls: 1, wantPlays: 1},
		{name: "quota exceeded skips network", input: stub(), exhausted: true, wantErr: ErrQuotaExceeded},
		{name: "no url", input: stub(), lookupErr: source.ErrNoURL, wantErr: ErrNoSourceFound, wantCalls: 1},
		{name: "transport failure", input: stub(), lookupErr: errors.New("connection refused"), wantErr: ErrNetwork, wantCalls: 1},
		{name: "bad status", input: stub(), lookupErr: errors.Mark(errors.New("status 502"), source.ErrBadStatus), wantErr: ErrNetwork, wantCalls: 1},
		{name: "missing link", input: track.Track{ID: "x", Title: "No Link"}, wantErr: ErrNoSourceFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meter := newTestMeter(t, 1, 1)
			if tt.exhausted {
				require.NoError(t, meter.RecordPlay())
			}
			pb := &fakePlayback{url: tt.lookupURL, err: tt.lookupErr}
			r := New(pb, nil, meter, Config{})
			r.now = func() time.Time { return now }

			got, err := r.Resolve(context.Background(), tt.input)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantURL, got.AudioURL)
				assert.Equal(t, "spotify:track:abc", got.ID)
			}
			assert.Equal(t, tt.wantCalls, pb.Calls())

			wantCount := tt.wantPlays
			if tt.exhausted {
				wantCount++
			}
			assert.Equal(t, wantCount, meter.State().PlayCount)
		})
	}
}

func TestResolve_CancelledDoesNotMeter(t *testing.T) {
	meter := newTestMeter(t, 5, 5)
	ctx, cancel := context.WithCancel(context.Background())
	pb := &fakePlayback{
		url:  "https://cdn/a.mp3",
		hook: func(context.Context) { cancel() },
	}
	r := New(pb, nil, meter, Config{})

	_, err := r.Resolve(ctx, stub())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, meter.State().PlayCount)
}

func TestResolve_CancelledFailureIsNotClassified(t *testing.T) {
	meter := newTestMeter(t, 5, 5)
	ctx, cancel := context.WithCancel(context.Background())
	pb := &fakePlayback{
		err:  errors.New("connection reset"),
		hook: func(context.Context) { cancel() },
	}
	r := New(pb, nil, meter, Config{})

	_, err := r.Resolve(ctx, stub())
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrNetwork))
	assert.Equal(t, 0, meter.State().PlayCount)
}

func TestResolve_ElevatedIsUnmetered(t *testing.T) {
	meter := newTestMeter(t, 1, 1)
	require.NoError(t, meter.RecordPlay())
	require.NoError(t, meter.SetElevatedToken("premium"))

	pb := &fakePlayback{url: "https://cdn/a.mp3"}
	r := New(pb, nil, meter, Config{})

	got, err := r.Resolve(context.Background(), stub())
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/a.mp3", got.AudioURL)
	assert.Equal(t, 1, meter.State().PlayCount)
}

func TestWarm(t *testing.T) {
	tests := []struct {
		name      string
		playLimit int
		played    int
		wantErr   error
		wantCalls int
	}{
		{name: "within quota is unmetered", playLimit: 5, played: 1, wantCalls: 1},
		{name: "exhausted quota makes no request", playLimit: 1, played: 1, wantErr: ErrQuotaExceeded, wantCalls: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meter := newTestMeter(t, tt.playLimit, 1)
			for i := 0; i < tt.played; i++ {
				require.NoError(t, meter.RecordPlay())
			}

			pb := &fakePlayback{url: "https://cdn/a.mp3"}
			r := New(pb, nil, meter, Config{})

			got, err := r.Warm(context.Background(), stub())
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
			} else {
				require.NoError(t, err)
				assert.Equal(t, "https://cdn/a.mp3", got.AudioURL)
			}
			assert.Equal(t, tt.wantCalls, pb.Calls())
			assert.Equal(t, tt.played, meter.State().PlayCount)
		})
	}
}

func TestPrefetchDownload(t *testing.T) {
	t.Run("applies link when elevated", func(t *testing.T) {
		meter := newTestMeter(t, 1, 1)
		require.NoError(t, meter.SetElevatedToken("premium"))
		dl := &fakeDownload{url: "https://dl/a.mp3"}
		r := New(&fakePlayback{}, dl, meter, Config{})

		got := make(chan string, 1)
		r.PrefetchDownload(context.Background(), stub(), func(u string) { got <- u })

		select {
		case u := <-got:
			assert.Equal(t, "https://dl/a.mp3", u)
		case <-time.After(time.Second):
			t.Fatal("download link was not applied")
		}
	})

	t.Run("skipped without token", func(t *testing.T) {
		meter := newTestMeter(t, 1, 1)
		dl := &fakeDownload{url: "https://dl/a.mp3"}
		r := New(&fakePlayback{}, dl, meter, Config{})

		r.PrefetchDownload(context.Background(), stub(), func(string) { t.Error("apply must not be called") })
		dl.mu.Lock()
		defer dl.mu.Unlock()
		assert.Empty(t, dl.tokens)
	})

	t.Run("rejection clears token", func(t *testing.T) {
		meter := newTestMeter(t, 1, 1)
		require.NoError(t, meter.SetElevatedToken("premium"))
		dl := &fakeDownload{err: source.ErrTokenRejected}
		r := New(&fakePlayback{}, dl, meter, Config{})

		r.PrefetchDownload(context.Background(), stub(), func(string) { t.Error("apply must not be called") })
		assert.Eventually(t, func() bool { return !meter.Elevated() }, time.Second, 10*time.Millisecond)
	})
}

func TestDownloadLink(t *testing.T) {
	resolvedTrack := stub()
	resolvedTrack.AudioURL = "https://cdn/a.mp3"
	resolvedTrack.ResolvedAt = time.Now()

	withDownload := resolvedTrack
	withDownload.DownloadURL = "https://dl/prefetched.mp3"

	tests := []struct {
		name          string
		input         track.Track
		token         string
		exhausted     bool
		dlURL         string
		dlErr         error
		want          string
		wantErr       error
		wantDownloads int
		wantElevated  bool
	}{
		{name: "free user gets playback url", input: resolvedTrack, want: "https://cdn/a.mp3", wantDownloads: 1},
		{name: "free user without resolution", input: stub(), wantErr: ErrNoSourceFound},
		{name: "free user over quota", input: resolvedTrack, exhausted: true, wantErr: ErrQuotaExceeded, wantDownloads: 1},
		{name: "elevated user uses prefetched link", input: withDownload, token: "premium", want: "https://dl/prefetched.mp3", wantElevated: true},
		{name: "elevated user fetches link", input: resolvedTrack, token: "premium", dlURL: "https://dl/a.mp3", want: "https://dl/a.mp3", wantElevated: true},
		{name: "rejected token falls back to playback url", input: resolvedTrack, token: "premium", dlErr: source.ErrTokenRejected, want: "https://cdn/a.mp3", wantDownloads: 1},
		{name: "rejected token without resolution", input: stub(), token: "premium", dlErr: source.ErrTokenRejected, wantErr: ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meter := newTestMeter(t, 1, 1)
			if tt.exhausted {
				require.NoError(t, meter.RecordDownload())
			}
			if tt.token != "" {
				require.NoError(t, meter.SetElevatedToken(tt.token))
			}
			r := New(&fakePlayback{}, &fakeDownload{url: tt.dlURL, err: tt.dlErr}, meter, Config{})

			got, err := r.DownloadLink(context.Background(), tt.input)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.Equal(t, tt.wantDownloads, meter.State().DownloadCount)
			assert.Equal(t, tt.wantElevated, meter.Elevated())
		})
	}
}
