// Package resolver turns track stubs into playable tracks.
package resolver

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19play/internal/domain/track"
	"github.com/osa030/19play/internal/infra/source"
)

// Errors
var (
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrNoSourceFound = errors.New("no playable source found")
	ErrNetwork       = errors.New("network error")
	ErrNoLink        = errors.New("track has no link")
)

// PlaybackSource looks up a playable URL for a catalog link.
type PlaybackSource interface {
	Lookup(ctx context.Context, link string) (string, error)
}

// DownloadSource looks up a download link using an elevated token.
type DownloadSource interface {
	DownloadLink(ctx context.Context, link, token string) (string, error)
}

// Meter is the subset of the entitlement meter the resolver needs.
type Meter interface {
	CanPlay() bool
	CanDownload() bool
	RecordPlay() error
	RecordDownload() error
	Token() string
	ClearIfCurrent(token string) error
}

// Config holds resolver configuration.
type Config struct {
	TTL time.Duration // Freshness window for resolved URLs
}

// Resolver resolves tracks against the playback provider and fetches download
// links from the download provider.
type Resolver struct {
	playback PlaybackSource
	download DownloadSource
	meter    Meter
	config   Config
	now      func() time.Time
}

// New creates a resolver. download may be nil when no download provider is configured.
func New(playback PlaybackSource, download DownloadSource, meter Meter, config Config) *Resolver {
	if config.TTL <= 0 {
		config.TTL = track.DefaultTTL
	}
	return &Resolver{
		playback: playback,
		download: download,
		meter:    meter,
		config:   config,
		now:      time.Now,
	}
}

// Resolve returns t with a playable AudioURL.
//
// A track that already carries a fresh URL is returned as is. Otherwise the
// play quota is checked before any request is made, and one lookup is issued
// against the playback provider. A successful lookup records one play.
// If ctx is cancelled the result is discarded and ctx.Err() is returned.
func (r *Resolver) Resolve(ctx context.Context, t track.Track) (track.Track, error) {
	t = t.Normalize()
	now := r.now()

	if t.Fresh(now, r.config.TTL) {
		return t, nil
	}

	if !r.meter.CanPlay() {
		return track.Track{}, ErrQuotaExceeded
	}

	if t.Link == "" {
		return track.Track{}, errors.Mark(ErrNoLink, ErrNoSourceFound)
	}

	zlog.Debug().Msgf("resolver: looking up source: id=%s title=%s", t.ID, t.Title)

	audioURL, err := r.playback.Lookup(ctx, t.Link)
	if err != nil {
		if ctx.Err() != nil {
			return track.Track{}, ctx.Err()
		}
		return track.Track{}, classify(err)
	}

	// A superseded resolution is discarded by the caller and must not count.
	if ctx.Err() != nil {
		return track.Track{}, ctx.Err()
	}
	if err := r.meter.RecordPlay(); err != nil {
		zlog.Error().Msgf("resolver: failed to record play: id=%s error=%v", t.ID, err)
	}

	t.AudioURL = audioURL
	t.ResolvedAt = r.now()
	return t, nil
}

// Warm resolves t like Resolve but without metering.
// It is used to prefetch sources for search results and, like Resolve,
// makes no request once the play quota is exhausted.
func (r *Resolver) Warm(ctx context.Context, t track.Track) (track.Track, error) {
	t = t.Normalize()
	if t.Fresh(r.now(), r.config.TTL) {
		return t, nil
	}
	if !r.meter.CanPlay() {
		return track.Track{}, ErrQuotaExceeded
	}
	if t.Link == "" {
		return track.Track{}, errors.Mark(ErrNoLink, ErrNoSourceFound)
	}

	audioURL, err := r.playback.Lookup(ctx, t.Link)
	if ctx.Err() != nil {
		return track.Track{}, ctx.Err()
	}
	if err != nil {
		return track.Track{}, classify(err)
	}
	t.AudioURL = audioURL
	t.ResolvedAt = r.now()
	return t, nil
}

// PrefetchDownload fetches a download link in the background when an elevated
// token is present and passes it to apply. It never blocks and never reports
// errors; a token rejection clears the elevated token.
func (r *Resolver) PrefetchDownload(ctx context.Context, t track.Track, apply func(url string)) {
	token := r.meter.Token()
	if r.download == nil || token == "" || t.Link == "" {
		return
	}

	go func() {
		u, err := r.download.DownloadLink(ctx, t.Link, token)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.handleDownloadError(t, token, err)
			return
		}
		apply(u)
	}()
}

// DownloadLink returns a download URL for t and records one download.
//
// Elevated users get a link from the download provider. Free users download the
// resolved playback URL, which t must already carry.
func (r *Resolver) DownloadLink(ctx context.Context, t track.Track) (string, error) {
	if !r.meter.CanDownload() {
		return "", ErrQuotaExceeded
	}

	var link string
	token := r.meter.Token()
	switch {
	case token != "" && t.DownloadURL != "":
		link = t.DownloadURL
	case token != "" && r.download != nil && t.Link != "":
		u, err := r.download.DownloadLink(ctx, t.Link, token)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if err != nil {
			r.handleDownloadError(t, token, err)
			if !t.IsResolved() {
				return "", classify(err)
			}
			// Fall back to the playback URL like a free user.
			link = t.AudioURL
		} else {
			link = u
		}
	case t.IsResolved():
		link = t.AudioURL
	default:
		return "", ErrNoSourceFound
	}

	if err := r.meter.RecordDownload(); err != nil {
		zlog.Error().Msgf("resolver: failed to record download: id=%s error=%v", t.Key(), err)
	}
	return link, nil
}

func (r *Resolver) handleDownloadError(t track.Track, token string, err error) {
	if errors.Is(err, source.ErrTokenRejected) {
		zlog.Warn().Msgf("resolver: download provider rejected the elevated token: id=%s", t.Key())
		if cerr := r.meter.ClearIfCurrent(token); cerr != nil {
			zlog.Error().Msgf("resolver: failed to clear rejected token: error=%v", cerr)
		}
		return
	}
	zlog.Debug().Msgf("resolver: download link fetch failed: id=%s error=%v", t.Key(), err)
}

// classify maps provider errors to resolution failures.
func classify(err error) error {
	if errors.Is(err, source.ErrNoURL) {
		return errors.Mark(err, ErrNoSourceFound)
	}
	return errors.Mark(err, ErrNetwork)
}
