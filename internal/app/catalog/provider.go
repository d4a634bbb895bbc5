// Package catalog provides catalog search across configurable providers.
package catalog

import (
	"context"

	"github.com/osa030/19play/internal/domain/track"
)

// Provider is the interface for catalog search providers.
type Provider interface {
	// Search returns track stubs matching query, at most limit of them.
	Search(ctx context.Context, query string, limit int) ([]track.Track, error)

	// Name returns the provider type (used in config).
	Name() string
}

// SpotifyClient defines the Spotify operations needed by the spotify provider.
type SpotifyClient interface {
	Search(ctx context.Context, query string, limit int) ([]track.Track, error)
	GetTrack(ctx context.Context, trackID string) (track.Track, error)
}
