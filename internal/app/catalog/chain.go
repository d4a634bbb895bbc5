package catalog

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19play/internal/domain/track"
)

// ErrNoResults is returned when no provider produced results.
var ErrNoResults = errors.New("all providers failed to return results")

// ProviderWithMetadata wraps a provider with its metadata.
type ProviderWithMetadata struct {
	Provider    Provider
	DisplayName string
}

// Results holds search results and the provider that produced them.
type Results struct {
	Source string        `json:"source"`
	Tracks []track.Track `json:"tracks"`
}

// Chain tries providers in order until one returns results.
type Chain struct {
	providers []ProviderWithMetadata
}

// NewChain creates a new provider chain.
func NewChain(providers []ProviderWithMetadata) *Chain {
	return &Chain{
		providers: providers,
	}
}

// Search queries providers in order. The first provider returning at least one
// result wins; failing or empty providers are skipped.
func (c *Chain) Search(ctx context.Context, query string, limit int) (Results, error) {
	for i, pm := range c.providers {
		zlog.Debug().Msgf("catalog: trying provider: index=%d total=%d name=%s provider_type=%s",
			i+1, len(c.providers), pm.DisplayName, pm.Provider.Name())

		tracks, err := pm.Provider.Search(ctx, query, limit)
		if err != nil {
			if ctx.Err() != nil {
				return Results{}, ctx.Err()
			}
			zlog.Warn().Msgf("catalog: provider failed, trying next: provider=%s error=%v", pm.DisplayName, err)
			continue
		}

		tracks = dedup(tracks, limit)
		if len(tracks) == 0 {
			zlog.Debug().Msgf("catalog: provider returned no results: provider=%s", pm.DisplayName)
			continue
		}

		zlog.Info().Msgf("catalog: provider returned results: provider=%s query=%s count=%d",
			pm.DisplayName, query, len(tracks))
		return Results{Source: pm.DisplayName, Tracks: tracks}, nil
	}

	return Results{}, ErrNoResults
}

// Name returns the chain name.
func (c *Chain) Name() string {
	return "provider_chain"
}

// dedup drops stubs without identity and repeated IDs, keeping at most limit.
func dedup(tracks []track.Track, limit int) []track.Track {
	seen := make(map[string]bool)
	out := make([]track.Track, 0, len(tracks))
	for _, t := range tracks {
		t = t.Normalize()
		if t.ID == "" || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
