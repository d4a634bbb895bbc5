// Package cache provides the resolved-track cache and the recent history built on it.
package cache

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19play/internal/domain/track"
	"github.com/osa030/19play/internal/infra/store"
)

// DefaultLimit is the number of entries kept in the recent history.
const DefaultLimit = 50

// Config holds cache configuration.
type Config struct {
	TTL   time.Duration // How long a resolved URL stays playable
	Limit int           // Maximum number of recent entries
}

// Cache maps track IDs to resolved tracks. Entries are kept most-recent-first
// and double as the recent play history.
type Cache struct {
	mu      sync.RWMutex
	store   store.Store
	config  Config
	now     func() time.Time
	entries []track.Track
}

// New creates a cache backed by s, loading the persisted history.
// Entries older than the TTL are dropped on load.
func New(s store.Store, config Config) (*Cache, error) {
	return newWithClock(s, config, time.Now)
}

func newWithClock(s store.Store, config Config, now func() time.Time) (*Cache, error) {
	if config.TTL <= 0 {
		config.TTL = track.DefaultTTL
	}
	if config.Limit <= 0 {
		config.Limit = DefaultLimit
	}

	c := &Cache{
		store:   s,
		config:  config,
		now:     now,
		entries: make([]track.Track, 0),
	}

	var saved []track.Track
	if _, err := store.LoadJSON(s, store.KeyRecentTracks, &saved); err != nil {
		return nil, errors.Wrap(err, "failed to load recent tracks")
	}

	current := now()
	seen := make(map[string]bool)
	for _, t := range saved {
		t = t.Normalize()
		if t.ID == "" || seen[t.ID] || !t.Fresh(current, config.TTL) {
			continue
		}
		seen[t.ID] = true
		c.entries = append(c.entries, t)
		if len(c.entries) == config.Limit {
			break
		}
	}

	if dropped := len(saved) - len(c.entries); dropped > 0 {
		zlog.Debug().Msgf("cache: dropped stale entries on load: dropped=%d kept=%d", dropped, len(c.entries))
	}

	return c, nil
}

// TTL returns the configured freshness window.
func (c *Cache) TTL() time.Duration {
	return c.config.TTL
}

// Get returns the cached track for id if it is still fresh.
// Stale entries are reported as misses but are not evicted.
func (c *Cache) Get(id string) (track.Track, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, t := range c.entries {
		if t.ID == id {
			if !t.Fresh(c.now(), c.config.TTL) {
				return track.Track{}, false
			}
			return t, true
		}
	}
	return track.Track{}, false
}

// Put upserts a resolved track, moving it to the front and stamping ResolvedAt.
// The updated history is written to the store before Put returns.
func (c *Cache) Put(t track.Track) (track.Track, error) {
	t = t.Normalize()
	if t.ID == "" {
		return track.Track{}, errors.New("track has no identity")
	}
	if !t.IsResolved() {
		return track.Track{}, errors.Newf("track %s has no audio url", t.ID)
	}
	t.ResolvedAt = c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	updated := make([]track.Track, 0, len(c.entries)+1)
	updated = append(updated, t)
	for _, e := range c.entries {
		if e.ID == t.ID {
			// Keep a download link obtained earlier when the new record has none.
			if t.DownloadURL == "" && e.DownloadURL != "" {
				updated[0].DownloadURL = e.DownloadURL
			}
			continue
		}
		updated = append(updated, e)
	}
	if len(updated) > c.config.Limit {
		updated = updated[:c.config.Limit]
	}

	if err := store.SaveJSON(c.store, store.KeyRecentTracks, updated); err != nil {
		return track.Track{}, err
	}
	c.entries = updated
	return updated[0], nil
}

// SetDownloadURL records a download link on an existing entry without
// touching its position or timestamp. Returns false if id is not cached.
func (c *Cache) SetDownloadURL(id, url string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, e := range c.entries {
		if e.ID != id {
			continue
		}
		updated := make([]track.Track, len(c.entries))
		copy(updated, c.entries)
		updated[i].DownloadURL = url
		if err := store.SaveJSON(c.store, store.KeyRecentTracks, updated); err != nil {
			return false, err
		}
		c.entries = updated
		return true, nil
	}
	return false, nil
}

// ListRecent returns up to limit entries, most recent first.
// A limit <= 0 returns every entry.
func (c *Cache) ListRecent(limit int) []track.Track {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := len(c.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]track.Track, n)
	copy(result, c.entries[:n])
	return result
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
