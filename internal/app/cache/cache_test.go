package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19play/internal/domain/track"
	"github.com/osa030/19play/internal/infra/store"
)

type clock struct {
	t time.Time
}

func (c *clock) Now() time.Time { return c.t }

func resolved(link, url string) track.Track {
	t := track.New("Title "+link, "Artist", "", link)
	t.AudioURL = url
	return t
}

func newTestCache(t *testing.T, s store.Store, clk *clock) *Cache {
	t.Helper()
	c, err := newWithClock(s, Config{TTL: track.DefaultTTL, Limit: DefaultLimit}, clk.Now)
	require.NoError(t, err)
	return c
}

func TestCache_PutGet(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := newTestCache(t, store.NewMemory(), clk)

	_, ok := c.Get("a")
	assert.False(t, ok)

	put, err := c.Put(resolved("a", "https://cdn/a.mp3"))
	require.NoError(t, err)
	assert.Equal(t, clk.t, put.ResolvedAt)

	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "https://cdn/a.mp3", got.AudioURL)

	clk.t = clk.t.Add(23 * time.Hour)
	_, ok = c.Get("a")
	assert.True(t, ok, "entry is fresh within the TTL")

	clk.t = clk.t.Add(2 * time.Hour)
	_, ok = c.Get("a")
	assert.False(t, ok, "expired entry is a miss")
	assert.Equal(t, 1, c.Len(), "expiry is lazy")
}

func TestCache_PutRejectsUnresolved(t *testing.T) {
	c := newTestCache(t, store.NewMemory(), &clock{t: time.Now()})

	_, err := c.Put(track.New("x", "y", "", "a"))
	assert.Error(t, err)

	_, err = c.Put(track.Track{AudioURL: "https://cdn/x.mp3"})
	assert.Error(t, err)
}

func TestCache_RefreshOnReplay(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := newTestCache(t, store.NewMemory(), clk)

	for _, link := range []string{"a", "b", "c"} {
		_, err := c.Put(resolved(link, "https://cdn/"+link))
		require.NoError(t, err)
		clk.t = clk.t.Add(time.Minute)
	}

	_, err := c.Put(resolved("a", "https://cdn/a2"))
	require.NoError(t, err)

	recent := c.ListRecent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, []string{"a", "c", "b"}, []string{recent[0].ID, recent[1].ID, recent[2].ID})
	assert.Equal(t, "https://cdn/a2", recent[0].AudioURL)
	assert.Equal(t, clk.t, recent[0].ResolvedAt)
}

func TestCache_CapAndDedup(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := newTestCache(t, store.NewMemory(), clk)

	for i := 0; i < 70; i++ {
		link := fmt.Sprintf("track-%d", i%60)
		_, err := c.Put(resolved(link, "https://cdn/"+link))
		require.NoError(t, err)
	}

	recent := c.ListRecent(0)
	assert.Len(t, recent, DefaultLimit)

	seen := make(map[string]bool)
	for _, r := range recent {
		assert.False(t, seen[r.Link], "duplicate link %s", r.Link)
		seen[r.Link] = true
	}
	assert.Equal(t, "track-9", recent[0].Link)
	assert.Len(t, c.ListRecent(5), 5)
}

func TestCache_LoadFiltersStaleEntries(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := store.NewMemory()

	saved := []track.Track{
		{ID: "fresh", Link: "fresh", AudioURL: "https://cdn/fresh", ResolvedAt: now.Add(-time.Hour)},
		{ID: "stale", Link: "stale", AudioURL: "https://cdn/stale", ResolvedAt: now.Add(-25 * time.Hour)},
		{ID: "fresh", Link: "fresh", AudioURL: "https://cdn/dup", ResolvedAt: now.Add(-2 * time.Hour)},
		{Link: "no-id", AudioURL: "https://cdn/no-id", ResolvedAt: now.Add(-3 * time.Hour)},
	}
	require.NoError(t, store.SaveJSON(s, store.KeyRecentTracks, saved))

	c := newTestCache(t, s, &clock{t: now})
	recent := c.ListRecent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, "fresh", recent[0].ID)
	assert.Equal(t, "https://cdn/fresh", recent[0].AudioURL)
	assert.Equal(t, "no-id", recent[1].ID, "identity is derived from the link on load")
}

func TestCache_PersistsSynchronously(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	s := store.NewMemory()
	c := newTestCache(t, s, clk)

	_, err := c.Put(resolved("a", "https://cdn/a"))
	require.NoError(t, err)

	reloaded := newTestCache(t, s, clk)
	got, ok := reloaded.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "https://cdn/a", got.AudioURL)
}

func TestCache_SetDownloadURL(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := newTestCache(t, store.NewMemory(), clk)

	_, err := c.Put(resolved("a", "https://cdn/a"))
	require.NoError(t, err)
	_, err = c.Put(resolved("b", "https://cdn/b"))
	require.NoError(t, err)

	ok, err := c.SetDownloadURL("a", "https://dl/a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetDownloadURL("missing", "https://dl/x")
	require.NoError(t, err)
	assert.False(t, ok)

	recent := c.ListRecent(0)
	assert.Equal(t, "b", recent[0].ID, "position is unchanged")
	assert.Equal(t, "https://dl/a", recent[1].DownloadURL)

	_, err = c.Put(resolved("a", "https://cdn/a2"))
	require.NoError(t, err)
	got, _ := c.Get("a")
	assert.Equal(t, "https://dl/a", got.DownloadURL, "replay keeps the earlier download link")
}
