package library

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19play/internal/domain/track"
	"github.com/osa030/19play/internal/infra/store"
)

func tr(link string) track.Track {
	return track.New("Title "+link, "Artist", "", link)
}

func ids(tracks []track.Track) []string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i] = t.ID
	}
	return out
}

func newTestLibrary(t *testing.T, s store.Store) *Library {
	t.Helper()
	l, err := New(s)
	require.NoError(t, err)
	return l
}

func TestLibrary_Toggle(t *testing.T) {
	l := newTestLibrary(t, store.NewMemory())

	for _, link := range []string{"a", "b", "c"} {
		liked, err := l.Toggle(tr(link))
		require.NoError(t, err)
		assert.True(t, liked)
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids(l.Liked()))
	assert.True(t, l.IsLiked("b"))

	liked, err := l.Toggle(tr("b"))
	require.NoError(t, err)
	assert.False(t, liked)
	assert.False(t, l.IsLiked("b"))
	assert.Equal(t, []string{"c", "a"}, ids(l.Liked()))
}

func TestLibrary_ToggleTwiceRestoresList(t *testing.T) {
	l := newTestLibrary(t, store.NewMemory())
	for _, link := range []string{"a", "b"} {
		_, err := l.Toggle(tr(link))
		require.NoError(t, err)
	}
	before := l.Liked()

	_, err := l.Toggle(tr("new"))
	require.NoError(t, err)
	_, err = l.Toggle(tr("new"))
	require.NoError(t, err)

	assert.Equal(t, before, l.Liked())
}

func TestLibrary_LikedStoresStubs(t *testing.T) {
	l := newTestLibrary(t, store.NewMemory())

	resolved := track.New("Song", "Artist", "", "https://open.spotify.com/track/xyz?si=1")
	resolved.AudioURL = "https://cdn/x.mp3"
	_, err := l.Toggle(resolved)
	require.NoError(t, err)

	liked := l.Liked()
	require.Len(t, liked, 1)
	assert.Empty(t, liked[0].AudioURL)
	assert.True(t, l.IsLiked("https://open.spotify.com/track/xyz"))
	assert.True(t, l.IsLiked("spotify:track:xyz"))
}

func TestLibrary_Persists(t *testing.T) {
	s := store.NewMemory()
	l := newTestLibrary(t, s)
	_, err := l.Toggle(tr("a"))
	require.NoError(t, err)
	require.NoError(t, l.RecordSearch("daft punk"))

	reloaded := newTestLibrary(t, s)
	assert.Equal(t, []string{"a"}, ids(reloaded.Liked()))
	assert.Equal(t, []string{"daft punk"}, reloaded.Searches())
}

func TestLibrary_SearchHistory(t *testing.T) {
	l := newTestLibrary(t, store.NewMemory())

	require.NoError(t, l.RecordSearch("one"))
	require.NoError(t, l.RecordSearch("two"))
	require.NoError(t, l.RecordSearch("  one  "))
	require.NoError(t, l.RecordSearch(""))
	require.NoError(t, l.RecordSearch("One"))
	assert.Equal(t, []string{"One", "one", "two"}, l.Searches())

	require.NoError(t, l.RemoveSearch("one"))
	assert.Equal(t, []string{"One", "two"}, l.Searches())

	for i := 0; i < 15; i++ {
		require.NoError(t, l.RecordSearch(fmt.Sprintf("term %d", i)))
	}
	searches := l.Searches()
	assert.Len(t, searches, SearchHistoryLimit)
	assert.Equal(t, "term 14", searches[0])

	require.NoError(t, l.ClearSearches())
	assert.Empty(t, l.Searches())
}
