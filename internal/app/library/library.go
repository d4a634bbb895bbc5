// Package library provides the liked list and the search history.
package library

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19play/internal/domain/track"
	"github.com/osa030/19play/internal/infra/store"
)

// SearchHistoryLimit is the number of search terms kept.
const SearchHistoryLimit = 10

// Library holds the liked tracks and recent search terms.
type Library struct {
	mu       sync.RWMutex
	store    store.Store
	liked    []track.Track
	searches []string
}

// New creates a library, loading persisted state from s.
func New(s store.Store) (*Library, error) {
	l := &Library{
		store:    s,
		liked:    make([]track.Track, 0),
		searches: make([]string, 0),
	}

	var liked []track.Track
	if _, err := store.LoadJSON(s, store.KeyLikedTracks, &liked); err != nil {
		return nil, errors.Wrap(err, "failed to load liked tracks")
	}
	seen := make(map[string]bool)
	for _, t := range liked {
		t = t.Stub()
		if t.ID == "" || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		l.liked = append(l.liked, t)
	}

	var searches []string
	if _, err := store.LoadJSON(s, store.KeySearchHistory, &searches); err != nil {
		return nil, errors.Wrap(err, "failed to load search history")
	}
	for _, term := range searches {
		l.searches = appendTerm(l.searches, term)
	}

	return l, nil
}

// Toggle likes t, or unlikes it when already liked. It returns the new state.
func (l *Library) Toggle(t track.Track) (bool, error) {
	t = t.Stub()
	if t.ID == "" {
		return false, errors.New("track has no identity")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	updated := make([]track.Track, 0, len(l.liked)+1)
	liked := true
	for _, existing := range l.liked {
		if existing.ID == t.ID {
			liked = false
			continue
		}
		updated = append(updated, existing)
	}
	if liked {
		updated = append([]track.Track{t}, updated...)
	}

	if err := store.SaveJSON(l.store, store.KeyLikedTracks, updated); err != nil {
		return !liked, errors.Wrap(err, "failed to persist liked tracks")
	}
	l.liked = updated

	zlog.Debug().Msgf("library: like toggled: id=%s liked=%v", t.ID, liked)
	return liked, nil
}

// IsLiked reports whether the track identified by id or link is liked.
func (l *Library) IsLiked(idOrLink string) bool {
	id := track.IDFromLink(idOrLink)
	if id == "" {
		return false
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.liked {
		if t.ID == id {
			return true
		}
	}
	return false
}

// Liked returns the liked tracks, most-recently-liked first.
func (l *Library) Liked() []track.Track {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]track.Track, len(l.liked))
	copy(out, l.liked)
	return out
}

// RecordSearch puts term at the front of the search history.
func (l *Library) RecordSearch(term string) error {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	updated := make([]string, 0, SearchHistoryLimit)
	updated = append(updated, term)
	for _, existing := range l.searches {
		updated = appendTerm(updated, existing)
	}
	return l.saveSearches(updated)
}

// RemoveSearch removes term from the search history.
func (l *Library) RemoveSearch(term string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	updated := make([]string, 0, len(l.searches))
	for _, existing := range l.searches {
		if existing != term {
			updated = append(updated, existing)
		}
	}
	if len(updated) == len(l.searches) {
		return nil
	}
	return l.saveSearches(updated)
}

// ClearSearches empties the search history.
func (l *Library) ClearSearches() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveSearches(make([]string, 0))
}

// Searches returns the search history, most recent first.
func (l *Library) Searches() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.searches))
	copy(out, l.searches)
	return out
}

func (l *Library) saveSearches(updated []string) error {
	if err := store.SaveJSON(l.store, store.KeySearchHistory, updated); err != nil {
		return errors.Wrap(err, "failed to persist search history")
	}
	l.searches = updated
	return nil
}

// appendTerm appends term unless it is empty, already present or the list is full.
func appendTerm(terms []string, term string) []string {
	term = strings.TrimSpace(term)
	if term == "" || len(terms) >= SearchHistoryLimit {
		return terms
	}
	for _, existing := range terms {
		if existing == term {
			return terms
		}
	}
	return append(terms, term)
}
