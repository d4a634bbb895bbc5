// Package queue selects the next track from the session queue or the recent history.
package queue

import (
	"sync"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19play/internal/domain/track"
)

// History provides the recent play history, most-recent-first.
type History interface {
	ListRecent(limit int) []track.Track
}

// Manager holds the session queue. The queue is not persisted.
type Manager struct {
	mu      sync.RWMutex
	history History
	tracks  []track.Track
}

// New creates a queue manager that falls back to history.
func New(history History) *Manager {
	return &Manager{
		history: history,
		tracks:  make([]track.Track, 0),
	}
}

// SetQueue replaces the session queue.
func (m *Manager) SetQueue(tracks []track.Track) {
	q := make([]track.Track, 0, len(tracks))
	for _, t := range tracks {
		t = t.Normalize()
		if t.ID == "" {
			continue
		}
		q = append(q, t)
	}

	m.mu.Lock()
	m.tracks = q
	m.mu.Unlock()

	zlog.Debug().Msgf("queue: session queue replaced: count=%d", len(q))
}

// Queue returns a copy of the session queue.
func (m *Manager) Queue() []track.Track {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := make([]track.Track, len(m.tracks))
	copy(q, m.tracks)
	return q
}

// Next returns the track to play after current.
//
// The following entry of the session queue wins when current is found before
// its last index. Otherwise the recent history is walked cyclically, which
// requires at least two entries. A current track missing from the history
// advances to its first entry.
func (m *Manager) Next(current track.Track) (track.Track, bool) {
	id := current.Key()

	m.mu.RLock()
	for i, t := range m.tracks {
		if id != "" && t.ID == id && i < len(m.tracks)-1 {
			next := m.tracks[i+1]
			m.mu.RUnlock()
			return next, true
		}
	}
	m.mu.RUnlock()

	if m.history == nil {
		return track.Track{}, false
	}

	recent := m.history.ListRecent(0)
	if len(recent) < 2 {
		return track.Track{}, false
	}

	index := -1
	for i, t := range recent {
		if id != "" && t.Key() == id {
			index = i
			break
		}
	}
	return recent[(index+1)%len(recent)], true
}
