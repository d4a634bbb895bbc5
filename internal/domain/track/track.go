// Package track provides the Track domain entity.
package track

import (
	"strings"
	"time"
)

// DefaultTTL is how long a resolved audio URL is trusted for playback.
const DefaultTTL = 24 * time.Hour

// Track represents a catalog entry, optionally resolved to a playable source.
// A track without AudioURL is a stub.
type Track struct {
	ID          string    `json:"id"`                     // Stable identity derived from Link
	Title       string    `json:"title"`                  // Track title
	Artist      string    `json:"artist"`                 // Artist display name
	Image       string    `json:"image"`                  // Cover art URL
	Link        string    `json:"link,omitempty"`         // Catalog link (Spotify URL etc.)
	AudioURL    string    `json:"audio_url,omitempty"`    // Resolved playable URL
	DownloadURL string    `json:"download_url,omitempty"` // Download link from the download provider
	ResolvedAt  time.Time `json:"resolved_at,omitzero"`   // When AudioURL was resolved
}

// New creates a stub from catalog fields. The ID is derived from the link.
func New(title, artist, image, link string) Track {
	return Track{
		ID:     IDFromLink(link),
		Title:  title,
		Artist: artist,
		Image:  image,
		Link:   strings.TrimSpace(link),
	}
}

// Key returns the identity of the track. The link decides it; ID is only
// used for tracks without a link.
func (t Track) Key() string {
	if id := IDFromLink(t.Link); id != "" {
		return id
	}
	return t.ID
}

// IsResolved reports whether the track carries a playable URL.
func (t Track) IsResolved() bool {
	return t.AudioURL != ""
}

// Fresh reports whether AudioURL can be trusted for playback at now.
func (t Track) Fresh(now time.Time, ttl time.Duration) bool {
	if t.AudioURL == "" || t.ResolvedAt.IsZero() {
		return false
	}
	return now.Sub(t.ResolvedAt) < ttl
}

// Stub returns a copy of the track with resolution data removed.
func (t Track) Stub() Track {
	t.ID = t.Key()
	t.AudioURL = ""
	t.DownloadURL = ""
	t.ResolvedAt = time.Time{}
	return t
}

// Normalize fills in the ID and trims the link.
func (t Track) Normalize() Track {
	t.Link = strings.TrimSpace(t.Link)
	t.ID = t.Key()
	return t
}

// SameAs reports whether two tracks refer to the same logical track.
func (t Track) SameAs(other Track) bool {
	k := t.Key()
	return k != "" && k == other.Key()
}

// IDFromLink derives a stable identifier from a catalog link.
// Spotify track URLs and URIs collapse to "spotify:track:<id>".
func IDFromLink(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}

	// Handle Spotify URI format: spotify:track:TRACK_ID
	if strings.HasPrefix(link, "spotify:track:") {
		return link
	}

	// Handle URL format: https://open.spotify.com/track/TRACK_ID or https://open.spotify.com/intl-XX/track/TRACK_ID
	if strings.Contains(link, "open.spotify.com") && strings.Contains(link, "/track/") {
		parts := strings.Split(link, "/track/")
		id := strings.Split(parts[len(parts)-1], "?")[0]
		id = strings.TrimRight(id, "/")
		if id != "" {
			return "spotify:track:" + id
		}
	}

	return link
}
