package playback

import "github.com/osa030/19play/internal/domain/track"

// EventType represents a playback event type.
type EventType int

const (
	EventSourceCleared       EventType = iota // Loaded source was dropped for a new selection
	EventSourceLoaded                         // A playable source is available
	EventStateChanged                         // Playback state changed
	EventTrackFailed                          // Resolution failed
	EventEntitlementRequired                  // Quota exhausted, elevated token needed
	EventStalled                              // Playback ended before the track completed
	EventDownloadReady                        // Download link became available
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventSourceCleared:
		return "source_cleared"
	case EventSourceLoaded:
		return "source_loaded"
	case EventStateChanged:
		return "state_changed"
	case EventTrackFailed:
		return "track_failed"
	case EventEntitlementRequired:
		return "entitlement_required"
	case EventStalled:
		return "stalled"
	case EventDownloadReady:
		return "download_ready"
	default:
		return "unknown"
	}
}

// MarshalText encodes the event type as its name.
func (e EventType) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// Event represents a playback event.
type Event struct {
	Type  EventType    `json:"type"`
	Track *track.Track `json:"track,omitempty"` // Current track (nil for some events)
	State State        `json:"state"`           // Playback state after the event
	Error ErrorKind    `json:"error,omitempty"` // Set for EventTrackFailed
}

// Snapshot is the observable player state.
type Snapshot struct {
	Track     *track.Track `json:"track"`
	State     State        `json:"state"`
	IsPlaying bool         `json:"is_playing"`
	IsLoading bool         `json:"is_loading"`
	Progress  float64      `json:"progress"`
	LastError ErrorKind    `json:"last_error,omitempty"`
}
