// Package playback provides the track selection and playback state machine.
package playback

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/19play/internal/app/entitlement"
	"github.com/osa030/19play/internal/app/resolver"
)

// State represents the playback state.
type State int

const (
	StateIdle    State = iota // No source loaded
	StateLoading              // Resolving a source for the current track
	StateReady                // Source loaded, not playing
	StatePlaying              // Source loaded and playing
	StatePaused               // Playback paused
	StateFailed               // Resolution failed for the current track
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateFailed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return errors.Newf("unknown playback state: %q", text)
}

// ErrorKind classifies the last failure shown to the user.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindQuotaExceeded ErrorKind = "quota_exceeded"
	KindNoSource      ErrorKind = "no_source"
	KindNetwork       ErrorKind = "network"
	KindInvalidToken  ErrorKind = "invalid_token"
)

// KindOf maps an error to its ErrorKind. Cancellation maps to KindNone.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled):
		return KindNone
	case errors.Is(err, resolver.ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, resolver.ErrNoSourceFound):
		return KindNoSource
	case errors.Is(err, entitlement.ErrInvalidToken):
		return KindInvalidToken
	default:
		return KindNetwork
	}
}
