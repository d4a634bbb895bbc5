// Package store provides the durable key/value store backing the player.
package store

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Keys used by the player.
const (
	KeyLastTrack     = "last_track"
	KeyRecentTracks  = "recent_tracks"
	KeyLikedTracks   = "liked_tracks"
	KeyPremiumKey    = "premium_key"
	KeySearchHistory = "search_history"
	KeyUsageCounters = "usage_counters"
)

// FormatVersion is the envelope version written by SaveJSON.
const FormatVersion = 1

// Store is a synchronous key/value store that survives restarts.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(key string) (value []byte, ok bool, err error)
	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	// Close releases the underlying resources.
	Close() error
}

type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// SaveJSON encodes v inside a versioned envelope and stores it under key.
func SaveJSON(s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", key)
	}
	raw, err := json.Marshal(envelope{Version: FormatVersion, Data: data})
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s envelope", key)
	}
	if err := s.Set(key, raw); err != nil {
		return errors.Wrapf(err, "failed to write %s", key)
	}
	return nil
}

// LoadJSON decodes the value stored under key into v.
// Returns false when the key is absent, corrupt or written by an unknown format version;
// in the latter two cases the value is left untouched and a warning is logged.
func LoadJSON(s Store, key string, v any) (bool, error) {
	raw, ok, err := s.Get(key)
	if err != nil {
		return false, errors.Wrapf(err, "failed to read %s", key)
	}
	if !ok {
		return false, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		zlog.Warn().Msgf("store: ignoring corrupt value: key=%s error=%v", key, err)
		return false, nil
	}
	if env.Version != FormatVersion {
		zlog.Warn().Msgf("store: ignoring value with unknown format: key=%s version=%d", key, env.Version)
		return false, nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		zlog.Warn().Msgf("store: ignoring undecodable value: key=%s error=%v", key, err)
		return false, nil
	}
	return true, nil
}
