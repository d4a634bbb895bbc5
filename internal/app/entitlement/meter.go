// Package entitlement provides usage metering against free-tier quotas.
package entitlement

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19play/internal/infra/store"
)

// Default free-tier quotas.
const (
	DefaultPlayLimit     = 20
	DefaultDownloadLimit = 10
)

// ErrInvalidToken is returned when the validation probe rejects a token.
var ErrInvalidToken = errors.New("invalid elevated token")

// ErrNoProber is returned when tokens cannot be validated because no download
// provider is configured.
var ErrNoProber = errors.New("token validation is not configured")

// Prober checks a candidate token against the download provider.
type Prober interface {
	Probe(ctx context.Context, token string) error
}

// Config holds quota configuration.
type Config struct {
	PlayLimit     int
	DownloadLimit int
}

// State is a snapshot of the entitlement state.
type State struct {
	Elevated      bool `json:"elevated"`
	PlayCount     int  `json:"play_count"`
	DownloadCount int  `json:"download_count"`
	PlayLimit     int  `json:"play_limit"`
	DownloadLimit int  `json:"download_limit"`
}

type counters struct {
	Plays     int `json:"plays"`
	Downloads int `json:"downloads"`
}

// Meter tracks play and download usage. It is the only owner of the counters
// and of the elevated token.
type Meter struct {
	mu       sync.RWMutex
	store    store.Store
	prober   Prober
	config   Config
	token    string
	counters counters
}

// NewMeter creates a meter, restoring the token and counters from s.
func NewMeter(s store.Store, prober Prober, config Config) (*Meter, error) {
	if config.PlayLimit <= 0 {
		config.PlayLimit = DefaultPlayLimit
	}
	if config.DownloadLimit <= 0 {
		config.DownloadLimit = DefaultDownloadLimit
	}

	m := &Meter{
		store:  s,
		prober: prober,
		config: config,
	}

	if _, err := store.LoadJSON(s, store.KeyPremiumKey, &m.token); err != nil {
		return nil, errors.Wrap(err, "failed to load elevated token")
	}
	if _, err := store.LoadJSON(s, store.KeyUsageCounters, &m.counters); err != nil {
		return nil, errors.Wrap(err, "failed to load usage counters")
	}
	if m.counters.Plays < 0 {
		m.counters.Plays = 0
	}
	if m.counters.Downloads < 0 {
		m.counters.Downloads = 0
	}

	return m, nil
}

// CanPlay reports whether another playback resolution is allowed.
func (m *Meter) CanPlay() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token != "" || m.counters.Plays < m.config.PlayLimit
}

// CanDownload reports whether another download is allowed.
func (m *Meter) CanDownload() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token != "" || m.counters.Downloads < m.config.DownloadLimit
}

// RecordPlay counts one play. Elevated users are not metered.
func (m *Meter) RecordPlay() error {
	return m.record(func(c *counters) { c.Plays++ })
}

// RecordDownload counts one download. Elevated users are not metered.
func (m *Meter) RecordDownload() error {
	return m.record(func(c *counters) { c.Downloads++ })
}

func (m *Meter) record(inc func(c *counters)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" {
		return nil
	}

	updated := m.counters
	inc(&updated)
	if err := store.SaveJSON(m.store, store.KeyUsageCounters, updated); err != nil {
		return errors.Wrap(err, "failed to persist usage counters")
	}
	m.counters = updated
	return nil
}

// Token returns the current elevated token, or "" when none is set.
func (m *Meter) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// Elevated reports whether an elevated token is set.
func (m *Meter) Elevated() bool {
	return m.Token() != ""
}

// SetElevatedToken stores token, or clears it when token is empty.
// Callers must validate the token first.
func (m *Meter) SetElevatedToken(token string) error {
	token = strings.TrimSpace(token)

	m.mu.Lock()
	defer m.mu.Unlock()

	if token == "" {
		if err := m.store.Delete(store.KeyPremiumKey); err != nil {
			return errors.Wrap(err, "failed to clear elevated token")
		}
		if m.token != "" {
			zlog.Info().Msg("entitlement: elevated token cleared, reverting to free tier")
		}
		m.token = ""
		return nil
	}

	if err := store.SaveJSON(m.store, store.KeyPremiumKey, token); err != nil {
		return errors.Wrap(err, "failed to persist elevated token")
	}
	m.token = token
	zlog.Info().Msgf("entitlement: elevated token set: token=%s", Redact(token))
	return nil
}

// ClearIfCurrent clears the elevated token only if it still equals token.
// Used when a provider rejects a token that may have been replaced meanwhile.
func (m *Meter) ClearIfCurrent(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == "" || m.token != token {
		return nil
	}
	if err := m.store.Delete(store.KeyPremiumKey); err != nil {
		return errors.Wrap(err, "failed to clear elevated token")
	}
	m.token = ""
	zlog.Info().Msg("entitlement: rejected elevated token cleared, reverting to free tier")
	return nil
}

// ValidateToken runs the validation probe for token.
// This is the only network call the meter makes.
func (m *Meter) ValidateToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidToken
	}
	if m.prober == nil {
		return ErrNoProber
	}

	if err := m.prober.Probe(ctx, token); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		zlog.Warn().Msgf("entitlement: token rejected: token=%s error=%v", Redact(token), err)
		return errors.Mark(errors.Wrap(err, "token validation failed"), ErrInvalidToken)
	}
	return nil
}

// State returns a snapshot of the current entitlement.
func (m *Meter) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return State{
		Elevated:      m.token != "",
		PlayCount:     m.counters.Plays,
		DownloadCount: m.counters.Downloads,
		PlayLimit:     m.config.PlayLimit,
		DownloadLimit: m.config.DownloadLimit,
	}
}

// Redact masks a token for log output. Only the length is kept.
func Redact(token string) string {
	return fmt.Sprintf("<redacted len=%d>", len(token))
}
