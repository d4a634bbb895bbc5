package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19play/internal/domain/track"
	"github.com/osa030/19play/internal/infra/store"
)

// Errors
var (
	ErrNoTrack     = errors.New("no track selected")
	ErrLoading     = errors.New("track is still loading")
	ErrNoNextTrack = errors.New("no next track")
	ErrClosed      = errors.New("controller is closed")
)

// DefaultCompletionThreshold is the progress after which an ended track counts as complete.
const DefaultCompletionThreshold = 0.95

// Cache stores resolved tracks.
type Cache interface {
	TTL() time.Duration
	Get(id string) (track.Track, bool)
	Put(t track.Track) (track.Track, error)
	SetDownloadURL(id, url string) (bool, error)
}

// Resolver resolves stubs into playable tracks.
type Resolver interface {
	Resolve(ctx context.Context, t track.Track) (track.Track, error)
	PrefetchDownload(ctx context.Context, t track.Track, apply func(url string))
}

// Queue selects the track that follows current.
type Queue interface {
	Next(current track.Track) (track.Track, bool)
}

// Config holds controller configuration.
type Config struct {
	CompletionThreshold float64 // Progress above which Ended advances the queue
	EventBuffer         int     // Size of the event channel
}

// Controller owns the player state. Every selection starts a new generation;
// a resolution result is applied only while its generation is current.
type Controller struct {
	mu sync.Mutex

	cache    Cache
	resolver Resolver
	queue    Queue
	store    store.Store
	config   Config
	now      func() time.Time

	// Current track state
	current   *track.Track
	state     State
	autoplay  bool
	progress  float64
	lastError ErrorKind

	// Generation of the current selection and its cancel func
	generation uint64
	cancelGen  context.CancelFunc

	// Events
	eventCh chan Event

	// Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewController creates a new playback controller and restores the last track.
func NewController(config Config, cache Cache, resolver Resolver, queue Queue, s store.Store) *Controller {
	if config.CompletionThreshold <= 0 || config.CompletionThreshold > 1 {
		config.CompletionThreshold = DefaultCompletionThreshold
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cache:    cache,
		resolver: resolver,
		queue:    queue,
		store:    s,
		config:   config,
		now:      time.Now,
		state:    StateIdle,
		eventCh:  make(chan Event, config.EventBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.restore()
	return c
}

func (c *Controller) restore() {
	var last track.Track
	ok, err := store.LoadJSON(c.store, store.KeyLastTrack, &last)
	if err != nil {
		zlog.Warn().Msgf("playback: failed to load last track: error=%v", err)
		return
	}
	last = last.Normalize()
	if !ok || last.ID == "" {
		return
	}

	if cached, hit := c.cache.Get(last.ID); hit {
		c.current = &cached
		c.state = StateReady
	} else {
		stub := last.Stub()
		c.current = &stub
	}
	zlog.Debug().Msgf("playback: restored last track: id=%s state=%s", c.current.ID, c.state)
}

// Events returns the event channel. It is closed by Close.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// Select makes t the current track and loads a source for it.
//
// Any in-flight resolution for a previous selection is cancelled. A track
// carrying a fresh source, or a fresh cache entry, loads without resolving.
// When autoplay is set the track starts playing once loaded.
func (c *Controller) Select(t track.Track, autoplay bool) error {
	t = t.Normalize()
	if t.ID == "" {
		return errors.Wrap(ErrNoTrack, "track has no identity")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	ctx, gen := c.nextGenerationLocked()
	c.progress = 0
	c.lastError = KindNone
	c.autoplay = autoplay
	c.sendEventLocked(Event{Type: EventSourceCleared, State: c.state})

	now := c.now()
	cached, inCache := c.cache.Get(t.ID)
	if t.Fresh(now, c.cache.TTL()) {
		zlog.Debug().Msgf("playback: using source carried by track: id=%s", t.ID)
		if !inCache {
			// First play of a prefetched source enters the history.
			if stored, err := c.cache.Put(t); err != nil {
				zlog.Error().Msgf("playback: failed to cache track: id=%s error=%v", t.ID, err)
			} else {
				t = stored
			}
		}
		c.loadLocked(ctx, gen, t)
		return nil
	}
	if inCache {
		zlog.Debug().Msgf("playback: using cached source: id=%s", t.ID)
		c.loadLocked(ctx, gen, cached)
		return nil
	}

	stub := t.Stub()
	c.current = &stub
	c.state = StateLoading
	c.persistLocked()
	c.sendEventLocked(Event{Type: EventStateChanged, Track: c.currentCopyLocked(), State: c.state})

	zlog.Info().Msgf("playback: resolving track: id=%s title=%s generation=%d", t.ID, t.Title, gen)

	c.wg.Add(1)
	go c.resolve(ctx, gen, stub)
	return nil
}

func (c *Controller) resolve(ctx context.Context, gen uint64, t track.Track) {
	defer c.wg.Done()

	resolved, err := c.resolver.Resolve(ctx, t)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || ctx.Err() != nil {
		zlog.Debug().Msgf("playback: discarding stale resolution: id=%s generation=%d current=%d", t.ID, gen, c.generation)
		return
	}

	if err != nil {
		c.failLocked(err)
		return
	}

	if stored, perr := c.cache.Put(resolved); perr != nil {
		zlog.Error().Msgf("playback: failed to cache resolved track: id=%s error=%v", resolved.ID, perr)
	} else {
		resolved = stored
	}
	c.loadLocked(ctx, gen, resolved)
}

// loadLocked makes t the loaded source of generation gen.
// Must be called with lock held.
func (c *Controller) loadLocked(ctx context.Context, gen uint64, t track.Track) {
	c.current = &t
	c.state = StateReady
	if c.autoplay {
		c.state = StatePlaying
	}
	c.persistLocked()

	c.sendEventLocked(Event{Type: EventSourceLoaded, Track: c.currentCopyLocked(), State: c.state})
	c.sendEventLocked(Event{Type: EventStateChanged, Track: c.currentCopyLocked(), State: c.state})

	if t.DownloadURL == "" {
		c.resolver.PrefetchDownload(ctx, t, func(url string) {
			c.applyDownloadURL(gen, url)
		})
	}
}

func (c *Controller) applyDownloadURL(gen uint64, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.current == nil {
		return
	}

	c.current.DownloadURL = url
	if _, err := c.cache.SetDownloadURL(c.current.ID, url); err != nil {
		zlog.Error().Msgf("playback: failed to cache download link: id=%s error=%v", c.current.ID, err)
	}
	c.sendEventLocked(Event{Type: EventDownloadReady, Track: c.currentCopyLocked(), State: c.state})
}

// failLocked moves to the failed state. Must be called with lock held.
func (c *Controller) failLocked(err error) {
	kind := KindOf(err)
	if kind == KindNone {
		return
	}

	c.state = StateFailed
	c.lastError = kind
	zlog.Warn().Msgf("playback: resolution failed: id=%s kind=%s error=%v", c.current.ID, kind, err)

	c.sendEventLocked(Event{Type: EventTrackFailed, Track: c.currentCopyLocked(), State: c.state, Error: kind})
	if kind == KindQuotaExceeded {
		c.sendEventLocked(Event{Type: EventEntitlementRequired, Track: c.currentCopyLocked(), State: c.state, Error: kind})
	}
}

// Play starts or resumes playback of the current track.
// From idle or failed states the current track is selected again.
func (c *Controller) Play() error {
	c.mu.Lock()

	switch c.state {
	case StateLoading:
		c.mu.Unlock()
		return ErrLoading
	case StatePlaying:
		c.mu.Unlock()
		return nil
	case StateReady, StatePaused:
		c.state = StatePlaying
		c.sendEventLocked(Event{Type: EventStateChanged, Track: c.currentCopyLocked(), State: c.state})
		c.mu.Unlock()
		return nil
	}

	if c.current == nil {
		c.mu.Unlock()
		return ErrNoTrack
	}
	t := *c.current
	c.mu.Unlock()

	return c.Select(t, true)
}

// Pause pauses playback. Pausing while loading cancels autoplay.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return ErrNoTrack
	}

	switch c.state {
	case StateLoading:
		c.autoplay = false
	case StatePlaying:
		c.state = StatePaused
		c.sendEventLocked(Event{Type: EventStateChanged, Track: c.currentCopyLocked(), State: c.state})
	}
	return nil
}

// SetPlaying plays or pauses.
func (c *Controller) SetPlaying(playing bool) error {
	if playing {
		return c.Play()
	}
	return c.Pause()
}

// ReportProgress records the playback position reported by the audio element.
func (c *Controller) ReportProgress(position, duration time.Duration) {
	if duration <= 0 {
		return
	}
	p := float64(position) / float64(duration)
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePlaying || c.state == StatePaused {
		c.progress = p
	}
}

// Ended handles the end of playback reported by the audio element.
// The queue advances only if the track was played nearly to the end;
// an early end is reported as a stall. It returns true when a next track was selected.
func (c *Controller) Ended() (bool, error) {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return false, ErrNoTrack
	}

	if c.progress <= c.config.CompletionThreshold {
		zlog.Debug().Msgf("playback: ended before completion: id=%s progress=%.2f", c.current.ID, c.progress)
		if c.state == StatePlaying {
			c.state = StatePaused
		}
		c.sendEventLocked(Event{Type: EventStalled, Track: c.currentCopyLocked(), State: c.state})
		c.mu.Unlock()
		return false, nil
	}

	current := *c.current
	c.mu.Unlock()

	if err := c.Next(current); err != nil {
		if errors.Is(err, ErrNoNextTrack) {
			c.mu.Lock()
			if c.current != nil && c.current.SameAs(current) && c.state == StatePlaying {
				c.state = StateReady
				c.progress = 0
				c.sendEventLocked(Event{Type: EventStateChanged, Track: c.currentCopyLocked(), State: c.state})
			}
			c.mu.Unlock()
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Next selects the track following current and starts playing it.
func (c *Controller) Next(current track.Track) error {
	next, ok := c.queue.Next(current)
	if !ok {
		return ErrNoNextTrack
	}
	zlog.Debug().Msgf("playback: advancing: from=%s to=%s", current.Key(), next.ID)
	return c.Select(next, true)
}

// PlayNext advances from the current track.
func (c *Controller) PlayNext() error {
	c.mu.Lock()
	var current track.Track
	if c.current != nil {
		current = *c.current
	}
	c.mu.Unlock()

	return c.Next(current)
}

// Stop cancels any in-flight resolution and unloads the source.
// The current track is kept so that Play can select it again.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.nextGenerationLocked()
	c.state = StateIdle
	c.progress = 0
	c.autoplay = false
	c.sendEventLocked(Event{Type: EventSourceCleared, Track: c.currentCopyLocked(), State: c.state})
	c.sendEventLocked(Event{Type: EventStateChanged, Track: c.currentCopyLocked(), State: c.state})
}

// Snapshot returns the observable player state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		Track:     c.currentCopyLocked(),
		State:     c.state,
		IsPlaying: c.state == StatePlaying,
		IsLoading: c.state == StateLoading,
		Progress:  c.progress,
		LastError: c.lastError,
	}
}

// Current returns the current track.
func (c *Controller) Current() (track.Track, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return track.Track{}, false
	}
	return *c.current, true
}

// Close cancels in-flight work, waits for it to finish and closes the event channel.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.generation++
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	close(c.eventCh)
	c.mu.Unlock()
}

// nextGenerationLocked cancels the current generation and starts a new one.
// Must be called with lock held.
func (c *Controller) nextGenerationLocked() (context.Context, uint64) {
	if c.cancelGen != nil {
		c.cancelGen()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelGen = cancel
	c.generation++
	return ctx, c.generation
}

// persistLocked saves the current track as the last track.
// Must be called with lock held.
func (c *Controller) persistLocked() {
	if c.current == nil {
		return
	}
	if err := store.SaveJSON(c.store, store.KeyLastTrack, c.current); err != nil {
		zlog.Error().Msgf("playback: failed to persist last track: id=%s error=%v", c.current.ID, err)
	}
}

func (c *Controller) currentCopyLocked() *track.Track {
	if c.current == nil {
		return nil
	}
	t := *c.current
	return &t
}

// sendEventLocked sends an event without blocking.
// Must be called with lock held.
func (c *Controller) sendEventLocked(e Event) {
	if c.closed {
		return
	}
	select {
	case c.eventCh <- e:
	default:
		zlog.Warn().Msgf("playback: event channel full, dropping event: type=%s", e.Type)
	}
}
