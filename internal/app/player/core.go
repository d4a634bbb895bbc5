// Package player provides the Player Core: the single entry point used by the
// API layer to select tracks, drive playback and manage the library.
package player

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19play/internal/app/cache"
	"github.com/osa030/19play/internal/app/catalog"
	"github.com/osa030/19play/internal/app/entitlement"
	"github.com/osa030/19play/internal/app/library"
	"github.com/osa030/19play/internal/app/notification"
	"github.com/osa030/19play/internal/app/playback"
	"github.com/osa030/19play/internal/app/queue"
	"github.com/osa030/19play/internal/app/resolver"
	"github.com/osa030/19play/internal/domain/track"
	"github.com/osa030/19play/internal/infra/store"
)

// Notification types published in addition to playback events.
const (
	NotificationEntitlementChanged = "entitlement_changed"
	NotificationLikedChanged       = "liked_changed"
	NotificationTrackWarmed        = "track_warmed"
)

var (
	ErrNoCatalog  = errors.New("no catalog configured")
	ErrEmptyQuery = errors.New("empty search query")
)

// Catalog searches for track stubs.
type Catalog interface {
	Search(ctx context.Context, query string, limit int) (catalog.Results, error)
}

// Feed is a home feed backed by a fixed query.
type Feed struct {
	Title string `json:"title"`
	Query string `json:"query"`
}

// FeedResults holds the results of one feed.
type FeedResults struct {
	Title  string        `json:"title"`
	Source string        `json:"source,omitempty"`
	Tracks []track.Track `json:"tracks"`
}

// Config holds Player Core configuration.
type Config struct {
	CacheTTL            time.Duration
	HistoryLimit        int
	PlayLimit           int
	DownloadLimit       int
	CompletionThreshold float64
	WarmCount           int // Search results resolved ahead of play
	ResultLimit         int
	Feeds               []Feed
}

// Deps holds the external collaborators of the Player Core.
type Deps struct {
	Store    store.Store
	Playback resolver.PlaybackSource
	Download resolver.DownloadSource // Optional
	Prober   entitlement.Prober      // Optional; token changes fail without it
	Catalog  Catalog                 // Optional
}

// Core wires the cache, meter, resolver, queue, library and playback controller.
type Core struct {
	config Config

	cache        *cache.Cache
	meter        *entitlement.Meter
	resolver     *resolver.Resolver
	queue        *queue.Manager
	library      *library.Library
	playback     *playback.Controller
	notification *notification.Manager
	catalog      Catalog

	warmMu sync.Mutex
	warm   map[string]track.Track

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
	once   sync.Once
}

// New creates a Player Core and restores persisted state from deps.Store.
func New(cfg Config, deps Deps) (*Core, error) {
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Playback == nil {
		return nil, errors.New("playback source is required")
	}
	if cfg.ResultLimit <= 0 {
		cfg.ResultLimit = 20
	}
	if cfg.WarmCount < 0 {
		cfg.WarmCount = 0
	}

	c, err := cache.New(deps.Store, cache.Config{TTL: cfg.CacheTTL, Limit: cfg.HistoryLimit})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create track cache")
	}

	meter, err := entitlement.NewMeter(deps.Store, deps.Prober, entitlement.Config{
		PlayLimit:     cfg.PlayLimit,
		DownloadLimit: cfg.DownloadLimit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create entitlement meter")
	}

	lib, err := library.New(deps.Store)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create library")
	}

	res := resolver.New(deps.Playback, deps.Download, meter, resolver.Config{TTL: c.TTL()})
	q := queue.New(c)
	ctrl := playback.NewController(playback.Config{CompletionThreshold: cfg.CompletionThreshold}, c, res, q, deps.Store)

	ctx, cancel := context.WithCancel(context.Background())
	core := &Core{
		config:       cfg,
		cache:        c,
		meter:        meter,
		resolver:     res,
		queue:        q,
		library:      lib,
		playback:     ctrl,
		notification: notification.NewManager(),
		catalog:      deps.Catalog,
		warm:         make(map[string]track.Track),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	go core.playbackLoop()

	zlog.Info().Msgf("player: core ready: recent=%d liked=%d elevated=%v",
		c.Len(), len(lib.Liked()), meter.Elevated())
	return core, nil
}

// PlayTrack selects t and starts playing it. A non-nil queue replaces the session queue.
func (c *Core) PlayTrack(t track.Track, q []track.Track) error {
	if q != nil {
		c.queue.SetQueue(q)
	}
	return c.playback.Select(c.attachWarm(t.Normalize()), true)
}

// SetIsPlaying plays or pauses the current track.
func (c *Core) SetIsPlaying(playing bool) error {
	return c.playback.SetPlaying(playing)
}

// PlayNext advances to the next track of the queue or the history.
func (c *Core) PlayNext() error {
	return c.playback.PlayNext()
}

// ReportProgress records the playback position of the current track.
func (c *Core) ReportProgress(position, duration time.Duration) {
	c.playback.ReportProgress(position, duration)
}

// TrackEnded handles the end of the current track.
func (c *Core) TrackEnded() (bool, error) {
	return c.playback.Ended()
}

// Stop unloads the current source.
func (c *Core) Stop() {
	c.playback.Stop()
}

// State returns the observable player state.
func (c *Core) State() playback.Snapshot {
	return c.playback.Snapshot()
}

// RecentTracks returns the recent history, most recent first.
func (c *Core) RecentTracks() []track.Track {
	return c.cache.ListRecent(0)
}

// Queue returns the session queue.
func (c *Core) Queue() []track.Track {
	return c.queue.Queue()
}

// ToggleLike likes or unlikes t and returns the new state.
func (c *Core) ToggleLike(t track.Track) (bool, error) {
	liked, err := c.library.Toggle(t)
	if err != nil {
		return false, err
	}
	c.notification.Broadcast(NotificationLikedChanged, map[string]any{
		"id":    t.Key(),
		"liked": liked,
	})
	return liked, nil
}

// IsLiked reports whether the track identified by id or link is liked.
func (c *Core) IsLiked(idOrLink string) bool {
	return c.library.IsLiked(idOrLink)
}

// LikedTracks returns the liked tracks, most recently liked first.
func (c *Core) LikedTracks() []track.Track {
	return c.library.Liked()
}

// CanPlay reports whether another resolution is allowed.
func (c *Core) CanPlay() bool {
	return c.meter.CanPlay()
}

// CanDownload reports whether another download is allowed.
func (c *Core) CanDownload() bool {
	return c.meter.CanDownload()
}

// Entitlement returns the entitlement state.
func (c *Core) Entitlement() entitlement.State {
	return c.meter.State()
}

// SetElevatedToken validates and stores token. An empty token clears it.
// A rejected token is never stored.
func (c *Core) SetElevatedToken(ctx context.Context, token string) error {
	if token != "" {
		if err := c.meter.ValidateToken(ctx, token); err != nil {
			return err
		}
	}
	if err := c.meter.SetElevatedToken(token); err != nil {
		return err
	}
	c.notification.Broadcast(NotificationEntitlementChanged, c.meter.State())
	return nil
}

// Download returns a download link for the current track and counts one download.
func (c *Core) Download(ctx context.Context) (string, error) {
	current, ok := c.playback.Current()
	if !ok {
		return "", playback.ErrNoTrack
	}

	elevated := c.meter.Elevated()
	link, err := c.resolver.DownloadLink(ctx, current)
	if err != nil {
		if errors.Is(err, resolver.ErrQuotaExceeded) {
			c.notification.Broadcast(playback.EventEntitlementRequired.String(), map[string]any{
				"reason": "download",
			})
		}
		return "", err
	}
	if elevated != c.meter.Elevated() {
		c.notification.Broadcast(NotificationEntitlementChanged, c.meter.State())
	}
	return link, nil
}

// Search records query in the search history and searches the catalog.
// The first results are resolved in the background to speed up playback.
func (c *Core) Search(ctx context.Context, query string) (catalog.Results, error) {
	if c.catalog == nil {
		return catalog.Results{}, ErrNoCatalog
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return catalog.Results{}, ErrEmptyQuery
	}
	if err := c.library.RecordSearch(query); err != nil {
		zlog.Error().Msgf("player: failed to record search: error=%v", err)
	}
	return c.search(ctx, query)
}

// Feeds runs every configured home feed.
func (c *Core) Feeds(ctx context.Context) ([]FeedResults, error) {
	if c.catalog == nil {
		return nil, ErrNoCatalog
	}

	out := make([]FeedResults, 0, len(c.config.Feeds))
	for _, f := range c.config.Feeds {
		res, err := c.search(ctx, f.Query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			zlog.Warn().Msgf("player: feed failed: title=%s error=%v", f.Title, err)
			out = append(out, FeedResults{Title: f.Title, Tracks: []track.Track{}})
			continue
		}
		out = append(out, FeedResults{Title: f.Title, Source: res.Source, Tracks: res.Tracks})
	}
	return out, nil
}

func (c *Core) search(ctx context.Context, query string) (catalog.Results, error) {
	res, err := c.catalog.Search(ctx, query, c.config.ResultLimit)
	if err != nil {
		return catalog.Results{}, err
	}
	for i := range res.Tracks {
		res.Tracks[i] = c.attachWarm(res.Tracks[i])
	}
	c.warmAhead(res.Tracks)
	return res, nil
}

// SearchHistory returns recent search terms, most recent first.
func (c *Core) SearchHistory() []string {
	return c.library.Searches()
}

// RemoveSearch removes term from the search history.
func (c *Core) RemoveSearch(term string) error {
	return c.library.RemoveSearch(term)
}

// ClearSearchHistory empties the search history.
func (c *Core) ClearSearchHistory() error {
	return c.library.ClearSearches()
}

// Subscribe registers stream for player notifications.
func (c *Core) Subscribe(stream notification.Stream) string {
	return c.notification.Subscribe(stream)
}

// Unsubscribe removes a notification subscription.
func (c *Core) Unsubscribe(id string) {
	c.notification.Unsubscribe(id)
}

// Close cancels in-flight work and releases resources. The store is not closed.
func (c *Core) Close() {
	c.once.Do(func() {
		c.cancel()
		c.wg.Wait()
		c.playback.Close()
		<-c.done
		c.notification.Close()
	})
}

// playbackLoop forwards playback events to subscribers until the controller closes.
func (c *Core) playbackLoop() {
	defer close(c.done)
	for event := range c.playback.Events() {
		c.handlePlaybackEvent(event)
	}
}

func (c *Core) handlePlaybackEvent(event playback.Event) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("player: event handler panicked: type=%s panic=%v", event.Type, r)
		}
	}()

	zlog.Debug().Msgf("player: playback event: type=%s state=%s", event.Type, event.State)
	c.notification.Broadcast(event.Type.String(), event)

	if event.Type == playback.EventSourceLoaded || event.Type == playback.EventTrackFailed {
		c.notification.Broadcast(NotificationEntitlementChanged, c.meter.State())
	}
}

// attachWarm adds a prefetched source to t when one is available.
// Warm sources are unmetered, so none is attached once the play quota is used up.
func (c *Core) attachWarm(t track.Track) track.Track {
	if t.IsResolved() || !c.meter.CanPlay() {
		return t
	}
	c.warmMu.Lock()
	defer c.warmMu.Unlock()

	w, ok := c.warm[t.Key()]
	if !ok || !w.Fresh(time.Now(), c.cache.TTL()) {
		return t
	}
	t.AudioURL = w.AudioURL
	t.ResolvedAt = w.ResolvedAt
	return t
}

// warmAhead resolves the first WarmCount unresolved tracks without metering.
func (c *Core) warmAhead(tracks []track.Track) {
	if !c.meter.CanPlay() {
		return
	}
	n := c.config.WarmCount
	if n > len(tracks) {
		n = len(tracks)
	}

	for _, t := range tracks[:n] {
		if t.IsResolved() {
			continue
		}
		if _, ok := c.cache.Get(t.ID); ok {
			continue
		}

		c.wg.Add(1)
		go func(t track.Track) {
			defer c.wg.Done()
			resolved, err := c.resolver.Warm(c.ctx, t)
			if err != nil {
				zlog.Debug().Msgf("player: warm failed: id=%s error=%v", t.ID, err)
				return
			}
			c.storeWarm(resolved)
			c.notification.Broadcast(NotificationTrackWarmed, resolved)
		}(t)
	}
}

// maxWarm bounds the in-memory set of prefetched sources.
const maxWarm = 200

func (c *Core) storeWarm(t track.Track) {
	c.warmMu.Lock()
	defer c.warmMu.Unlock()

	if len(c.warm) >= maxWarm {
		now := time.Now()
		for id, w := range c.warm {
			if !w.Fresh(now, c.cache.TTL()) {
				delete(c.warm, id)
			}
		}
		if len(c.warm) >= maxWarm {
			c.warm = make(map[string]track.Track)
		}
	}
	c.warm[t.ID] = t
}
