// Package httpapi exposes the Player Core over HTTP with a server-sent event stream.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19play/internal/app/catalog"
	"github.com/osa030/19play/internal/app/entitlement"
	"github.com/osa030/19play/internal/app/notification"
	"github.com/osa030/19play/internal/app/playback"
	"github.com/osa030/19play/internal/app/player"
	"github.com/osa030/19play/internal/domain/track"
)

// Player is the Player Core surface served by the API.
type Player interface {
	State() playback.Snapshot
	PlayTrack(t track.Track, queue []track.Track) error
	SetIsPlaying(playing bool) error
	PlayNext() error
	Stop()
	ReportProgress(position, duration time.Duration)
	TrackEnded() (bool, error)

	ToggleLike(t track.Track) (bool, error)
	IsLiked(idOrLink string) bool
	LikedTracks() []track.Track
	RecentTracks() []track.Track
	Queue() []track.Track

	Search(ctx context.Context, query string) (catalog.Results, error)
	Feeds(ctx context.Context) ([]player.FeedResults, error)
	SearchHistory() []string
	RemoveSearch(term string) error
	ClearSearchHistory() error

	Entitlement() entitlement.State
	SetElevatedToken(ctx context.Context, token string) error
	Download(ctx context.Context) (string, error)

	Subscribe(stream notification.Stream) string
	Unsubscribe(id string)
}

// Config holds router configuration.
type Config struct {
	Token          string            // Required in TokenHeader when set
	HeartbeatEvery time.Duration     // Event stream keep-alive interval
	Middleware     []gin.HandlerFunc // Extra middleware, e.g. error reporting
}

// Server serves the Player Core API.
type Server struct {
	player Player
	config Config
}

// NewRouter creates the gin engine with every route registered.
func NewRouter(p Player, cfg Config) *gin.Engine {
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = 15 * time.Second
	}
	s := &Server{player: p, config: cfg}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.Use(cfg.Middleware...)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api", tokenAuth(cfg.Token))
	{
		api.GET("/state", s.getState)
		api.POST("/play", s.play)
		api.POST("/playing", s.setPlaying)
		api.POST("/next", s.next)
		api.POST("/stop", s.stop)
		api.POST("/progress", s.progress)
		api.POST("/ended", s.ended)

		api.POST("/like", s.toggleLike)
		api.GET("/liked", s.liked)
		api.GET("/liked/check", s.isLiked)
		api.GET("/recent", s.recent)
		api.GET("/queue", s.queue)

		api.GET("/search", s.search)
		api.GET("/search/history", s.searchHistory)
		api.DELETE("/search/history", s.deleteSearchHistory)
		api.GET("/home", s.home)

		api.GET("/entitlement", s.entitlement)
		api.PUT("/entitlement/token", s.setToken)
		api.DELETE("/entitlement/token", s.clearToken)
		api.GET("/download", s.download)

		api.GET("/events", s.events)
	}
	return r
}

// requestLogger logs each request at debug level, failures at warn.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := zlog.Debug()
		if status >= http.StatusInternalServerError {
			ev = zlog.Warn()
		}
		ev.Msgf("httpapi: request: method=%s path=%s status=%d latency=%s",
			c.Request.Method, c.FullPath(), status, time.Since(start))
	}
}
