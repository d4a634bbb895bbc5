package httpapi

import (
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/osa030/19play/internal/app/catalog"
	"github.com/osa030/19play/internal/domain/track"
)

// PlayRequest selects a track. A non-nil queue replaces the session queue.
type PlayRequest struct {
	Track track.Track   `json:"track"`
	Queue []track.Track `json:"queue"`
}

// PlayingRequest plays or pauses.
type PlayingRequest struct {
	Playing *bool `json:"playing" binding:"required"`
}

// ProgressRequest reports the audio element position.
type ProgressRequest struct {
	PositionMs int64 `json:"position_ms" binding:"gte=0"`
	DurationMs int64 `json:"duration_ms" binding:"gt=0"`
}

// LikeRequest toggles the liked state of a track.
type LikeRequest struct {
	Track track.Track `json:"track"`
}

// TokenRequest sets the elevated token.
type TokenRequest struct {
	Token string `json:"token" binding:"required"`
}

var errNoIdentity = errors.New("track needs an id or a link")

// clientTrack keeps the catalog fields of a client supplied track.
// Sources are only ever attached by the player itself.
func clientTrack(t track.Track) (track.Track, error) {
	t = t.Stub()
	if t.ID == "" {
		return track.Track{}, errNoIdentity
	}
	return t, nil
}

func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, s.player.State())
}

func (s *Server) play(c *gin.Context) {
	var req PlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	t, err := clientTrack(req.Track)
	if err != nil {
		badRequest(c, err)
		return
	}

	var q []track.Track
	if req.Queue != nil {
		q = make([]track.Track, 0, len(req.Queue))
		for _, item := range req.Queue {
			if stub, err := clientTrack(item); err == nil {
				q = append(q, stub)
			}
		}
	}

	if err := s.player.PlayTrack(t, q); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.player.State())
}

func (s *Server) setPlaying(c *gin.Context) {
	var req PlayingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.player.SetIsPlaying(*req.Playing); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.player.State())
}

func (s *Server) next(c *gin.Context) {
	if err := s.player.PlayNext(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.player.State())
}

func (s *Server) stop(c *gin.Context) {
	s.player.Stop()
	c.JSON(http.StatusOK, s.player.State())
}

func (s *Server) progress(c *gin.Context) {
	var req ProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.player.ReportProgress(time.Duration(req.PositionMs)*time.Millisecond, time.Duration(req.DurationMs)*time.Millisecond)
	c.Status(http.StatusNoContent)
}

func (s *Server) ended(c *gin.Context) {
	advanced, err := s.player.TrackEnded()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"advanced": advanced, "state": s.player.State()})
}

func (s *Server) toggleLike(c *gin.Context) {
	var req LikeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	t, err := clientTrack(req.Track)
	if err != nil {
		badRequest(c, err)
		return
	}

	liked, err := s.player.ToggleLike(t)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": t.ID, "liked": liked})
}

func (s *Server) liked(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tracks": s.player.LikedTracks()})
}

func (s *Server) isLiked(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		id = c.Query("link")
	}
	if id == "" {
		badRequest(c, errNoIdentity)
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": s.player.IsLiked(id)})
}

func (s *Server) recent(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tracks": s.player.RecentTracks()})
}

func (s *Server) queue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tracks": s.player.Queue()})
}

func (s *Server) search(c *gin.Context) {
	res, err := s.player.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		if errors.Is(err, catalog.ErrNoResults) {
			c.JSON(http.StatusOK, catalog.Results{Tracks: []track.Track{}})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) searchHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"terms": s.player.SearchHistory()})
}

// deleteSearchHistory removes one term when given, otherwise clears the history.
func (s *Server) deleteSearchHistory(c *gin.Context) {
	var err error
	if term, ok := c.GetQuery("term"); ok {
		err = s.player.RemoveSearch(term)
	} else {
		err = s.player.ClearSearchHistory()
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"terms": s.player.SearchHistory()})
}

func (s *Server) home(c *gin.Context) {
	feeds, err := s.player.Feeds(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feeds": feeds})
}

func (s *Server) entitlement(c *gin.Context) {
	c.JSON(http.StatusOK, s.player.Entitlement())
}

func (s *Server) setToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.player.SetElevatedToken(c.Request.Context(), req.Token); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.player.Entitlement())
}

func (s *Server) clearToken(c *gin.Context) {
	if err := s.player.SetElevatedToken(c.Request.Context(), ""); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.player.Entitlement())
}

func (s *Server) download(c *gin.Context) {
	url, err := s.player.Download(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "entitlement": s.player.Entitlement()})
}
