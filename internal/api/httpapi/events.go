package httpapi

import (
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19play/internal/app/notification"
)

// eventBuffer is the number of notifications queued per event stream client.
const eventBuffer = 32

var errStreamClosed = errors.New("event stream closed")

// sseStream adapts an event stream connection to notification.Stream.
type sseStream struct {
	ch   chan notification.Notification
	done <-chan struct{}
}

func (s *sseStream) Send(n notification.Notification) error {
	select {
	case s.ch <- n:
		return nil
	case <-s.done:
		return errStreamClosed
	}
}

// events streams player notifications as server-sent events.
// The first event carries the current state.
func (s *Server) events(c *gin.Context) {
	ctx := c.Request.Context()
	stream := &sseStream{
		ch:   make(chan notification.Notification, eventBuffer),
		done: ctx.Done(),
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("state", s.player.State())
	c.Writer.Flush()

	id := s.player.Subscribe(stream)
	defer s.player.Unsubscribe(id)
	zlog.Debug().Msgf("httpapi: event stream opened: id=%s", id)

	heartbeat := time.NewTicker(s.config.HeartbeatEvery)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case n := <-stream.ch:
			c.SSEvent(n.Type, n)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"time": time.Now().Unix()})
			return true
		case <-ctx.Done():
			return false
		}
	})
	zlog.Debug().Msgf("httpapi: event stream closed: id=%s", id)
}
