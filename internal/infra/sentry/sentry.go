// Package sentry wires error reporting into the server and the logger.
package sentry

import (
	"time"

	"github.com/cockroachdb/errors"
	sentry "github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/osa030/19play/internal/infra/config"
)

// Init initializes the global Sentry client. It reports false when no DSN is configured.
func Init(cfg config.SentryConfig, release string) (bool, error) {
	if cfg.DSN == "" {
		return false, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          release,
		TracesSampleRate: cfg.TracesSampleRate,
	}); err != nil {
		return false, errors.Wrap(err, "sentry.Init")
	}
	return true, nil
}

// Flush waits for buffered events to be sent.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// Middleware returns the gin middleware that reports panics and attaches a hub per request.
func Middleware() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{Repanic: true, Timeout: 2 * time.Second})
}

// Hook is a zerolog hook that reports error level logs as Sentry messages.
type Hook struct {
	hub *sentry.Hub
}

// NewHook creates a hook reporting to hub, or to the current hub when hub is nil.
func NewHook(hub *sentry.Hub) *Hook {
	return &Hook{hub: hub}
}

// Run implements zerolog.Hook.
func (h *Hook) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	if level < zerolog.ErrorLevel || msg == "" {
		return
	}
	hub := h.hub
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	if hub.Client() == nil {
		return
	}

	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentryLevel(level))
		scope.SetTag("logger", "zerolog")
		hub.CaptureMessage(msg)
	})
}

func sentryLevel(level zerolog.Level) sentry.Level {
	switch level {
	case zerolog.FatalLevel:
		return sentry.LevelFatal
	case zerolog.PanicLevel:
		return sentry.LevelFatal
	default:
		return sentry.LevelError
	}
}
