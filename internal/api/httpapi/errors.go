package httpapi

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19play/internal/app/entitlement"
	"github.com/osa030/19play/internal/app/playback"
	"github.com/osa030/19play/internal/app/player"
	"github.com/osa030/19play/internal/app/resolver"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorMapping maps a sentinel error to an HTTP status and a stable code.
type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{resolver.ErrQuotaExceeded, http.StatusPaymentRequired, "quota_exceeded"},
	{resolver.ErrNoSourceFound, http.StatusNotFound, "no_source"},
	{resolver.ErrNetwork, http.StatusBadGateway, "network"},
	{entitlement.ErrInvalidToken, http.StatusUnprocessableEntity, "invalid_token"},
	{entitlement.ErrNoProber, http.StatusServiceUnavailable, "not_configured"},
	{playback.ErrNoTrack, http.StatusNotFound, "no_track"},
	{playback.ErrNoNextTrack, http.StatusNotFound, "no_next_track"},
	{playback.ErrLoading, http.StatusConflict, "loading"},
	{playback.ErrClosed, http.StatusServiceUnavailable, "closed"},
	{player.ErrNoCatalog, http.StatusServiceUnavailable, "no_catalog"},
	{player.ErrEmptyQuery, http.StatusBadRequest, "empty_query"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
}

// writeError maps err to a status code and writes the error envelope.
func writeError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			abortWithError(c, m.status, m.code, err.Error())
			return
		}
	}
	if errors.Is(err, context.Canceled) {
		c.Abort()
		return
	}

	zlog.Error().Msgf("httpapi: unexpected error: path=%s error=%v", c.FullPath(), err)
	abortWithError(c, http.StatusInternalServerError, "internal", "internal error")
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func badRequest(c *gin.Context, err error) {
	abortWithError(c, http.StatusBadRequest, "bad_request", err.Error())
}
