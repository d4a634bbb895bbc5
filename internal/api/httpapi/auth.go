package httpapi

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// TokenHeader is the header name for the API token.
	TokenHeader = "X-Player-Token"
	// tokenQuery carries the token for EventSource clients, which cannot set headers.
	tokenQuery = "token"
)

// tokenAuth rejects requests without the configured token. An empty token disables the check.
func tokenAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		got := c.GetHeader(TokenHeader)
		if got == "" {
			got = c.Query(tokenQuery)
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			abortWithError(c, http.StatusUnauthorized, "unauthenticated", "missing or invalid "+TokenHeader)
			return
		}
		c.Next()
	}
}
