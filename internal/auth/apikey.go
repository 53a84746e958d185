package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	headerName = "X-API-Key"
	// Browsers cannot set headers on a WebSocket handshake.
	queryName = "api_key"
)

// APIKeyMiddleware validates the API key from the X-API-Key header, or the
// api_key query parameter on WebSocket upgrades.
// If apiKey is empty, authentication is disabled.
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		provided := c.GetHeader(headerName)
		if provided == "" && isUpgrade(c.Request) {
			provided = c.Query(queryName)
		}
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "invalid API key",
			})
			return
		}

		c.Next()
	}
}

func isUpgrade(r *http.Request) bool {
	return r.Header.Get("Upgrade") == "websocket"
}
