package rest

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// apiVersionHeader stamps every response with the protocol version
// header clients use to detect compatibility.
func apiVersionHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Rustalink-Api-Version", "4")
		c.Next()
	}
}

// AuthMiddleware exposes authMiddleware for mounting non-REST routes
// (the WebSocket upgrade) behind the same password check.
func AuthMiddleware(password string) gin.HandlerFunc {
	return authMiddleware(password)
}

// authMiddleware rejects any request whose Authorization header does
// not constant-time-match password, closing the timing side channel a
// naive == comparison would leave open.
func authMiddleware(password string) gin.HandlerFunc {
	return func(c *gin.Context) {
		supplied := c.GetHeader("Authorization")
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(password)) != 1 {
			abortWithError(c, http.StatusUnauthorized, "invalid or missing Authorization header")
			return
		}
		c.Next()
	}
}
