// Package auth guards the back-office endpoints.
//
// The public site is anonymous; only the /admin surface needs a caller
// identity, and a single operator token covers it. The token arrives as
// 'Authorization: Bearer <token>' or in X-Admin-Token.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireToken rejects requests that do not carry the operator token.
// With an empty configured token the whole surface is disabled, so a
// missing ADMIN_TOKEN can never mean an open admin API.
func RequireToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Not found",
			})
			return
		}

		got := c.GetHeader("Authorization")
		if strings.HasPrefix(got, "Bearer ") {
			got = strings.TrimPrefix(got, "Bearer ")
		} else {
			got = c.GetHeader("X-Admin-Token")
		}

		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Operator token required. Include 'Authorization: Bearer <token>'.",
			})
			return
		}

		c.Next()
	}
}
