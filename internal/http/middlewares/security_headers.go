package middlewares

import (
	"github.com/gin-gonic/gin"
)

const defaultCSP = "default-src 'self'; base-uri 'none'; frame-ancestors 'none'; object-src 'none'"

func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("X-XSS-Protection", "0")
		c.Header("Content-Security-Policy", defaultCSP)
		// session-bound responses must never be cached by intermediaries
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
