package middlewares

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// ErrorBoundary turns a panic anywhere below it into a generic 500 that
// points the client back to the login page.
func ErrorBoundary(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			reqID, _ := c.Get(CtxRequestID)
			log.ErrorContext(c.Request.Context(), "panic_recovered",
				"panic", rec,
				"route", c.FullPath(),
				"request_id", reqID,
				"stack", string(debug.Stack()),
			)

			if c.Writer.Written() {
				c.Abort()
				return
			}

			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{
					"code":    "internal_error",
					"message": "Something went wrong",
				},
				"redirect": LoginPath,
			})
		}()

		c.Next()
	}
}
