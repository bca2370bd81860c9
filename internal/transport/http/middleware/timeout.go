package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	resp "opinion-poll/internal/transport/http/response"
)

// Timeout bounds the request context. Store transactions run on their
// own deadline, so a vote that was submitted still commits or aborts by
// itself; the client just gets 504 if nothing was written yet.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()

		if c.Writer.Written() || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return
		}
		_ = c.Error(ctx.Err())
		c.AbortWithStatusJSON(http.StatusGatewayTimeout,
			resp.Reasoned(resp.CodeTimeout, "timeout", "request timed out"))
	}
}
