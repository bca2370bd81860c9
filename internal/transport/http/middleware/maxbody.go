package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	resp "opinion-poll/internal/transport/http/response"
)

// MaxBodyBytes rejects a declared oversize body with 413 before the
// handler runs. Bodies without a length are cut at n while reading, and
// the failed bind answers 400.
func MaxBodyBytes(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > n {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge,
				resp.Reasoned(resp.CodeTooLarge, "body_too_large", "request body too large"))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}
