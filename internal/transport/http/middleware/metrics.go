package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"opinion-poll/internal/core/metrics"
)

// Metrics records request counts and latency by route template. Paths no
// route matched share one label so scanners cannot grow the series set.
// Streaming routes only count, their duration is the connection lifetime.
func Metrics(streaming ...string) gin.HandlerFunc {
	live := make(map[string]bool, len(streaming))
	for _, p := range streaming {
		live[p] = true
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		if !live[route] {
			metrics.HTTPLatency.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
		}
	}
}
