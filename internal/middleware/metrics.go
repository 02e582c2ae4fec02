package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nathanyu/forward-settlement/internal/telemetry"
)

// Metrics records per-route request counts and latency histograms. Pool and
// order ids are folded into route templates by normalizePath so cardinality
// stays bounded as pools are deployed.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		// Health checks are left out so the series cover settlement
		// traffic only.
		if path == "/health" {
			c.Next()
			return
		}
		normalizedPath := normalizePath(path)

		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		telemetry.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			normalizedPath,
			status,
		).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			normalizedPath,
		).Observe(time.Since(start).Seconds())
	}
}
