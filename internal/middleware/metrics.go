package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/changetrail/changetrail/internal/telemetry"
)

// Metrics records the request counter and latency histogram for every
// request. The path label comes from c.FullPath(), the matched route
// template (e.g. /api/v1/admin/logs), not the raw URL, so label cardinality
// stays bounded. Requests that match no route use "<no-route>".
//
// Register after RequestID so error responses set by later middleware are
// captured with their final status.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
