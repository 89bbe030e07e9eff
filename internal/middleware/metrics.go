package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinylink/go-server/internal/metrics"
)

// MetricsMiddleware collects HTTP metrics for each request
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()

		start := time.Now()

		c.Next()

		// Use the route pattern so /:code does not explode label cardinality
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		responseSize := int64(c.Writer.Size())
		if responseSize < 0 {
			responseSize = 0
		}

		metrics.RecordHTTPMetrics(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
			responseSize,
		)
	}
}
