package middleware

import (
	"time"

	"github.com/GoPolymarket/capturegate/internal/pkg/metrics"
	"github.com/gin-gonic/gin"
)

// ProxyEndpoint labels every request that fell through to the upstream.
const ProxyEndpoint = "proxy"

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = ProxyEndpoint
		}
		metrics.LatencyBucket.WithLabelValues(endpoint).Observe(duration)
	}
}
