package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"procura/internal/observability"
)

// APIKeyAuth verifies the X-API-Key header against the configured access
// token. An empty configured token disables the check.
func APIKeyAuth(accessToken string, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if accessToken != "" && c.GetHeader("X-API-Key") != accessToken {
			if metrics != nil {
				metrics.AdmissionDenied.WithLabelValues("token").Inc()
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"detail": "Invalid API Access Token",
			})
			return
		}
		c.Next()
	}
}

// DailyQuota admits at most the configured number of requests per client
// identity per UTC day. It guards only routes that reach the generation
// backend; admission happens before the pipeline starts.
func DailyQuota(quota *dailyQuota, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := c.ClientIP()
		if identity == "" {
			identity = "unknown"
		}
		if !quota.checkAndIncrement(identity) {
			if metrics != nil {
				metrics.AdmissionDenied.WithLabelValues("quota").Inc()
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"detail": fmt.Sprintf("Daily request limit reached (%d). Please try again tomorrow.", quota.limit),
			})
			return
		}
		c.Next()
	}
}
