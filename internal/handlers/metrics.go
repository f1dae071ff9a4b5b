package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pwviptbl/AI-English-Mentor/internal/metrics"
)

// BackendMetrics handles GET /api/backends/metrics.
func BackendMetrics(m *metrics.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"windowSize": m.WindowSize(),
			"backends":   m.Snapshot(),
		})
	}
}
