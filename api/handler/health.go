package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/balancewatch/models"
	"github.com/use-agent/balancewatch/pool"
)

// Health returns a handler for GET /api/v1/health.
//
// Reports pool utilisation and degrades status when > 80% of workers are
// busy. p is nil when an external hook replaces the browser flow; the pool
// section then reports all zeroes.
func Health(p *pool.BrowserPool, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		var stats models.PoolStats
		if p != nil {
			stats = p.Stats()
		}

		status := "healthy"
		if stats.MaxSize > 0 && stats.Busy > int(float64(stats.MaxSize)*0.8) {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Pool:    stats,
			Version: "0.1.0",
		})
	}
}
