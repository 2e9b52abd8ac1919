package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/balancewatch/models"
	"github.com/use-agent/balancewatch/pool"
)

// PoolStats returns a handler for GET /api/v1/pool/stats. p is nil when no
// browser workers are managed (hook mode).
func PoolStats(p *pool.BrowserPool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var stats models.PoolStats
		if p != nil {
			stats = p.Stats()
		}
		c.JSON(http.StatusOK, stats)
	}
}
