package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/balancewatch/perf"
)

// PerfReport returns a handler for GET /api/v1/perf/report. The report is
// plain text, meant for humans and pasting into issues.
func PerfReport(pm *perf.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, pm.GenerateReport())
	}
}

// PerfStats returns a handler for GET /api/v1/perf/stats. The optional
// "operation" query narrows the aggregates to one operation.
func PerfStats(pm *perf.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, pm.Stats(c.Query("operation")))
	}
}
