package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/balancewatch/accounts"
	"github.com/use-agent/balancewatch/models"
	"github.com/use-agent/balancewatch/monitor"
)

// checkRequest is the optional body of POST /check and /weblogin.
type checkRequest struct {
	// Username narrows the batch to one account.
	Username string `json:"username"`
}

type batchFunc func(c *gin.Context, accts []models.Account, target string) []models.CheckResult

// Check returns a handler for POST /api/v1/check (normal-mode batch).
func Check(m *monitor.Monitor, gate *monitor.Gate, creds *accounts.File) gin.HandlerFunc {
	return runBatch(gate, creds, "normal", func(c *gin.Context, accts []models.Account, target string) []models.CheckResult {
		return m.CheckAccounts(c.Request.Context(), accts, target)
	})
}

// WebLogin returns a handler for POST /api/v1/weblogin (web-only batch).
func WebLogin(m *monitor.Monitor, gate *monitor.Gate, creds *accounts.File) gin.HandlerFunc {
	return runBatch(gate, creds, "web_only", func(c *gin.Context, accts []models.Account, target string) []models.CheckResult {
		return m.CheckAccountsWebOnly(c.Request.Context(), accts, target)
	})
}

func runBatch(gate *monitor.Gate, creds *accounts.File, mode string, run batchFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req checkRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, models.ErrorResponse{
					Success: false,
					Error: &models.ErrorDetail{
						Code:    models.ErrCodeInvalidInput,
						Message: "invalid request body: " + err.Error(),
					},
				})
				return
			}
		}

		if !gate.TryEnter() {
			c.JSON(http.StatusConflict, models.ErrorResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInternal,
					Message: "another check is already in flight, try again later",
				},
			})
			return
		}
		defer gate.Leave()

		// Re-read the file every run so edits apply without a restart.
		accts, err := creds.Load()
		if err != nil {
			checkErr := models.NewCheckError(models.ErrCodeInternal, "load credentials", err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Success: false,
				Error:   checkErr.ToDetail(),
			})
			return
		}
		if len(accts) == 0 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "no accounts configured",
				},
			})
			return
		}

		started := time.Now()
		results := run(c, accts, req.Username)

		succeeded := 0
		for _, r := range results {
			if r.Success {
				succeeded++
			}
		}
		c.JSON(http.StatusOK, models.CheckResponse{
			Success:        succeeded == len(results),
			Mode:           mode,
			Total:          len(results),
			Succeeded:      succeeded,
			Failed:         len(results) - succeeded,
			ElapsedSeconds: time.Since(started).Seconds(),
			Results:        results,
		})
	}
}
