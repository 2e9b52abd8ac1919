package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/balancewatch/accounts"
	"github.com/use-agent/balancewatch/models"
)

// ListAccounts returns a handler for GET /api/v1/accounts. Only usernames
// and key presence are exposed.
func ListAccounts(creds *accounts.File) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := creds.Load()
		if err != nil {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Success: false,
				Error:   models.NewCheckError(models.ErrCodeInternal, "load credentials", err).ToDetail(),
			})
			return
		}
		out := make([]models.AccountSummary, 0, len(list))
		for _, acct := range list {
			out = append(out, models.AccountSummary{
				Username:  acct.Username,
				HasAPIKey: acct.HasAPIKey(),
			})
		}
		c.JSON(http.StatusOK, models.AccountsResponse{Accounts: out, Total: len(out)})
	}
}

// UpsertAccount returns a handler for POST /api/v1/accounts.
func UpsertAccount(creds *accounts.File) gin.HandlerFunc {
	return func(c *gin.Context) {
		var acct models.Account
		if err := c.ShouldBindJSON(&acct); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "invalid request body: " + err.Error(),
				},
			})
			return
		}
		if err := creds.Upsert(acct); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Success: false,
				Error:   &models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: err.Error()},
			})
			return
		}
		c.JSON(http.StatusOK, models.ActionResponse{Success: true, Message: "account saved"})
	}
}

// RemoveAccount returns a handler for DELETE /api/v1/accounts/:username.
func RemoveAccount(creds *accounts.File) gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.Param("username")
		removed, err := creds.Remove(username)
		if err != nil {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Success: false,
				Error:   models.NewCheckError(models.ErrCodeInternal, "remove account", err).ToDetail(),
			})
			return
		}
		if !removed {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "unknown account: " + username,
				},
			})
			return
		}
		c.JSON(http.StatusOK, models.ActionResponse{Success: true, Message: "account removed"})
	}
}
