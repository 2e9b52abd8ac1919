package handler

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/balancewatch/models"
	"github.com/use-agent/balancewatch/probe"
	"github.com/use-agent/balancewatch/statestore"
)

// Results returns a handler for GET /api/v1/results: the cached balances
// view, served straight from the state store without touching the upstream.
func Results(store *statestore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		records := store.Balances()

		out := make([]models.CachedBalance, 0, len(records))
		total := 0.0
		counted := 0
		for username, rec := range records {
			out = append(out, models.CachedBalance{
				Username:          username,
				Balance:           rec.Balance,
				UpdatedAt:         rec.UpdatedAt,
				APIKeySyncSuccess: rec.APIKeySyncSuccess,
				APIKeySyncMessage: rec.APIKeySyncMessage,
			})
			if v, ok := probe.ParseFirstNumber(rec.Balance); ok {
				total += v
				counted++
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })

		c.JSON(http.StatusOK, models.CachedResultsResponse{
			Results:      out,
			TotalBalance: total,
			Counted:      counted,
		})
	}
}
