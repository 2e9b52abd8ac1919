package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/balancewatch/accounts"
	"github.com/use-agent/balancewatch/api/handler"
	"github.com/use-agent/balancewatch/api/middleware"
	"github.com/use-agent/balancewatch/config"
	"github.com/use-agent/balancewatch/monitor"
	"github.com/use-agent/balancewatch/perf"
	"github.com/use-agent/balancewatch/pool"
	"github.com/use-agent/balancewatch/statestore"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(
	m *monitor.Monitor,
	gate *monitor.Gate,
	p *pool.BrowserPool,
	store *statestore.Store,
	pm *perf.Monitor,
	creds *accounts.File,
	cfg *config.Config,
	startTime time.Time,
) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health — no auth required.
	v1.GET("/health", handler.Health(p, startTime))

	// Protected group — auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	// Batch checks. The shared gate keeps one batch in flight at a time.
	protected.POST("/check", handler.Check(m, gate, creds))
	protected.POST("/weblogin", handler.WebLogin(m, gate, creds))

	// Cached results view.
	protected.GET("/results", handler.Results(store))

	// Introspection.
	protected.GET("/pool/stats", handler.PoolStats(p))
	protected.GET("/perf/report", handler.PerfReport(pm))
	protected.GET("/perf/stats", handler.PerfStats(pm))

	// Credential management.
	protected.GET("/accounts", handler.ListAccounts(creds))
	protected.POST("/accounts", handler.UpsertAccount(creds))
	protected.DELETE("/accounts/:username", handler.RemoveAccount(creds))

	return r
}
